package tracking

import (
	"sync"
	"time"

	"github.com/towline/towline-backend/pkg/geo"
)

const (
	// DefaultSpeedKmh is assumed until a usable sample pair arrives.
	DefaultSpeedKmh = 40.0
	speedWindow     = 10
	minMoveKm       = 0.01
	maxPairGap      = 3 * time.Minute
)

// Estimator derives a provider's speed from consecutive samples.
type Estimator struct {
	mu     sync.Mutex
	last   *Sample
	speeds []float64
}

func NewEstimator() *Estimator {
	return &Estimator{speeds: make([]float64, 0, speedWindow)}
}

// Observe folds a sample into the speed window. A pair counts only when the
// provider moved more than 10 m in under three minutes. It returns whether
// a speed was recorded.
func (e *Estimator) Observe(s Sample) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.last == nil {
		e.last = &s
		return false
	}
	if !s.RecordedAt.After(e.last.RecordedAt) {
		return false
	}

	prev := *e.last
	e.last = &s

	elapsed := s.RecordedAt.Sub(prev.RecordedAt)
	if elapsed <= 0 || elapsed >= maxPairGap {
		return false
	}
	dist := geo.DistanceKm(prev.Point(), s.Point())
	if dist <= minMoveKm {
		return false
	}

	if len(e.speeds) == speedWindow {
		copy(e.speeds, e.speeds[1:])
		e.speeds = e.speeds[:speedWindow-1]
	}
	e.speeds = append(e.speeds, dist/elapsed.Hours())
	return true
}

// SpeedKmh is the mean of the window, or DefaultSpeedKmh when empty.
func (e *Estimator) SpeedKmh() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.speeds) == 0 {
		return DefaultSpeedKmh
	}
	var sum float64
	for _, v := range e.speeds {
		sum += v
	}
	return sum / float64(len(e.speeds))
}

// ETA returns minutes to cover distanceKm at the current speed.
func (e *Estimator) ETA(distanceKm float64) float64 {
	speed := e.SpeedKmh()
	if speed <= 0 {
		speed = DefaultSpeedKmh
	}
	return distanceKm / speed * 60
}
