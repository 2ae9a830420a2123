package tracking

import (
	"math"
	"testing"
	"time"

	"github.com/towline/towline-backend/pkg/geo"
)

var accra = geo.Point{Lat: 5.60, Lng: -0.19}

func sampleAt(p geo.Point, at time.Time) Sample {
	return Sample{Lat: p.Lat, Lng: p.Lng, RecordedAt: at}
}

// feed moves north at speedKmh, one sample every step, starting from start.
func feed(e *Estimator, start geo.Point, t0 time.Time, speedKmh float64, step time.Duration, n int) (geo.Point, time.Time) {
	p, t := start, t0
	e.Observe(sampleAt(p, t))
	for i := 0; i < n; i++ {
		p = geo.Offset(p, speedKmh*step.Hours(), 0)
		t = t.Add(step)
		e.Observe(sampleAt(p, t))
	}
	return p, t
}

func almost(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestEstimatorDefaultsTo40Kmh(t *testing.T) {
	e := NewEstimator()
	if got := e.ETA(4); !almost(got, 6.0, 1e-9) {
		t.Fatalf("expected 6.0 minutes, got %v", got)
	}
}

func TestEstimatorUsesObservedSpeed(t *testing.T) {
	e := NewEstimator()
	feed(e, accra, time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC), 20, 30*time.Second, 5)

	if got := e.SpeedKmh(); !almost(got, 20, 0.01) {
		t.Fatalf("expected ~20 km/h, got %v", got)
	}
	if got := e.ETA(4); !almost(got, 12.0, 0.05) {
		t.Fatalf("expected ~12.0 minutes, got %v", got)
	}
}

func TestEstimatorRejectsUnusablePairs(t *testing.T) {
	t0 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	t.Run("tiny move", func(t *testing.T) {
		e := NewEstimator()
		e.Observe(sampleAt(accra, t0))
		if e.Observe(sampleAt(geo.Offset(accra, 0.005, 0), t0.Add(10*time.Second))) {
			t.Fatal("expected 5 m move to be ignored")
		}
		if e.SpeedKmh() != DefaultSpeedKmh {
			t.Fatalf("expected default speed, got %v", e.SpeedKmh())
		}
	})

	t.Run("long gap", func(t *testing.T) {
		e := NewEstimator()
		e.Observe(sampleAt(accra, t0))
		if e.Observe(sampleAt(geo.Offset(accra, 1, 0), t0.Add(3*time.Minute))) {
			t.Fatal("expected three minute gap to be ignored")
		}
	})

	t.Run("out of order", func(t *testing.T) {
		e := NewEstimator()
		e.Observe(sampleAt(accra, t0))
		if e.Observe(sampleAt(geo.Offset(accra, 1, 0), t0.Add(-time.Minute))) {
			t.Fatal("expected older sample to be ignored")
		}
	})

	t.Run("gap still advances the anchor", func(t *testing.T) {
		e := NewEstimator()
		e.Observe(sampleAt(accra, t0))
		far := geo.Offset(accra, 1, 0)
		e.Observe(sampleAt(far, t0.Add(10*time.Minute)))
		next := geo.Offset(far, 0.5, 0)
		if !e.Observe(sampleAt(next, t0.Add(11*time.Minute))) {
			t.Fatal("expected pair after the gap to count")
		}
		if got := e.SpeedKmh(); !almost(got, 30, 0.01) {
			t.Fatalf("expected ~30 km/h, got %v", got)
		}
	})
}

func TestEstimatorWindowKeepsLastTen(t *testing.T) {
	e := NewEstimator()
	t0 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	p, last := feed(e, accra, t0, 60, time.Minute, 10)
	p = geo.Offset(p, 20.0/60, 0)
	last = last.Add(time.Minute)
	e.Observe(sampleAt(p, last))
	for i := 0; i < 9; i++ {
		p = geo.Offset(p, 20.0/60, 0)
		last = last.Add(time.Minute)
		e.Observe(sampleAt(p, last))
	}
	if got := e.SpeedKmh(); !almost(got, 20, 0.01) {
		t.Fatalf("expected window of ten 20 km/h speeds, got %v", got)
	}
}

func TestGate(t *testing.T) {
	cases := []struct {
		role   string
		status string
		want   bool
	}{
		{"provider", "en_route", true},
		{"provider", "in_progress", true},
		{"provider", "paid", false},
		{"provider", "assigned", false},
		{"customer", "pending", true},
		{"customer", "awaiting_payment", true},
		{"customer", "paid", false},
		{"customer", "cancelled", false},
		{"admin", "en_route", false},
	}
	for _, tc := range cases {
		if got := IsActive(roleOf(tc.role), statusOf(tc.status)); got != tc.want {
			t.Errorf("IsActive(%s, %s) = %v, want %v", tc.role, tc.status, got, tc.want)
		}
	}
}
