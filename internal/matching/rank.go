package matching

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/towline/towline-backend/pkg/geo"
)

const (
	DefaultRadiusKm   = 5.0
	MaxRadiusKm       = 100.0
	DefaultStaleAfter = 5 * time.Minute
)

// Candidate is a provider's availability and last known position.
type Candidate struct {
	ProviderID        uuid.UUID
	FullName          string
	Available         bool
	AvgRating         float64
	Location          *geo.Point
	LocationUpdatedAt *time.Time
}

// Options tunes a ranking pass. Zero values take the defaults.
type Options struct {
	RadiusKm   float64
	StaleAfter time.Duration
	Limit      int
	Now        time.Time
}

// Match is a candidate that survived filtering, with its distance.
type Match struct {
	ProviderID uuid.UUID `json:"providerId"`
	FullName   string    `json:"fullName"`
	DistanceKm float64   `json:"distanceKm"`
	AvgRating  float64   `json:"avgRating"`
}

func (o Options) withDefaults() Options {
	if o.RadiusKm <= 0 {
		o.RadiusKm = DefaultRadiusKm
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// Rank returns the fresh, available candidates within the radius ordered
// by distance, then rating descending, then provider id.
func Rank(customer geo.Point, candidates []Candidate, opts Options) []Match {
	opts = opts.withDefaults()
	matches := eligible(customer, candidates, opts)
	kept := matches[:0]
	for _, m := range matches {
		if m.DistanceKm <= opts.RadiusKm {
			kept = append(kept, m)
		}
	}
	sortMatches(kept)
	if opts.Limit > 0 && len(kept) > opts.Limit {
		kept = kept[:opts.Limit]
	}
	return kept
}

// Closest returns the single nearest fresh, available candidate with the
// radius ignored.
func Closest(customer geo.Point, candidates []Candidate, opts Options) (Match, bool) {
	opts = opts.withDefaults()
	matches := eligible(customer, candidates, opts)
	if len(matches) == 0 {
		return Match{}, false
	}
	sortMatches(matches)
	return matches[0], true
}

func eligible(customer geo.Point, candidates []Candidate, opts Options) []Match {
	cutoff := opts.Now.Add(-opts.StaleAfter)
	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if !c.Available || c.Location == nil || c.LocationUpdatedAt == nil {
			continue
		}
		if c.LocationUpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, Match{
			ProviderID: c.ProviderID,
			FullName:   c.FullName,
			DistanceKm: geo.DistanceKm(customer, *c.Location),
			AvgRating:  c.AvgRating,
		})
	}
	return out
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if a.AvgRating != b.AvgRating {
			return a.AvgRating > b.AvgRating
		}
		return a.ProviderID.String() < b.ProviderID.String()
	})
}
