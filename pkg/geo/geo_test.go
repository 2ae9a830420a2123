package geo

import (
	"math"
	"testing"
)

func TestDistanceKmKnownPairs(t *testing.T) {
	accra := Point{Lat: 5.6037, Lng: -0.1870}
	kumasi := Point{Lat: 6.6885, Lng: -1.6244}

	got := DistanceKm(accra, kumasi)
	if math.Abs(got-200) > 5 {
		t.Fatalf("expected ~200km between Accra and Kumasi, got %.2f", got)
	}
	if d := DistanceKm(accra, accra); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
	if math.Abs(DistanceKm(accra, kumasi)-DistanceKm(kumasi, accra)) > 1e-9 {
		t.Fatal("distance must be symmetric")
	}
}

func TestOffsetRoundTripsThroughDistance(t *testing.T) {
	origin := Point{Lat: 5.60, Lng: -0.19}
	for _, km := range []float64{0.5, 1.2, 3.4, 8.0} {
		moved := Offset(origin, km, 0)
		if d := DistanceKm(origin, moved); math.Abs(d-km) > 0.001 {
			t.Fatalf("north offset %.1fkm measured %.4fkm", km, d)
		}
		moved = Offset(origin, 0, km)
		if d := DistanceKm(origin, moved); math.Abs(d-km) > 0.01 {
			t.Fatalf("east offset %.1fkm measured %.4fkm", km, d)
		}
	}
}

func TestBoundingBoxContainsRadius(t *testing.T) {
	center := Point{Lat: 5.60, Lng: -0.19}
	minLat, maxLat, minLng, maxLng := BoundingBox(center, 5)
	for _, p := range []Point{Offset(center, 4.9, 0), Offset(center, -4.9, 0), Offset(center, 0, 4.9), Offset(center, 0, -4.9)} {
		if p.Lat < minLat || p.Lat > maxLat || p.Lng < minLng || p.Lng > maxLng {
			t.Fatalf("point %+v outside box", p)
		}
	}
}

func TestPointValidate(t *testing.T) {
	if err := (Point{Lat: 91}).Validate(); err == nil {
		t.Fatal("expected latitude error")
	}
	if err := (Point{Lng: -181}).Validate(); err == nil {
		t.Fatal("expected longitude error")
	}
	if err := (Point{Lat: 5.6, Lng: -0.19}).Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
