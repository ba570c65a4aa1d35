package geo

import (
	"math"
	"testing"
)

func TestHaversineZeroDistance(t *testing.T) {
	if d := Haversine(28.6139, 77.2090, 28.6139, 77.2090); d != 0 {
		t.Fatalf("same point should be 0 km, got %v", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := Haversine(12.9716, 77.5946, 28.6139, 77.2090)
	b := Haversine(28.6139, 77.2090, 12.9716, 77.5946)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("distance not symmetric: %v vs %v", a, b)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Bangalore to Delhi, roughly 1740 km great-circle.
	d := Haversine(12.9716, 77.5946, 28.6139, 77.2090)
	if d < 1700 || d > 1780 {
		t.Fatalf("unexpected Bangalore-Delhi distance: %v km", d)
	}
}

func TestHaversineTriangleInequality(t *testing.T) {
	ab := Haversine(0, 0, 10, 10)
	bc := Haversine(10, 10, 20, 5)
	ac := Haversine(0, 0, 20, 5)
	if ac > ab+bc+1e-9 {
		t.Fatalf("triangle inequality violated: %v > %v + %v", ac, ab, bc)
	}
}

func TestStaticLookup(t *testing.T) {
	l := NewStaticLookup(
		map[string]Point{"1.2.3.4": {Lat: 1, Lon: 2}},
		map[string]Point{"DL001": {Lat: 3, Lon: 4}},
	)
	if lat, lon, ok := l.LocateIP("1.2.3.4"); !ok || lat != 1 || lon != 2 {
		t.Fatalf("ip hit failed: %v %v %v", lat, lon, ok)
	}
	if _, _, ok := l.LocateIP("9.9.9.9"); ok {
		t.Fatalf("ip miss should return ok=false")
	}
	if lat, _, ok := l.LocateCell("DL001"); !ok || lat != 3 {
		t.Fatalf("cell hit failed")
	}
	var nilLookup *StaticLookup
	if _, _, ok := nilLookup.LocateIP("1.2.3.4"); ok {
		t.Fatalf("nil lookup should miss, not panic")
	}
}
