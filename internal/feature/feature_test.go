package feature

import (
	"math"
	"testing"
	"time"

	"tracefuse/internal/model"
)

func gpsEntry(ts time.Time, lat, lon float64) *model.Entry {
	return &model.Entry{Event: model.GpsEvent{
		Timestamp: ts,
		Lat:       model.Float(lat),
		Lon:       model.Float(lon),
	}}
}

func TestExtractShape(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		gpsEntry(base, 12.9, 77.5),
		{Event: model.IpdrEvent{Timestamp: base.Add(5 * time.Minute), IP: "1.2.3.4"}},
		{Event: model.CdrEvent{Timestamp: base.Add(10 * time.Minute), Contact: "+91"}},
	}
	m := Extract(entries)
	if len(m) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(m))
	}
	for i, row := range m {
		if len(row) != Width {
			t.Fatalf("row %d has width %d, want %d", i, len(row), Width)
		}
	}
	if m[0][ColGPS] != 1 || m[1][ColIPDR] != 1 || m[2][ColCDR] != 1 {
		t.Fatalf("one-hot type columns wrong: %v", m)
	}
	if m[0][ColDeltaSec] != 0 || m[0][ColDistKm] != 0 || m[0][ColSpeedKmph] != 0 {
		t.Fatalf("first row must have zero kinematics: %v", m[0])
	}
	if m[1][ColDeltaSec] != 300 {
		t.Fatalf("delta wrong: %v", m[1][ColDeltaSec])
	}
	if m[0][ColHour] != 10 {
		t.Fatalf("hour wrong: %v", m[0][ColHour])
	}
}

func TestExtractDistanceAndSpeed(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		gpsEntry(base, 12.9716, 77.5946),
		gpsEntry(base.Add(1*time.Hour), 28.6139, 77.2090),
	}
	m := Extract(entries)
	dist := m[1][ColDistKm]
	if dist < 1700 || dist > 1780 {
		t.Fatalf("unexpected distance: %v", dist)
	}
	speed := m[1][ColSpeedKmph]
	if math.Abs(speed-dist) > 1e-9 {
		t.Fatalf("one hour apart, speed should equal distance: %v vs %v", speed, dist)
	}
}

func TestExtractNullCoordinatesYieldZero(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		gpsEntry(base, 12.9, 77.5),
		{Event: model.GpsEvent{Timestamp: base.Add(time.Minute)}},
		gpsEntry(base.Add(2*time.Minute), 12.9, 77.5),
	}
	m := Extract(entries)
	if m[1][ColDistKm] != 0 || m[1][ColSpeedKmph] != 0 {
		t.Fatalf("pair with a null side must contribute 0: %v", m[1])
	}
	if m[2][ColDistKm] != 0 || m[2][ColSpeedKmph] != 0 {
		t.Fatalf("pair with a null side must contribute 0: %v", m[2])
	}
}

func TestExtractSameTimestampNoDivZero(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		gpsEntry(base, 12.9, 77.5),
		gpsEntry(base, 13.9, 77.5),
	}
	m := Extract(entries)
	if m[1][ColSpeedKmph] != 0 {
		t.Fatalf("zero delta must give zero speed, got %v", m[1][ColSpeedKmph])
	}
	if m[1][ColDistKm] == 0 {
		t.Fatalf("distance should still be computed")
	}
	if err := Validate(m); err != nil {
		t.Fatalf("matrix should be finite: %v", err)
	}
}

func TestStandardize(t *testing.T) {
	m := Matrix{
		{1, 0, 0, 10, 5, 100, 9},
		{0, 1, 0, 20, 5, 200, 10},
		{0, 0, 1, 30, 5, 300, 11},
	}
	s := Standardize(m)
	if len(s) != len(m) || len(s[0]) != len(m[0]) {
		t.Fatalf("shape changed")
	}
	// Constant column divides by 1, not 0.
	for i := range s {
		if s[i][4] != 0 {
			t.Fatalf("constant column should center to 0, got %v", s[i][4])
		}
	}
	var sum float64
	for i := range s {
		sum += s[i][3]
	}
	if math.Abs(sum) > 1e-9 {
		t.Fatalf("z-scored column should sum to 0, got %v", sum)
	}
	// Input untouched.
	if m[0][3] != 10 {
		t.Fatalf("standardize must not mutate its input")
	}
}

func TestValidateRejectsNaN(t *testing.T) {
	if err := Validate(Matrix{{0, 1, math.NaN()}}); err == nil {
		t.Fatalf("expected error for NaN cell")
	}
	if err := Validate(Matrix{{0, 1, math.Inf(1)}}); err == nil {
		t.Fatalf("expected error for Inf cell")
	}
	if err := Validate(Matrix{{0, 1, 2}}); err != nil {
		t.Fatalf("finite matrix should pass: %v", err)
	}
}
