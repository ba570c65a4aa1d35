package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNotes(t *testing.T) {
	e := &Entry{}
	if !e.AddNote("SIM Spoof: CDR/IP jump without GPS") {
		t.Fatalf("first add should succeed")
	}
	if e.AddNote("SIM Spoof: CDR/IP jump without GPS") {
		t.Fatalf("duplicate add should be rejected")
	}
	if !e.HasNote("sim spoof") {
		t.Fatalf("HasNote should match case-insensitive fragments")
	}
	if e.HasNote("tower") {
		t.Fatalf("unexpected note match")
	}
	if !e.AddNote("Multiple IP hops") {
		t.Fatalf("distinct note should append")
	}
	if len(e.Notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(e.Notes))
	}
}

func TestCoordinates(t *testing.T) {
	full := GpsEvent{Lat: Float(1), Lon: Float(2)}
	if lat, lon, ok := full.Coordinates(); !ok || lat != 1 || lon != 2 {
		t.Fatalf("coordinates lost")
	}
	half := GpsEvent{Lat: Float(1)}
	if _, _, ok := half.Coordinates(); ok {
		t.Fatalf("one-sided coordinates must report absent")
	}
}

func TestEntryMarshalFlattens(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)
	e := &Entry{
		Event: IpdrEvent{
			Timestamp: ts, IP: "1.2.3.4", Domain: "x.onion",
			Lat: Float(28.6), Lon: Float(77.2),
		},
		Score:            0.7,
		Anomaly:          true,
		CorrelationScore: 3,
		DurationSec:      300,
		SpeedKmph:        120,
	}
	e.AddNote("GPS-IP conflict → SIM spoof")
	e.AddNote("TOR Hidden Service")

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "ipdr" || m["ip"] != "1.2.3.4" {
		t.Fatalf("event fields not flattened: %v", m)
	}
	if m["anomaly"] != float64(1) {
		t.Fatalf("anomaly should serialize as 1, got %v", m["anomaly"])
	}
	if m["notes"] != "GPS-IP conflict → SIM spoof | TOR Hidden Service" {
		t.Fatalf("notes join wrong: %v", m["notes"])
	}
	if m["correlation_score"] != float64(3) {
		t.Fatalf("correlation score missing: %v", m["correlation_score"])
	}
	if _, present := m["correlated"]; present {
		t.Fatalf("empty correlation context should be omitted")
	}
}
