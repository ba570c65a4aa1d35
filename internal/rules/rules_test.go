package rules

import (
	"testing"
	"time"

	"tracefuse/internal/config"
	"tracefuse/internal/model"
)

func testEngine() *Engine {
	cfg := config.DefaultConfig()
	cfg.Detection.GPSThresholdKm = 100
	cfg.Detection.MaxGapSecs = 900
	return NewEngine(cfg.Detection, cfg.Domains, nil)
}

func gps(ts time.Time, lat, lon float64) *model.Entry {
	return &model.Entry{Event: model.GpsEvent{Timestamp: ts, Lat: model.Float(lat), Lon: model.Float(lon)}}
}

func ipdr(ts time.Time, domain string, lat, lon float64) *model.Entry {
	return &model.Entry{Event: model.IpdrEvent{
		Timestamp: ts, IP: "1.2.3.4", Domain: domain,
		Lat: model.Float(lat), Lon: model.Float(lon),
	}}
}

func cdr(ts time.Time, lat, lon float64) *model.Entry {
	return &model.Entry{Event: model.CdrEvent{
		Timestamp: ts, Contact: "+911234", CallType: "voice",
		Lat: model.Float(lat), Lon: model.Float(lon),
	}}
}

func countAlerts(alerts []model.Alert, message string) int {
	n := 0
	for _, a := range alerts {
		if a.Message == message {
			n++
		}
	}
	return n
}

func TestBlindJump(t *testing.T) {
	e := testEngine()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		cdr(base, 28.6139, 77.2090),
		ipdr(base.Add(10*time.Minute), "example.com", 12.9716, 77.5946),
	}
	alerts := e.Apply(entries)
	if !entries[1].Anomaly || !entries[1].HasNote("jump") {
		t.Fatalf("expected blind jump on second event: %+v", entries[1])
	}
	if countAlerts(alerts, NoteBlindJump) != 1 {
		t.Fatalf("expected exactly one blind jump alert, got %v", alerts)
	}
}

func TestBlindJumpSuppressedByInterveningGPS(t *testing.T) {
	e := testEngine()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	// A GPS fix elsewhere in the timeline lands strictly between the two
	// telemetry timestamps, so the movement is not blind.
	far := cdr(base, 28.6139, 77.2090)
	fix := gps(base.Add(5*time.Minute), 20.0, 77.4)
	near := ipdr(base.Add(10*time.Minute), "example.com", 12.9716, 77.5946)

	entries := []*model.Entry{far, fix, near}
	alerts := e.Apply(entries)
	if countAlerts(alerts, NoteBlindJump) != 0 {
		t.Fatalf("gps between the pair should suppress the jump: %v", alerts)
	}
}

func TestBlindJumpBelowThresholdQuiet(t *testing.T) {
	e := testEngine()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		cdr(base, 28.6139, 77.2090),
		ipdr(base.Add(10*time.Minute), "example.com", 28.7, 77.3),
	}
	alerts := e.Apply(entries)
	if len(alerts) != 0 || entries[1].Anomaly {
		t.Fatalf("short hop should not alert: %v", alerts)
	}
}

func TestGPSMismatchScenario(t *testing.T) {
	// A fix in Bangalore at 10:00 followed five minutes later by a session
	// geolocated to Delhi through a .onion domain: both the conflict and
	// the hidden-service rule must fire on the same event.
	e := testEngine()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		gps(base, 12.9716, 77.5946),
		ipdr(base.Add(5*time.Minute), "x.onion", 28.6139, 77.2090),
	}
	alerts := e.Apply(entries)
	got := entries[1]
	if !got.Anomaly {
		t.Fatalf("expected anomaly")
	}
	if !got.HasNote(NoteGPSConflict) {
		t.Fatalf("expected gps conflict note, got %v", got.Notes)
	}
	if !got.HasNote(NoteTor) {
		t.Fatalf("expected tor note, got %v", got.Notes)
	}
	if countAlerts(alerts, NoteGPSConflict) != 1 || countAlerts(alerts, alertTor) != 1 {
		t.Fatalf("expected one alert per rule, got %v", alerts)
	}
}

func TestGPSMismatchGapTooOld(t *testing.T) {
	e := testEngine()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		gps(base, 12.9716, 77.5946),
		ipdr(base.Add(20*time.Minute), "example.com", 28.6139, 77.2090),
	}
	alerts := e.Apply(entries)
	if countAlerts(alerts, NoteGPSConflict) != 0 {
		t.Fatalf("fix older than max gap must not conflict: %v", alerts)
	}
}

func TestGPSMismatchNullGPSFixIgnored(t *testing.T) {
	e := testEngine()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		{Event: model.GpsEvent{Timestamp: base}},
		ipdr(base.Add(5*time.Minute), "example.com", 28.6139, 77.2090),
	}
	alerts := e.Apply(entries)
	if countAlerts(alerts, NoteGPSConflict) != 0 {
		t.Fatalf("fix without coordinates is no ground truth: %v", alerts)
	}
}

func TestTowerHop(t *testing.T) {
	e := testEngine()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		ipdr(base, "a.com", 28.6139, 77.2090),
		ipdr(base.Add(2*time.Minute), "b.com", 28.0, 76.0),
	}
	alerts := e.Apply(entries)
	if countAlerts(alerts, NoteTowerHop) != 1 {
		t.Fatalf("expected tower hop alert, got %v", alerts)
	}

	// Same distance but past the window stays quiet.
	slow := []*model.Entry{
		ipdr(base, "a.com", 28.6139, 77.2090),
		ipdr(base.Add(10*time.Minute), "b.com", 28.0, 76.0),
	}
	if got := e.Apply(slow); countAlerts(got, NoteTowerHop) != 0 {
		t.Fatalf("slow hop should not alert: %v", got)
	}
}

func TestMaliciousDomainDistanceIndependent(t *testing.T) {
	e := testEngine()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		gps(base, 28.6139, 77.2090),
		ipdr(base.Add(time.Minute), "cnc.badsite.net", 28.6139, 77.2090),
	}
	alerts := e.Apply(entries)
	if !entries[1].HasNote(NoteMalware) {
		t.Fatalf("known bad domain must flag regardless of movement: %v", entries[1].Notes)
	}
	if countAlerts(alerts, "Malware Domain Detected: cnc.badsite.net") != 1 {
		t.Fatalf("expected named malware alert, got %v", alerts)
	}
}

func TestNoteDedupeOnReapply(t *testing.T) {
	e := testEngine()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		cdr(base, 28.6139, 77.2090),
		ipdr(base.Add(10*time.Minute), "example.com", 12.9716, 77.5946),
	}
	first := e.Apply(entries)
	second := e.Apply(entries)
	if countAlerts(first, NoteBlindJump) != 1 {
		t.Fatalf("first pass should alert once")
	}
	if len(second) != 0 {
		t.Fatalf("re-applied rules must not duplicate notes or alerts: %v", second)
	}
	if n := len(entries[1].Notes); n != 1 {
		t.Fatalf("expected one note after two passes, got %d", n)
	}
}

func TestCorrelateWindow(t *testing.T) {
	e := testEngine()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.Entry{
		gps(base, 12.9, 77.5),
		{Event: model.IpdrEvent{Timestamp: base.Add(60 * time.Second), IP: "1.2.3.4", Domain: "a.com", Upload: 10, Download: 20, App: "browser"}},
		{Event: model.IpdrEvent{Timestamp: base.Add(300 * time.Second), IP: "1.2.3.4", Domain: "b.com"}},
		cdr(base.Add(360*time.Second), 12.9, 77.5),
		gps(base.Add(400*time.Second), 13.0, 77.6),
	}
	e.Correlate(entries)

	if len(entries[0].Correlated) != 1 {
		t.Fatalf("gps should pick up exactly the in-window session, got %d", len(entries[0].Correlated))
	}
	ctx := entries[0].Correlated[0]
	if ctx.Type != model.EventIPDR || *ctx.Upload != 10 || *ctx.Download != 20 || ctx.App != "browser" {
		t.Fatalf("session context wrong: %+v", ctx)
	}

	if len(entries[3].Correlated) != 1 {
		t.Fatalf("call should pick up the following fix, got %d", len(entries[3].Correlated))
	}
	fix := entries[3].Correlated[0]
	if fix.Type != model.EventGPS || *fix.Lat != 13.0 || *fix.Lon != 77.6 {
		t.Fatalf("fix context wrong: %+v", fix)
	}

	// Sessions never gain context, only fixes and calls do.
	if len(entries[1].Correlated) != 0 || len(entries[2].Correlated) != 0 {
		t.Fatalf("ipdr entries should not collect context")
	}
}
