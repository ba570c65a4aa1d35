package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tracefuse/internal/config"
	"tracefuse/internal/model"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestNewStoreDisabled(t *testing.T) {
	store, err := NewStore(config.StorageConfig{Enabled: false})
	if err != nil || store != nil {
		t.Fatalf("disabled storage should be nil, nil: %v %v", store, err)
	}
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"}); err == nil {
		t.Fatalf("unknown driver should error")
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	entry := &model.Entry{
		Event: model.IpdrEvent{
			Timestamp: ts, IP: "1.2.3.4", Domain: "x.onion",
			Lat: model.Float(28.6), Lon: model.Float(77.2),
		},
		Score:            0.9,
		Anomaly:          true,
		Notes:            []string{"TOR Hidden Service"},
		CorrelationScore: 2,
	}
	rep := &model.Report{
		RunID:       "run-1",
		Mode:        "full",
		Model:       "isolation_forest",
		GeneratedAt: ts,
		Summary:     model.Summary{TotalEvents: 1, Anomalies: 1},
	}

	if err := store.SaveAlerts(ctx, "run-1", []model.Alert{{Timestamp: ts, Message: "TOR Hidden Service accessed"}}); err != nil {
		t.Fatalf("save alerts: %v", err)
	}
	if err := store.SaveTimeline(ctx, "run-1", []*model.Entry{entry}); err != nil {
		t.Fatalf("save timeline: %v", err)
	}
	if err := store.SaveSummary(ctx, rep); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	// Summary upsert is idempotent per run.
	if err := store.SaveSummary(ctx, rep); err != nil {
		t.Fatalf("resave summary: %v", err)
	}

	db := store.(*sqliteStore).db
	var alerts, events, summaries int
	if err := db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE run_id = ?`, "run-1").Scan(&alerts); err != nil {
		t.Fatalf("count alerts: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM timeline_events WHERE run_id = ?`, "run-1").Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM run_summaries`).Scan(&summaries); err != nil {
		t.Fatalf("count summaries: %v", err)
	}
	if alerts != 1 || events != 1 || summaries != 1 {
		t.Fatalf("row counts wrong: %d %d %d", alerts, events, summaries)
	}

	var typ, notes string
	var anomaly int
	if err := db.QueryRow(
		`SELECT event_type, notes, anomaly FROM timeline_events WHERE run_id = ?`, "run-1",
	).Scan(&typ, &notes, &anomaly); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if typ != "ipdr" || notes != "TOR Hidden Service" || anomaly != 1 {
		t.Fatalf("event row wrong: %s %s %d", typ, notes, anomaly)
	}
}

func TestSaveEmptyBatchesNoOp(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.SaveAlerts(ctx, "run-2", nil); err != nil {
		t.Fatalf("empty alerts: %v", err)
	}
	if err := store.SaveTimeline(ctx, "run-2", nil); err != nil {
		t.Fatalf("empty timeline: %v", err)
	}
}
