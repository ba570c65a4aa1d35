package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"tracefuse/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:tracefuse.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_run ON alerts(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS timeline_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			event_type TEXT NOT NULL,
			lat REAL,
			lon REAL,
			score REAL NOT NULL,
			anomaly INTEGER NOT NULL,
			notes TEXT NOT NULL,
			correlation_score INTEGER NOT NULL,
			duration_sec REAL NOT NULL,
			speed_kmph REAL NOT NULL,
			event_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_run ON timeline_events(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS run_summaries (
			run_id TEXT PRIMARY KEY,
			generated_at TEXT NOT NULL,
			mode TEXT NOT NULL,
			model TEXT NOT NULL,
			total_events INTEGER NOT NULL,
			anomalies INTEGER NOT NULL,
			gps_jumps INTEGER NOT NULL,
			sim_swap_events INTEGER NOT NULL,
			spoofing_events INTEGER NOT NULL,
			high_correlation_events INTEGER NOT NULL,
			parameters_json TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveAlerts(ctx context.Context, runID string, alerts []model.Alert) error {
	if s.db == nil || len(alerts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO alerts (run_id, ts, message) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, alert := range alerts {
		if _, err := stmt.ExecContext(ctx, runID, alert.Timestamp.UTC(), alert.Message); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) SaveTimeline(ctx context.Context, runID string, entries []*model.Entry) error {
	if s.db == nil || len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO timeline_events
		(run_id, ts, event_type, lat, lon, score, anomaly, notes, correlation_score, duration_sec, speed_kmph, event_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, entry := range entries {
		typ, lat, lon, notes := entryColumns(entry)
		anomaly := 0
		if entry.Anomaly {
			anomaly = 1
		}
		if _, err := stmt.ExecContext(ctx,
			runID,
			entry.Event.When().UTC(),
			typ,
			lat,
			lon,
			entry.Score,
			anomaly,
			notes,
			entry.CorrelationScore,
			entry.DurationSec,
			entry.SpeedKmph,
			encodeJSON(entry.Event),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) SaveSummary(ctx context.Context, rep *model.Report) error {
	if s.db == nil || rep == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_summaries
		(run_id, generated_at, mode, model, total_events, anomalies, gps_jumps, sim_swap_events, spoofing_events, high_correlation_events, parameters_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID,
		rep.GeneratedAt.UTC(),
		rep.Mode,
		rep.Model,
		rep.Summary.TotalEvents,
		rep.Summary.Anomalies,
		rep.Summary.GPSJumps,
		rep.Summary.SimSwapEvents,
		rep.Summary.SpoofingEvents,
		rep.Summary.HighCorrelation,
		encodeJSON(rep.Parameters),
	)
	return err
}
