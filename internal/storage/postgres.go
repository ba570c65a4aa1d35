package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tracefuse/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/tracefuse?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			message TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_run ON alerts(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS timeline_events (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			event_type TEXT NOT NULL,
			lat DOUBLE PRECISION,
			lon DOUBLE PRECISION,
			score DOUBLE PRECISION NOT NULL,
			anomaly INTEGER NOT NULL,
			notes TEXT NOT NULL,
			correlation_score INTEGER NOT NULL,
			duration_sec DOUBLE PRECISION NOT NULL,
			speed_kmph DOUBLE PRECISION NOT NULL,
			event_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_run ON timeline_events(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS run_summaries (
			run_id TEXT PRIMARY KEY,
			generated_at TIMESTAMPTZ NOT NULL,
			mode TEXT NOT NULL,
			model TEXT NOT NULL,
			total_events INTEGER NOT NULL,
			anomalies INTEGER NOT NULL,
			gps_jumps INTEGER NOT NULL,
			sim_swap_events INTEGER NOT NULL,
			spoofing_events INTEGER NOT NULL,
			high_correlation_events INTEGER NOT NULL,
			parameters_json JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveAlerts(ctx context.Context, runID string, alerts []model.Alert) error {
	if s.db == nil || len(alerts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO alerts (run_id, ts, message) VALUES ($1, $2, $3)`)
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

func (s *postgresStore) SaveTimeline(ctx context.Context, runID string, entries []*model.Entry) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`)
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

func (s *postgresStore) SaveSummary(ctx context.Context, rep *model.Report) error {
	if s.db == nil || rep == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_summaries
		(run_id, generated_at, mode, model, total_events, anomalies, gps_jumps, sim_swap_events, spoofing_events, high_correlation_events, parameters_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO UPDATE SET
			generated_at = EXCLUDED.generated_at,
			mode = EXCLUDED.mode,
			model = EXCLUDED.model,
			total_events = EXCLUDED.total_events,
			anomalies = EXCLUDED.anomalies,
			gps_jumps = EXCLUDED.gps_jumps,
			sim_swap_events = EXCLUDED.sim_swap_events,
			spoofing_events = EXCLUDED.spoofing_events,
			high_correlation_events = EXCLUDED.high_correlation_events,
			parameters_json = EXCLUDED.parameters_json`,
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
