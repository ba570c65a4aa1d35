package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"tracefuse/internal/config"
	"tracefuse/internal/model"
)

// Store persists completed run output. It is optional: a nil Store means
// persistence is disabled and the pipeline runs purely in memory.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlerts(ctx context.Context, runID string, alerts []model.Alert) error
	SaveTimeline(ctx context.Context, runID string, entries []*model.Entry) error
	SaveSummary(ctx context.Context, rep *model.Report) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func entryColumns(entry *model.Entry) (typ string, lat, lon any, notes string) {
	typ = string(entry.Event.EventType())
	if la, lo, ok := entry.Event.Coordinates(); ok {
		lat, lon = la, lo
	}
	notes = strings.Join(entry.Notes, " | ")
	return typ, lat, lon, notes
}
