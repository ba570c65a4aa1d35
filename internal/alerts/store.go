package alerts

import (
	"sync"
	"time"

	"tracefuse/internal/model"
)

// Store is a bounded in-memory buffer of alerts from completed runs,
// serving the API in service mode.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) AddAll(alerts []model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, alert := range alerts {
		if len(s.buf) < s.limit {
			s.buf = append(s.buf, alert)
			continue
		}
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = alert
	}
}

func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Alert, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if !a.Timestamp.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
