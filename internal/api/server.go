// Package api exposes the analysis pipeline over HTTP. Each /analyze
// request runs a fresh pipeline so concurrent investigations never share
// model state.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tracefuse/internal/alerts"
	"tracefuse/internal/config"
	"tracefuse/internal/ingest"
	"tracefuse/internal/model"
	"tracefuse/internal/normalize"
	"tracefuse/internal/pipeline"
	"tracefuse/internal/publish"
	"tracefuse/internal/storage"
)

const maxBodyBytes = 32 << 20

type Server struct {
	cfg       *config.Manager
	alerts    *alerts.Store
	store     storage.Store
	publisher *publish.AlertPublisher
	logger    *slog.Logger
	version   string
}

type analyzeRequest struct {
	GPS  []map[string]any `json:"gps"`
	IPDR []map[string]any `json:"ipdr"`
	CDR  []map[string]any `json:"cdr"`
}

// Start launches the HTTP server when cfg.API.Enabled is set and returns
// it, or nil when the API is disabled. The server shuts down when ctx is
// cancelled.
func Start(ctx context.Context, cfg *config.Manager, alertsStore *alerts.Store, store storage.Store, publisher *publish.AlertPublisher, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:       cfg,
		alerts:    alertsStore,
		store:     store,
		publisher: publisher,
		logger:    logger,
		version:   version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", server.handleAnalyze)
	mux.HandleFunc("/healthz", server.handleHealthz)
	mux.HandleFunc("/alerts", server.handleAlerts)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body too large or unreadable"})
		return
	}
	var req analyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if len(req.GPS) == 0 && len(req.IPDR) == 0 && len(req.CDR) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "no records supplied"})
		return
	}

	cfg := s.cfg.Get()
	run := pipeline.New(cfg, s.logger, s.store, s.publisher)
	rep, err := run.Run(r.Context(), pipeline.Inputs{
		GPS:  rawRecords(req.GPS),
		IPDR: rawRecords(req.IPDR),
		CDR:  rawRecords(req.CDR),
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Error("analyze failed", "err", err)
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return
	}
	if s.alerts != nil {
		s.alerts.AddAll(rep.Alerts)
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339Nano),
		"version": s.version,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.Alert
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func rawRecords(rows []map[string]any) []normalize.RawRecord {
	if len(rows) == 0 {
		return nil
	}
	out := make([]normalize.RawRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, ingest.FromMap(row))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
