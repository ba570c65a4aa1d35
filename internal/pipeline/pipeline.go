// Package pipeline wires the analysis stages end to end: normalize,
// build, extract, score, rule pass, aggregate. One Pipeline value serves
// one run; concurrent analyses each construct their own so no trained
// state can leak between runs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tracefuse/internal/config"
	"tracefuse/internal/feature"
	"tracefuse/internal/geo"
	"tracefuse/internal/model"
	"tracefuse/internal/normalize"
	"tracefuse/internal/publish"
	"tracefuse/internal/report"
	"tracefuse/internal/rules"
	"tracefuse/internal/score"
	"tracefuse/internal/storage"
	"tracefuse/internal/timeline"
)

const (
	ModeFull    = "full"
	ModeGPSOnly = "gps_only"
)

type Inputs struct {
	GPS  []normalize.RawRecord
	IPDR []normalize.RawRecord
	CDR  []normalize.RawRecord
}

type Pipeline struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.Store
	publisher *publish.AlertPublisher
}

// New builds a pipeline for a single run. store and publisher may be nil.
func New(cfg *config.Config, logger *slog.Logger, store storage.Store, publisher *publish.AlertPublisher) *Pipeline {
	return &Pipeline{cfg: cfg, logger: logger, store: store, publisher: publisher}
}

func (p *Pipeline) Run(ctx context.Context, in Inputs) (*model.Report, error) {
	cfg := p.cfg
	runID := uuid.NewString()
	started := time.Now().UTC()

	lookup := geo.NewStaticLookup(cfg.Geo.IPs, cfg.Geo.Cells)
	norm := normalize.New(lookup, cfg.Normalize.Strictness, p.logger)

	gpsStream, err := norm.Normalize(in.GPS, model.EventGPS)
	if err != nil {
		return nil, fmt.Errorf("normalize gps: %w", err)
	}
	ipdrStream, err := norm.Normalize(in.IPDR, model.EventIPDR)
	if err != nil {
		return nil, fmt.Errorf("normalize ipdr: %w", err)
	}
	cdrStream, err := norm.Normalize(in.CDR, model.EventCDR)
	if err != nil {
		return nil, fmt.Errorf("normalize cdr: %w", err)
	}

	mode := ModeFull
	if len(ipdrStream.Events) == 0 && len(cdrStream.Events) == 0 {
		mode = ModeGPSOnly
	}
	contamination := cfg.Scorer.Contamination
	if contamination <= 0 {
		if mode == ModeGPSOnly {
			contamination = 0.05
		} else {
			contamination = 0.1
		}
	}

	entries := timeline.Build(gpsStream, ipdrStream, cdrStream)
	rep := &model.Report{
		RunID:       runID,
		Mode:        mode,
		GeneratedAt: started,
		Timeline:    entries,
		Alerts:      []model.Alert{},
		Parameters:  p.parameters(contamination),
	}
	if len(entries) == 0 {
		if p.logger != nil {
			p.logger.Warn("no events after normalization", "run_id", runID)
		}
		return rep, nil
	}

	scorer, err := score.New(cfg.Scorer, contamination)
	if err != nil {
		return nil, err
	}
	rep.Model = scorer.Name()

	features := feature.Extract(entries)
	annotations, err := scorer.FitScore(ctx, feature.Standardize(features))
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	if err := report.ApplyScores(entries, annotations, modelNote(scorer.Name(), mode)); err != nil {
		return nil, err
	}

	engine := rules.NewEngine(cfg.Detection, cfg.Domains, p.logger)
	rep.Alerts = engine.Apply(entries)
	engine.Correlate(entries)

	report.Finalize(entries, cfg.Domains.Suspicious)
	rep.Summary = report.Summarize(entries)

	if p.logger != nil {
		p.logger.Info("analysis run complete",
			"run_id", runID,
			"mode", mode,
			"model", rep.Model,
			"events", rep.Summary.TotalEvents,
			"anomalies", rep.Summary.Anomalies,
			"alerts", len(rep.Alerts),
			"elapsed", time.Since(started).String(),
		)
	}

	p.persist(ctx, rep)
	return rep, nil
}

// persist writes run output to the optional sinks. Sink failures degrade
// to warnings; the analysis result is already complete.
func (p *Pipeline) persist(ctx context.Context, rep *model.Report) {
	if p.store != nil {
		if err := p.store.SaveAlerts(ctx, rep.RunID, rep.Alerts); err != nil && p.logger != nil {
			p.logger.Warn("save alerts failed", "err", err, "run_id", rep.RunID)
		}
		if err := p.store.SaveTimeline(ctx, rep.RunID, rep.Timeline); err != nil && p.logger != nil {
			p.logger.Warn("save timeline failed", "err", err, "run_id", rep.RunID)
		}
		if err := p.store.SaveSummary(ctx, rep); err != nil && p.logger != nil {
			p.logger.Warn("save summary failed", "err", err, "run_id", rep.RunID)
		}
	}
	if p.publisher != nil {
		_ = p.publisher.Publish(ctx, rep.RunID, rep.Alerts)
	}
}

func (p *Pipeline) parameters(contamination float64) model.Parameters {
	cfg := p.cfg
	params := model.Parameters{
		Profile:            cfg.Detection.Profile,
		GPSThresholdKm:     cfg.Detection.GPSThresholdKm,
		MaxGapSecs:         cfg.Detection.MaxGapSecs,
		SpeedThresholdKmph: cfg.Detection.SpeedThresholdKmph,
	}
	switch cfg.Scorer.Backend {
	case config.BackendAutoencoder:
		params.EncodingDim = cfg.Scorer.EncodingDim
		params.Epochs = cfg.Scorer.Epochs
		params.ThresholdQuantile = cfg.Scorer.ThresholdQuantile
	default:
		params.Contamination = contamination
	}
	return params
}

func modelNote(backend, mode string) string {
	if backend == config.BackendAutoencoder {
		return report.NoteModelAutoencoder
	}
	if mode == ModeGPSOnly {
		return report.NoteModelMovement
	}
	return report.NoteModelAnomaly
}
