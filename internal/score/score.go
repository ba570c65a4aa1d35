// Package score holds the interchangeable unsupervised anomaly scorers.
// A scorer is trained from scratch on each batch and never reused across
// runs.
package score

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"tracefuse/internal/config"
	"tracefuse/internal/feature"
)

// Annotation is the per-event scorer output, aligned 1:1 with the input
// matrix.
type Annotation struct {
	Score     float64 `json:"score"`
	IsAnomaly bool    `json:"is_anomaly"`
}

// Scorer trains on a standardized feature matrix and scores that same
// batch. Implementations must return exactly one annotation per row, in
// row order.
type Scorer interface {
	Name() string
	FitScore(ctx context.Context, m feature.Matrix) ([]Annotation, error)
}

// New builds the configured backend. The contamination argument is the
// resolved expected-anomaly fraction for this run's pipeline mode.
func New(cfg config.ScorerConfig, contamination float64) (Scorer, error) {
	switch cfg.Backend {
	case config.BackendIsolationForest:
		return NewIsolationForest(cfg, contamination), nil
	case config.BackendAutoencoder:
		return NewAutoencoder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown scorer backend: %q", cfg.Backend)
	}
}

func checkMatrix(m feature.Matrix) error {
	if len(m) == 0 {
		return errors.New("empty feature matrix")
	}
	return feature.Validate(m)
}

// quantile returns the linearly interpolated q-quantile of values.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	xs := append([]float64(nil), values...)
	sort.Float64s(xs)
	if q <= 0 {
		return xs[0]
	}
	if q >= 1 {
		return xs[len(xs)-1]
	}
	pos := q * float64(len(xs)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return xs[lo]*(1-frac) + xs[hi]*frac
}
