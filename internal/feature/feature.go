package feature

import (
	"fmt"
	"math"

	"tracefuse/internal/geo"
	"tracefuse/internal/model"
)

// Feature columns. Width is fixed per run regardless of which streams are
// present, so scorer input is shape-stable.
const (
	ColGPS = iota
	ColIPDR
	ColCDR
	ColDeltaSec
	ColDistKm
	ColSpeedKmph
	ColHour
	Width
)

type Matrix [][]float64

// Extract derives the kinematic feature matrix in one forward pass. Each
// row depends only on the current event and its immediate predecessor,
// never on anything ahead, so rows stay comparable across event types.
// Output is aligned 1:1, order-preserving, with the timeline.
func Extract(entries []*model.Entry) Matrix {
	m := make(Matrix, 0, len(entries))
	var prev model.Event
	for _, entry := range entries {
		ev := entry.Event
		row := make([]float64, Width)
		switch ev.EventType() {
		case model.EventGPS:
			row[ColGPS] = 1
		case model.EventIPDR:
			row[ColIPDR] = 1
		case model.EventCDR:
			row[ColCDR] = 1
		}
		row[ColHour] = float64(ev.When().Hour())
		if prev != nil {
			delta := ev.When().Sub(prev.When()).Seconds()
			row[ColDeltaSec] = delta
			if lat1, lon1, ok1 := prev.Coordinates(); ok1 {
				if lat2, lon2, ok2 := ev.Coordinates(); ok2 {
					row[ColDistKm] = geo.Haversine(lat1, lon1, lat2, lon2)
				}
			}
			// Guards same-timestamp and out-of-order pairs.
			if delta > 0 {
				row[ColSpeedKmph] = row[ColDistKm] / (delta / 3600)
			}
		}
		m = append(m, row)
		prev = ev
	}
	return m
}

// Standardize returns a z-scored copy of the matrix using statistics from
// the batch itself. Nothing is persisted across runs. Constant columns
// divide by 1 instead of 0.
func Standardize(m Matrix) Matrix {
	if len(m) == 0 {
		return Matrix{}
	}
	cols := len(m[0])
	mean := make([]float64, cols)
	for _, row := range m {
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(m))
	for j := range mean {
		mean[j] /= n
	}
	std := make([]float64, cols)
	for _, row := range m {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] == 0 {
			std[j] = 1
		}
	}
	out := make(Matrix, len(m))
	for i, row := range m {
		scaled := make([]float64, cols)
		for j, v := range row {
			scaled[j] = (v - mean[j]) / std[j]
		}
		out[i] = scaled
	}
	return out
}

// Validate rejects NaN or infinite cells. Feeding such a matrix to a
// scorer is a caller bug, not a degradable condition.
func Validate(m Matrix) error {
	for i, row := range m {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("feature matrix cell [%d,%d] is %v", i, j, v)
			}
		}
	}
	return nil
}
