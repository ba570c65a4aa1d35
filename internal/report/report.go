// Package report merges scorer and rule outputs into the annotated
// timeline, alert list and summary consumed by dashboards and report
// generators.
package report

import (
	"fmt"
	"strings"

	"tracefuse/internal/geo"
	"tracefuse/internal/model"
	"tracefuse/internal/score"
)

// UnrealisticSpeedKmph is the display-pass safety net. It is deliberately
// a fixed limit separate from the configurable detection speed threshold.
const UnrealisticSpeedKmph = 500

const NoteUnrealisticSpeed = "Unrealistic speed"

// Model notes attached to scorer-flagged events.
const (
	NoteModelAnomaly     = "Anomaly detected"
	NoteModelMovement    = "Unrealistic movement"
	NoteModelAutoencoder = "Autoencoder anomaly"
)

// ApplyScores copies scorer annotations onto the timeline and tags each
// flagged event with the model note.
func ApplyScores(entries []*model.Entry, annotations []score.Annotation, note string) error {
	if len(entries) != len(annotations) {
		return fmt.Errorf("annotation count %d does not match timeline length %d",
			len(annotations), len(entries))
	}
	for i, ann := range annotations {
		entries[i].Score = ann.Score
		if ann.IsAnomaly {
			entries[i].Anomaly = true
			entries[i].AddNote(note)
		}
	}
	return nil
}

// Finalize is the display pass: it recomputes duration and speed between
// consecutive located events, applies the unrealistic-speed safety net,
// and derives each entry's correlation score.
func Finalize(entries []*model.Entry, suspicious []string) {
	var last *model.Entry
	for _, entry := range entries {
		if last != nil {
			lat1, lon1, ok1 := last.Event.Coordinates()
			lat2, lon2, ok2 := entry.Event.Coordinates()
			if ok1 && ok2 {
				duration := entry.Event.When().Sub(last.Event.When()).Seconds()
				dist := geo.Haversine(lat1, lon1, lat2, lon2)
				entry.DurationSec = duration
				if duration > 0 {
					entry.SpeedKmph = dist / (duration / 3600)
				}
				if entry.SpeedKmph > UnrealisticSpeedKmph {
					entry.AddNote(NoteUnrealisticSpeed)
					entry.Anomaly = true
				}
			}
		}
		entry.CorrelationScore = correlationScore(entry, suspicious)
		last = entry
	}
}

// correlationScore is a presentational aggregate; it feeds no model.
func correlationScore(entry *model.Entry, suspicious []string) int {
	scoreVal := 0
	if entry.Anomaly {
		scoreVal++
	}
	if entry.HasNote("spoof") {
		scoreVal++
	}
	if entry.HasNote("jump") {
		scoreVal++
	}
	if ipdr, ok := entry.Event.(model.IpdrEvent); ok {
		domain := strings.ToLower(ipdr.Domain)
		for _, s := range suspicious {
			if s == "onion" {
				continue // hidden services count through the rule note
			}
			if strings.Contains(domain, strings.ToLower(s)) {
				scoreVal++
				break
			}
		}
	}
	return scoreVal
}

// Summarize derives the run's headline counts from the finalized timeline.
func Summarize(entries []*model.Entry) model.Summary {
	s := model.Summary{TotalEvents: len(entries)}
	for _, entry := range entries {
		if entry.Anomaly {
			s.Anomalies++
		}
		if entry.HasNote("jump") {
			s.GPSJumps++
		}
		if entry.HasNote("swap") {
			s.SimSwapEvents++
		}
		if entry.HasNote("spoof") {
			s.SpoofingEvents++
		}
		if entry.CorrelationScore > 3 {
			s.HighCorrelation++
		}
	}
	return s
}
