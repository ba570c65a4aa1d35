// Package rules is the deterministic forensic rule pass: a single
// left-to-right sweep over the sorted, scored timeline comparing each
// event to its immediate predecessor and to the most recent GPS fix.
package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tracefuse/internal/config"
	"tracefuse/internal/geo"
	"tracefuse/internal/model"
)

// Tower-hop bounds are part of the heuristic itself, not tuning knobs.
const (
	towerHopWindowSecs = 300
	towerHopDistanceKm = 50
)

const (
	NoteBlindJump   = "SIM Spoof: CDR/IP jump without GPS"
	NoteGPSConflict = "GPS-IP conflict → SIM spoof"
	NoteTowerHop    = "Multiple IP hops"
	NoteTor         = "TOR Hidden Service"
	NoteMalware     = "Malware Domain"

	alertTor = "TOR Hidden Service accessed"
)

type Engine struct {
	gpsThresholdKm    float64
	maxGapSecs        float64
	correlationWindow time.Duration
	malicious         map[string]struct{}
	logger            *slog.Logger
}

func NewEngine(det config.DetectionConfig, domains config.DomainsConfig, logger *slog.Logger) *Engine {
	malicious := make(map[string]struct{}, len(domains.Malicious))
	for _, d := range domains.Malicious {
		malicious[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return &Engine{
		gpsThresholdKm:    det.GPSThresholdKm,
		maxGapSecs:        det.MaxGapSecs,
		correlationWindow: time.Duration(det.CorrelationWindowSecs * float64(time.Second)),
		malicious:         malicious,
		logger:            logger,
	}
}

// Apply runs rules R1..R4 over indices 1..N-1. Rules are non-exclusive;
// several may fire on one event. A rule's note is appended at most once
// per event, and each newly appended note emits one alert.
func (e *Engine) Apply(entries []*model.Entry) []model.Alert {
	alerts := make([]model.Alert, 0)
	gpsTimes := gpsTimestamps(entries)

	var lastGPS model.Event
	for i := 1; i < len(entries); i++ {
		curr := entries[i]
		prev := entries[i-1]

		if ev := prev.Event; ev.EventType() == model.EventGPS {
			if _, _, ok := ev.Coordinates(); ok {
				lastGPS = ev
			}
		}

		e.blindJump(curr, prev, gpsTimes, &alerts)
		e.gpsMismatch(curr, lastGPS, &alerts)
		e.towerHop(curr, prev, &alerts)
		e.maliciousDomain(curr, &alerts)
	}
	if len(alerts) > 0 && e.logger != nil {
		e.logger.Warn("forensic rules raised alerts", "count", len(alerts))
	}
	return alerts
}

// R1: two adjacent non-GPS events far apart with no GPS fix between them.
func (e *Engine) blindJump(curr, prev *model.Entry, gpsTimes []time.Time, alerts *[]model.Alert) {
	if curr.Event.EventType() == model.EventGPS || prev.Event.EventType() == model.EventGPS {
		return
	}
	lat1, lon1, ok1 := prev.Event.Coordinates()
	lat2, lon2, ok2 := curr.Event.Coordinates()
	if !ok1 || !ok2 {
		return
	}
	dist := geo.Haversine(lat1, lon1, lat2, lon2)
	if dist <= e.gpsThresholdKm {
		return
	}
	if gpsBetween(gpsTimes, prev.Event.When(), curr.Event.When()) {
		return
	}
	curr.Anomaly = true
	if curr.AddNote(NoteBlindJump) {
		*alerts = append(*alerts, model.Alert{Timestamp: curr.Event.When(), Message: NoteBlindJump})
	}
}

// R2: a non-GPS event conflicting with a recent GPS ground-truth fix.
func (e *Engine) gpsMismatch(curr *model.Entry, lastGPS model.Event, alerts *[]model.Alert) {
	if curr.Event.EventType() == model.EventGPS || lastGPS == nil {
		return
	}
	gap := curr.Event.When().Sub(lastGPS.When()).Seconds()
	if gap < 0 {
		gap = -gap
	}
	if gap > e.maxGapSecs {
		return
	}
	lat, lon, ok := curr.Event.Coordinates()
	if !ok {
		return
	}
	gLat, gLon, _ := lastGPS.Coordinates()
	if geo.Haversine(lat, lon, gLat, gLon) <= e.gpsThresholdKm {
		return
	}
	curr.Anomaly = true
	if curr.AddNote(NoteGPSConflict) {
		*alerts = append(*alerts, model.Alert{Timestamp: curr.Event.When(), Message: NoteGPSConflict})
	}
}

// R3: consecutive IPDR sessions implying implausible tower movement.
func (e *Engine) towerHop(curr, prev *model.Entry, alerts *[]model.Alert) {
	if curr.Event.EventType() != model.EventIPDR || prev.Event.EventType() != model.EventIPDR {
		return
	}
	if curr.Event.When().Sub(prev.Event.When()).Seconds() >= towerHopWindowSecs {
		return
	}
	lat1, lon1, ok1 := prev.Event.Coordinates()
	lat2, lon2, ok2 := curr.Event.Coordinates()
	if !ok1 || !ok2 {
		return
	}
	if geo.Haversine(lat1, lon1, lat2, lon2) <= towerHopDistanceKm {
		return
	}
	curr.Anomaly = true
	if curr.AddNote(NoteTowerHop) {
		*alerts = append(*alerts, model.Alert{Timestamp: curr.Event.When(), Message: NoteTowerHop})
	}
}

// R4: hidden-service suffixes and configured malicious domains.
func (e *Engine) maliciousDomain(curr *model.Entry, alerts *[]model.Alert) {
	ipdr, ok := curr.Event.(model.IpdrEvent)
	if !ok {
		return
	}
	domain := strings.ToLower(strings.TrimSpace(ipdr.Domain))
	if domain == "" {
		return
	}
	if strings.Contains(domain, ".onion") {
		curr.Anomaly = true
		if curr.AddNote(NoteTor) {
			*alerts = append(*alerts, model.Alert{Timestamp: curr.Event.When(), Message: alertTor})
		}
		return
	}
	if _, bad := e.malicious[domain]; bad {
		curr.Anomaly = true
		if curr.AddNote(NoteMalware) {
			*alerts = append(*alerts, model.Alert{
				Timestamp: curr.Event.When(),
				Message:   fmt.Sprintf("Malware Domain Detected: %s", domain),
			})
		}
	}
}

// Correlate attaches cross-type context within the time window: session
// volume near a GPS fix, coordinates near a call. The forward scan stops
// at the first event beyond the window since the timeline is sorted.
func (e *Engine) Correlate(entries []*model.Entry) {
	for i, entry := range entries {
		for j := i + 1; j < len(entries); j++ {
			other := entries[j]
			if other.Event.When().Sub(entry.Event.When()) > e.correlationWindow {
				break
			}
			switch {
			case entry.Event.EventType() == model.EventGPS && other.Event.EventType() == model.EventIPDR:
				ipdr := other.Event.(model.IpdrEvent)
				entry.Correlated = append(entry.Correlated, model.Context{
					Type:     model.EventIPDR,
					Upload:   model.Float(ipdr.Upload),
					Download: model.Float(ipdr.Download),
					App:      ipdr.App,
				})
			case entry.Event.EventType() == model.EventCDR && other.Event.EventType() == model.EventGPS:
				gps := other.Event.(model.GpsEvent)
				entry.Correlated = append(entry.Correlated, model.Context{
					Type: model.EventGPS,
					Lat:  gps.Lat,
					Lon:  gps.Lon,
				})
			}
		}
	}
}

func gpsTimestamps(entries []*model.Entry) []time.Time {
	var out []time.Time
	for _, entry := range entries {
		if entry.Event.EventType() == model.EventGPS {
			out = append(out, entry.Event.When())
		}
	}
	return out
}

// gpsBetween reports whether any GPS fix lies strictly between from and to.
func gpsBetween(gpsTimes []time.Time, from, to time.Time) bool {
	idx := sort.Search(len(gpsTimes), func(i int) bool {
		return gpsTimes[i].After(from)
	})
	return idx < len(gpsTimes) && gpsTimes[idx].Before(to)
}
