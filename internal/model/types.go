package model

import (
	"encoding/json"
	"strings"
	"time"
)

type EventType string

const (
	EventGPS  EventType = "gps"
	EventIPDR EventType = "ipdr"
	EventCDR  EventType = "cdr"
)

// Event is the canonical record shared by all three forensic streams.
// Coordinates may be absent; implementations report ok=false in that case.
type Event interface {
	EventType() EventType
	When() time.Time
	Coordinates() (lat, lon float64, ok bool)
}

type GpsEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Lat       *float64  `json:"lat"`
	Lon       *float64  `json:"lon"`
	Source    string    `json:"source,omitempty"`
}

func (e GpsEvent) EventType() EventType { return EventGPS }
func (e GpsEvent) When() time.Time      { return e.Timestamp }
func (e GpsEvent) Coordinates() (float64, float64, bool) {
	return coords(e.Lat, e.Lon)
}

type IpdrEvent struct {
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Upload    float64   `json:"upload,omitempty"`
	Download  float64   `json:"download,omitempty"`
	App       string    `json:"app,omitempty"`
	Lat       *float64  `json:"lat"`
	Lon       *float64  `json:"lon"`
}

func (e IpdrEvent) EventType() EventType { return EventIPDR }
func (e IpdrEvent) When() time.Time      { return e.Timestamp }
func (e IpdrEvent) Coordinates() (float64, float64, bool) {
	return coords(e.Lat, e.Lon)
}

type CdrEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Contact     string    `json:"contact,omitempty"`
	CallType    string    `json:"call_type,omitempty"`
	DurationSec float64   `json:"duration,omitempty"`
	CellID      string    `json:"cell_id,omitempty"`
	Lat         *float64  `json:"lat"`
	Lon         *float64  `json:"lon"`
}

func (e CdrEvent) EventType() EventType { return EventCDR }
func (e CdrEvent) When() time.Time      { return e.Timestamp }
func (e CdrEvent) Coordinates() (float64, float64, bool) {
	return coords(e.Lat, e.Lon)
}

func coords(lat, lon *float64) (float64, float64, bool) {
	if lat == nil || lon == nil {
		return 0, 0, false
	}
	return *lat, *lon, true
}

// Context is cross-type correlation data attached to an entry: session
// volume near a GPS fix, or coordinates near a call record.
type Context struct {
	Type     EventType `json:"type"`
	Upload   *float64  `json:"upload,omitempty"`
	Download *float64  `json:"download,omitempty"`
	App      string    `json:"app,omitempty"`
	Lat      *float64  `json:"lat,omitempty"`
	Lon      *float64  `json:"lon,omitempty"`
}

// Entry is one row of the merged timeline. The Event itself is immutable
// once built; the annotation fields are filled in by the scorer, the rule
// engine and the report pass.
type Entry struct {
	Event            Event
	Score            float64
	Anomaly          bool
	Notes            []string
	CorrelationScore int
	DurationSec      float64
	SpeedKmph        float64
	Correlated       []Context
}

// HasNote reports whether any appended note contains the given fragment,
// case-insensitive.
func (e *Entry) HasNote(fragment string) bool {
	needle := strings.ToLower(fragment)
	for _, n := range e.Notes {
		if strings.Contains(strings.ToLower(n), needle) {
			return true
		}
	}
	return false
}

// AddNote appends a note unless one containing the same text already
// exists. Rule firing dedupes through this.
func (e *Entry) AddNote(note string) bool {
	if e.HasNote(note) {
		return false
	}
	e.Notes = append(e.Notes, note)
	return true
}

func (e *Entry) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["type"] = e.Event.EventType()
	m["score"] = e.Score
	anomaly := 0
	if e.Anomaly {
		anomaly = 1
	}
	m["anomaly"] = anomaly
	m["notes"] = strings.Join(e.Notes, " | ")
	m["correlation_score"] = e.CorrelationScore
	m["duration_sec"] = e.DurationSec
	m["speed_kmph"] = e.SpeedKmph
	if len(e.Correlated) > 0 {
		m["correlated"] = e.Correlated
	}
	return json.Marshal(m)
}

// Alert is one investigator-facing finding, ordered by emission.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

type Summary struct {
	TotalEvents     int `json:"total_events"`
	Anomalies       int `json:"anomalies"`
	GPSJumps        int `json:"gps_jumps"`
	SimSwapEvents   int `json:"sim_swap_events"`
	SpoofingEvents  int `json:"spoofing_events"`
	HighCorrelation int `json:"high_correlation_events"`
}

type Report struct {
	RunID       string     `json:"run_id"`
	Mode        string     `json:"mode"`
	Model       string     `json:"model"`
	GeneratedAt time.Time  `json:"generated_at"`
	Parameters  Parameters `json:"parameters"`
	Timeline    []*Entry   `json:"timeline"`
	Alerts      []Alert    `json:"alerts"`
	Summary     Summary    `json:"summary"`
}

// Parameters records the detection knobs a run was produced with.
type Parameters struct {
	Profile            string  `json:"profile,omitempty"`
	GPSThresholdKm     float64 `json:"gps_threshold_km"`
	MaxGapSecs         float64 `json:"max_gap_secs"`
	SpeedThresholdKmph float64 `json:"speed_threshold_kmph"`
	Contamination      float64 `json:"contamination,omitempty"`
	EncodingDim        int     `json:"encoding_dim,omitempty"`
	Epochs             int     `json:"epochs,omitempty"`
	ThresholdQuantile  float64 `json:"threshold_quantile,omitempty"`
}

// Float returns a pointer copy, for optional numeric fields.
func Float(v float64) *float64 { return &v }
