package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"tracefuse/internal/config"
	"tracefuse/internal/geo"
	"tracefuse/internal/model"
)

// RawRecord is one source row as a field map. It never survives past
// normalization.
type RawRecord map[string]string

// fieldSpec maps source column-name variants onto one canonical column.
// The variant order is the fixed rename priority: the first variant
// present in a record wins.
type fieldSpec struct {
	canonical string
	variants  []string
}

var gpsFields = []fieldSpec{
	{"timestamp", []string{"timestamp", "datetime", "time"}},
	{"lat", []string{"lat", "latitude"}},
	{"lon", []string{"lon", "longitude"}},
}

var ipdrFields = []fieldSpec{
	{"timestamp", []string{"timestamp", "datetime", "time"}},
	{"ip", []string{"ip", "source_ip", "src_ip", "destination_ip"}},
	{"domain", []string{"domain", "domain_name", "hostname", "host"}},
	{"lat", []string{"lat", "latitude"}},
	{"lon", []string{"lon", "longitude"}},
}

var cdrFields = []fieldSpec{
	{"timestamp", []string{"timestamp", "datetime", "time"}},
	{"contact", []string{"contact", "callee", "called_party", "caller"}},
	{"call_type", []string{"call_type"}},
	{"lat", []string{"lat", "latitude"}},
	{"lon", []string{"lon", "longitude"}},
}

var requiredColumns = map[model.EventType][]string{
	model.EventGPS:  {"timestamp", "lat", "lon"},
	model.EventIPDR: {"timestamp", "ip", "domain", "lat", "lon"},
	model.EventCDR:  {"timestamp", "contact", "call_type", "lat", "lon"},
}

func fieldsFor(typ model.EventType) []fieldSpec {
	switch typ {
	case model.EventIPDR:
		return ipdrFields
	case model.EventCDR:
		return cdrFields
	default:
		return gpsFields
	}
}

// Stream is one normalized source stream plus its deficiency report.
type Stream struct {
	Type           model.EventType
	Events         []model.Event
	Dropped        int
	MissingColumns []string
}

type Normalizer struct {
	lookup     geo.Lookup
	strictness string
	logger     *slog.Logger
}

func New(lookup geo.Lookup, strictness string, logger *slog.Logger) *Normalizer {
	if strictness == "" {
		strictness = config.StrictnessWarn
	}
	return &Normalizer{lookup: lookup, strictness: strictness, logger: logger}
}

// Normalize canonicalizes one stream: renames column variants, null-fills
// missing required columns, parses timestamps and drops rows whose
// timestamp cannot be parsed. Unknown columns pass through untouched.
func (n *Normalizer) Normalize(records []RawRecord, typ model.EventType) (Stream, error) {
	out := Stream{Type: typ}
	specs := fieldsFor(typ)

	canonical := make([]map[string]string, 0, len(records))
	seen := make(map[string]bool)
	for _, rec := range records {
		row := canonicalizeRow(rec, specs)
		for k := range row {
			seen[k] = true
		}
		canonical = append(canonical, row)
	}

	for _, col := range requiredColumns[typ] {
		if len(records) > 0 && !seen[col] {
			out.MissingColumns = append(out.MissingColumns, col)
		}
	}
	if len(out.MissingColumns) > 0 {
		if n.strictness == config.StrictnessFail {
			return out, fmt.Errorf("%s stream missing required columns: %s",
				typ, strings.Join(out.MissingColumns, ", "))
		}
		if n.logger != nil {
			n.logger.Warn("stream missing required columns",
				"type", string(typ),
				"columns", out.MissingColumns,
			)
		}
	}

	for _, row := range canonical {
		ts, err := ParseTimestamp(row["timestamp"])
		if err != nil {
			out.Dropped++
			continue
		}
		out.Events = append(out.Events, n.buildEvent(typ, ts, row))
	}
	if out.Dropped > 0 && n.logger != nil {
		n.logger.Warn("dropped records with unparseable timestamps",
			"type", string(typ),
			"dropped", out.Dropped,
		)
	}
	return out, nil
}

func canonicalizeRow(rec RawRecord, specs []fieldSpec) map[string]string {
	lower := make(map[string]string, len(rec))
	for k, v := range rec {
		lower[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	row := make(map[string]string, len(lower))
	claimed := make(map[string]bool)
	for _, spec := range specs {
		for _, variant := range spec.variants {
			if v, ok := lower[variant]; ok {
				if _, done := row[spec.canonical]; !done {
					row[spec.canonical] = v
				}
				claimed[variant] = true
			}
		}
	}
	for k, v := range lower {
		if !claimed[k] {
			if _, taken := row[k]; !taken {
				row[k] = v
			}
		}
	}
	return row
}

func (n *Normalizer) buildEvent(typ model.EventType, ts time.Time, row map[string]string) model.Event {
	lat := parseCoord(row["lat"])
	lon := parseCoord(row["lon"])
	switch typ {
	case model.EventIPDR:
		ev := model.IpdrEvent{
			Timestamp: ts,
			IP:        row["ip"],
			Domain:    row["domain"],
			Upload:    parseFloat(row["upload"]),
			Download:  parseFloat(row["download"]),
			App:       row["app"],
			Lat:       lat,
			Lon:       lon,
		}
		if ev.Lat == nil && ev.IP != "" && n.lookup != nil {
			if la, lo, ok := n.lookup.LocateIP(ev.IP); ok {
				ev.Lat, ev.Lon = model.Float(la), model.Float(lo)
			}
		}
		return ev
	case model.EventCDR:
		ev := model.CdrEvent{
			Timestamp:   ts,
			Contact:     row["contact"],
			CallType:    row["call_type"],
			DurationSec: parseFloat(row["duration"]),
			CellID:      row["cell_id"],
			Lat:         lat,
			Lon:         lon,
		}
		if ev.Lat == nil && ev.CellID != "" && n.lookup != nil {
			if la, lo, ok := n.lookup.LocateCell(ev.CellID); ok {
				ev.Lat, ev.Lon = model.Float(la), model.Float(lo)
			}
		}
		return ev
	default:
		return model.GpsEvent{
			Timestamp: ts,
			Lat:       lat,
			Lon:       lon,
			Source:    row["source"],
		}
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
}

func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func parseCoord(value string) *float64 {
	if value == "" {
		return nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return model.Float(v)
}

func parseFloat(value string) float64 {
	if value == "" {
		return 0
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return v
}
