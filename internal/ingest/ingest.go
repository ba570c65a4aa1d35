package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"tracefuse/internal/normalize"
)

// ReadCSVFile loads one source log as raw field-map records. The first
// row is the header; cells are kept verbatim for the normalizer.
func ReadCSVFile(path string) ([]normalize.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}

func ReadCSV(r io.Reader) ([]normalize.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	var out []normalize.RawRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := make(normalize.RawRecord, len(header))
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			rec[header[i]] = cell
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadJSON loads an array of objects; scalar values are stringified the
// same way regardless of their JSON type.
func ReadJSON(r io.Reader) ([]normalize.RawRecord, error) {
	var rows []map[string]any
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, err
	}
	out := make([]normalize.RawRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromMap(row))
	}
	return out, nil
}

// FromMap converts a decoded JSON object into a raw record.
func FromMap(row map[string]any) normalize.RawRecord {
	rec := make(normalize.RawRecord, len(row))
	for k, v := range row {
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			rec[k] = val
		case float64:
			rec[k] = trimFloat(val)
		default:
			rec[k] = fmt.Sprint(val)
		}
	}
	return rec
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
