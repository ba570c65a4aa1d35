package geo

import "math"

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometers between two
// points given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlon1 := lon1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	rlon2 := lon2 * math.Pi / 180

	dlat := rlat2 - rlat1
	dlon := rlon2 - rlon1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Lookup resolves network identifiers to coordinates. Misses return
// ok=false and must never fail the run.
type Lookup interface {
	LocateIP(ip string) (lat, lon float64, ok bool)
	LocateCell(cellID string) (lat, lon float64, ok bool)
}

type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// StaticLookup is a fixed-table Lookup, loadable from config. It doubles
// as the deterministic test implementation.
type StaticLookup struct {
	IPs   map[string]Point
	Cells map[string]Point
}

func NewStaticLookup(ips, cells map[string]Point) *StaticLookup {
	return &StaticLookup{IPs: ips, Cells: cells}
}

func (s *StaticLookup) LocateIP(ip string) (float64, float64, bool) {
	if s == nil {
		return 0, 0, false
	}
	p, ok := s.IPs[ip]
	return p.Lat, p.Lon, ok
}

func (s *StaticLookup) LocateCell(cellID string) (float64, float64, bool) {
	if s == nil {
		return 0, 0, false
	}
	p, ok := s.Cells[cellID]
	return p.Lat, p.Lon, ok
}
