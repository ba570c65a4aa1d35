package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"tracefuse/internal/geo"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Normalize NormalizeConfig `json:"normalize" yaml:"normalize"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Domains   DomainsConfig   `json:"domains" yaml:"domains"`
	Scorer    ScorerConfig    `json:"scorer" yaml:"scorer"`
	Geo       GeoConfig       `json:"geo" yaml:"geo"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Publish   PublishConfig   `json:"publish" yaml:"publish"`
	API       APIConfig       `json:"api" yaml:"api"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

const (
	StrictnessWarn = "warn"
	StrictnessFail = "fail"
)

type NormalizeConfig struct {
	// Strictness decides whether a stream missing required columns is a
	// warning (null-filled, run continues) or a hard error.
	Strictness string `json:"strictness" yaml:"strictness"`
}

type DetectionConfig struct {
	Profile               string  `json:"profile" yaml:"profile"`
	GPSThresholdKm        float64 `json:"gps_threshold_km" yaml:"gps_threshold_km"`
	MaxGapSecs            float64 `json:"max_gap_secs" yaml:"max_gap_secs"`
	SpeedThresholdKmph    float64 `json:"speed_threshold_kmph" yaml:"speed_threshold_kmph"`
	CorrelationWindowSecs float64 `json:"correlation_window_secs" yaml:"correlation_window_secs"`
}

type DomainsConfig struct {
	Malicious  []string `json:"malicious" yaml:"malicious"`
	Suspicious []string `json:"suspicious" yaml:"suspicious"`
}

const (
	BackendIsolationForest = "isolation_forest"
	BackendAutoencoder     = "autoencoder"
)

type ScorerConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Seed    int64  `json:"seed" yaml:"seed"`
	// Contamination 0 means the pipeline mode default (0.10 full,
	// 0.05 gps-only).
	Contamination     float64 `json:"contamination" yaml:"contamination"`
	Trees             int     `json:"trees" yaml:"trees"`
	SampleSize        int     `json:"sample_size" yaml:"sample_size"`
	EncodingDim       int     `json:"encoding_dim" yaml:"encoding_dim"`
	Epochs            int     `json:"epochs" yaml:"epochs"`
	BatchSize         int     `json:"batch_size" yaml:"batch_size"`
	ValidationSplit   float64 `json:"validation_split" yaml:"validation_split"`
	ThresholdQuantile float64 `json:"threshold_quantile" yaml:"threshold_quantile"`
	LearningRate      float64 `json:"learning_rate" yaml:"learning_rate"`
}

type GeoConfig struct {
	IPs   map[string]geo.Point `json:"ips" yaml:"ips"`
	Cells map[string]geo.Point `json:"cells" yaml:"cells"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type PublishConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

// profileParams maps a detection profile to
// (gps_threshold_km, max_gap_secs, speed_threshold_kmph).
var profileParams = map[string][3]float64{
	"conservative": {200, 1800, 800},
	"balanced":     {100, 900, 500},
	"aggressive":   {50, 600, 300},
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		Normalize: NormalizeConfig{Strictness: StrictnessWarn},
		Detection: DetectionConfig{
			Profile:               "balanced",
			GPSThresholdKm:        100,
			MaxGapSecs:            900,
			SpeedThresholdKmph:    500,
			CorrelationWindowSecs: 120,
		},
		Domains: DomainsConfig{
			Malicious: []string{
				"malicious.com",
				"cnc.badsite.net",
				"spyapp.io",
				"stealer.org",
				"malware.fake",
			},
			Suspicious: []string{"telegram", "onion", "vpn", "tor"},
		},
		Scorer: ScorerConfig{
			Backend:           BackendIsolationForest,
			Seed:              42,
			Trees:             100,
			SampleSize:        256,
			EncodingDim:       8,
			Epochs:            50,
			BatchSize:         32,
			ValidationSplit:   0.1,
			ThresholdQuantile: 0.95,
			LearningRate:      0.01,
		},
		Geo: GeoConfig{
			IPs: map[string]geo.Point{
				"185.220.101.1": {Lat: 48.8566, Lon: 2.3522},
				"142.250.64.78": {Lat: 37.7749, Lon: -122.4194},
				"104.21.23.18":  {Lat: 40.7128, Lon: -74.0060},
				"198.51.100.1":  {Lat: 33.6844, Lon: 73.0479},
			},
			Cells: map[string]geo.Point{
				"DL001": {Lat: 28.6139, Lon: 77.2090},
				"MH007": {Lat: 19.0760, Lon: 72.8777},
			},
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:tracefuse.db?_pragma=busy_timeout(5000)"},
		Publish: PublishConfig{Enabled: false},
		API:     APIConfig{Enabled: false, Addr: ":8081"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func ApplyDefaults(cfg *Config) {
	if cfg.Normalize.Strictness == "" {
		cfg.Normalize.Strictness = StrictnessWarn
	}
	if cfg.Detection.Profile == "" {
		cfg.Detection.Profile = "balanced"
	}
	if params, ok := profileParams[strings.ToLower(cfg.Detection.Profile)]; ok {
		if cfg.Detection.GPSThresholdKm <= 0 {
			cfg.Detection.GPSThresholdKm = params[0]
		}
		if cfg.Detection.MaxGapSecs <= 0 {
			cfg.Detection.MaxGapSecs = params[1]
		}
		if cfg.Detection.SpeedThresholdKmph <= 0 {
			cfg.Detection.SpeedThresholdKmph = params[2]
		}
	}
	if cfg.Detection.CorrelationWindowSecs <= 0 {
		cfg.Detection.CorrelationWindowSecs = 120
	}
	if cfg.Scorer.Backend == "" {
		cfg.Scorer.Backend = BackendIsolationForest
	}
	if cfg.Scorer.Trees <= 0 {
		cfg.Scorer.Trees = 100
	}
	if cfg.Scorer.SampleSize <= 0 {
		cfg.Scorer.SampleSize = 256
	}
	if cfg.Scorer.EncodingDim <= 0 {
		cfg.Scorer.EncodingDim = 8
	}
	if cfg.Scorer.Epochs <= 0 {
		cfg.Scorer.Epochs = 50
	}
	if cfg.Scorer.BatchSize <= 0 {
		cfg.Scorer.BatchSize = 32
	}
	if cfg.Scorer.ValidationSplit <= 0 {
		cfg.Scorer.ValidationSplit = 0.1
	}
	if cfg.Scorer.ThresholdQuantile <= 0 {
		cfg.Scorer.ThresholdQuantile = 0.95
	}
	if cfg.Scorer.LearningRate <= 0 {
		cfg.Scorer.LearningRate = 0.01
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	switch cfg.Normalize.Strictness {
	case StrictnessWarn, StrictnessFail:
	default:
		return fmt.Errorf("normalize.strictness must be %q or %q", StrictnessWarn, StrictnessFail)
	}
	if _, ok := profileParams[strings.ToLower(cfg.Detection.Profile)]; !ok {
		return fmt.Errorf("detection.profile unknown: %q", cfg.Detection.Profile)
	}
	if cfg.Detection.GPSThresholdKm <= 0 {
		return errors.New("detection.gps_threshold_km must be > 0")
	}
	if cfg.Detection.MaxGapSecs <= 0 {
		return errors.New("detection.max_gap_secs must be > 0")
	}
	switch cfg.Scorer.Backend {
	case BackendIsolationForest, BackendAutoencoder:
	default:
		return fmt.Errorf("scorer.backend unknown: %q", cfg.Scorer.Backend)
	}
	if cfg.Scorer.Contamination < 0 || cfg.Scorer.Contamination >= 0.5 {
		return errors.New("scorer.contamination must be in [0, 0.5)")
	}
	if cfg.Scorer.ThresholdQuantile <= 0 || cfg.Scorer.ThresholdQuantile >= 1 {
		return errors.New("scorer.threshold_quantile must be in (0, 1)")
	}
	if cfg.Scorer.ValidationSplit < 0 || cfg.Scorer.ValidationSplit >= 1 {
		return errors.New("scorer.validation_split must be in [0, 1)")
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver unsupported: %q", cfg.Storage.Driver)
		}
	}
	if cfg.Publish.Enabled {
		if len(cfg.Publish.Brokers) == 0 || cfg.Publish.Topic == "" {
			return errors.New("publish requires brokers and topic when enabled")
		}
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config, for runs without a file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
