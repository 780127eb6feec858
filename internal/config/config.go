// Package config provides the configuration schema and strict YAML loader
// for the Timbre speaker identification server.
package config

import "time"

// LogLevel controls log verbosity for the Timbre server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Timbre.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Identify  IdentifyConfig  `yaml:"identify"`
	Learning  LearningConfig  `yaml:"learning"`
	Decay     DecayConfig     `yaml:"decay"`
	Extractor ExtractorConfig `yaml:"extractor"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// StoreConfig selects and sizes the embedding store.
type StoreConfig struct {
	// PostgresDSN is the connection string for the PostgreSQL store.
	// Empty selects the in-memory store, which loses all state on restart
	// and is intended for development and tests only.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the fixed length of every voice embedding.
	// Must match the extractor model's output dimension.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// IdentifyConfig tunes the matching and decision stage.
type IdentifyConfig struct {
	// Thresholds are the decision tier lower bounds.
	Thresholds ThresholdsConfig `yaml:"thresholds"`

	// ScanLimit caps how many embeddings one query scans. 0 scans the full
	// store; with the PostgreSQL store a positive limit enables index-backed
	// candidate pre-ranking.
	ScanLimit int `yaml:"scan_limit"`

	// AmbiguityMargin is the score distance within which a close second
	// speaker is surfaced as a runner-up.
	AmbiguityMargin float64 `yaml:"ambiguity_margin"`
}

// ThresholdsConfig holds the tier boundaries.
type ThresholdsConfig struct {
	Auto      float64 `yaml:"auto"`
	Suggested float64 `yaml:"suggested"`
	Uncertain float64 `yaml:"uncertain"`
}

// LearningConfig tunes the confidence-learning loop.
type LearningConfig struct {
	// MaxSamplesPerSpeaker caps embeddings accumulated from confirmed
	// matches. 0 disables retention of confirmed query vectors.
	MaxSamplesPerSpeaker int `yaml:"max_samples_per_speaker"`

	// FuzzyNameResolution enables phonetic matching of corrected speaker
	// names against the registry. When false, only exact (case-insensitive)
	// names resolve.
	FuzzyNameResolution bool `yaml:"fuzzy_name_resolution"`
}

// DecayConfig tunes the periodic time-decay sweep.
type DecayConfig struct {
	// Interval is the period between sweeps.
	Interval time.Duration `yaml:"interval"`

	// PruneAfter enables deletion of floor-confidence embeddings whose last
	// reference is older than this. 0 disables pruning.
	PruneAfter time.Duration `yaml:"prune_after"`
}

// ExtractorConfig points at the embedding extraction sidecar.
type ExtractorConfig struct {
	// BaseURL is the sidecar's address. Empty disables audio
	// identification; vector-based requests still work.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each extraction request.
	Timeout time.Duration `yaml:"timeout"`
}

// MCPConfig controls the embedded MCP tool server.
type MCPConfig struct {
	// Enabled mounts the MCP endpoint on the HTTP server.
	Enabled bool `yaml:"enabled"`
}

// Default returns the reference configuration: in-memory store, default
// thresholds, daily decay sweeps, no extractor.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Store: StoreConfig{
			EmbeddingDimensions: 512,
		},
		Identify: IdentifyConfig{
			Thresholds:      ThresholdsConfig{Auto: 0.85, Suggested: 0.70, Uncertain: 0.60},
			AmbiguityMargin: 0.02,
		},
		Learning: LearningConfig{
			MaxSamplesPerSpeaker: 10,
			FuzzyNameResolution:  true,
		},
		Decay: DecayConfig{
			Interval: 24 * time.Hour,
		},
		Extractor: ExtractorConfig{
			Timeout: 10 * time.Second,
		},
	}
}
