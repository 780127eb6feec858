package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/auricle-labs/timbre/internal/config"
)

const fullConfig = `
server:
  listen_addr: ":9090"
  log_level: debug
  tls:
    cert_file: /etc/timbre/cert.pem
    key_file: /etc/timbre/key.pem
store:
  postgres_dsn: postgres://timbre@localhost/timbre
  embedding_dimensions: 256
identify:
  thresholds:
    auto: 0.9
    suggested: 0.75
    uncertain: 0.65
  scan_limit: 500
  ambiguity_margin: 0.03
learning:
  max_samples_per_speaker: 5
  fuzzy_name_resolution: false
decay:
  interval: 12h
  prune_after: 2160h
extractor:
  base_url: http://localhost:9100
  timeout: 5s
mcp:
  enabled: true
`

func TestLoadFromReaderFull(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(fullConfig))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.TLS == nil || cfg.Server.TLS.CertFile == "" {
		t.Errorf("TLS not parsed: %+v", cfg.Server.TLS)
	}
	if cfg.Store.EmbeddingDimensions != 256 {
		t.Errorf("dimensions = %d", cfg.Store.EmbeddingDimensions)
	}
	if cfg.Identify.Thresholds.Auto != 0.9 || cfg.Identify.ScanLimit != 500 {
		t.Errorf("identify = %+v", cfg.Identify)
	}
	if cfg.Learning.MaxSamplesPerSpeaker != 5 || cfg.Learning.FuzzyNameResolution {
		t.Errorf("learning = %+v", cfg.Learning)
	}
	if cfg.Decay.Interval != 12*time.Hour {
		t.Errorf("decay interval = %v", cfg.Decay.Interval)
	}
	if cfg.Extractor.BaseURL != "http://localhost:9100" || cfg.Extractor.Timeout != 5*time.Second {
		t.Errorf("extractor = %+v", cfg.Extractor)
	}
	if !cfg.MCP.Enabled {
		t.Error("mcp.enabled not parsed")
	}
}

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader empty: %v", err)
	}
	want := config.Default()
	if cfg.Server.ListenAddr != want.Server.ListenAddr {
		t.Errorf("listen_addr = %q, want default %q", cfg.Server.ListenAddr, want.Server.ListenAddr)
	}
	if cfg.Store.EmbeddingDimensions != 512 {
		t.Errorf("dimensions = %d, want 512", cfg.Store.EmbeddingDimensions)
	}
	if cfg.Identify.Thresholds != want.Identify.Thresholds {
		t.Errorf("thresholds = %+v", cfg.Identify.Thresholds)
	}
	if cfg.Decay.Interval != 24*time.Hour {
		t.Errorf("decay interval = %v, want 24h", cfg.Decay.Interval)
	}
}

// Partial configs keep defaults for everything not mentioned.
func TestLoadFromReaderPartial(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("store:\n  embedding_dimensions: 192\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Store.EmbeddingDimensions != 192 {
		t.Errorf("dimensions = %d, want 192", cfg.Store.EmbeddingDimensions)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr default lost: %q", cfg.Server.ListenAddr)
	}
}

func TestLoadFromReaderUnknownKey(t *testing.T) {
	if _, err := config.LoadFromReader(strings.NewReader("serverr:\n  listen_addr: ':1'\n")); err == nil {
		t.Error("unknown top-level key accepted")
	}
	if _, err := config.LoadFromReader(strings.NewReader("server:\n  listen_address: ':1'\n")); err == nil {
		t.Error("unknown nested key accepted")
	}
}

func TestLoadFromReaderDurationForms(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("decay:\n  interval: 7200000000000\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Decay.Interval != 2*time.Hour {
		t.Errorf("interval = %v, want 2h from nanosecond count", cfg.Decay.Interval)
	}

	if _, err := config.LoadFromReader(strings.NewReader("decay:\n  interval: soon\n")); err == nil {
		t.Error("invalid duration string accepted")
	}
	if _, err := config.LoadFromReader(strings.NewReader("decay:\n  cadence: 1h\n")); err == nil {
		t.Error("unknown decay key accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty listen addr", func(c *config.Config) { c.Server.ListenAddr = "" }},
		{"bad log level", func(c *config.Config) { c.Server.LogLevel = "verbose" }},
		{"tls cert without key", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "cert.pem"} }},
		{"zero dimensions", func(c *config.Config) { c.Store.EmbeddingDimensions = 0 }},
		{"unordered thresholds", func(c *config.Config) { c.Identify.Thresholds.Suggested = 0.9 }},
		{"threshold above one", func(c *config.Config) {
			c.Identify.Thresholds = config.ThresholdsConfig{Auto: 1.2, Suggested: 0.7, Uncertain: 0.6}
		}},
		{"negative scan limit", func(c *config.Config) { c.Identify.ScanLimit = -1 }},
		{"negative margin", func(c *config.Config) { c.Identify.AmbiguityMargin = -0.1 }},
		{"negative sample cap", func(c *config.Config) { c.Learning.MaxSamplesPerSpeaker = -1 }},
		{"sub-minute decay interval", func(c *config.Config) { c.Decay.Interval = 30 * time.Second }},
		{"negative prune age", func(c *config.Config) { c.Decay.PruneAfter = -time.Hour }},
		{"extractor without timeout", func(c *config.Config) {
			c.Extractor.BaseURL = "http://localhost:9100"
			c.Extractor.Timeout = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			if err := config.Validate(cfg); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}

	if err := config.Validate(config.Default()); err != nil {
		t.Errorf("defaults rejected: %v", err)
	}
}

// All failures are reported at once, not just the first.
func TestValidateJoinsErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ListenAddr = ""
	cfg.Store.EmbeddingDimensions = -1
	cfg.Decay.Interval = 0

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	msg := err.Error()
	for _, want := range []string{"listen_addr", "embedding_dimensions", "decay.interval"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}
