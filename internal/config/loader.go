package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// minDecayInterval guards against sweep loops that hammer the store.
const minDecayInterval = time.Minute

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. Unknown keys are rejected so typos fail fast.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty file means "all defaults".
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UnmarshalYAML decodes the decay block by hand: yaml.v3 has no native
// support for duration strings like "24h", and absent keys must keep their
// defaulted values.
func (d *DecayConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("decay: expected a mapping, got %s", node.Tag)
	}
	for i := 0; i < len(node.Content)-1; i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "interval":
			dur, err := parseDuration(val)
			if err != nil {
				return fmt.Errorf("decay.interval: %w", err)
			}
			d.Interval = dur
		case "prune_after":
			dur, err := parseDuration(val)
			if err != nil {
				return fmt.Errorf("decay.prune_after: %w", err)
			}
			d.PruneAfter = dur
		default:
			return fmt.Errorf("decay: unknown key %q", key)
		}
	}
	return nil
}

// UnmarshalYAML decodes the extractor block, handling the duration field.
func (e *ExtractorConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("extractor: expected a mapping, got %s", node.Tag)
	}
	for i := 0; i < len(node.Content)-1; i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "base_url":
			if err := val.Decode(&e.BaseURL); err != nil {
				return fmt.Errorf("extractor.base_url: %w", err)
			}
		case "timeout":
			dur, err := parseDuration(val)
			if err != nil {
				return fmt.Errorf("extractor.timeout: %w", err)
			}
			e.Timeout = dur
		default:
			return fmt.Errorf("extractor: unknown key %q", key)
		}
	}
	return nil
}

// parseDuration accepts Go duration syntax ("90s", "24h") and bare integer
// nanosecond counts.
func parseDuration(node *yaml.Node) (time.Duration, error) {
	if node.Kind != yaml.ScalarNode {
		return 0, fmt.Errorf("expected a duration scalar, got %s", node.Tag)
	}
	if d, err := time.ParseDuration(node.Value); err == nil {
		return d, nil
	}
	if n, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		return time.Duration(n), nil
	}
	return 0, fmt.Errorf("invalid duration %q (use Go syntax like \"24h\")", node.Value)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if (tls.CertFile == "") != (tls.KeyFile == "") {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Store.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions must be positive, got %d", cfg.Store.EmbeddingDimensions))
	}

	th := cfg.Identify.Thresholds
	if th.Auto <= th.Suggested || th.Suggested <= th.Uncertain {
		errs = append(errs, fmt.Errorf("identify.thresholds must be strictly ordered auto > suggested > uncertain, got %v > %v > %v",
			th.Auto, th.Suggested, th.Uncertain))
	}
	if th.Uncertain < 0 || th.Auto > 1 {
		errs = append(errs, errors.New("identify.thresholds must lie within [0, 1]"))
	}
	if cfg.Identify.ScanLimit < 0 {
		errs = append(errs, fmt.Errorf("identify.scan_limit must not be negative, got %d", cfg.Identify.ScanLimit))
	}
	if cfg.Identify.AmbiguityMargin < 0 {
		errs = append(errs, fmt.Errorf("identify.ambiguity_margin must not be negative, got %v", cfg.Identify.AmbiguityMargin))
	}

	if cfg.Learning.MaxSamplesPerSpeaker < 0 {
		errs = append(errs, fmt.Errorf("learning.max_samples_per_speaker must not be negative, got %d", cfg.Learning.MaxSamplesPerSpeaker))
	}

	if cfg.Decay.Interval < minDecayInterval {
		errs = append(errs, fmt.Errorf("decay.interval must be at least %v, got %v", minDecayInterval, cfg.Decay.Interval))
	}
	if cfg.Decay.PruneAfter < 0 {
		errs = append(errs, fmt.Errorf("decay.prune_after must not be negative, got %v", cfg.Decay.PruneAfter))
	}

	if cfg.Extractor.BaseURL != "" && cfg.Extractor.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("extractor.timeout must be positive, got %v", cfg.Extractor.Timeout))
	}

	return errors.Join(errs...)
}
