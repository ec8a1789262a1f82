package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their documented defaults and
// clamps the speaker cap into [MinSpeakerCap, MaxSpeakerCap]. Out-of-range
// caps are clamped with a warning rather than rejected, so a hand-edited
// config cannot stall a session start.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	c := &cfg.Clustering
	if c.NumSpeakers == 0 {
		c.NumSpeakers = 4
	}
	if c.NumSpeakers < MinSpeakerCap {
		slog.Warn("clustering.num_speakers below minimum; clamping",
			"configured", c.NumSpeakers, "min", MinSpeakerCap)
		c.NumSpeakers = MinSpeakerCap
	}
	if c.NumSpeakers > MaxSpeakerCap {
		slog.Warn("clustering.num_speakers above maximum; clamping",
			"configured", c.NumSpeakers, "max", MaxSpeakerCap)
		c.NumSpeakers = MaxSpeakerCap
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.MinimumSimilarityThreshold == 0 {
		c.MinimumSimilarityThreshold = DefaultMinimumSimilarityThreshold
	}
	if c.ConfidenceMargin == 0 {
		c.ConfidenceMargin = DefaultConfidenceMargin
	}

	u := &cfg.Unknown
	if u.MaxUnknownSpeakers == 0 {
		u.MaxUnknownSpeakers = DefaultMaxUnknownSpeakers
	}
	if u.MinSegmentsForCluster == 0 {
		u.MinSegmentsForCluster = DefaultMinSegmentsForCluster
	}
	if u.SimilarityThreshold == 0 {
		u.SimilarityThreshold = c.SimilarityThreshold
	}

	if len(cfg.Channels) == 0 {
		cfg.Channels = []string{"default"}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	c := cfg.Clustering
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("clustering.similarity_threshold %.2f is out of range (0, 1]", c.SimilarityThreshold))
	}
	if c.MinimumSimilarityThreshold <= 0 || c.MinimumSimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("clustering.minimum_similarity_threshold %.2f is out of range (0, 1]", c.MinimumSimilarityThreshold))
	}
	if c.MinimumSimilarityThreshold > c.SimilarityThreshold {
		errs = append(errs, fmt.Errorf("clustering.minimum_similarity_threshold %.2f exceeds clustering.similarity_threshold %.2f", c.MinimumSimilarityThreshold, c.SimilarityThreshold))
	}
	if c.ConfidenceMargin < 0 || c.ConfidenceMargin >= 1 {
		errs = append(errs, fmt.Errorf("clustering.confidence_margin %.2f is out of range [0, 1)", c.ConfidenceMargin))
	}

	u := cfg.Unknown
	if u.MaxUnknownSpeakers < 1 {
		errs = append(errs, fmt.Errorf("unknown.max_unknown_speakers %d must be at least 1", u.MaxUnknownSpeakers))
	}
	if u.MinSegmentsForCluster < 1 {
		errs = append(errs, fmt.Errorf("unknown.min_segments_for_cluster %d must be at least 1", u.MinSegmentsForCluster))
	}
	if u.SimilarityThreshold <= 0 || u.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("unknown.similarity_threshold %.2f is out of range (0, 1]", u.SimilarityThreshold))
	}

	if cfg.Registry.PostgresDSN != "" && cfg.Registry.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("registry.postgres_dsn is set but registry.embedding_dimensions is not"))
	}

	seen := make(map[string]int, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if ch == "" {
			errs = append(errs, fmt.Errorf("channels[%d] is empty", i))
			continue
		}
		if prev, ok := seen[ch]; ok {
			errs = append(errs, fmt.Errorf("channels[%d] %q is a duplicate of channels[%d]", i, ch, prev))
		}
		seen[ch] = i
	}

	return errors.Join(errs...)
}
