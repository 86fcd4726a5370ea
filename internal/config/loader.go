package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}
	if cfg.Server.AuthToken == "" {
		slog.Warn("server.auth_token is empty; streaming endpoints accept unauthenticated clients")
	}

	if cfg.Storage.AudioDir == "" {
		errs = append(errs, errors.New("storage.audio_dir is required"))
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; transcript records are kept in memory and lost on restart")
	}

	if cfg.Stream.WindowSeconds < 0 {
		errs = append(errs, fmt.Errorf("stream.window_seconds %d must not be negative", cfg.Stream.WindowSeconds))
	}
	if cfg.Stream.SilenceThreshold < 0 || cfg.Stream.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("stream.silence_threshold %.3f is out of range [0, 1)", cfg.Stream.SilenceThreshold))
	}
	if cfg.Stream.MergeToleranceMillis < 0 {
		errs = append(errs, fmt.Errorf("stream.merge_tolerance_millis %d must not be negative", cfg.Stream.MergeToleranceMillis))
	}

	if cfg.Engine.Variant != "" && !cfg.Engine.Variant.IsValid() {
		errs = append(errs, fmt.Errorf("engine.variant %q is invalid; valid values: auto, whisper-local, openai", cfg.Engine.Variant))
	}
	if cfg.Engine.Variant == VariantWhisperLocal && cfg.Engine.ModelPath == "" {
		errs = append(errs, errors.New("engine.model_path is required when engine.variant is whisper-local"))
	}
	if cfg.Engine.Variant == VariantAuto && cfg.Engine.ModelPath == "" {
		slog.Warn("engine.model_path is empty; speaker detection is unavailable and transcripts use a single synthetic speaker")
	}

	if cfg.Refine.Workers < 0 {
		errs = append(errs, fmt.Errorf("refine.workers %d must not be negative", cfg.Refine.Workers))
	}
	if cfg.Refine.MinSimilarity < 0 || cfg.Refine.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("refine.min_similarity %.2f is out of range [0, 1]", cfg.Refine.MinSimilarity))
	}
	if cfg.Refine.ClusterThreshold < 0 || cfg.Refine.ClusterThreshold > 1 {
		errs = append(errs, fmt.Errorf("refine.cluster_threshold %.2f is out of range [0, 1]", cfg.Refine.ClusterThreshold))
	}

	return errors.Join(errs...)
}
