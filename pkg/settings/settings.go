// Package settings reads the persisted user settings that toggle transports
// and retention limits, and wires them into a pipeline configuration.
// Precedence (highest first): environment variables with the LOGHUB_ prefix,
// the YAML settings file, built-in defaults.
package settings

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/cognia-ai/loghub/pkg/features"
	"github.com/cognia-ai/loghub/pkg/loghub"
)

const envPrefix = "LOGHUB_"

// fileSettings mirrors the YAML settings document.
type fileSettings struct {
	MinLevel          string                  `koanf:"min_level"`
	EnableConsole     *bool                   `koanf:"enable_console"`
	EnableStorage     *bool                   `koanf:"enable_storage"`
	EnableRemote      *bool                   `koanf:"enable_remote"`
	RemoteEndpoint    string                  `koanf:"remote_endpoint"`
	RemoteHeaders     map[string]string       `koanf:"remote_headers"`
	MaxStorageEntries int                     `koanf:"max_storage_entries"`
	RetentionDays     int                     `koanf:"retention_days"`
	IncludeStackTrace *bool                   `koanf:"include_stack_trace"`
	IncludeSource     *bool                   `koanf:"include_source"`
	BufferSize        int                     `koanf:"buffer_size"`
	FlushIntervalMS   int                     `koanf:"flush_interval_ms"`
	SessionFile       string                  `koanf:"session_file"`
	Sampling          map[string]samplingRule `koanf:"sampling"`
	Redaction         redactionSettings       `koanf:"redaction"`
}

type samplingRule struct {
	Rate          float64 `koanf:"rate"`
	MinIntervalMS int     `koanf:"min_interval_ms"`
	BurstLimit    int     `koanf:"burst_limit"`
}

type redactionSettings struct {
	Enabled        *bool    `koanf:"enabled"`
	RedactKeys     []string `koanf:"redact_keys"`
	RedactPatterns []string `koanf:"redact_patterns"`
	Replacement    string   `koanf:"replacement"`
	MaxDepth       int      `koanf:"max_depth"`
}

// Load builds a pipeline configuration from the settings file at path
// (skipped when absent) overlaid with LOGHUB_* environment variables.
func Load(path string) (loghub.Config, error) {
	k := koanf.New(".")

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return loghub.Config{}, fmt.Errorf("reading settings file: %w", err)
		}
		if err == nil {
			if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
				return loghub.Config{}, fmt.Errorf("parsing settings file: %w", err)
			}
		}
	}

	// LOGHUB_MIN_LEVEL -> min_level, LOGHUB_REDACTION_ENABLED -> redaction.enabled
	if err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
		name := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		for _, section := range []string{"redaction_", "remote_headers_"} {
			if strings.HasPrefix(name, section) {
				return strings.TrimSuffix(section, "_") + "." + strings.TrimPrefix(name, section)
			}
		}
		return name
	}), nil); err != nil {
		return loghub.Config{}, fmt.Errorf("loading environment overrides: %w", err)
	}

	var fs fileSettings
	if err := k.Unmarshal("", &fs); err != nil {
		return loghub.Config{}, fmt.Errorf("decoding settings: %w", err)
	}
	return fs.apply(loghub.DefaultConfig())
}

// apply overlays the parsed settings onto defaults.
func (fs *fileSettings) apply(cfg loghub.Config) (loghub.Config, error) {
	if fs.MinLevel != "" {
		lvl, err := loghub.ParseLevel(fs.MinLevel)
		if err != nil {
			return loghub.Config{}, err
		}
		cfg.MinLevel = lvl
	}
	if fs.EnableConsole != nil {
		cfg.EnableConsole = *fs.EnableConsole
	}
	if fs.EnableStorage != nil {
		cfg.EnableStorage = *fs.EnableStorage
	}
	if fs.EnableRemote != nil {
		cfg.EnableRemote = *fs.EnableRemote
	}
	if fs.RemoteEndpoint != "" {
		cfg.RemoteEndpoint = fs.RemoteEndpoint
	}
	if len(fs.RemoteHeaders) > 0 {
		cfg.RemoteHeaders = fs.RemoteHeaders
	}
	if fs.MaxStorageEntries > 0 {
		cfg.MaxStorageEntries = fs.MaxStorageEntries
	}
	if fs.RetentionDays > 0 {
		cfg.RetentionDays = fs.RetentionDays
	}
	if fs.IncludeStackTrace != nil {
		cfg.IncludeStackTrace = *fs.IncludeStackTrace
	}
	if fs.IncludeSource != nil {
		cfg.IncludeSource = *fs.IncludeSource
	}
	if fs.BufferSize > 0 {
		cfg.BufferSize = fs.BufferSize
	}
	if fs.FlushIntervalMS > 0 {
		cfg.FlushInterval = time.Duration(fs.FlushIntervalMS) * time.Millisecond
	}
	if fs.SessionFile != "" {
		cfg.SessionFile = fs.SessionFile
	}

	if len(fs.Sampling) > 0 {
		cfg.Sampling = make(map[string]features.SamplingRule, len(fs.Sampling))
		for pattern, r := range fs.Sampling {
			cfg.Sampling[pattern] = features.SamplingRule{
				Rate:        r.Rate,
				MinInterval: time.Duration(r.MinIntervalMS) * time.Millisecond,
				BurstLimit:  r.BurstLimit,
			}
		}
	}

	if fs.Redaction.Enabled != nil {
		cfg.Redaction.Enabled = *fs.Redaction.Enabled
	}
	if len(fs.Redaction.RedactKeys) > 0 {
		cfg.Redaction.Keys = fs.Redaction.RedactKeys
	}
	if len(fs.Redaction.RedactPatterns) > 0 {
		cfg.Redaction.Patterns = fs.Redaction.RedactPatterns
	}
	if fs.Redaction.Replacement != "" {
		cfg.Redaction.Replacement = fs.Redaction.Replacement
	}
	if fs.Redaction.MaxDepth > 0 {
		cfg.Redaction.MaxDepth = fs.Redaction.MaxDepth
	}

	if err := cfg.Validate(); err != nil {
		return loghub.Config{}, err
	}
	return cfg, nil
}
