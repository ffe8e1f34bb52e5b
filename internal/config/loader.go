package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// WellKnownProviders are the provider names shipped with this repository.
// Unknown names are allowed (external registrations) but logged.
var WellKnownProviders = map[string]bool{
	"coqui":      true,
	"elevenlabs": true,
	"piper":      true,
	"mock":       true,
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes and validates YAML configuration from r. Unknown
// fields are rejected so typos fail loudly instead of silently falling back
// to defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for hard errors. Suspicious but workable
// values are logged as warnings instead.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.LogLevel != "" && !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", c.Server.LogLevel))
	}
	if c.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if c.Connection.MaxRetries != nil && *c.Connection.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("connection.max_retries: must be >= 0, got %d", *c.Connection.MaxRetries))
	}
	if c.Cache.MaxFiles < 0 {
		errs = append(errs, fmt.Errorf("cache.max_files: must be >= 0, got %d", c.Cache.MaxFiles))
	}

	seen := make(map[string]bool, len(c.TTS.Providers))
	for i, p := range c.TTS.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("tts.providers[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("tts.providers[%d]: duplicate provider %q", i, p.Name))
		}
		seen[p.Name] = true
		if !WellKnownProviders[p.Name] {
			slog.Warn("unrecognized tts provider name", "provider", p.Name)
		}
		if p.Voice.Speed != 0 && (p.Voice.Speed < 0.5 || p.Voice.Speed > 2.0) {
			errs = append(errs, fmt.Errorf("tts.providers[%d].voice.speed: must be in [0.5, 2.0], got %g", i, p.Voice.Speed))
		}
	}
	if c.TTS.Provider != "" && !seen[c.TTS.Provider] {
		errs = append(errs, fmt.Errorf("tts.provider: %q has no entry in tts.providers", c.TTS.Provider))
	}

	return errors.Join(errs...)
}

// SelectedProvider returns the entry named by tts.provider, or false when
// announcements are disabled.
func (c *Config) SelectedProvider() (ProviderEntry, bool) {
	for _, p := range c.TTS.Providers {
		if p.Name == c.TTS.Provider {
			return p, true
		}
	}
	return ProviderEntry{}, false
}
