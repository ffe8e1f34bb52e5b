package config_test

import (
	"strings"
	"testing"

	"github.com/bellhop-bot/bellhop/internal/config"
)

const minimalYAML = `
discord:
  token: "bot-token"
`

func TestLoadFromReader_Minimal(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Discord.Token != "bot-token" {
		t.Errorf("token = %q, want %q", cfg.Discord.Token, "bot-token")
	}
	if !cfg.Presence.AutoJoinEnabled() {
		t.Error("auto_join should default to enabled")
	}
	if !cfg.Presence.AutoLeaveEnabled() {
		t.Error("auto_leave should default to enabled")
	}
	if !cfg.Cache.IsEnabled() {
		t.Error("cache should default to enabled")
	}
}

func TestLoadFromReader_UnknownFieldsRejected(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  token: "bot-token"
  tokken: "typo"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_TokenRequired(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`server: {log_level: info}`))
	if err == nil {
		t.Fatal("expected error for missing token, got nil")
	}
	if !strings.Contains(err.Error(), "discord.token") {
		t.Errorf("error should mention discord.token, got: %v", err)
	}
}

func TestValidate_UnknownLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
discord:
  token: "bot-token"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_DuplicateProviderNames(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  token: "bot-token"
tts:
  providers:
    - name: coqui
      base_url: "http://localhost:5002"
    - name: coqui
      base_url: "http://localhost:5003"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate provider names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_SelectedProviderMustHaveEntry(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  token: "bot-token"
tts:
  provider: elevenlabs
  providers:
    - name: coqui
      base_url: "http://localhost:5002"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unlisted selected provider, got nil")
	}
	if !strings.Contains(err.Error(), "elevenlabs") {
		t.Errorf("error should name the missing provider, got: %v", err)
	}
}

func TestValidate_SpeedRange(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  token: "bot-token"
tts:
  providers:
    - name: piper
      model: "/models/en.onnx"
      voice:
        speed: 3.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range speed, got nil")
	}
	if !strings.Contains(err.Error(), "speed") {
		t.Errorf("error should mention speed, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
tts:
  providers:
    - name: piper
      voice:
        speed: 9
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "discord.token") {
		t.Errorf("error should mention discord.token, got: %v", err)
	}
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "speed") {
		t.Errorf("error should mention speed, got: %v", err)
	}
}

func TestSelectedProvider(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  token: "bot-token"
tts:
  provider: piper
  providers:
    - name: coqui
      base_url: "http://localhost:5002"
    - name: piper
      model: "/models/en.onnx"
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, ok := cfg.SelectedProvider()
	if !ok {
		t.Fatal("SelectedProvider() = false, want true")
	}
	if entry.Model != "/models/en.onnx" {
		t.Errorf("model = %q, want %q", entry.Model, "/models/en.onnx")
	}
}

func TestSelectedProvider_Disabled(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cfg.SelectedProvider(); ok {
		t.Error("SelectedProvider() = true with empty tts.provider, want false")
	}
}
