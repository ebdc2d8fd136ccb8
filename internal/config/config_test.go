package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvOverrides(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Paths.ConfigPath = "/tmp/config" // avoid creation

	t.Setenv("MURMUR_ENDPOINT", "http://10.0.0.2:8000/upload")
	t.Setenv("MURMUR_CAPTURE_BACKEND", "PortAudio")
	t.Setenv("MURMUR_METRICS_ADDR", "1.2.3.4:9999")
	t.Setenv("MURMUR_LOG_LEVEL", "debug")
	t.Setenv("MURMUR_LOG_FORMAT", "json")
	t.Setenv("MURMUR_TRANSCRIPTS_ENABLED", "false")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	applyEnvOverrides(cfg)

	if cfg.Upload.Endpoint != "http://10.0.0.2:8000/upload" {
		t.Fatalf("endpoint override failed: %q", cfg.Upload.Endpoint)
	}
	if cfg.Capture.Backend != "portaudio" {
		t.Fatalf("backend override failed: %q", cfg.Capture.Backend)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != "1.2.3.4:9999" {
		t.Fatalf("metrics override failed: %+v", cfg.Metrics)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging overrides failed: %+v", cfg.Logging)
	}
	if cfg.Transcripts.Enabled {
		t.Fatalf("transcripts should be disabled via env")
	}
	if cfg.Upload.OpenAIAPIKey != "sk-test" {
		t.Fatalf("api key not picked up")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Paths.EnvPath = ""
	cfg.Upload.Endpoint = "http://example.test/upload"
	cfg.Capture.DeviceName = "USB Mic"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Upload.Endpoint != "http://example.test/upload" {
		t.Fatalf("expected endpoint to persist, got %q", loaded.Upload.Endpoint)
	}
	if loaded.Capture.DeviceName != "USB Mic" {
		t.Fatalf("expected device name to persist, got %q", loaded.Capture.DeviceName)
	}
	if loaded.Paths.ConfigPath != path {
		t.Fatalf("config path not recorded: %q", loaded.Paths.ConfigPath)
	}
}

func TestLoadWritesTemplateWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}
	if cfg.Upload.Field != DefaultField {
		t.Fatalf("default field = %q", cfg.Upload.Field)
	}
}

func TestLoadDotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "MURMUR_LOG_LEVEL=warn\nMURMUR_ENDPOINT=http://from-dotenv/upload\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("MURMUR_LOG_LEVEL", "debug")
	t.Setenv("MURMUR_ENDPOINT", "")
	os.Unsetenv("MURMUR_ENDPOINT")
	t.Cleanup(func() { os.Unsetenv("MURMUR_ENDPOINT") })

	if err := loadDotEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("MURMUR_LOG_LEVEL"); got != "debug" {
		t.Fatalf("process env overwritten: %q", got)
	}
	if got := os.Getenv("MURMUR_ENDPOINT"); got != "http://from-dotenv/upload" {
		t.Fatalf("dotenv value not loaded: %q", got)
	}
}
