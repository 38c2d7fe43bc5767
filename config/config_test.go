package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.App.Name != "chaoscope" {
		t.Errorf("expected app name 'chaoscope', got %s", cfg.App.Name)
	}
	if cfg.App.Environment != "development" {
		t.Errorf("expected environment 'development', got %s", cfg.App.Environment)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected log format 'text', got %s", cfg.Log.Format)
	}

	if cfg.Tracing.Enabled {
		t.Error("expected tracing.enabled to be false")
	}
	if cfg.Tracing.Provider != "noop" {
		t.Errorf("expected tracing provider 'noop', got %s", cfg.Tracing.Provider)
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %v", cfg.Tracing.SampleRate)
	}

	if !cfg.Metrics.Enabled {
		t.Error("expected metrics.enabled to be true")
	}

	if cfg.Feed.Enabled {
		t.Error("expected feed.enabled to be false")
	}
	if cfg.Feed.Redis.Channel != "chaoscope.events" {
		t.Errorf("expected redis channel 'chaoscope.events', got %s", cfg.Feed.Redis.Channel)
	}

	if cfg.Diag.Port != 8089 {
		t.Errorf("expected diag port 8089, got %d", cfg.Diag.Port)
	}
	if cfg.Diag.ReadTimeout != 15*time.Second {
		t.Errorf("expected read timeout 15s, got %v", cfg.Diag.ReadTimeout)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid defaults",
			cfg:     DefaultConfig(),
			wantErr: false,
		},
		{
			name: "missing app name",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.App.Name = ""
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid environment",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.App.Environment = "invalid"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid log level",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Log.Level = "trace"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid tracing provider",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Tracing.Provider = "zipkin"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "sample rate above one",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Tracing.SampleRate = 1.5
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid diag port",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Diag.Port = 99999
				return cfg
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "diag.port", Message: "must be at most 65535", Value: 99999},
		{Field: "log.level", Message: "must be one of [debug info warn error]", Value: "trace"},
	}

	errMsg := errs.Error()
	if errMsg == "" {
		t.Error("expected error message")
	}
	if errMsg == "no validation errors" {
		t.Error("expected error details")
	}
}

func TestValidateWithDetails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "trace"
	cfg.Diag.Port = 99999

	err := ValidateWithDetails(cfg)
	if err == nil {
		t.Fatal("expected validation error details")
	}

	details, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(details) != 2 {
		t.Fatalf("expected 2 validation errors, got %d", len(details))
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		App: AppConfig{
			Name:        "test",
			Environment: "development",
		},
		Tracing: TracingConfig{
			Provider: "jaeger",
		},
	}

	s := cfg.String()
	if s == "" {
		t.Error("expected non-empty string representation")
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Error("expected non-nil config")
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load("", map[string]interface{}{
		"tracing.enabled":  true,
		"tracing.provider": "jaeger",
		"tracing.endpoint": "localhost:4317",
		"app.debug":        true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Tracing.Enabled {
		t.Error("expected tracing.enabled override to apply")
	}
	if cfg.Tracing.Provider != "jaeger" {
		t.Errorf("expected provider 'jaeger', got %s", cfg.Tracing.Provider)
	}
	if !cfg.App.Debug {
		t.Error("expected app.debug override to apply")
	}
	// Untouched keys keep their defaults.
	if cfg.Tracing.Timeout != 10*time.Second {
		t.Errorf("expected default timeout 10s, got %v", cfg.Tracing.Timeout)
	}
}

func TestLoader_LoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
app:
  name: yaml-test
  environment: production
log:
  level: debug
  format: json
tracing:
  enabled: true
  provider: otlpgrpc
  endpoint: collector:4317
  timeout: 30s
  sample_rate: 0.25
feed:
  enabled: true
  buffer: 128
diag:
  enabled: true
  port: 9999
  read_timeout: 30s
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := NewLoader().Load(configPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Name != "yaml-test" {
		t.Errorf("expected 'yaml-test', got '%s'", cfg.App.Name)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected 'debug', got '%s'", cfg.Log.Level)
	}
	if cfg.Tracing.Provider != "otlpgrpc" {
		t.Errorf("expected 'otlpgrpc', got '%s'", cfg.Tracing.Provider)
	}
	if cfg.Tracing.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", cfg.Tracing.Timeout)
	}
	if cfg.Tracing.SampleRate != 0.25 {
		t.Errorf("expected sample rate 0.25, got %v", cfg.Tracing.SampleRate)
	}
	if cfg.Feed.Buffer != 128 {
		t.Errorf("expected buffer 128, got %d", cfg.Feed.Buffer)
	}
	if cfg.Diag.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Diag.Port)
	}
	if cfg.Diag.ReadTimeout != 30*time.Second {
		t.Errorf("expected read timeout 30s, got %v", cfg.Diag.ReadTimeout)
	}
}

func TestLoader_LoadJSONFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	jsonContent := `{
		"app": {
			"name": "json-test",
			"environment": "staging"
		},
		"log": {
			"level": "warn",
			"format": "json"
		}
	}`
	if err := os.WriteFile(configPath, []byte(jsonContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := NewLoader().Load(configPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Name != "json-test" {
		t.Errorf("expected 'json-test', got '%s'", cfg.App.Name)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected 'warn', got '%s'", cfg.Log.Level)
	}
}

func TestLoader_LoadInvalidFile(t *testing.T) {
	_, err := NewLoader().Load("/nonexistent/config.yaml", nil)
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoader_LoadUnsupportedFormat(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	if err := os.WriteFile(configPath, []byte("app = 'test'"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := NewLoader().Load(configPath, nil)
	if err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoader_LoadInvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
log:
  level: trace
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := NewLoader().Load(configPath, nil)
	if err == nil {
		t.Error("expected validation error for invalid log level")
	}
}

func TestLoader_EnvVars(t *testing.T) {
	t.Setenv("CHAOSCOPE_APP_NAME", "env-test")
	t.Setenv("CHAOSCOPE_LOG_LEVEL", "error")

	cfg, err := NewLoader().Load("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Name != "env-test" {
		t.Errorf("expected 'env-test', got '%s'", cfg.App.Name)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("expected 'error', got '%s'", cfg.Log.Level)
	}
}
