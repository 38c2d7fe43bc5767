package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "chaoscope",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Provider:   "noop",
			Timeout:    10 * time.Second,
			Sampler:    "always_on",
			SampleRate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Feed: FeedConfig{
			Enabled: false,
			Buffer:  64,
			Redis: RedisConfig{
				Enabled: false,
				Address: "localhost:6379",
				Channel: "chaoscope.events",
			},
		},
		Diag: DiagConfig{
			Enabled:         false,
			Host:            "127.0.0.1",
			Port:            8089,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}
