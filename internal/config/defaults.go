package config

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                     "0.0.0.0",
			Port:                     8080,
			MountPath:                "/api/webhook-proxy",
			ReadHeaderTimeoutSeconds: 10,
			ShutdownTimeoutSeconds:   10,
		},
		Relay: RelayConfig{
			TimeoutSeconds:   10,
			ProductionEnv:    "VERCEL",
			MaxBodyBytes:     1 << 20,
			MaxResponseBytes: 4 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4318",
			Insecure: true,
		},
	}
}
