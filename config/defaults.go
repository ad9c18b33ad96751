package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Engine:    DefaultEngineConfig(),
		Registry:  DefaultRegistryConfig(),
		History:   DefaultHistoryConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default API server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		Auth: AuthConfig{
			Enabled:   false,
			JWTSecret: "",
		},
	}
}

// DefaultEngineConfig returns the default execution engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxWorkers:     16,
		QueueSize:      64,
		StepTimeout:    30 * time.Second,
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
	}
}

// DefaultRegistryConfig returns the default content-pack configuration.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		PackDir:         "pack",
		WatchPack:       false,
		LoadConcurrency: 8,
	}
}

// DefaultHistoryConfig returns the default execution-archive configuration.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:        true,
		Backend:        "memory",
		MemoryCapacity: 256,
		RecentLimit:    50,
	}
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "skillflow",
		Password:        "",
		Name:            "skillflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		TraceTTL:     10 * time.Minute,
		CacheTTL:     5 * time.Minute,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "skillflow",
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "skillflow",
		SampleRate:   0.1,
	}
}
