// =============================================================================
// 📦 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Remote:    DefaultRemoteConfig(),
		Poller:    DefaultPollerConfig(),
		Handoff:   DefaultHandoffConfig(),
		Server:    DefaultServerConfig(),
		Journal:   DefaultJournalConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultRemoteConfig 返回默认远端配置
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL:      "http://localhost:8081",
		Timeout:      30 * time.Second,
		MaxIdleConns: 100,
	}
}

// DefaultPollerConfig 返回默认轮询配置
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:          2 * time.Second,
		ShutdownTimeout:   2 * time.Second,
		MaxRetries:        0,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     5 * time.Second,
	}
}

// DefaultHandoffConfig 返回默认交接配置
func DefaultHandoffConfig() HandoffConfig {
	return HandoffConfig{
		QueueSize:    64,
		TickInterval: 50 * time.Millisecond,
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		HTTPPort:        8090,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultJournalConfig 返回默认任务历史配置
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Driver:     "none",
		Addr:       "localhost:6379",
		Database:   "hunyuan3d",
		Collection: "tasks",
		TTL:        7 * 24 * time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "hunyuan3d",
		SampleRate:   0.1,
	}
}
