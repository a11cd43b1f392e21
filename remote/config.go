package remote

import "time"

// DefaultBaseURL is the address of a locally running API server.
const DefaultBaseURL = "http://localhost:8081"

// Config configures the remote client.
type Config struct {
	BaseURL      string        `json:"base_url" yaml:"base_url"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxIdleConns int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	// MaxModelBytes caps the body accepted from /generate.
	MaxModelBytes int64 `json:"max_model_bytes,omitempty" yaml:"max_model_bytes,omitempty"`
}

// DefaultConfig returns default client config.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Timeout:       30 * time.Second,
		MaxIdleConns:  100,
		MaxModelBytes: 512 << 20,
	}
}
