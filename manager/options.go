package manager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hunyuan3d/internal/metrics"
	"github.com/BaSui01/hunyuan3d/remote"
)

// Config holds manager settings.
type Config struct {
	// DefaultEndpoint is used when a submission names no endpoint.
	DefaultEndpoint string
	// PollInterval is the sleep between full sweeps.
	PollInterval time.Duration
	// ShutdownTimeout bounds the wait for an in-flight sweep and running conversions.
	ShutdownTimeout time.Duration
	// MaxPollRetries 为 0 时首次传输失败即判定任务失败
	MaxPollRetries    int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	// QueueSize bounds each hand-off mailbox.
	QueueSize int
	// TickInterval is the main loop period used by RunMainLoop.
	TickInterval time.Duration
}

// DefaultConfig returns default manager settings.
func DefaultConfig() Config {
	return Config{
		DefaultEndpoint:   remote.DefaultBaseURL,
		PollInterval:      2 * time.Second,
		ShutdownTimeout:   2 * time.Second,
		MaxPollRetries:    0,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     5 * time.Second,
		QueueSize:         64,
		TickInterval:      50 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DefaultEndpoint == "" {
		c.DefaultEndpoint = def.DefaultEndpoint
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.MaxPollRetries < 0 {
		c.MaxPollRetries = 0
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = def.RetryInitialDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = def.RetryMaxDelay
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
}

// RemoteClient is the subset of remote.Client used by the manager.
type RemoteClient interface {
	Submit(ctx context.Context, baseURL string, req *remote.GenerationRequest) (string, error)
	Status(ctx context.Context, baseURL, uid string) (*remote.StatusResponse, error)
	IsHealthy(ctx context.Context, baseURL string) bool
}

// Converter turns the downloaded model into the output format. progress
// receives fractions in [0, 1].
type Converter interface {
	Convert(ctx context.Context, src, dst string, progress func(float64)) error
}

// Journal persists task snapshots for later inspection.
type Journal interface {
	Record(ctx context.Context, info TaskInfo) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithJournal records a snapshot after submission and every transition.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithScratch replaces the scratch directory provider.
func WithScratch(p ScratchProvider) Option {
	return func(m *Manager) {
		if p != nil {
			m.scratch = p
		}
	}
}
