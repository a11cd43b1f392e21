package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/hunyuan3d/internal/metrics"
	"github.com/BaSui01/hunyuan3d/internal/tlsutil"
	"github.com/BaSui01/hunyuan3d/types"
)

const tracerName = "github.com/BaSui01/hunyuan3d/remote"

// Client talks to one or more Hunyuan3D API servers. It holds no per-task
// state; the target server is chosen per call.
type Client struct {
	cfg     Config
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewClient creates a remote client.
func NewClient(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxModelBytes <= 0 {
		cfg.MaxModelBytes = def.MaxModelBytes
	}
	pool := tlsutil.DefaultPoolOptions()
	if cfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.MaxIdleConns
	}

	c := &Client{
		cfg:    cfg,
		client: tlsutil.PooledHTTPClient(cfg.Timeout, pool),
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "remote_client"))
	return c
}

// BaseURL returns the configured fallback server address.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Submit posts a generation request to /send and returns the server uid.
func (c *Client) Submit(ctx context.Context, baseURL string, req *GenerationRequest) (string, error) {
	var resp SubmitResponse
	if err := c.doJSON(ctx, "send", http.MethodPost, c.endpointURL(baseURL, "/send"), req, &resp); err != nil {
		return "", err
	}
	if resp.UID == "" {
		return "", types.NewError(types.ErrRemote, "response missing uid")
	}
	c.logger.Debug("task submitted", zap.String("uid", resp.UID))
	return resp.UID, nil
}

// Status queries /status/{uid}.
func (c *Client) Status(ctx context.Context, baseURL, uid string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.doJSON(ctx, "status", http.MethodGet, c.endpointURL(baseURL, "/status/"+url.PathEscape(uid)), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health queries /health.
func (c *Client) Health(ctx context.Context, baseURL string) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, "health", http.MethodGet, c.endpointURL(baseURL, "/health"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsHealthy reports whether the server answered /health with status "healthy".
func (c *Client) IsHealthy(ctx context.Context, baseURL string) bool {
	h, err := c.Health(ctx, baseURL)
	if err != nil {
		c.logger.Debug("health check failed", zap.Error(err))
		return false
	}
	return h.Healthy()
}

// Generate calls /generate and returns the raw model bytes.
// Models larger than Config.MaxModelBytes are rejected.
func (c *Client) Generate(ctx context.Context, baseURL string, req *GenerationRequest) ([]byte, error) {
	limit := c.cfg.MaxModelBytes
	var data []byte
	err := c.do(ctx, "generate", http.MethodPost, c.endpointURL(baseURL, "/generate"), req, func(body io.Reader) error {
		var err error
		data, err = io.ReadAll(io.LimitReader(body, limit+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > limit {
			data = nil
			return types.Errorf(types.ErrRemote, "model exceeds %d bytes", limit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WaitForCompletion polls /status/{uid} until the task completes or errors.
// A zero timeout waits until ctx is done.
func (c *Client) WaitForCompletion(ctx context.Context, baseURL, uid string, interval, timeout time.Duration) (*StatusResponse, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.Status(ctx, baseURL, uid)
		if err != nil {
			return nil, err
		}
		switch st.Status {
		case StatusCompleted:
			return st, nil
		case StatusError:
			msg := st.Message
			if msg == "" {
				msg = "Unknown error"
			}
			return st, types.Errorf(types.ErrRemote, "task %s failed: %s", uid, msg)
		}

		select {
		case <-ctx.Done():
			return nil, types.Errorf(types.ErrRemote, "task %s did not complete", uid).WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) endpointURL(baseURL, path string) string {
	if baseURL == "" {
		baseURL = c.cfg.BaseURL
	}
	return strings.TrimRight(baseURL, "/") + path
}

func (c *Client) doJSON(ctx context.Context, op, method, endpoint string, in, out any) error {
	return c.do(ctx, op, method, endpoint, in, func(body io.Reader) error {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(body).Decode(out); err != nil {
			return types.NewError(types.ErrRemote, "invalid JSON response").WithCause(err)
		}
		return nil
	})
}

// do 执行一次请求，统一处理 tracing、指标与错误分类
func (c *Client) do(ctx context.Context, op, method, endpoint string, in any, read func(io.Reader) error) (err error) {
	ctx, span := c.tracer.Start(ctx, "hunyuan3d."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", endpoint),
		))
	start := time.Now()
	defer func() {
		c.metrics.RecordRemoteRequest(op, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body io.Reader
	if in != nil {
		payload, mErr := json.Marshal(in)
		if mErr != nil {
			return types.NewError(types.ErrInvalidRequest, "failed to encode request").WithCause(mErr)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return types.NewError(types.ErrRemote, "failed to create request").WithCause(err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return types.NewError(types.ErrRemote, "request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 400 {
		return c.httpError(op, resp)
	}
	return read(resp.Body)
}

// validationBody is the shape of an HTTP 422 response.
type validationBody struct {
	Detail []types.FieldError `json:"detail"`
}

func (c *Client) httpError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var vb validationBody
		if err := json.Unmarshal(raw, &vb); err == nil && len(vb.Detail) > 0 {
			return types.NewValidationError(vb.Detail)
		}
		return types.Errorf(types.ErrRemoteValidation, "validation error: %s", string(raw)).
			WithHTTPStatus(resp.StatusCode)
	}

	c.logger.Warn("remote returned error status",
		zap.String("operation", op),
		zap.Int("status", resp.StatusCode))
	return types.Errorf(types.ErrRemote, "HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))).
		WithHTTPStatus(resp.StatusCode).
		WithRetryable(resp.StatusCode >= 500)
}
