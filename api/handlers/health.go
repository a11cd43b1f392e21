package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// DefaultCheckTimeout 单个就绪检查的超时；生成服务忙时 /health 可能很慢
const DefaultCheckTimeout = 3 * time.Second

// ErrRemoteUnhealthy 生成服务未报告 healthy
var ErrRemoteUnhealthy = errors.New("generation service is not healthy")

// HealthCheck 就绪检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// ServiceHealthResponse /health 与 /ready 的响应体
type ServiceHealthResponse struct {
	Status    string                 `json:"status"` // healthy | unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查的结果
type CheckResult struct {
	Status  string `json:"status"` // pass | fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthHandler 存活与就绪探针
type HealthHandler struct {
	version      string
	startedAt    time.Time
	checkTimeout time.Duration
	logger       *zap.Logger

	mu     sync.RWMutex
	checks []HealthCheck
}

// NewHealthHandler 创建处理器
func NewHealthHandler(version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		version:      version,
		startedAt:    time.Now(),
		checkTimeout: DefaultCheckTimeout,
		logger:       logger.With(zap.String("component", "health_handler")),
	}
}

// RegisterCheck 追加一个就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

func (h *HealthHandler) status(healthy bool) ServiceHealthResponse {
	s := ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Truncate(time.Second).String(),
	}
	if !healthy {
		s.Status = "unhealthy"
	}
	return s
}

// HandleHealth 存活探针，不访问任何依赖
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.status(true))
}

// HandleHealthz 同 HandleHealth
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 并发执行所有检查，任一失败返回 503
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = h.run(r.Context(), check)
			return nil
		})
	}
	_ = g.Wait()

	healthy := true
	byName := make(map[string]CheckResult, len(checks))
	for i, check := range checks {
		byName[check.Name()] = results[i]
		healthy = healthy && results[i].Status == "pass"
	}

	resp := h.status(healthy)
	resp.Checks = byName
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, resp)
}

func (h *HealthHandler) run(parent context.Context, check HealthCheck) CheckResult {
	ctx, cancel := context.WithTimeout(parent, h.checkTimeout)
	defer cancel()

	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)

	if err != nil {
		h.logger.Warn("readiness check failed",
			zap.String("check", check.Name()),
			zap.Duration("latency", latency),
			zap.Error(err))
		return CheckResult{Status: "fail", Message: err.Error(), Latency: latency.String()}
	}
	return CheckResult{Status: "pass", Latency: latency.String()}
}

// =============================================================================
// 🔧 内置检查
// =============================================================================

// FuncCheck 用函数实现 HealthCheck，例如 journal 的 Ping
type FuncCheck struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncCheck 创建函数式检查
func NewFuncCheck(name string, fn func(ctx context.Context) error) *FuncCheck {
	return &FuncCheck{name: name, fn: fn}
}

func (c *FuncCheck) Name() string { return c.name }

func (c *FuncCheck) Check(ctx context.Context) error { return c.fn(ctx) }

// RemoteHealthCheck 探测默认生成服务
type RemoteHealthCheck struct {
	ping func(ctx context.Context, endpoint string) bool
}

// NewRemoteHealthCheck ping 一般传 Manager.Health；空 endpoint 表示默认地址
func NewRemoteHealthCheck(ping func(ctx context.Context, endpoint string) bool) *RemoteHealthCheck {
	return &RemoteHealthCheck{ping: ping}
}

func (c *RemoteHealthCheck) Name() string { return "remote" }

func (c *RemoteHealthCheck) Check(ctx context.Context) error {
	if !c.ping(ctx, "") {
		return ErrRemoteUnhealthy
	}
	return nil
}
