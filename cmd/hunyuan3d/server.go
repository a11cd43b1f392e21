package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/hunyuan3d/api/handlers"
	"github.com/BaSui01/hunyuan3d/config"
	"github.com/BaSui01/hunyuan3d/internal/server"
	"github.com/BaSui01/hunyuan3d/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 hunyuan3d 的主服务器
type Server struct {
	cfg        *config.Config
	loader     *config.Loader
	configPath string
	logger     *zap.Logger
	otel       *telemetry.Providers

	rt *runtime

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler  *handlers.HealthHandler
	taskHandler    *handlers.TaskHandler
	historyHandler *handlers.HistoryHandler
	hub            *handlers.EventHub

	// 热更新
	watcher  *config.FileWatcher
	reloader *config.Reloader

	gauges metric.Registration
}

// NewServer 创建服务器实例；configPath 非空时启用热更新
func NewServer(cfg *config.Config, loader *config.Loader, configPath string, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		loader:     loader,
		configPath: configPath,
		logger:     logger,
		otel:       otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 装配组件并开始监听；ctx 取消后 Run 负责关闭
func (s *Server) Start(ctx context.Context) error {
	// 0. 任务接口会读写调用方指定的本地路径，对外暴露时必须鉴权
	if !config.IsLoopbackHost(s.cfg.Server.Host) && !s.cfg.Server.Authenticated() {
		return fmt.Errorf("refusing to listen on %q without server.api_keys or server.jwt_secret", s.cfg.Server.Host)
	}

	// 1. 共享运行时
	rt, err := newRuntime(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.rt = rt

	// 2. OTel 任务 Gauge
	s.gauges, err = telemetry.RegisterTaskGauges(s.otel.Meter(), s.countTasks)
	if err != nil {
		s.logger.Warn("failed to register task gauges", zap.Error(err))
	}

	// 3. Handlers
	s.initHandlers()

	// 4. 热更新
	if err := s.initHotReload(ctx); err != nil {
		return fmt.Errorf("failed to init hot reload: %w", err)
	}

	// 5. HTTP 服务器
	if err := s.startHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.ListenAddr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("journal", s.cfg.Journal.Driver),
		zap.Bool("hot_reload_enabled", s.watcher != nil),
	)
	return nil
}

func (s *Server) countTasks() (total, active int) {
	tasks := s.rt.manager.Tasks()
	for _, t := range tasks {
		if t.State.IsActive() {
			active++
		}
	}
	return len(tasks), active
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initHandlers() {
	s.hub = handlers.NewEventHub(s.logger)
	s.taskHandler = handlers.NewTaskHandler(s.rt.manager, s.hub, s.cfg.Server.AllowedOrigins, s.logger).
		WithSubmitPolicy(handlers.SubmitPolicy{
			AllowedEndpoints: s.cfg.Server.AllowedEndpoints,
			FileRoots:        s.cfg.Server.FileRoots,
		})
	s.historyHandler = handlers.NewHistoryHandler(s.rt.journal, s.logger)

	s.healthHandler = handlers.NewHealthHandler(Version, s.logger)
	s.healthHandler.RegisterCheck(handlers.NewRemoteHealthCheck(s.rt.manager.Health))
	if s.cfg.Journal.Driver != "" && s.cfg.Journal.Driver != "none" {
		s.healthHandler.RegisterCheck(handlers.NewFuncCheck("journal", s.rt.journal.Ping))
	}

	s.logger.Info("Handlers initialized")
}

// initHotReload 监听配置文件；只有默认服务地址与轮询间隔会在运行时生效
func (s *Server) initHotReload(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}

	s.reloader = config.NewReloader(s.loader, s.cfg, s.logger)
	s.reloader.OnReload(config.ApplyTo(s.rt.manager, s.logger))

	w, err := config.NewFileWatcher(s.configPath, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	w.OnChange(s.reloader.HandleFileEvent)
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// skipAuthPaths 不需要认证的端点
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

func (s *Server) buildHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.handleVersion)

	s.taskHandler.Register(mux)
	s.historyHandler.Register(mux)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.rt.metrics),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.AllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	if len(s.cfg.Server.APIKeys) > 0 {
		middlewares = append(middlewares,
			APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
	}
	if s.cfg.Server.JWTSecret != "" {
		middlewares = append(middlewares,
			JWTAuth(s.cfg.Server.JWTSecret, s.cfg.Server.JWTIssuer, skipAuthPaths, s.logger))
	}
	return Chain(mux, middlewares...)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	handlers.WriteSuccess(w, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// startHTTPServer 启动 API 服务器；限流器清理协程随 ctx 退出
func (s *Server) startHTTPServer(ctx context.Context) error {
	handler := s.buildHandler(ctx)

	serverConfig := server.Config{
		Addr:              net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.HTTPPort)),
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   s.cfg.Server.ShutdownTimeout,
	}
	s.httpManager = server.NewManager("api", handler, serverConfig, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.rt.registry, promhttp.HandlerOpts{Registry: s.rt.registry}))

	serverConfig := server.Config{
		Addr:            net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.MetricsPort)),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 运行与关闭
// =============================================================================

// Run 驱动主循环并阻塞到 ctx 取消或某个服务器出错，随后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.rt.run(gctx) })
	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}

	err := g.Wait()
	s.Shutdown()
	return err
}

// Shutdown 按 热更新 → HTTP → 管理器/历史存储 → Gauge → 遥测 的顺序关闭
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Error("Config watcher shutdown error", zap.Error(err))
		}
	}

	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m == nil {
			continue
		}
		if err := m.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.rt != nil {
		if err := s.rt.close(ctx); err != nil {
			s.logger.Error("Runtime shutdown error", zap.Error(err))
		}
	}

	if s.gauges != nil {
		if err := s.gauges.Unregister(); err != nil {
			s.logger.Warn("Task gauge unregister error", zap.Error(err))
		}
	}

	if err := s.otel.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}
