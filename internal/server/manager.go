package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// Config 单个监听端口的配置
type Config struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration
}

// DefaultConfig 返回 API 端口的默认配置
func DefaultConfig() Config {
	return Config{
		Addr:              ":8090",
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   15 * time.Second,
	}
}

// Manager 管理一个 http.Server 的监听、运行与关闭。
//
// 所有请求的 context 派生自 Manager 内部的 base context，Shutdown 时先取消它，
// 让 websocket 进度流这类长连接处理器及时返回。
type Manager struct {
	name   string
	cfg    Config
	srv    *http.Server
	logger *zap.Logger

	base       context.Context
	cancelBase context.CancelFunc
	errCh      chan error

	mu       sync.RWMutex
	listener net.Listener
	closed   bool
}

// NewManager 创建管理器；name 出现在日志和错误里，用于区分 api / metrics 端口
func NewManager(name string, handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		name:       name,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "http_server"), zap.String("server", name)),
		base:       base,
		cancelBase: cancel,
		errCh:      make(chan error, 1),
	}
	m.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return m.base },
		ErrorLog:          zap.NewStdLog(m.logger),
	}
	return m
}

// OnShutdown 注册关闭时调用的函数，在独立 goroutine 中执行
func (m *Manager) OnShutdown(fn func()) {
	m.srv.RegisterOnShutdown(fn)
}

// Start 监听端口并在后台开始服务，不阻塞
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return fmt.Errorf("%s server is closed", m.name)
	case m.listener != nil:
		return fmt.Errorf("%s server already started", m.name)
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Addr, err)
	}
	m.listener = ln
	m.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		err := m.srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		m.logger.Error("serve failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}()
	return nil
}

// Run 按需启动，然后阻塞到 ctx 结束（返回 nil）或服务异常退出（返回该错误）。
// 适合直接放进 errgroup。
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	started := m.listener != nil
	m.mu.RUnlock()
	if !started {
		if err := m.Start(); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		return m.Shutdown(context.Background())
	case err := <-m.errCh:
		_ = m.Shutdown(context.Background())
		return fmt.Errorf("%s server: %w", m.name, err)
	}
}

// Shutdown 取消进行中的请求 context，然后在 ShutdownTimeout 内等待连接排空。
// 重复调用返回 nil。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.cancelBase()

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Error("shutdown incomplete", zap.Error(err))
		return fmt.Errorf("%s server shutdown: %w", m.name, err)
	}
	m.logger.Info("stopped", zap.Duration("drain", time.Since(start)))
	return nil
}

// Errors 后台 Serve 的异常退出
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// ListenAddr 实际监听地址；未启动时返回配置的地址
func (m *Manager) ListenAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil {
		return m.cfg.Addr
	}
	return m.listener.Addr().String()
}

// IsRunning 已启动且未关闭
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listener != nil && !m.closed
}
