package config

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🔥 热重载
// =============================================================================

// RuntimeMutator 是可在运行时修改的进程级设置
type RuntimeMutator interface {
	SetDefaultEndpoint(url string)
	SetPollInterval(d time.Duration) error
}

// ConfigChange 描述一个可热更新字段的变化
type ConfigChange struct {
	Path     string `json:"path"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// ReloadCallback 重新加载配置后调用
type ReloadCallback func(oldConfig, newConfig *Config, changes []ConfigChange)

// Reloader 在配置文件变化时重新加载，并把可热更新字段应用到运行中的组件。
// 其余字段的变化只记录日志，需重启生效。
type Reloader struct {
	mu        sync.Mutex
	loader    *Loader
	current   *Config
	callbacks []ReloadCallback
	logger    *zap.Logger
}

// NewReloader 创建热重载器
func NewReloader(loader *Loader, current *Config, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{
		loader:  loader,
		current: current,
		logger:  logger.With(zap.String("component", "config_reloader")),
	}
}

// OnReload 注册配置重新加载的回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current 返回当前生效的配置
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// HandleFileEvent 可直接注册为 FileWatcher 回调
func (r *Reloader) HandleFileEvent(ev FileEvent) {
	if ev.Op == FileOpRemove {
		r.logger.Warn("config file removed, keeping current config", zap.String("path", ev.Path))
		return
	}
	if _, err := r.Reload(); err != nil {
		r.logger.Error("config reload failed, keeping current config", zap.Error(err))
	}
}

// Reload 重新加载配置；加载或校验失败时保留旧配置
func (r *Reloader) Reload() ([]ConfigChange, error) {
	next, err := r.loader.Load()
	if err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	changes := DetectChanges(prev, next)
	for _, c := range changes {
		r.logger.Info("config changed",
			zap.String("path", c.Path),
			zap.Any("old", c.OldValue),
			zap.Any("new", c.NewValue))
	}
	for _, cb := range callbacks {
		cb(prev, next, changes)
	}
	return changes, nil
}

// DetectChanges 比较可热更新字段
func DetectChanges(prev, next *Config) []ConfigChange {
	var changes []ConfigChange
	if prev.Remote.BaseURL != next.Remote.BaseURL {
		changes = append(changes, ConfigChange{Path: "remote.base_url", OldValue: prev.Remote.BaseURL, NewValue: next.Remote.BaseURL})
	}
	if prev.Poller.Interval != next.Poller.Interval {
		changes = append(changes, ConfigChange{Path: "poller.interval", OldValue: prev.Poller.Interval, NewValue: next.Poller.Interval})
	}
	return changes
}

// ApplyTo 返回把变化应用到 RuntimeMutator 的回调
func ApplyTo(m RuntimeMutator, logger *zap.Logger) ReloadCallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_, next *Config, changes []ConfigChange) {
		for _, c := range changes {
			switch c.Path {
			case "remote.base_url":
				m.SetDefaultEndpoint(next.Remote.BaseURL)
			case "poller.interval":
				if err := m.SetPollInterval(next.Poller.Interval); err != nil {
					logger.Warn("poll interval not applied", zap.Error(err))
				}
			default:
				logger.Debug("change requires restart", zap.String("path", c.Path))
			}
		}
	}
}

// String 用于日志
func (c ConfigChange) String() string {
	return fmt.Sprintf("%s: %v -> %v", c.Path, c.OldValue, c.NewValue)
}
