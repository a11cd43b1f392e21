// 配置文件变更监听器实现。
//
// 按修改时间和大小轮询配置文件，防抖后触发回调。
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileOp 文件变化类型
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

var fileOpNames = [...]string{"CREATE", "WRITE", "REMOVE"}

func (op FileOp) String() string {
	if op < 0 || int(op) >= len(fileOpNames) {
		return "UNKNOWN"
	}
	return fileOpNames[op]
}

// FileEvent 一次（防抖合并后的）文件变化
type FileEvent struct {
	Path    string
	Op      FileOp
	ModTime time.Time
	Size    int64
}

// fileState 上一次观察到的文件状态
type fileState struct {
	exists  bool
	modTime time.Time
	size    int64
}

// FileWatcher 按修改时间与大小轮询单个配置文件。
// 编辑器保存时常常连续写入多次，防抖窗口内的变化只回调一次。
type FileWatcher struct {
	path     string
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	state     fileState
	callbacks []func(FileEvent)
	running   bool
	stop      chan struct{}
	done      chan struct{}
}

// WatcherOption 配置 FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay 设置防抖窗口
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.debounce = d }
}

// WithPollInterval 设置轮询间隔，非正值忽略
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger 设置日志
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewFileWatcher 创建监听器。文件可以暂不存在，出现后触发 FileOpCreate。
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, errors.New("watch path is empty")
	}
	w := &FileWatcher{
		path:     path,
		interval: time.Second,
		debounce: 100 * time.Millisecond,
		logger:   zap.NewNop(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"), zap.String("path", path))

	st, err := stat(path)
	if err != nil {
		return nil, err
	}
	if !st.exists {
		w.logger.Warn("config file does not exist yet, waiting for it to appear")
	}
	return w, nil
}

// stat 读取文件状态；不存在不算错误
func stat(path string) (fileState, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileState{}, nil
	}
	if err != nil {
		return fileState{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return fileState{exists: true, modTime: info.ModTime(), size: info.Size()}, nil
}

// OnChange 注册回调，回调在轮询 goroutine 中同步执行
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 启动轮询，ctx 取消或 Stop 后退出
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.state, _ = stat(w.path)
	w.mu.Unlock()

	go w.pollLoop(ctx)

	w.logger.Info("file watcher started", zap.Duration("poll_interval", w.interval))
	return nil
}

// Stop 停止轮询并等待 goroutine 退出，可重复调用
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	close(w.stop)
	w.running = false
	w.mu.Unlock()

	<-w.done
	w.logger.Info("file watcher stopped")
	return nil
}

// pollLoop 轮询文件修改时间；连续变化在防抖窗口内合并为一次回调
func (w *FileWatcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		pending  *FileEvent
		debounce <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if ev, ok := w.check(); ok {
				pending = &ev
				debounce = time.After(w.debounce)
			}
		case <-debounce:
			if pending != nil {
				w.dispatch(*pending)
				pending = nil
			}
			debounce = nil
		}
	}
}

// check 对比上次状态，返回需要上报的事件
func (w *FileWatcher) check() (FileEvent, bool) {
	cur, err := stat(w.path)
	if err != nil {
		w.logger.Debug("stat failed", zap.Error(err))
		return FileEvent{}, false
	}

	w.mu.Lock()
	prev := w.state
	w.state = cur
	w.mu.Unlock()

	ev := FileEvent{Path: w.path, ModTime: cur.modTime, Size: cur.size}
	switch {
	case prev.exists && !cur.exists:
		ev.Op = FileOpRemove
	case !prev.exists && cur.exists:
		ev.Op = FileOpCreate
	case cur.exists && (!cur.modTime.Equal(prev.modTime) || cur.size != prev.size):
		ev.Op = FileOpWrite
	default:
		return FileEvent{}, false
	}
	return ev, true
}

func (w *FileWatcher) dispatch(ev FileEvent) {
	w.mu.RLock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	w.logger.Debug("config file changed", zap.Stringer("op", ev.Op), zap.Int64("size", ev.Size))
	for _, cb := range callbacks {
		cb(ev)
	}
}

// Path 被监听的文件
func (w *FileWatcher) Path() string {
	return w.path
}

// IsRunning 是否在轮询
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
