package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hunyuan3d/internal/channel"
	"github.com/BaSui01/hunyuan3d/internal/metrics"
	"github.com/BaSui01/hunyuan3d/internal/retry"
	"github.com/BaSui01/hunyuan3d/remote"
	"github.com/BaSui01/hunyuan3d/types"
)

const journalTimeout = 5 * time.Second

// Manager coordinates submission, polling, conversion and cleanup.
// One instance is shared per process; construct it with New and tear it
// down with Shutdown.
type Manager struct {
	cfg       Config
	client    RemoteClient
	converter Converter
	scratch   ScratchProvider
	journal   Journal
	metrics   *metrics.Collector
	logger    *zap.Logger

	reg *registry

	endpointMu sync.RWMutex
	endpoint   string
	interval   atomic.Int64

	requests *channel.Mailbox[ConversionRequest]
	results  *channel.Mailbox[ConversionResult]

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc
	// convWG 跟踪转换 goroutine，Add 须在 inflightMu 下且 closed 为 false
	convWG sync.WaitGroup

	// ctx 在 Shutdown 时取消，终止轮询与转换
	ctx    context.Context
	cancel context.CancelFunc

	poller       *poller
	lifeMu       sync.Mutex
	startOnce    sync.Once
	shutdownOnce sync.Once
	closed       atomic.Bool
	done         chan struct{}
	shutdownErr  error
}

// New creates a manager. Call Start to begin polling.
func New(cfg Config, client RemoteClient, converter Converter, opts ...Option) (*Manager, error) {
	if client == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "remote client is required")
	}
	if converter == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "converter is required")
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		client:    client,
		converter: converter,
		scratch:   TempScratch{},
		logger:    zap.NewNop(),
		reg:       newRegistry(),
		endpoint:  cfg.DefaultEndpoint,
		requests:  channel.NewMailbox[ConversionRequest](cfg.QueueSize),
		results:   channel.NewMailbox[ConversionResult](cfg.QueueSize),
		inflight:  make(map[string]context.CancelFunc),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	base := m.logger
	m.logger = base.With(zap.String("component", "task_manager"))
	m.interval.Store(int64(cfg.PollInterval))

	policy := retry.NoRetry()
	if cfg.MaxPollRetries > 0 {
		policy = retry.Policy{
			MaxRetries:   cfg.MaxPollRetries,
			InitialDelay: cfg.RetryInitialDelay,
			MaxDelay:     cfg.RetryMaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
			ShouldRetry:  isTransient,
		}
	}
	m.poller = newPoller(m, retry.New(policy, base), base)
	return m, nil
}

// Start launches the background poller. It is safe to call repeatedly.
func (m *Manager) Start() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.closed.Load() {
		return
	}
	m.startOnce.Do(func() {
		m.poller.start(m.ctx)
		m.logger.Info("poller started", zap.Duration("interval", m.PollInterval()))
	})
}

// =============================================================================
// ⚙️ 进程级配置
// =============================================================================

// SetDefaultEndpoint changes the endpoint used by later submissions.
// Tasks already submitted keep the endpoint they captured.
func (m *Manager) SetDefaultEndpoint(url string) {
	m.endpointMu.Lock()
	m.endpoint = url
	m.endpointMu.Unlock()
	m.logger.Info("default endpoint changed", zap.String("endpoint", url))
}

// DefaultEndpoint returns the endpoint used when a submission names none.
func (m *Manager) DefaultEndpoint() string {
	m.endpointMu.RLock()
	defer m.endpointMu.RUnlock()
	return m.endpoint
}

// SetPollInterval changes the sleep before the next sweep.
func (m *Manager) SetPollInterval(d time.Duration) error {
	if d <= 0 {
		return types.Errorf(types.ErrInvalidRequest, "poll interval must be positive, got %s", d)
	}
	m.interval.Store(int64(d))
	m.logger.Info("poll interval changed", zap.Duration("interval", d))
	return nil
}

// PollInterval returns the current sweep interval.
func (m *Manager) PollInterval() time.Duration {
	return time.Duration(m.interval.Load())
}

// Health checks the given endpoint, or the default one when empty.
func (m *Manager) Health(ctx context.Context, endpoint string) bool {
	if endpoint == "" {
		endpoint = m.DefaultEndpoint()
	}
	return m.client.IsHealthy(ctx, endpoint)
}

// =============================================================================
// 🚀 提交与查询
// =============================================================================

// Submit validates the input, sends the job to the remote service and
// starts tracking it. On error nothing is registered and no scratch
// directory is left behind.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if m.closed.Load() {
		return "", types.NewError(types.ErrManagerClosed, "manager is shut down")
	}
	if err := checkInput(req.InputPath); err != nil {
		m.metrics.RecordSubmission(false)
		return "", types.Errorf(types.ErrLocalSetup, "input file not found: %s", req.InputPath).WithCause(err)
	}

	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = DeriveOutputPath(req.InputPath)
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = m.DefaultEndpoint()
	}
	params := remote.DefaultParams()
	if req.Params != nil {
		params = *req.Params
	}

	genReq, err := remote.RequestFromImageFile(req.InputPath, params)
	if err != nil {
		m.metrics.RecordSubmission(false)
		return "", types.NewError(types.ErrLocalSetup, "failed to read input image").WithCause(err)
	}

	taskID, err := m.client.Submit(ctx, endpoint, genReq)
	if err != nil {
		m.metrics.RecordSubmission(false)
		m.logger.Warn("submission rejected",
			zap.String("endpoint", endpoint),
			zap.String("input", req.InputPath),
			zap.Error(err))
		return "", err
	}

	dir, err := m.scratch.Create()
	if err != nil {
		m.metrics.RecordSubmission(false)
		m.logger.Error("scratch dir creation failed, remote job left running",
			zap.String("task_id", taskID), zap.Error(err))
		return "", types.NewError(types.ErrLocalSetup, "failed to create scratch directory").WithCause(err)
	}

	t := &task{
		info: TaskInfo{
			ID:         taskID,
			InputPath:  req.InputPath,
			OutputPath: outputPath,
			Endpoint:   endpoint,
			Params:     params,
			State:      StatePending,
			Message:    msgStarted,
			ScratchDir: dir,
		},
		progress:   req.OnProgress,
		completion: req.OnComplete,
	}
	if err := m.reg.insert(t); err != nil {
		m.releaseScratch(taskID, dir)
		m.metrics.RecordSubmission(false)
		return "", err
	}
	if m.closed.Load() {
		// Shutdown 与提交并发：由移除方负责释放
		if t, ok := m.reg.remove(taskID); ok {
			m.releaseTask(t)
		}
		return "", types.NewError(types.ErrManagerClosed, "manager is shut down")
	}

	m.metrics.RecordSubmission(true)
	m.updateActiveGauge()
	info, _ := m.reg.get(taskID)
	m.record(info)
	if t.progress != nil {
		t.progress(taskID, msgStarted)
	}
	m.logger.Info("task submitted",
		zap.String("task_id", taskID),
		zap.String("endpoint", endpoint),
		zap.String("output", outputPath))
	return taskID, nil
}

// GetTaskInfo returns a snapshot of the task.
func (m *Manager) GetTaskInfo(id string) (TaskInfo, bool) {
	return m.reg.get(id)
}

// Tasks returns snapshots of every tracked task, oldest first.
func (m *Manager) Tasks() []TaskInfo {
	return m.reg.snapshot()
}

// =============================================================================
// 🧹 取消与清理
// =============================================================================

// Cancel stops tracking the task and deletes its scratch resources. The
// remote job is not cancelled. It returns false for unknown ids.
func (m *Manager) Cancel(id string) bool {
	t, ok := m.reg.remove(id)
	if !ok {
		return false
	}
	m.abortConversion(id)
	m.releaseTask(t)
	m.updateActiveGauge()

	info := t.info
	info.Message = "Cancelled"
	info.UpdatedAt = time.Now()
	m.record(info)
	m.logger.Info("task cancelled", zap.String("task_id", id), zap.String("state", string(t.info.State)))
	return true
}

// Cleanup releases a finished task. Active tasks are rejected with
// TASK_ACTIVE; unknown ids return false.
func (m *Manager) Cleanup(id string) (bool, error) {
	info, ok := m.reg.get(id)
	if !ok {
		return false, nil
	}
	if info.State.IsActive() {
		return false, types.Errorf(types.ErrTaskActive, "task %s is still %s", id, info.State)
	}
	t, ok := m.reg.remove(id)
	if !ok {
		return false, nil
	}
	m.releaseTask(t)
	m.logger.Info("task cleaned up", zap.String("task_id", id))
	return true, nil
}

// Discard cancels the task and, when the task reached Completed, removes
// the output file its conversion wrote. A file that already sat at the
// output path of an unfinished task is left alone. ok is false for
// unknown ids; purged reports whether the output was removed.
func (m *Manager) Discard(id string) (purged, ok bool) {
	t, ok := m.reg.remove(id)
	if !ok {
		return false, false
	}
	m.abortConversion(id)
	m.releaseTask(t)
	m.updateActiveGauge()

	info := t.info
	if info.State == StateCompleted {
		err := removeFile(info.OutputPath)
		if err != nil {
			m.logger.Warn("failed to remove output", zap.String("task_id", id), zap.Error(err))
		}
		purged = err == nil
	}

	info.Message = "Cancelled"
	info.UpdatedAt = time.Now()
	m.record(info)
	m.logger.Info("task discarded",
		zap.String("task_id", id),
		zap.String("state", string(t.info.State)),
		zap.Bool("output_removed", purged))
	return purged, true
}

// Shutdown stops the poller, aborts running conversions and waits for
// their goroutines, then releases every tracked task's scratch resources.
// Both waits share one ShutdownTimeout (and ctx) budget.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.logger.Info("shutting down")
		m.lifeMu.Lock()
		m.closed.Store(true)
		m.lifeMu.Unlock()
		m.cancel()

		waitCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
		if err := m.poller.wait(waitCtx); err != nil {
			m.shutdownErr = types.NewError(types.ErrInternalError, "poller did not stop in time").WithCause(err)
			m.logger.Warn("poller did not stop in time", zap.Error(err))
		}

		m.abortAllConversions()
		if err := waitGroup(waitCtx, &m.convWG); err != nil {
			if m.shutdownErr == nil {
				m.shutdownErr = types.NewError(types.ErrInternalError, "conversions did not stop in time").WithCause(err)
			}
			m.logger.Warn("conversions did not stop in time", zap.Error(err))
		}
		m.requests.Close()
		m.results.Close()

		tasks := m.reg.removeAll()
		for _, t := range tasks {
			m.releaseTask(t)
		}
		m.updateActiveGauge()
		close(m.done)
		m.logger.Info("shutdown complete", zap.Int("released", len(tasks)))
	})
	return m.shutdownErr
}

// Done is closed once Shutdown has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) releaseTask(t *task) {
	if err := removeFile(t.info.ArtifactPath); err != nil {
		m.logger.Warn("failed to remove artifact", zap.String("task_id", t.info.ID), zap.Error(err))
	}
	m.releaseScratch(t.info.ID, t.info.ScratchDir)
}

func (m *Manager) releaseScratch(id, dir string) {
	if err := m.scratch.Release(dir); err != nil {
		m.logger.Warn("failed to remove scratch dir",
			zap.String("task_id", id), zap.String("dir", dir), zap.Error(err))
	}
}

// =============================================================================
// 🔄 状态推进
// =============================================================================

// advance 推进状态并在锁外通知 sink、指标与日志
func (m *Manager) advance(id string, to State, message string, mutate func(*TaskInfo)) (change, bool) {
	ch, ok := m.reg.transition(id, to, func(info *TaskInfo) {
		info.Message = message
		if mutate != nil {
			mutate(info)
		}
	})
	if !ok {
		return ch, false
	}
	if ch.from != to {
		m.metrics.RecordTransition(string(ch.from), string(to))
		m.logger.Debug("task transition",
			zap.String("task_id", id),
			zap.String("from", string(ch.from)),
			zap.String("to", string(to)))
		m.record(ch.info)
	}
	if !to.IsActive() {
		m.updateActiveGauge()
	}
	if ch.progress != nil {
		ch.progress(id, message)
	}
	return ch, true
}

// fail 把任务置为 Failed 并通知完成回调
func (m *Manager) fail(id, reason string) {
	ch, ok := m.advance(id, StateFailed, msgFailed(reason), nil)
	if !ok {
		return
	}
	m.logger.Warn("task failed", zap.String("task_id", id), zap.String("reason", reason))
	if ch.completion != nil {
		ch.completion(id, false, reason)
	}
}

func (m *Manager) record(info TaskInfo) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := m.journal.Record(ctx, info); err != nil {
		m.logger.Warn("journal record failed", zap.String("task_id", info.ID), zap.Error(err))
	}
}

func (m *Manager) updateActiveGauge() {
	_, active := m.reg.counts()
	m.metrics.SetActiveTasks(active)
}

// isTransient 判断轮询错误是否值得重试：传输失败与 5xx
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return types.IsRetryable(err)
}
