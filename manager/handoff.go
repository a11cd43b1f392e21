package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hunyuan3d/types"
)

// =============================================================================
// 📬 转换交接
// =============================================================================

// ConversionRequest asks the main loop to convert a downloaded artifact.
type ConversionRequest struct {
	TaskID       string
	ArtifactPath string
	OutputPath   string
}

// ConversionResult carries a finished conversion back to the main loop.
type ConversionResult struct {
	TaskID     string
	OutputPath string
	Err        error
	Duration   time.Duration
}

// RunMainLoop drains the hand-off mailboxes every TickInterval until ctx
// is done or the manager shuts down. Hosts with their own loop may call
// Tick instead.
func (m *Manager) RunMainLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick handles every queued conversion request and result. It returns the
// number of messages processed.
func (m *Manager) Tick() int {
	n := 0
	for _, req := range m.requests.Drain() {
		m.startConversion(req)
		n++
	}
	for _, res := range m.results.Drain() {
		m.completeConversion(res)
		n++
	}
	return n
}

// startConversion 启动一次可取消的转换；重复或过期请求直接忽略
func (m *Manager) startConversion(req ConversionRequest) {
	info, ok := m.reg.get(req.TaskID)
	if !ok || info.State != StateConverting || info.ArtifactPath != req.ArtifactPath {
		m.logger.Debug("stale conversion request ignored", zap.String("task_id", req.TaskID))
		return
	}

	m.inflightMu.Lock()
	if m.closed.Load() {
		m.inflightMu.Unlock()
		return
	}
	if _, running := m.inflight[req.TaskID]; running {
		m.inflightMu.Unlock()
		m.logger.Debug("duplicate conversion request ignored", zap.String("task_id", req.TaskID))
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.inflight[req.TaskID] = cancel
	m.convWG.Add(1)
	m.inflightMu.Unlock()

	m.logger.Info("conversion started",
		zap.String("task_id", req.TaskID),
		zap.String("src", req.ArtifactPath),
		zap.String("dst", req.OutputPath))

	go func() {
		defer m.convWG.Done()
		start := time.Now()
		err := m.converter.Convert(ctx, req.ArtifactPath, req.OutputPath, func(fraction float64) {
			m.reportConversionProgress(req.TaskID, fraction)
		})
		res := ConversionResult{
			TaskID:     req.TaskID,
			OutputPath: req.OutputPath,
			Err:        err,
			Duration:   time.Since(start),
		}
		if sendErr := m.results.Send(m.ctx, res); sendErr != nil {
			m.logger.Debug("conversion result dropped",
				zap.String("task_id", req.TaskID), zap.Error(sendErr))
		}
	}()
}

// completeConversion 根据转换结果把任务推进到终态
func (m *Manager) completeConversion(res ConversionResult) {
	m.inflightMu.Lock()
	if cancel, ok := m.inflight[res.TaskID]; ok {
		cancel()
		delete(m.inflight, res.TaskID)
	}
	m.inflightMu.Unlock()

	info, ok := m.reg.get(res.TaskID)
	if !ok || info.State != StateConverting {
		return
	}
	m.metrics.RecordConversion(res.Err == nil, res.Duration)

	if res.Err != nil {
		reason := conversionReason(res.Err)
		ch, ok := m.advance(res.TaskID, StateFailed, msgConversionFailed(reason), nil)
		if !ok {
			return
		}
		m.logger.Warn("conversion failed", zap.String("task_id", res.TaskID), zap.Error(res.Err))
		if ch.completion != nil {
			ch.completion(res.TaskID, false, reason)
		}
		return
	}

	// 中间产物先删除，再对外可见 Completed
	if err := removeFile(info.ArtifactPath); err != nil {
		m.logger.Warn("failed to remove artifact", zap.String("task_id", res.TaskID), zap.Error(err))
	}
	ch, ok := m.advance(res.TaskID, StateCompleted, msgConversionDone, func(ti *TaskInfo) {
		ti.ArtifactPath = ""
		ti.Progress = 1
	})
	if !ok {
		return
	}
	m.logger.Info("conversion completed",
		zap.String("task_id", res.TaskID),
		zap.String("output", res.OutputPath),
		zap.Duration("took", res.Duration))
	if ch.completion != nil {
		ch.completion(res.TaskID, true, res.OutputPath)
	}
}

// reportConversionProgress 仅在任务仍处于 Converting 时转发进度
func (m *Manager) reportConversionProgress(id string, fraction float64) {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	msg := msgConvertingPercent(fraction)
	ch, ok := m.reg.update(id, func(info *TaskInfo) bool {
		if info.State != StateConverting {
			return false
		}
		info.Progress = fraction
		info.Message = msg
		return true
	})
	if ok && ch.progress != nil {
		ch.progress(id, msg)
	}
}

// notifyProgress 更新消息并通知进度回调，不改变状态
func (m *Manager) notifyProgress(id, msg string) {
	ch, ok := m.reg.update(id, func(info *TaskInfo) bool {
		if !info.State.IsActive() {
			return false
		}
		info.Message = msg
		return true
	})
	if ok && ch.progress != nil {
		ch.progress(id, msg)
	}
}

func (m *Manager) abortConversion(id string) {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	if cancel, ok := m.inflight[id]; ok {
		cancel()
		delete(m.inflight, id)
	}
}

func (m *Manager) abortAllConversions() {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	for id, cancel := range m.inflight {
		cancel()
		delete(m.inflight, id)
	}
}

// waitGroup 等待 wg 归零，ctx 先结束时返回 ctx.Err()
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// conversionReason 提取转换错误文本
func conversionReason(err error) string {
	if e, ok := types.AsError(err); ok && e.Code == types.ErrConversion {
		if e.Cause != nil {
			return e.Message + ": " + e.Cause.Error()
		}
		return e.Message
	}
	if errors.Is(err, context.Canceled) {
		return "conversion cancelled"
	}
	return err.Error()
}
