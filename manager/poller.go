package manager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hunyuan3d/internal/retry"
	"github.com/BaSui01/hunyuan3d/remote"
)

// =============================================================================
// 🔁 后台轮询器
// =============================================================================

// poller 是唯一的后台轮询循环：每个间隔对活跃集合做一次完整扫描
type poller struct {
	m       *Manager
	retryer *retry.Retryer
	logger  *zap.Logger
	started chan struct{}
	done    chan struct{}
}

func newPoller(m *Manager, r *retry.Retryer, logger *zap.Logger) *poller {
	return &poller{
		m:       m,
		retryer: r,
		logger:  logger.With(zap.String("component", "poller")),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// start 启动轮询 goroutine
func (p *poller) start(ctx context.Context) {
	close(p.started)
	go p.run(ctx)
}

// run 先睡眠再扫描，直到 ctx 取消
func (p *poller) run(ctx context.Context) {
	defer close(p.done)

	for {
		timer := time.NewTimer(p.m.PollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("poller stopped")
			return
		case <-timer.C:
		}
		p.sweep(ctx)
	}
}

// wait 等待轮询循环退出；从未启动时立即返回
func (p *poller) wait(ctx context.Context) error {
	select {
	case <-p.started:
	default:
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweep 对当前活跃任务各轮询一次，顺序不作保证
func (p *poller) sweep(ctx context.Context) {
	ids := p.m.reg.activeIDs()
	if len(ids) == 0 {
		return
	}

	start := time.Now()
	polled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if p.check(ctx, id) {
			polled++
		}
	}
	p.m.metrics.RecordSweep(polled, time.Since(start))
	p.logger.Debug("sweep finished", zap.Int("polled", polled), zap.Duration("took", time.Since(start)))
}

// check 轮询单个任务并推进状态；返回是否真的发起了请求
func (p *poller) check(ctx context.Context, id string) bool {
	info, ok := p.m.reg.get(id)
	if !ok || !info.State.IsActive() || info.State == StateConverting {
		return false
	}

	st, err := retry.Do(ctx, p.retryer, func() (*remote.StatusResponse, error) {
		return p.m.client.Status(ctx, info.Endpoint, id)
	})
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		p.m.fail(id, reasonStatusCheck(err))
		return true
	}

	switch st.Status {
	case remote.StatusProcessing:
		p.m.advance(id, StateProcessing, msgStatus(st.Status), nil)
	case remote.StatusTexturing:
		p.m.advance(id, StateTexturing, msgStatus(st.Status), nil)
	case remote.StatusCompleted:
		p.completed(ctx, info, st)
	case remote.StatusError:
		reason := st.Message
		if reason == "" {
			reason = reasonUnknown
		}
		p.m.fail(id, reason)
	default:
		p.logger.Warn("unknown remote status, keeping state",
			zap.String("task_id", id), zap.String("status", st.Status))
		p.m.notifyProgress(id, msgStatus(st.Status))
	}
	return true
}

// completed 解码载荷写入 scratch，推进到 Converting 并投递转换请求
func (p *poller) completed(ctx context.Context, info TaskInfo, st *remote.StatusResponse) {
	id := info.ID
	if !st.HasModel() {
		p.m.fail(id, reasonNoModel)
		return
	}

	data, err := st.DecodeModel()
	if err != nil {
		p.m.fail(id, reasonPayload(err))
		return
	}
	artifact, err := writeArtifact(info.ScratchDir, id, data)
	if err != nil {
		p.m.fail(id, reasonPayload(err))
		return
	}

	ch, ok := p.m.advance(id, StateConverting, msgConverting, func(ti *TaskInfo) {
		ti.ArtifactPath = artifact
		ti.Progress = 0
	})
	if !ok {
		// 轮询期间任务已被取消
		_ = removeFile(artifact)
		return
	}

	req := ConversionRequest{TaskID: id, ArtifactPath: artifact, OutputPath: ch.info.OutputPath}
	if err := p.m.requests.Send(ctx, req); err != nil {
		if ctx.Err() == nil {
			p.m.fail(id, "conversion hand-off failed: "+err.Error())
		}
		return
	}
	p.logger.Info("conversion requested",
		zap.String("task_id", id),
		zap.String("artifact", artifact),
		zap.Int("bytes", len(data)))
}
