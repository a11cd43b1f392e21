package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/hunyuan3d/config"
	"github.com/BaSui01/hunyuan3d/convert"
	"github.com/BaSui01/hunyuan3d/internal/journal"
	"github.com/BaSui01/hunyuan3d/internal/metrics"
	"github.com/BaSui01/hunyuan3d/manager"
	"github.com/BaSui01/hunyuan3d/remote"
	"github.com/BaSui01/hunyuan3d/types"
)

// =============================================================================
// 🧩 共享运行时
// =============================================================================

// runtime 汇集 serve 与 generate 共用的组件
type runtime struct {
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	journal   journal.Store
	client    *remote.Client
	converter manager.Converter
	scratch   manager.TempScratch
	manager   *manager.Manager
	logger    *zap.Logger
}

// newRuntime 按配置装配 指标 → 历史存储 → 远端客户端 → 转换器 → 任务管理器
func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("hunyuan3d", registry, logger)

	store, err := journal.Open(ctx, cfg.Journal, logger)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	client := remote.NewClient(remote.Config{
		BaseURL:      cfg.Remote.BaseURL,
		Timeout:      cfg.Remote.Timeout,
		MaxIdleConns: cfg.Remote.MaxIdleConns,
	}, remote.WithLogger(logger), remote.WithMetrics(collector))

	conv := convert.New(cfg.Converter.Command, cfg.Converter.Args, logger)

	scratch := manager.TempScratch{Root: cfg.Scratch.Root}
	mgr, err := manager.New(managerConfig(cfg), client, conv,
		manager.WithLogger(logger),
		manager.WithMetrics(collector),
		manager.WithJournal(store),
		manager.WithScratch(scratch),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create task manager: %w", err)
	}

	return &runtime{
		registry:  registry,
		metrics:   collector,
		journal:   store,
		client:    client,
		converter: conv,
		scratch:   scratch,
		manager:   mgr,
		logger:    logger,
	}, nil
}

// managerConfig 把配置文件映射为管理器设置
func managerConfig(cfg *config.Config) manager.Config {
	return manager.Config{
		DefaultEndpoint:   cfg.Remote.BaseURL,
		PollInterval:      cfg.Poller.Interval,
		ShutdownTimeout:   cfg.Poller.ShutdownTimeout,
		MaxPollRetries:    cfg.Poller.MaxRetries,
		RetryInitialDelay: cfg.Poller.RetryInitialDelay,
		RetryMaxDelay:     cfg.Poller.RetryMaxDelay,
		QueueSize:         cfg.Handoff.QueueSize,
		TickInterval:      cfg.Handoff.TickInterval,
	}
}

// run 启动轮询器并驱动主循环，直到 ctx 取消或管理器关闭
func (rt *runtime) run(ctx context.Context) error {
	rt.manager.Start()
	err := rt.manager.RunMainLoop(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// close 关闭管理器与历史存储
func (rt *runtime) close(ctx context.Context) error {
	var errs []error
	if err := rt.manager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown manager: %w", err))
	}
	if err := rt.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🧊 单次生成
// =============================================================================

type generateRequest struct {
	InputPath  string
	OutputPath string
	Endpoint   string
	Params     remote.Params
	Progress   func(msg string)
}

type generateResult struct {
	TaskID  string
	Success bool
	// 成功时为输出路径，失败时为原因
	Message string
}

// generate 提交一个任务并等待其结束
func generate(ctx context.Context, cfg *config.Config, logger *zap.Logger, req generateRequest) (generateResult, error) {
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return generateResult{}, err
	}
	return rt.generate(ctx, req)
}

func (rt *runtime) generate(ctx context.Context, req generateRequest) (res generateResult, err error) {
	done := make(chan generateResult, 1)

	loopCtx, stopLoop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return rt.run(gctx) })

	defer func() {
		stopLoop()
		_ = g.Wait()
		if cerr := rt.close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()

	params := req.Params
	id, err := rt.manager.Submit(ctx, manager.SubmitRequest{
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		Endpoint:   req.Endpoint,
		Params:     &params,
		OnProgress: func(_ string, msg string) {
			if req.Progress != nil {
				req.Progress(msg)
			}
		},
		OnComplete: func(taskID string, success bool, msg string) {
			done <- generateResult{TaskID: taskID, Success: success, Message: msg}
		},
	})
	if err != nil {
		return generateResult{}, err
	}

	select {
	case res = <-done:
		return res, nil
	case <-ctx.Done():
		rt.manager.Cancel(id)
		return generateResult{TaskID: id}, ctx.Err()
	}
}

// generateSync 走 /generate 同步接口：生成服务一次性返回模型，不经过任务管理器与轮询
func generateSync(ctx context.Context, cfg *config.Config, logger *zap.Logger, req generateRequest) (res generateResult, err error) {
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return generateResult{}, err
	}
	defer func() {
		if cerr := rt.close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return rt.generateSync(ctx, req)
}

func (rt *runtime) generateSync(ctx context.Context, req generateRequest) (generateResult, error) {
	progress := func(msg string) {
		if req.Progress != nil {
			req.Progress(msg)
		}
	}
	output := req.OutputPath
	if output == "" {
		output = manager.DeriveOutputPath(req.InputPath)
	}

	genReq, err := remote.RequestFromImageFile(req.InputPath, req.Params)
	if err != nil {
		return generateResult{}, types.NewError(types.ErrLocalSetup, "failed to read input image").WithCause(err)
	}
	progress("Generation started")
	model, err := rt.client.Generate(ctx, req.Endpoint, genReq)
	if err != nil {
		return generateResult{}, err
	}
	if len(model) == 0 {
		return generateResult{Message: "no model data received"}, nil
	}

	dir, err := rt.scratch.Create()
	if err != nil {
		return generateResult{}, types.NewError(types.ErrLocalSetup, "failed to create scratch directory").WithCause(err)
	}
	defer func() {
		if err := rt.scratch.Release(dir); err != nil {
			rt.logger.Warn("failed to remove scratch dir", zap.String("dir", dir), zap.Error(err))
		}
	}()
	artifact := filepath.Join(dir, "model.glb")
	if err := os.WriteFile(artifact, model, 0o644); err != nil {
		return generateResult{Message: "failed to process model payload: " + err.Error()}, nil
	}

	progress("Converting to USD...")
	err = rt.converter.Convert(ctx, artifact, output, func(fraction float64) {
		progress(fmt.Sprintf("Converting to USD... %d%%", int(fraction*100)))
	})
	if err != nil {
		return generateResult{Message: "USD conversion failed: " + err.Error()}, nil
	}
	progress("USD conversion completed")
	return generateResult{Success: true, Message: output}, nil
}
