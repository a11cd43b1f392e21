// =============================================================================
// hunyuan3d OpenTelemetry SDK 初始化
// =============================================================================
// 远端客户端的 span 通过全局 TracerProvider 导出；任务数量通过
// 可观测 Gauge 在每次采集时回调读取。
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/BaSui01/hunyuan3d/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InstrumentationName 本服务的 tracer / meter 名称
const InstrumentationName = "github.com/BaSui01/hunyuan3d"

// Providers 持有 SDK 的 TracerProvider 与 MeterProvider。
// 遥测关闭时两者为 nil，全局 provider 保持 otel 默认的 noop 实现。
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init 按配置安装全局 provider。未启用时不连接任何外部服务。
// OTLP gRPC 导出器是惰性连接的，collector 不在线不会导致 Init 失败。
func Init(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "telemetry"))

	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Providers{}, nil
	}

	res, err := newResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	spans, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	metrics, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	p := &Providers{
		tp: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spans),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
		),
		mp: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics)),
			sdkmetric.WithResource(res),
		),
	}

	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return p, nil
}

// newResource 描述本进程：服务名、版本、主机
func newResource(ctx context.Context, service string) (*resource.Resource, error) {
	if service == "" {
		service = "hunyuan3d"
	}
	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(service),
			semconv.ServiceVersion(BuildVersion()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	return res, nil
}

// samplerFor 把采样率映射为 sampler；上游已决定采样的请求沿用父 span 的结果
func samplerFor(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Enabled 是否安装了 SDK provider
func (p *Providers) Enabled() bool {
	return p != nil && p.tp != nil
}

// Tracer 从全局 provider 取服务 tracer
func (p *Providers) Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Meter 从全局 provider 取服务 meter
func (p *Providers) Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

// Shutdown 刷出剩余数据并关闭导出器；nil 或未启用时直接返回
func (p *Providers) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return errors.Join(
		wrapErr("shutdown tracer provider", p.tp.Shutdown(ctx)),
		wrapErr("shutdown meter provider", p.mp.Shutdown(ctx)),
	)
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// =============================================================================
// 📈 任务 Gauge
// =============================================================================

// TaskCounter 返回当前跟踪的任务总数与其中非终态的数量
type TaskCounter func() (total, active int)

// RegisterTaskGauges 注册 hunyuan3d.tasks Gauge，按 scope=all/active 区分。
// 返回的 Registration 用于注销回调。
func RegisterTaskGauges(meter metric.Meter, count TaskCounter) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge("hunyuan3d.tasks",
		metric.WithDescription("Tasks currently tracked by the manager"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create task gauge: %w", err)
	}

	all := metric.WithAttributes(attribute.String("scope", "all"))
	active := metric.WithAttributes(attribute.String("scope", "active"))

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		total, n := count()
		o.ObserveInt64(gauge, int64(total), all)
		o.ObserveInt64(gauge, int64(n), active)
		return nil
	}, gauge)
}

// BuildVersion 读取模块版本，测试与本地构建返回 "dev"
func BuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
