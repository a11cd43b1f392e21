// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 hunyuan3d 服务配置 OTLP gRPC 的 TracerProvider 与 MeterProvider，
// 并提供任务数量的可观测 Gauge。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
