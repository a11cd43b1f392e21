// Copyright 2026 Hunyuan3D Bridge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
包 metrics 提供基于 Prometheus 的任务桥接指标采集能力，覆盖
任务生命周期、远端请求、格式转换与 HTTP 四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。指标注册到调用方传入的
prometheus.Registerer（传 nil 时使用默认注册表），按 namespace 隔离。
Collector 的所有记录方法对 nil 接收者安全，未配置指标时调用方无需判空。

# 主要能力

  - 任务指标：提交总数（按 accepted/rejected）、状态转换计数（from/to）、
    当前活跃任务数 Gauge。
  - 远端指标：按 operation（send/status/health/generate）与结果分组的
    请求计数和耗时直方图。
  - 轮询指标：单次 sweep 耗时与被检查的任务数。
  - 转换指标：转换总数与耗时。
  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
*/
package metrics
