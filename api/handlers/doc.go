// Copyright 2026 Hunyuan3D Bridge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package handlers 提供 hunyuan3d HTTP API 的请求处理器实现。

# 核心类型

  - TaskHandler:     任务提交、查询、取消、清理与远端健康检查
  - EventHub:        按任务分发进度与完成事件，供 websocket 订阅
  - HistoryHandler:  读取任务日志（journal）中的历史快照
  - HealthHandler:   服务健康检查（/health, /healthz, /ready）
  - Response:        统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo:       结构化错误信息，含 code、message、字段级校验详情

# 错误映射

types.ErrorCode 到 HTTP 状态码：INVALID_REQUEST / LOCAL_SETUP → 400，
TASK_NOT_FOUND → 404，TASK_ACTIVE → 409，REMOTE_VALIDATION → 422，
REMOTE_ERROR → 502，MANAGER_CLOSED → 503，其余 → 500。
*/
package handlers
