// Copyright 2026 Hunyuan3D Bridge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
包 remote 提供 Hunyuan3D API 服务端的 HTTP 客户端，支持图像转 3D 的异步提交、
状态轮询、健康检查以及同步生成。

# 概述

服务端只支持轮询，不提供推送或回调。客户端本身无状态：每次调用都携带目标
服务地址（任务提交时捕获的 endpoint），多个任务共享同一个带连接池的
http.Client。

# 核心接口

  - Client.Submit:            POST /send，返回任务 uid
  - Client.Status:            GET /status/{uid}，返回 status / model_base64 / message
  - Client.Health:            GET /health，返回 status 与 worker_id
  - Client.Generate:          POST /generate，同步返回模型字节
  - Client.WaitForCompletion: 轮询直到 completed 或 error

# 错误

传输失败与非 2xx 响应返回 types.ErrRemote；HTTP 422 返回
types.ErrRemoteValidation，Details 中携带服务端给出的字段级错误。
*/
package remote
