/*
Package main 提供 hunyuan3d 桥接服务的程序入口。

# 概述

cmd/hunyuan3d 把任务管理器包装成独立进程：serve 子命令对外提供
HTTP/WebSocket API，generate 子命令在命令行里完成一次图像到 USD 的生成。

# 核心类型

  - Server:      主服务器，管理 API、Metrics 双端口、配置热更新及优雅关闭
  - runtime:     serve 与 generate 共用的组件（指标、历史存储、任务管理器）
  - Middleware:  HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、generate、health、version
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、CORS、RateLimiter、APIKeyAuth、JWTAuth
  - 配置热更新：FileWatcher 监听配置文件，Reloader 把默认服务地址
    与轮询间隔应用到运行中的管理器
  - 优雅关闭：信号 → 停止 API → 停止管理器 → 关闭历史存储 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
