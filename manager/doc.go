// Copyright 2026 Hunyuan3D Bridge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
包 manager 管理 Hunyuan3D 生成任务的完整生命周期：提交、后台轮询、
结果落盘、格式转换交接以及资源清理。

# 概述

远端服务只支持状态轮询。Manager 在提交成功后把任务登记到内存注册表，
由唯一的后台轮询器按固定间隔对所有活跃任务做一次完整扫描（sweep），
根据远端状态推进任务状态机。远端完成后，模型载荷写入任务独占的
scratch 目录，并通过有界 Mailbox 把转换请求交给主循环；转换结果同样
经 Mailbox 回到主循环，再由 Manager 更新注册表并通知调用方。

# 状态机

	Pending ──poll processing/texturing──▶ Processing / Texturing
	   │                                        │
	   └──────────poll completed + payload──────┴──▶ Converting ──▶ Completed
	                                                     │
	   poll error / 无载荷 / 传输失败 / 转换失败 ──────────┴──▶ Failed

Completed 与 Failed 为终态。取消会直接把任务从注册表移除并删除其文件，
远端任务不会被取消。

# 并发模型

  - 注册表由一把互斥锁保护，临界区内不做网络或文件 I/O
  - 回调（ProgressSink / CompletionSink）在锁外调用
  - 转换只由主循环（RunMainLoop 或宿主自行调用 Tick）发起
  - Shutdown 有界等待轮询器退出，然后释放所有 scratch 目录

# 使用示例

	m, err := manager.New(manager.DefaultConfig(), client, converter,
		manager.WithLogger(logger))
	m.Start()
	go m.RunMainLoop(ctx)
	id, err := m.Submit(ctx, manager.SubmitRequest{InputPath: "chair.png"})
	defer m.Shutdown(context.Background())
*/
package manager
