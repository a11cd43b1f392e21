// Copyright 2026 Hunyuan3D Bridge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供测试共享的工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步等待: AssertEventuallyTrue / WaitForChannel，
    轮询等待后台轮询器与主循环推进任务状态
  - 数据工具: MustJSON / WriteFile

# 子包

  - testutil/mocks: RemoteServer（可编排状态序列的 Hunyuan3D API 假服务端）、
    MockConverter（可注入错误与阻塞的格式转换器）、SinkRecorder（记录进度与完成回调）
  - testutil/fixtures: 样例图像与 GLB 字节

# 使用示例

	srv := mocks.NewRemoteServer(t)
	srv.ScriptStatus("uid-1", mocks.Status("processing"), mocks.Completed(fixtures.GLB(64)))
	ctx := testutil.TestContext(t)
*/
package testutil
