// Copyright 2026 Hunyuan3D Bridge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package types 提供 hunyuan3d 任务桥接层的共享错误类型。

# 概述

types 是最底层的公共包，不依赖任何内部包。remote、manager、api 等上层模块
通过统一的 Error / ErrorCode 表达远端失败、参数校验失败、本地准备失败与
格式转换失败，调用方可以用 IsCode / GetErrorCode 判断错误类别而不依赖字符串匹配。

# 错误分类

  - ErrRemote:           传输层或 HTTP 层失败
  - ErrRemoteValidation: 远端拒绝生成参数（HTTP 422），Details 携带字段级信息
  - ErrLocalSetup:       输入文件缺失、临时目录创建失败
  - ErrConversion:       格式转换失败，Message 为宿主提供的错误文本
*/
package types
