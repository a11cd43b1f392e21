// Package config 提供 hunyuan3d 服务的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的优先级加载，
// FileWatcher 监听配置文件，Reloader 检测可热更新字段的变化
// 并把新值应用到运行中的任务管理器（默认服务地址、轮询间隔）。
package config
