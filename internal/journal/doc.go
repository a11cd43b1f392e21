/*
包 journal 持久化任务快照，供进程重启后查询历史任务。

# 概述

任务管理器在提交成功与每次状态转换后调用 Store.Record 写入一条快照；
HTTP 层通过 Get/List 查询历史。写入失败只记录日志，不影响任务本身。

# 后端

  - RedisStore：JSON 值 + 按创建时间排序的 ZSET 索引，键带 TTL。
  - SQLStore：GORM 模型 task_records，支持 postgres / mysql / sqlite，
    内置连接池配置、健康检查与可重试事务。
  - MongoStore：按 _id upsert 的文档集合，created_at 降序索引。
  - Nop：未配置 driver 时使用，所有写入直接丢弃。

Open 根据 config.JournalConfig 选择后端。
*/
package journal
