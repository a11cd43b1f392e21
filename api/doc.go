// Package api 描述 hunyuan3d 桥接服务对外暴露的 HTTP 接口。
//
// 处理器实现位于 api/handlers，本包只承载接口文档。
//
// # API Overview
//
// 服务把本地图像提交给 Hunyuan3D 生成服务，后台轮询任务状态，
// 下载 GLB 结果后转换为目标格式（例如 USD）并写入输出路径。
//
//	POST   /api/v1/tasks                 提交任务（202 Accepted）
//	GET    /api/v1/tasks                 列出任务，可按 ?state= 过滤
//	GET    /api/v1/tasks/{id}            查询单个任务
//	DELETE /api/v1/tasks/{id}            取消任务，?purge=true 时删除已完成任务的输出文件
//	POST   /api/v1/tasks/{id}/cleanup    清理已结束任务的输出与临时文件
//	GET    /api/v1/tasks/{id}/events     WebSocket 进度流（先发送快照，完成后正常关闭）
//	GET    /api/v1/remote/health         探测生成服务，?endpoint= 可覆盖地址
//	GET    /api/v1/history               查询已结束任务的持久化记录，?limit=
//	GET    /api/v1/history/{id}          查询单条历史记录
//
// 运维端点不需要认证：
//
//	GET /health, /healthz    存活探针
//	GET /ready, /readyz      就绪探针（生成服务与任务日志可用）
//	GET /version             版本信息
//	GET /metrics             Prometheus 指标（独立端口，默认 9091）
//
// # Authentication
//
// 配置 server.api_keys 后，请求需要携带 X-API-Key 头：
//
//	X-API-Key: your-api-key
//
// 浏览器 WebSocket 无法设置请求头，开启 server.allow_query_api_key 后
// 也可以使用 ?api_key= 查询参数。配置 server.jwt_secret 后，
// 请求还需要携带 HS256 签名的 Bearer token：
//
//	Authorization: Bearer <token>
//
// 服务默认只监听 127.0.0.1。server.host 指向其他地址时必须配置上述任一认证方式，
// 否则拒绝启动。
//
// # Submit Policy
//
// 提交任务时 endpoint 只能是默认生成服务地址或 server.allowed_endpoints 中的地址；
// 配置 server.file_roots 后，input_path 与 output_path（展开符号链接后）
// 必须位于其中某个目录之下。违反约束返回 403。
//
// # Response Envelope
//
// 所有 JSON 响应使用统一包装：
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "REMOTE_VALIDATION", "message": "...", "details": [...]}}
//
// # Base URL
//
// 默认监听地址：
//
//	http://127.0.0.1:8090
package api
