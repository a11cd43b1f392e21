/*
包 server 提供 HTTP 服务器生命周期管理，供 API 与指标两个监听端口复用。

# 核心类型

  - Manager：封装 net/http.Server，提供非阻塞 Start、阻塞式 Run
    （适合放进 errgroup）、带超时的优雅关闭与实际监听地址查询。
  - Config：监听地址、各类超时、请求头上限。

请求 context 派生自 Manager 的 base context，Shutdown 先取消它再排空连接，
websocket 进度流等长连接处理器因此能在关闭超时内退出。
端口传 ":0" 时由系统分配，ListenAddr 返回实际地址。
*/
package server
