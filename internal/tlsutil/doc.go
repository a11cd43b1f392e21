// Package tlsutil 提供远端客户端与 HTTP 服务共用的传输层配置：
// TLS 1.2+、仅 AEAD 密码套件，以及按任务共享的连接池。
package tlsutil
