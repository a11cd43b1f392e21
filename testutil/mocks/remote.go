// RemoteServer 是 Hunyuan3D API 服务端的测试替身。
//
// 支持按 uid 编排状态序列、注入 422 校验错误与传输层故障。
package mocks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// --- 状态脚本 ---

// StatusReply 是 GET /status/{uid} 的一次应答
type StatusReply struct {
	Status      string
	ModelBase64 string
	Message     string
	// HTTPCode 非零时直接返回该状态码
	HTTPCode int
}

// Status 构造只携带状态字段的应答
func Status(s string) StatusReply { return StatusReply{Status: s} }

// Completed 构造携带模型载荷的完成应答
func Completed(model []byte) StatusReply {
	return StatusReply{Status: "completed", ModelBase64: encode(model)}
}

// Failed 构造失败应答
func Failed(message string) StatusReply {
	return StatusReply{Status: "error", Message: message}
}

// HTTPFailure 构造 HTTP 错误应答
func HTTPFailure(code int) StatusReply { return StatusReply{HTTPCode: code} }

// FieldError 是 422 响应中的一项
type FieldError struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// --- RemoteServer ---

// RemoteServer 基于 httptest 的假服务端
type RemoteServer struct {
	srv *httptest.Server

	mu          sync.Mutex
	uids        []string
	scripts     map[string][]StatusReply
	submissions []map[string]any
	statusCalls map[string]int
	rejectWith  []FieldError
	sendCode    int
	health      string
	generated   []byte
}

// NewRemoteServer 启动假服务端，测试结束时自动关闭
func NewRemoteServer(t testing.TB) *RemoteServer {
	t.Helper()
	s := &RemoteServer{
		scripts:     make(map[string][]StatusReply),
		statusCalls: make(map[string]int),
		health:      "healthy",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("GET /status/{uid}", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// URL 返回服务端地址
func (s *RemoteServer) URL() string { return s.srv.URL }

// Close 提前关闭服务端，用于模拟服务不可达
func (s *RemoteServer) Close() { s.srv.Close() }

// QueueUIDs 指定后续 /send 依次返回的 uid；用尽后生成随机 uid
func (s *RemoteServer) QueueUIDs(uids ...string) *RemoteServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uids = append(s.uids, uids...)
	return s
}

// ScriptStatus 编排某个 uid 的状态序列；最后一项会重复返回
func (s *RemoteServer) ScriptStatus(uid string, replies ...StatusReply) *RemoteServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[uid] = append(s.scripts[uid], replies...)
	return s
}

// RejectWith 让 /send 与 /generate 返回 422
func (s *RemoteServer) RejectWith(details ...FieldError) *RemoteServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectWith = details
	return s
}

// FailSend 让 /send 返回指定 HTTP 状态码
func (s *RemoteServer) FailSend(code int) *RemoteServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCode = code
	return s
}

// SetHealth 设置 /health 返回的 status 字段
func (s *RemoteServer) SetHealth(status string) *RemoteServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = status
	return s
}

// SetGenerated 设置 /generate 返回的模型字节
func (s *RemoteServer) SetGenerated(model []byte) *RemoteServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generated = model
	return s
}

// Submissions 返回收到的 /send 请求体
func (s *RemoteServer) Submissions() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// StatusCalls 返回某个 uid 被查询的次数
func (s *RemoteServer) StatusCalls(uid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls[uid]
}

func (s *RemoteServer) handleSend(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decode(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	s.submissions = append(s.submissions, body)
	code := s.sendCode
	var uid string
	if len(s.uids) > 0 {
		uid, s.uids = s.uids[0], s.uids[1:]
	} else {
		uid = uuid.NewString()
	}
	s.mu.Unlock()

	if code != 0 {
		http.Error(w, "server unavailable", code)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uid": uid})
}

func (s *RemoteServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.decode(w, r); !ok {
		return
	}
	s.mu.Lock()
	model := s.generated
	s.mu.Unlock()

	w.Header().Set("Content-Type", "model/gltf-binary")
	_, _ = w.Write(model)
}

func (s *RemoteServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")

	s.mu.Lock()
	s.statusCalls[uid]++
	reply := StatusReply{Status: "processing"}
	if script := s.scripts[uid]; len(script) > 0 {
		reply = script[0]
		if len(script) > 1 {
			s.scripts[uid] = script[1:]
		}
	}
	s.mu.Unlock()

	if reply.HTTPCode != 0 {
		http.Error(w, "status unavailable", reply.HTTPCode)
		return
	}
	resp := map[string]string{"status": reply.Status}
	if reply.ModelBase64 != "" {
		resp["model_base64"] = reply.ModelBase64
	}
	if reply.Message != "" {
		resp["message"] = reply.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *RemoteServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := s.health
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "worker_id": "fake-worker"})
}

// decode 解析请求体；若配置了校验错误则直接返回 422
func (s *RemoteServer) decode(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return nil, false
	}
	s.mu.Lock()
	reject := s.rejectWith
	s.mu.Unlock()
	if len(reject) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": reject})
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
