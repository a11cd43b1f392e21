package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/hunyuan3d/manager"
	"github.com/BaSui01/hunyuan3d/remote"
	"github.com/BaSui01/hunyuan3d/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// =============================================================================
// 🧊 任务 Handler
// =============================================================================

// TaskManager 是 *manager.Manager 被 HTTP 层使用的部分
type TaskManager interface {
	Submit(ctx context.Context, req manager.SubmitRequest) (string, error)
	GetTaskInfo(id string) (manager.TaskInfo, bool)
	Tasks() []manager.TaskInfo
	Cancel(id string) bool
	Discard(id string) (purged, ok bool)
	Cleanup(id string) (bool, error)
	Health(ctx context.Context, endpoint string) bool
	DefaultEndpoint() string
}

// SubmitTaskRequest POST /api/v1/tasks 请求体
type SubmitTaskRequest struct {
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	// 缺省字段取 remote.DefaultParams()
	Params json.RawMessage `json:"params,omitempty"`
}

// SubmitTaskResponse 提交成功响应
type SubmitTaskResponse struct {
	TaskID     string `json:"task_id"`
	OutputPath string `json:"output_path"`
	Endpoint   string `json:"endpoint"`
	State      string `json:"state"`
}

// CancelTaskResponse 取消响应
type CancelTaskResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
	Purged    bool   `json:"purged"`
}

// RemoteHealthResponse 远端健康检查响应
type RemoteHealthResponse struct {
	Endpoint string `json:"endpoint"`
	Healthy  bool   `json:"healthy"`
}

// TaskHandler 任务相关 HTTP 处理器
type TaskHandler struct {
	tasks   TaskManager
	hub     *EventHub
	origins []string
	policy  SubmitPolicy
	logger  *zap.Logger
}

// NewTaskHandler 创建任务处理器；origins 为 websocket 允许的来源模式
func NewTaskHandler(tasks TaskManager, hub *EventHub, origins []string, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = NewEventHub(logger)
	}
	return &TaskHandler{
		tasks:   tasks,
		hub:     hub,
		origins: origins,
		logger:  logger.With(zap.String("component", "task_handler")),
	}
}

// WithSubmitPolicy 设置提交约束；未设置时只允许默认生成服务地址，路径不受限
func (h *TaskHandler) WithSubmitPolicy(p SubmitPolicy) *TaskHandler {
	h.policy = p
	return h
}

// Register 注册路由
func (h *TaskHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", h.HandleSubmit)
	mux.HandleFunc("GET /api/v1/tasks", h.HandleList)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", h.HandleCancel)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cleanup", h.HandleCleanup)
	mux.HandleFunc("GET /api/v1/tasks/{id}/events", h.HandleEvents)
	mux.HandleFunc("GET /api/v1/remote/health", h.HandleRemoteHealth)
}

// HandleSubmit 提交生成任务
func (h *TaskHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitTaskRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(body.InputPath) == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "input_path is required", h.logger)
		return
	}

	if err := h.checkPolicy(body); err != nil {
		h.logger.Warn("submission refused",
			zap.String("input", body.InputPath),
			zap.String("output", body.OutputPath),
			zap.String("endpoint", body.Endpoint),
			zap.Error(err))
		WriteError(w, err, nil)
		return
	}

	params := remote.DefaultParams()
	if len(body.Params) > 0 {
		if err := json.Unmarshal(body.Params, &params); err != nil {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "invalid params").WithCause(err), h.logger)
			return
		}
	}

	id, err := h.tasks.Submit(r.Context(), manager.SubmitRequest{
		InputPath:  body.InputPath,
		OutputPath: body.OutputPath,
		Endpoint:   body.Endpoint,
		Params:     &params,
		OnProgress: h.hub.OnProgress,
		OnComplete: h.hub.OnComplete,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	resp := SubmitTaskResponse{TaskID: id, State: string(manager.StatePending)}
	if info, ok := h.tasks.GetTaskInfo(id); ok {
		resp.OutputPath = info.OutputPath
		resp.Endpoint = info.Endpoint
		resp.State = string(info.State)
	}
	WriteSuccessStatus(w, http.StatusAccepted, resp)
}

func (h *TaskHandler) checkPolicy(body SubmitTaskRequest) error {
	if err := h.policy.checkEndpoint(body.Endpoint, h.tasks.DefaultEndpoint()); err != nil {
		return err
	}
	if err := h.policy.checkPath("input_path", body.InputPath); err != nil {
		return err
	}
	return h.policy.checkPath("output_path", body.OutputPath)
}

// HandleList 列出任务，?state= 过滤
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tasks := h.tasks.Tasks()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.State) == state {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if tasks == nil {
		tasks = []manager.TaskInfo{}
	}
	WriteSuccess(w, tasks)
}

// HandleGet 读取任务快照
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := h.tasks.GetTaskInfo(id)
	if !ok {
		writeNotFound(w, id, h.logger)
		return
	}
	WriteSuccess(w, info)
}

// HandleCancel 取消任务；?purge=true 时若任务已完成，同时删除它写出的输出文件
func (h *TaskHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))

	var ok, purged bool
	if purge {
		purged, ok = h.tasks.Discard(id)
	} else {
		ok = h.tasks.Cancel(id)
	}
	if !ok {
		writeNotFound(w, id, h.logger)
		return
	}
	WriteSuccess(w, CancelTaskResponse{TaskID: id, Cancelled: true, Purged: purged})
}

// HandleCleanup 清理已结束的任务
func (h *TaskHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.tasks.Cleanup(id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if !ok {
		writeNotFound(w, id, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"task_id": id, "cleaned": true})
}

// HandleRemoteHealth 检查 ?endpoint= 或默认服务地址
func (h *TaskHandler) HandleRemoteHealth(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		endpoint = h.tasks.DefaultEndpoint()
	}
	healthy := h.tasks.Health(r.Context(), endpoint)

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, Response{
		Success:   healthy,
		Data:      RemoteHealthResponse{Endpoint: endpoint, Healthy: healthy},
		Timestamp: time.Now(),
	})
}

// HandleEvents 通过 websocket 推送任务事件：先发送当前快照，再转发进度，
// 收到完成事件或任务已结束时正常关闭连接。
func (h *TaskHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// 先订阅再读快照，避免两者之间的事件丢失
	sub := h.hub.Subscribe(id)
	defer sub.Close()

	info, ok := h.tasks.GetTaskInfo(id)
	if !ok {
		writeNotFound(w, id, h.logger)
		return
	}

	// 进度流可能持续数分钟，解除服务器级读写超时
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.String("task_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())

	snapshot := TaskEvent{
		Type:      EventSnapshot,
		TaskID:    id,
		State:     string(info.State),
		Message:   info.Message,
		Progress:  info.Progress,
		Timestamp: info.UpdatedAt,
	}
	if err := wsjson.Write(ctx, conn, snapshot); err != nil {
		return
	}
	if info.State.IsTerminal() {
		conn.Close(websocket.StatusNormalClosure, "task finished")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				conn.Close(websocket.StatusNormalClosure, "task finished")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				h.logger.Debug("websocket write failed", zap.String("task_id", id), zap.Error(err))
				return
			}
		}
	}
}

func writeNotFound(w http.ResponseWriter, id string, logger *zap.Logger) {
	WriteError(w, types.Errorf(types.ErrTaskNotFound, "task %q not found", id), logger)
}
