package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/hunyuan3d/manager"
	"github.com/BaSui01/hunyuan3d/remote"
	"github.com/BaSui01/hunyuan3d/testutil"
	"github.com/BaSui01/hunyuan3d/testutil/fixtures"
	"github.com/BaSui01/hunyuan3d/testutil/mocks"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// --- 测试夹具 ---

type apiHarness struct {
	t      *testing.T
	remote *mocks.RemoteServer
	conv   *mocks.MockConverter
	m      *manager.Manager
	hub    *EventHub
	api    *httptest.Server
}

func newAPIHarness(t *testing.T, pollInterval time.Duration) *apiHarness {
	t.Helper()
	srv := mocks.NewRemoteServer(t)
	conv := mocks.NewMockConverter()

	cfg := manager.DefaultConfig()
	cfg.DefaultEndpoint = srv.URL()
	cfg.PollInterval = pollInterval
	cfg.TickInterval = 5 * time.Millisecond

	logger := zaptest.NewLogger(t)
	client := remote.NewClient(remote.Config{BaseURL: srv.URL(), Timeout: 5 * time.Second})
	m, err := manager.New(cfg, client, conv,
		manager.WithLogger(logger),
		manager.WithScratch(manager.TempScratch{Root: t.TempDir()}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	hub := NewEventHub(logger)
	mux := http.NewServeMux()
	NewTaskHandler(m, hub, nil, logger).Register(mux)
	api := httptest.NewServer(mux)
	t.Cleanup(api.Close)

	return &apiHarness{t: t, remote: srv, conv: conv, m: m, hub: hub, api: api}
}

func (h *apiHarness) do(method, path string, body any) (int, Response) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader([]byte(testutil.MustJSON(body)))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.api.URL+path, reader)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.api.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var out Response
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// submit 写入输入图像并提交，返回任务 ID
func (h *apiHarness) submit(extra map[string]any) string {
	h.t.Helper()
	body := map[string]any{"input_path": testutil.WriteFile(h.t, "chair.png", fixtures.PNG())}
	for k, v := range extra {
		body[k] = v
	}
	code, resp := h.do(http.MethodPost, "/api/v1/tasks", body)
	require.Equal(h.t, http.StatusAccepted, code, "response: %+v", resp.Error)

	var out SubmitTaskResponse
	remarshal(h.t, resp.Data, &out)
	require.NotEmpty(h.t, out.TaskID)
	return out.TaskID
}

func remarshal(t *testing.T, in any, out any) {
	t.Helper()
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

// --- 提交 ---

func TestTaskHandler_Submit(t *testing.T) {
	h := newAPIHarness(t, time.Hour)
	h.remote.QueueUIDs("uid-1")

	input := testutil.WriteFile(t, "chair.png", fixtures.PNG())
	code, resp := h.do(http.MethodPost, "/api/v1/tasks", map[string]any{
		"input_path": input,
		"params":     map[string]any{"seed": 7, "texture": true},
	})

	require.Equal(t, http.StatusAccepted, code)
	var out SubmitTaskResponse
	remarshal(t, resp.Data, &out)
	assert.Equal(t, "uid-1", out.TaskID)
	assert.Equal(t, "pending", out.State)
	assert.Equal(t, h.remote.URL(), out.Endpoint)
	assert.True(t, strings.HasSuffix(out.OutputPath, "chair_hunyuan3d.usd"))

	subs := h.remote.Submissions()
	require.Len(t, subs, 1)
	assert.EqualValues(t, 7, subs[0]["seed"])
	assert.Equal(t, true, subs[0]["texture"])
	// 未给出的字段保留默认值
	assert.EqualValues(t, remote.DefaultParams().OctreeResolution, subs[0]["octree_resolution"])
}

func TestTaskHandler_SubmitErrors(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *apiHarness) map[string]any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing input_path",
			setup:      func(*apiHarness) map[string]any { return map[string]any{} },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name: "input file does not exist",
			setup: func(*apiHarness) map[string]any {
				return map[string]any{"input_path": "/nonexistent/chair.png"}
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "LOCAL_SETUP",
		},
		{
			name: "remote rejects params",
			setup: func(h *apiHarness) map[string]any {
				h.remote.RejectWith(mocks.FieldError{Loc: []any{"body", "seed"}, Msg: "value is not a valid integer", Type: "type_error.integer"})
				return map[string]any{"input_path": testutil.WriteFile(h.t, "chair.png", fixtures.PNG())}
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "REMOTE_VALIDATION",
		},
		{
			name: "remote unavailable",
			setup: func(h *apiHarness) map[string]any {
				h.remote.FailSend(http.StatusServiceUnavailable)
				return map[string]any{"input_path": testutil.WriteFile(h.t, "chair.png", fixtures.PNG())}
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "REMOTE_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t, time.Hour)
			code, resp := h.do(http.MethodPost, "/api/v1/tasks", tt.setup(h))

			assert.Equal(t, tt.wantStatus, code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Empty(t, h.m.Tasks())
		})
	}
}

func TestTaskHandler_SubmitValidationDetails(t *testing.T) {
	h := newAPIHarness(t, time.Hour)
	h.remote.RejectWith(mocks.FieldError{Loc: []any{"body", "seed"}, Msg: "value is not a valid integer", Type: "type_error.integer"})

	_, resp := h.do(http.MethodPost, "/api/v1/tasks", map[string]any{
		"input_path": testutil.WriteFile(t, "chair.png", fixtures.PNG()),
	})

	require.NotNil(t, resp.Error)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "value is not a valid integer", resp.Error.Details[0].Message)
	assert.Equal(t, "body.seed", resp.Error.Details[0].Field())
}

// --- 查询 ---

func TestTaskHandler_GetAndList(t *testing.T) {
	h := newAPIHarness(t, time.Hour)
	h.remote.QueueUIDs("uid-a", "uid-b")
	h.submit(nil)
	h.submit(nil)

	code, resp := h.do(http.MethodGet, "/api/v1/tasks/uid-a", nil)
	require.Equal(t, http.StatusOK, code)
	var info manager.TaskInfo
	remarshal(t, resp.Data, &info)
	assert.Equal(t, "uid-a", info.ID)
	assert.Equal(t, manager.StatePending, info.State)

	code, resp = h.do(http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, code)
	var list []manager.TaskInfo
	remarshal(t, resp.Data, &list)
	assert.Len(t, list, 2)

	_, resp = h.do(http.MethodGet, "/api/v1/tasks?state=completed", nil)
	remarshal(t, resp.Data, &list)
	assert.Empty(t, list)

	code, resp = h.do(http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "TASK_NOT_FOUND", resp.Error.Code)
}

// --- 取消与清理 ---

func TestTaskHandler_Cancel(t *testing.T) {
	h := newAPIHarness(t, time.Hour)
	h.remote.QueueUIDs("uid-1")
	id := h.submit(nil)

	code, resp := h.do(http.MethodDelete, "/api/v1/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	var out CancelTaskResponse
	remarshal(t, resp.Data, &out)
	assert.True(t, out.Cancelled)
	assert.False(t, out.Purged)

	_, ok := h.m.GetTaskInfo(id)
	assert.False(t, ok)

	code, _ = h.do(http.MethodDelete, "/api/v1/tasks/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTaskHandler_CancelPurgeOfPendingTaskRemovesNothing(t *testing.T) {
	h := newAPIHarness(t, time.Hour)
	h.remote.QueueUIDs("uid-1")
	id := h.submit(nil)

	code, resp := h.do(http.MethodDelete, "/api/v1/tasks/"+id+"?purge=true", nil)
	require.Equal(t, http.StatusOK, code)
	var out CancelTaskResponse
	remarshal(t, resp.Data, &out)
	assert.True(t, out.Cancelled)
	assert.False(t, out.Purged, "a pending task has written no output")

	_, ok := h.m.GetTaskInfo(id)
	assert.False(t, ok)
}

func TestTaskHandler_Cleanup(t *testing.T) {
	h := newAPIHarness(t, 10*time.Millisecond)
	h.remote.QueueUIDs("uid-ok", "uid-active")
	h.remote.ScriptStatus("uid-ok", mocks.Failed("out of memory"))

	done := h.submit(nil)
	h.m.Start()
	testutil.AssertEventuallyTrue(t, func() bool {
		info, ok := h.m.GetTaskInfo(done)
		return ok && info.State == manager.StateFailed
	}, 2*time.Second)

	active := h.submit(nil)

	code, resp := h.do(http.MethodPost, "/api/v1/tasks/"+active+"/cleanup", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "TASK_ACTIVE", resp.Error.Code)

	code, _ = h.do(http.MethodPost, "/api/v1/tasks/"+done+"/cleanup", nil)
	assert.Equal(t, http.StatusOK, code)
	_, ok := h.m.GetTaskInfo(done)
	assert.False(t, ok)

	code, _ = h.do(http.MethodPost, "/api/v1/tasks/missing/cleanup", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// --- 远端健康 ---

func TestTaskHandler_RemoteHealth(t *testing.T) {
	h := newAPIHarness(t, time.Hour)

	code, resp := h.do(http.MethodGet, "/api/v1/remote/health", nil)
	assert.Equal(t, http.StatusOK, code)
	var out RemoteHealthResponse
	remarshal(t, resp.Data, &out)
	assert.True(t, out.Healthy)
	assert.Equal(t, h.remote.URL(), out.Endpoint)

	h.remote.SetHealth("busy")
	code, resp = h.do(http.MethodGet, "/api/v1/remote/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Success)
}

// --- websocket 事件流 ---

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func TestTaskHandler_EventsStream(t *testing.T) {
	h := newAPIHarness(t, 10*time.Millisecond)
	h.conv.Blocking()
	h.remote.QueueUIDs("uid-ws")
	h.remote.ScriptStatus("uid-ws", mocks.Status("processing"), mocks.Completed(fixtures.GLB(64)))

	ctx := testutil.TestContextWithTimeout(t, 10*time.Second)
	go func() { _ = h.m.RunMainLoop(ctx) }()

	id := h.submit(nil)
	h.m.Start()

	conn, _, err := websocket.Dial(ctx, wsURL(h.api.URL, "/api/v1/tasks/"+id+"/events"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var snapshot TaskEvent
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))
	assert.Equal(t, EventSnapshot, snapshot.Type)
	assert.Equal(t, id, snapshot.TaskID)
	assert.NotEqual(t, string(manager.StateCompleted), snapshot.State)

	testutil.AssertEventuallyTrue(t, func() bool {
		info, ok := h.m.GetTaskInfo(id)
		return ok && info.State == manager.StateConverting
	}, 5*time.Second)
	h.conv.Release()

	var last TaskEvent
	for {
		var ev TaskEvent
		err := wsjson.Read(ctx, conn, &ev)
		if err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err), "read error: %v", err)
			break
		}
		last = ev
	}
	assert.Equal(t, EventComplete, last.Type)
	require.NotNil(t, last.Success)
	assert.True(t, *last.Success)
	assert.Equal(t, 0, h.hub.Subscribers(id))
}

func TestTaskHandler_EventsTerminalTaskClosesAfterSnapshot(t *testing.T) {
	h := newAPIHarness(t, 10*time.Millisecond)
	h.remote.QueueUIDs("uid-failed")
	h.remote.ScriptStatus("uid-failed", mocks.Failed("out of memory"))

	id := h.submit(nil)
	h.m.Start()
	testutil.AssertEventuallyTrue(t, func() bool {
		info, ok := h.m.GetTaskInfo(id)
		return ok && info.State == manager.StateFailed
	}, 2*time.Second)

	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	conn, _, err := websocket.Dial(ctx, wsURL(h.api.URL, "/api/v1/tasks/"+id+"/events"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var snapshot TaskEvent
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))
	assert.Equal(t, string(manager.StateFailed), snapshot.State)

	var ev TaskEvent
	err = wsjson.Read(ctx, conn, &ev)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestTaskHandler_EventsUnknownTask(t *testing.T) {
	h := newAPIHarness(t, time.Hour)

	resp, err := h.api.Client().Get(h.api.URL + "/api/v1/tasks/missing/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, h.hub.Subscribers("missing"))
}

// --- 替身管理器 ---

type stubManager struct {
	TaskManager
	cleanupErr error
}

func (s stubManager) Cleanup(string) (bool, error) { return false, s.cleanupErr }

func TestTaskHandler_CleanupInternalError(t *testing.T) {
	mux := http.NewServeMux()
	NewTaskHandler(stubManager{cleanupErr: errors.New("disk full")}, nil, nil, zap.NewNop()).Register(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/tasks/x/cleanup", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
