package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/hunyuan3d/api/handlers"
	"github.com/BaSui01/hunyuan3d/config"
	"github.com/BaSui01/hunyuan3d/testutil"
	"github.com/BaSui01/hunyuan3d/testutil/fixtures"
	"github.com/BaSui01/hunyuan3d/testutil/mocks"
)

func newHandlerUnderTest(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	ctx := testutil.TestContext(t)
	logger := zaptest.NewLogger(t)

	s := NewServer(cfg, config.NewLoader(), "", logger, nil)
	rt, err := newRuntime(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.close(context.Background()) })
	s.rt = rt
	s.initHandlers()
	return s.buildHandler(ctx)
}

func TestServer_RoutesAndAuth(t *testing.T) {
	srv := mocks.NewRemoteServer(t)
	cfg := testConfig(t, srv)
	cfg.Server.APIKeys = []string{"k1"}

	api := httptest.NewServer(newHandlerUnderTest(t, cfg))
	defer api.Close()

	get := func(path, key string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, api.URL+path, nil)
		require.NoError(t, err)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		resp, err := api.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusOK, get("/health", "").StatusCode)
	assert.Equal(t, http.StatusOK, get("/ready", "").StatusCode)
	assert.Equal(t, http.StatusOK, get("/version", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/tasks", "").StatusCode)

	resp := get("/api/v1/tasks", "k1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	var body handlers.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, resp.Header.Get("X-Request-ID"), body.RequestID)

	assert.Equal(t, http.StatusOK, get("/api/v1/history", "k1").StatusCode)
	assert.Equal(t, http.StatusOK, get("/api/v1/remote/health", "k1").StatusCode)
}

func TestServer_ReadyReflectsRemote(t *testing.T) {
	srv := mocks.NewRemoteServer(t)
	srv.SetHealth("unhealthy")

	api := httptest.NewServer(newHandlerUnderTest(t, testConfig(t, srv)))
	defer api.Close()

	resp, err := api.Client().Get(api.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, path string, port int, baseURL string, interval time.Duration) {
	t.Helper()
	body := fmt.Sprintf(`
remote:
  base_url: %s
poller:
  interval: %s
server:
  http_port: %d
  metrics_port: 0
log:
  level: debug
`, baseURL, interval, port)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestServer_LifecycleAndHotReload(t *testing.T) {
	srv := mocks.NewRemoteServer(t)
	port := freePort(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, port, srv.URL(), time.Second)

	loader, cfg, err := loadConfig(path)
	require.NoError(t, err)
	cfg.Scratch.Root = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewServer(cfg, loader, path, zaptest.NewLogger(t), nil)
	require.NoError(t, s.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	testutil.AssertEventuallyTrue(t, func() bool { return checkHTTPHealth(base) == nil }, 3*time.Second)

	// 提交一个任务，确认 API 与管理器已连通
	input := testutil.WriteFile(t, "chair.png", fixtures.PNG())
	body, _ := json.Marshal(handlers.SubmitTaskRequest{InputPath: input})
	resp, err := http.Post(base+"/api/v1/tasks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// 修改轮询间隔，等待热更新生效
	writeConfig(t, path, port, srv.URL(), 250*time.Millisecond)
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	testutil.AssertEventuallyTrue(t, func() bool {
		return s.rt.manager.PollInterval() == 250*time.Millisecond
	}, 5*time.Second)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, s.httpManager.IsRunning())
}

func TestServer_StartRefusesPublicHostWithoutAuth(t *testing.T) {
	srv := mocks.NewRemoteServer(t)
	cfg := testConfig(t, srv)
	cfg.Server.Host = "0.0.0.0"

	s := NewServer(cfg, config.NewLoader(), "", zaptest.NewLogger(t), nil)
	err := s.Start(testutil.TestContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to listen")
	assert.Nil(t, s.rt, "nothing is wired before the check")
}

func TestServer_SubmitConfinesEndpointAndPaths(t *testing.T) {
	srv := mocks.NewRemoteServer(t)
	foreign := mocks.NewRemoteServer(t)
	root := t.TempDir()

	cfg := testConfig(t, srv)
	cfg.Server.FileRoots = []string{root}
	api := httptest.NewServer(newHandlerUnderTest(t, cfg))
	defer api.Close()

	inside := filepath.Join(root, "chair.png")
	require.NoError(t, os.WriteFile(inside, fixtures.PNG(), 0o644))
	outside := testutil.WriteFile(t, "secret.png", fixtures.PNG())

	post := func(req handlers.SubmitTaskRequest) (int, handlers.Response) {
		body, _ := json.Marshal(req)
		resp, err := api.Client().Post(api.URL+"/api/v1/tasks", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out handlers.Response
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	code, _ := post(handlers.SubmitTaskRequest{InputPath: inside, Endpoint: foreign.URL()})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Empty(t, foreign.Submissions(), "input must never reach an unlisted endpoint")

	code, _ = post(handlers.SubmitTaskRequest{InputPath: outside})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = post(handlers.SubmitTaskRequest{InputPath: inside, OutputPath: filepath.Join(t.TempDir(), "x.usd")})
	assert.Equal(t, http.StatusForbidden, code)

	code, resp := post(handlers.SubmitTaskRequest{InputPath: inside})
	assert.Equal(t, http.StatusAccepted, code, "response: %+v", resp.Error)
	assert.Empty(t, foreign.Submissions())
}
