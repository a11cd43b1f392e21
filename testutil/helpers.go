// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 轮询器与主循环都在后台推进任务状态，测试通过这里的辅助函数等待结果，
// 而不是固定 sleep。
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertEventuallyTrue(t, func() bool { return hub.Subscribers(id) == 0 }, time.Second)
//
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// DefaultTimeout 单个测试上下文的默认超时
const DefaultTimeout = 30 * time.Second

// pollStep 条件轮询间隔，需小于测试里常用的 5-10ms tick
const pollStep = 2 * time.Millisecond

// =============================================================================
// 🎯 上下文
// =============================================================================

// TestContext 返回 DefaultTimeout 后到期的上下文，测试结束时自动取消
func TestContext(t testing.TB) context.Context {
	return TestContextWithTimeout(t, DefaultTimeout)
}

// TestContextWithTimeout 同 TestContext，超时由调用方指定
func TestContextWithTimeout(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// ⏱️ 异步等待
// =============================================================================

// eventually 在 timeout 内反复检查 cond
func eventually(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollStep)
	}
}

// AssertEventuallyTrue 断言 cond 在 timeout 内变为 true；msgAndArgs 附加到失败信息
func AssertEventuallyTrue(t testing.TB, cond func() bool, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	if eventually(cond, timeout) {
		return
	}
	if len(msgAndArgs) > 0 {
		if format, ok := msgAndArgs[0].(string); ok {
			t.Errorf("condition not met within %v: "+format, append([]any{timeout}, msgAndArgs[1:]...)...)
			return
		}
	}
	t.Errorf("condition not met within %v", timeout)
}

// WaitForChannel 从 ch 读一个值；超时或通道关闭时 ok 为 false
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (v T, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok = <-ch:
		return v, ok
	case <-timer.C:
		return v, false
	}
}

// =============================================================================
// 🔧 数据
// =============================================================================

// MustJSON 序列化 v，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// WriteFile 在 t.TempDir() 下写入 name 并返回完整路径，例如输入图像或假的 GLB
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
