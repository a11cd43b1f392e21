package mocks

import (
	"sync"
	"time"
)

// ProgressEvent 是一次进度回调
type ProgressEvent struct {
	TaskID  string
	Message string
}

// CompletionEvent 是一次完成回调
type CompletionEvent struct {
	TaskID  string
	Success bool
	Message string
}

// SinkRecorder 记录进度与完成回调，可作为任务的 sink 使用
type SinkRecorder struct {
	mu          sync.Mutex
	progress    []ProgressEvent
	completions []CompletionEvent
	done        chan CompletionEvent
}

// NewSinkRecorder 创建回调记录器
func NewSinkRecorder() *SinkRecorder {
	return &SinkRecorder{done: make(chan CompletionEvent, 64)}
}

// OnProgress 进度回调
func (r *SinkRecorder) OnProgress(taskID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, ProgressEvent{TaskID: taskID, Message: message})
}

// OnComplete 完成回调
func (r *SinkRecorder) OnComplete(taskID string, success bool, message string) {
	ev := CompletionEvent{TaskID: taskID, Success: success, Message: message}
	r.mu.Lock()
	r.completions = append(r.completions, ev)
	r.mu.Unlock()
	select {
	case r.done <- ev:
	default:
	}
}

// Progress 返回进度回调记录
func (r *SinkRecorder) Progress() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressEvent, len(r.progress))
	copy(out, r.progress)
	return out
}

// ProgressMessages 返回进度消息文本
func (r *SinkRecorder) ProgressMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.progress))
	for _, p := range r.progress {
		out = append(out, p.Message)
	}
	return out
}

// Completions 返回完成回调记录
func (r *SinkRecorder) Completions() []CompletionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CompletionEvent, len(r.completions))
	copy(out, r.completions)
	return out
}

// WaitCompletion 等待下一次完成回调
func (r *SinkRecorder) WaitCompletion(timeout time.Duration) (CompletionEvent, bool) {
	select {
	case ev := <-r.done:
		return ev, true
	case <-time.After(timeout):
		return CompletionEvent{}, false
	}
}
