package handlers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 📡 任务事件分发
// =============================================================================

// 事件类型
const (
	EventSnapshot = "snapshot"
	EventProgress = "progress"
	EventComplete = "complete"
)

// subscriberBuffer 每个订阅者的缓冲；满时丢弃进度事件
const subscriberBuffer = 32

// TaskEvent 推送给订阅者的事件
type TaskEvent struct {
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id"`
	State     string    `json:"state,omitempty"`
	Message   string    `json:"message,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
	Success   *bool     `json:"success,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription 单个订阅
type Subscription struct {
	taskID string
	ch     chan TaskEvent
	hub    *EventHub
	closed bool // guarded by hub.mu
}

// Events 事件通道；任务完成或取消订阅后关闭
func (s *Subscription) Events() <-chan TaskEvent {
	return s.ch
}

// Close 取消订阅
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// EventHub 把 Manager 的进度与完成回调转发给订阅者。
// Publish 从轮询器和主循环调用，从不阻塞；发送与关闭都在 mu 内完成。
type EventHub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	logger *zap.Logger
}

// NewEventHub 创建事件中心
func NewEventHub(logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger.With(zap.String("component", "event_hub")),
	}
}

// Subscribe 订阅某个任务的事件
func (h *EventHub) Subscribe(taskID string) *Subscription {
	s := &Subscription{
		taskID: taskID,
		ch:     make(chan TaskEvent, subscriberBuffer),
		hub:    h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[taskID] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *EventHub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.taskID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.taskID)
		}
	}
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subscribers 返回某任务当前订阅数
func (h *EventHub) Subscribers(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}

// OnProgress 可直接作为 manager.ProgressSink
func (h *EventHub) OnProgress(taskID, message string) {
	h.Publish(TaskEvent{Type: EventProgress, TaskID: taskID, Message: message})
}

// OnComplete 可直接作为 manager.CompletionSink；完成后关闭该任务的所有订阅
func (h *EventHub) OnComplete(taskID string, success bool, message string) {
	h.Publish(TaskEvent{Type: EventComplete, TaskID: taskID, Message: message, Success: &success})
}

// Publish 非阻塞投递。进度事件在缓冲满时丢弃；完成事件会挤掉最旧的事件，
// 随后关闭通道。
func (h *EventHub) Publish(ev TaskEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[ev.TaskID]
	for s := range set {
		if ev.Type == EventComplete {
			s.deliverFinalLocked(ev)
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.logger.Debug("dropping event for slow subscriber", zap.String("task_id", ev.TaskID))
		}
	}
	if ev.Type == EventComplete {
		delete(h.subs, ev.TaskID)
	}
}

func (s *Subscription) deliverFinalLocked(ev TaskEvent) {
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			s.closeLocked()
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}
