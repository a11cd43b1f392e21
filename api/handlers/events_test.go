package handlers

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/hunyuan3d/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventHub_DeliversToTaskSubscribers(t *testing.T) {
	hub := NewEventHub(zap.NewNop())
	a := hub.Subscribe("task-a")
	b := hub.Subscribe("task-b")
	defer a.Close()
	defer b.Close()

	hub.OnProgress("task-a", "Status: processing")

	ev, ok := testutil.WaitForChannel(a.Events(), time.Second)
	require.True(t, ok)
	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, "Status: processing", ev.Message)
	assert.False(t, ev.Timestamp.IsZero())

	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected event for task-b: %+v", ev)
	default:
	}
}

func TestEventHub_CompleteClosesSubscriptions(t *testing.T) {
	hub := NewEventHub(zap.NewNop())
	sub := hub.Subscribe("t1")

	hub.OnComplete("t1", true, "/out/model.usd")

	ev, ok := <-sub.Events()
	require.True(t, ok)
	assert.Equal(t, EventComplete, ev.Type)
	require.NotNil(t, ev.Success)
	assert.True(t, *ev.Success)

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("t1"))

	// 完成后再 Close 不应 panic
	sub.Close()
}

func TestEventHub_CompleteSurvivesFullBuffer(t *testing.T) {
	hub := NewEventHub(zap.NewNop())
	sub := hub.Subscribe("t1")

	for i := 0; i < subscriberBuffer*2; i++ {
		hub.OnProgress("t1", fmt.Sprintf("Converting to USD... %d%%", i))
	}
	hub.OnComplete("t1", false, "USD conversion failed: boom")

	var last TaskEvent
	for ev := range sub.Events() {
		last = ev
	}
	assert.Equal(t, EventComplete, last.Type)
	assert.Equal(t, "USD conversion failed: boom", last.Message)
}

func TestEventHub_ConcurrentPublishAndClose(t *testing.T) {
	hub := NewEventHub(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		sub := hub.Subscribe("t1")
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hub.OnProgress("t1", "Status: processing")
			}
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()
	hub.OnComplete("t1", true, "done")

	assert.Equal(t, 0, hub.Subscribers("t1"))
}
