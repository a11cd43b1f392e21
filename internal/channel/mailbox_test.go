package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_DrainPreservesOrder(t *testing.T) {
	mb := NewMailbox[int](8)
	for i := 0; i < 5; i++ {
		require.NoError(t, mb.Send(context.Background(), i))
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, mb.Drain())
	assert.Empty(t, mb.Drain())
}

func TestMailbox_TrySendWhenFull(t *testing.T) {
	mb := NewMailbox[string](1)

	assert.True(t, mb.TrySend("a"))
	assert.False(t, mb.TrySend("b"))

	stats := mb.Stats()
	assert.Equal(t, int64(1), stats.Sends)
	assert.Equal(t, int64(1), stats.Blocks)
	assert.Equal(t, 1, stats.Length)
}

func TestMailbox_SendBlocksUntilContextDone(t *testing.T) {
	mb := NewMailbox[int](1)
	require.NoError(t, mb.Send(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := mb.Send(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailbox_SendUnblocksOnReceive(t *testing.T) {
	mb := NewMailbox[int](1)
	require.NoError(t, mb.Send(context.Background(), 1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, mb.Send(context.Background(), 2))
	}()

	v, err := mb.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	wg.Wait()
	v, err = mb.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMailbox_Close(t *testing.T) {
	mb := NewMailbox[int](4)
	require.NoError(t, mb.Send(context.Background(), 7))
	mb.Close()
	mb.Close()

	assert.ErrorIs(t, mb.Send(context.Background(), 8), ErrClosed)
	assert.False(t, mb.TrySend(9))
	assert.Equal(t, []int{7}, mb.Drain())

	_, err := mb.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
