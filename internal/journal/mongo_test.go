package journal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/BaSui01/hunyuan3d/manager"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTaskDocument_PreservesFields(t *testing.T) {
	info := sampleInfo("task-1", time.Now(), manager.StateFailed)
	info.Progress = 0.25

	got := documentFromInfo(info).info()

	assertSameInfo(t, info, got)
	assert.Equal(t, info.Progress, got.Progress)
}

// 需要真实 MongoDB：HUNYUAN3D_TEST_MONGO_URI=mongodb://localhost:27017
func TestMongoStore_Integration(t *testing.T) {
	uri := os.Getenv("HUNYUAN3D_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("HUNYUAN3D_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	s, err := NewMongoStore(ctx, MongoOptions{
		URI:        uri,
		Database:   "hunyuan3d_test",
		Collection: "tasks_" + uuid.NewString(),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.coll.Drop(context.Background())
		_ = s.Close()
	})

	base := time.Now()
	first := sampleInfo("a", base, manager.StatePending)
	require.NoError(t, s.Record(ctx, first))
	require.NoError(t, s.Record(ctx, sampleInfo("b", base.Add(time.Second), manager.StatePending)))

	first.State = manager.StateCompleted
	require.NoError(t, s.Record(ctx, first))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assertSameInfo(t, first, got)

	list, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
