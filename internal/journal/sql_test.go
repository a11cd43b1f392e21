package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/hunyuan3d/manager"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	pool := DefaultPoolConfig()
	pool.HealthCheckInterval = 0
	pool.MaxOpenConns = 1
	s, err := OpenSQL("sqlite", filepath.Join(t.TempDir(), "journal.db"), pool, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	pool := DefaultPoolConfig()
	pool.HealthCheckInterval = 0
	pool.MaxTxRetries = 2
	s, err := NewSQLStore(db, pool, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, mock
}

func TestSQLStore_SQLiteRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	info := sampleInfo("task-1", time.Now(), manager.StatePending)

	require.NoError(t, s.Record(ctx, info))

	info.State = manager.StateConverting
	info.Message = "Converting to USD..."
	info.Progress = 0.5
	require.NoError(t, s.Record(ctx, info))

	got, err := s.Get(ctx, "task-1")
	require.NoError(t, err)
	assertSameInfo(t, info, got)
	assert.InDelta(t, 0.5, got.Progress, 1e-9)
}

func TestSQLStore_SQLiteListAndMissing(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, sampleInfo(id, base.Add(time.Duration(i)*time.Second), manager.StateCompleted)))
	}

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_Closed(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.Error(t, s.Record(ctx, sampleInfo("x", time.Now(), manager.StatePending)))
	_, err := s.List(ctx, 1)
	assert.Error(t, err)
	assert.Error(t, s.Ping(ctx))
}

func TestSQLStore_Ping(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.Close()

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetNotFoundOnPostgres(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.Close()

	mock.ExpectQuery(`SELECT .* FROM "task_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RecordRetriesDeadlock(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "task_records"`).WillReturnError(errors.New("ERROR: deadlock detected"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "task_records"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Record(context.Background(), sampleInfo("task-1", time.Now(), manager.StatePending))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RecordNonRetryable(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "task_records"`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err := s.Record(context.Background(), sampleInfo("task-1", time.Now(), manager.StatePending))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("ERROR: deadlock detected"), true},
		{errors.New("pq: could not serialize access (SQLSTATE 40001)"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("Error 1205: Lock wait timeout exceeded"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("database is locked"), true},
		{errors.New("duplicate key value"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}
