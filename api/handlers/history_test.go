package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/hunyuan3d/internal/journal"
	"github.com/BaSui01/hunyuan3d/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHistory struct {
	items     []manager.TaskInfo
	err       error
	lastLimit int
}

func (f *fakeHistory) Get(_ context.Context, id string) (manager.TaskInfo, error) {
	if f.err != nil {
		return manager.TaskInfo{}, f.err
	}
	for _, it := range f.items {
		if it.ID == id {
			return it, nil
		}
	}
	return manager.TaskInfo{}, journal.ErrNotFound
}

func (f *fakeHistory) List(_ context.Context, limit int) ([]manager.TaskInfo, error) {
	f.lastLimit = limit
	return f.items, f.err
}

func newHistoryMux(store HistoryStore) *http.ServeMux {
	mux := http.NewServeMux()
	NewHistoryHandler(store, zap.NewNop()).Register(mux)
	return mux
}

func TestHistoryHandler_List(t *testing.T) {
	store := &fakeHistory{items: []manager.TaskInfo{
		{ID: "t2", State: manager.StateCompleted, CreatedAt: time.Now()},
		{ID: "t1", State: manager.StateFailed, CreatedAt: time.Now().Add(-time.Minute)},
	}}
	mux := newHistoryMux(store)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=10", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, store.lastLimit)
	resp := decodeResponse(t, w)
	var items []manager.TaskInfo
	remarshal(t, resp.Data, &items)
	require.Len(t, items, 2)
	assert.Equal(t, "t2", items[0].ID)
}

func TestHistoryHandler_ListErrors(t *testing.T) {
	tests := []struct {
		name       string
		store      *fakeHistory
		query      string
		wantStatus int
	}{
		{"bad limit", &fakeHistory{}, "?limit=abc", http.StatusBadRequest},
		{"negative limit", &fakeHistory{}, "?limit=-1", http.StatusBadRequest},
		{"store failure", &fakeHistory{err: errors.New("connection refused")}, "", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newHistoryMux(tt.store).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history"+tt.query, nil))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHistoryHandler_ListEmptyIsArray(t *testing.T) {
	w := httptest.NewRecorder()
	newHistoryMux(&fakeHistory{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestHistoryHandler_Get(t *testing.T) {
	store := &fakeHistory{items: []manager.TaskInfo{{ID: "t1", State: manager.StateCompleted}}}
	mux := newHistoryMux(store)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history/t1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	store.err = errors.New("timeout")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history/t1", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
