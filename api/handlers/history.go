package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/BaSui01/hunyuan3d/internal/journal"
	"github.com/BaSui01/hunyuan3d/manager"
	"github.com/BaSui01/hunyuan3d/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📜 历史记录 Handler
// =============================================================================

// HistoryStore 是 journal.Store 的只读部分
type HistoryStore interface {
	Get(ctx context.Context, id string) (manager.TaskInfo, error)
	List(ctx context.Context, limit int) ([]manager.TaskInfo, error)
}

// HistoryHandler 历史任务查询
type HistoryHandler struct {
	store  HistoryStore
	logger *zap.Logger
}

// NewHistoryHandler 创建历史处理器
func NewHistoryHandler(store HistoryStore, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		store:  store,
		logger: logger.With(zap.String("component", "history_handler")),
	}
}

// Register 注册路由
func (h *HistoryHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/history", h.HandleList)
	mux.HandleFunc("GET /api/v1/history/{id}", h.HandleGet)
}

// HandleList ?limit= 默认 journal.DefaultListLimit
func (h *HistoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, types.ErrInvalidRequest, "limit must be a non-negative integer", h.logger)
			return
		}
		limit = n
	}

	items, err := h.store.List(r.Context(), limit)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to read history").WithCause(err), h.logger)
		return
	}
	if items == nil {
		items = []manager.TaskInfo{}
	}
	WriteSuccess(w, items)
}

// HandleGet 读取单个历史快照
func (h *HistoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, err := h.store.Get(r.Context(), id)
	if errors.Is(err, journal.ErrNotFound) {
		writeNotFound(w, id, h.logger)
		return
	}
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to read history").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, info)
}
