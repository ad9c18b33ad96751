package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/BaSui01/skillflow/api"
	"github.com/BaSui01/skillflow/history"
	"github.com/BaSui01/skillflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📜 执行历史 Handler
// =============================================================================

// maxListLimit 单页最大条数
const maxListLimit = 500

// ExecutionsHandler 执行历史查询处理器
type ExecutionsHandler struct {
	store        history.Store
	defaultLimit int
	logger       *zap.Logger
}

// NewExecutionsHandler 创建执行历史处理器
func NewExecutionsHandler(store history.Store, defaultLimit int, logger *zap.Logger) *ExecutionsHandler {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &ExecutionsHandler{
		store:        store,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// HandleList 处理执行历史列表请求
// @Summary 执行历史列表
// @Description 返回最近的执行摘要，新者在前
// @Tags 历史
// @Produce json
// @Param limit query int false "最大条数" default(50)
// @Param status query string false "按最终状态过滤（SUCCESS、ESCALATED、TERMINAL_FAILURE）"
// @Success 200 {object} Response "执行摘要列表"
// @Failure 400 {object} Response "无效参数"
// @Router /api/v1/executions [get]
func (h *ExecutionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := h.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrTypeMismatch,
				"limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	statusFilter := strings.ToUpper(r.URL.Query().Get("status"))
	switch statusFilter {
	case "", string(types.StatusSuccess), string(types.StatusEscalated), string(types.StatusTerminalFailure):
	default:
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidEnumValue,
			"status must be SUCCESS, ESCALATED, or TERMINAL_FAILURE", h.logger)
		return
	}

	results, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.handleStoreError(w, err)
		return
	}

	summaries := make([]api.ExecutionSummary, 0, len(results))
	for _, result := range results {
		if statusFilter != "" && string(result.Status) != statusFilter {
			continue
		}
		summaries = append(summaries, api.SummarizeExecution(result))
	}

	WriteSuccess(w, summaries)
}

// HandleGet 处理单条执行查询请求
// @Summary 查询单条执行
// @Description 按跟踪 ID 返回完整执行结果，升级链已重组
// @Tags 历史
// @Produce json
// @Param trace_id path string true "跟踪 ID"
// @Success 200 {object} Response "执行结果"
// @Failure 404 {object} Response "执行不存在"
// @Router /api/v1/executions/{trace_id} [get]
func (h *ExecutionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	traceID := extractTraceID(r)
	if traceID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrMissingField,
			"trace_id path parameter is required", h.logger)
		return
	}

	result, err := h.store.ByTraceID(r.Context(), traceID)
	if err != nil {
		h.handleStoreError(w, err)
		return
	}

	WriteSuccess(w, result)
}

// handleStoreError 处理历史存储返回的错误
func (h *ExecutionsHandler) handleStoreError(w http.ResponseWriter, err error) {
	if typedErr, ok := types.AsError(err); ok {
		WriteError(w, typedErr, h.logger)
		return
	}

	storeErr := types.NewError(types.ErrStorageFailure, "history store error").
		WithCause(err).
		WithRetryable(true)

	WriteError(w, storeErr, h.logger)
}

// extractTraceID 从请求中提取跟踪 ID（Go 1.22+ PathValue 优先，回退到路径解析）
func extractTraceID(r *http.Request) string {
	if id := r.PathValue("trace_id"); id != "" {
		return id
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/executions/")
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		path = path[:idx]
	}
	return path
}
