package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/skillflow/api"
	"github.com/BaSui01/skillflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🚀 调度接口 Handler
// =============================================================================

// Dispatcher 是 invoke 接口依赖的调度核心能力。
type Dispatcher interface {
	Invoke(ctx context.Context, req *types.Request) (*types.ExecutionResult, error)
}

// InvokeHandler 调度接口处理器
type InvokeHandler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewInvokeHandler 创建调度处理器
func NewInvokeHandler(dispatcher Dispatcher, logger *zap.Logger) *InvokeHandler {
	return &InvokeHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleInvoke 处理能力调度请求
// @Summary 调度能力
// @Description 解析技能依赖并执行调度计划
// @Tags 调度
// @Accept json
// @Produce json
// @Param request body api.InvokeRequest true "调度请求"
// @Success 200 {object} Response "执行结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "技能不存在"
// @Failure 409 {object} Response "跟踪 ID 冲突"
// @Failure 503 {object} Response "智能体不可用"
// @Router /api/v1/invoke [post]
func (h *InvokeHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.InvokeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.validateInvokeRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	ctx := r.Context()
	if req.Timeout != "" {
		// validateInvokeRequest 已保证可解析
		d, _ := time.ParseDuration(req.Timeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	result, err := h.dispatcher.Invoke(ctx, req.ToRequest())
	if err != nil {
		h.handleDispatchError(w, err)
		return
	}

	h.logger.Info("invoke completed",
		zap.String("trace_id", result.TraceID),
		zap.String("agent_id", result.AgentID),
		zap.String("root_skill", result.RootSkill),
		zap.String("status", string(result.Status)),
		zap.Duration("duration", time.Since(start)),
	)

	WriteSuccess(w, result)
}

// validateInvokeRequest 验证调度请求
func (h *InvokeHandler) validateInvokeRequest(req *api.InvokeRequest) *types.Error {
	if req.AgentID == "" {
		return types.NewError(types.ErrMissingField, "agent_id is required")
	}

	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			return types.NewError(types.ErrTypeMismatch, "timeout must be a duration like 30s").
				WithCause(err)
		}
		if d <= 0 {
			return types.NewError(types.ErrInvalidEnumValue, "timeout must be positive")
		}
	}

	return nil
}

// handleDispatchError 处理调度核心返回的错误
func (h *InvokeHandler) handleDispatchError(w http.ResponseWriter, err error) {
	if typedErr, ok := types.AsError(err); ok {
		WriteError(w, typedErr, h.logger)
		return
	}

	internalErr := types.NewError(types.ErrInternal, "dispatch error").
		WithCause(err).
		WithRetryable(false)

	WriteError(w, internalErr, h.logger)
}
