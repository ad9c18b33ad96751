package api

import (
	"time"

	"github.com/BaSui01/skillflow/types"
)

// =============================================================================
// 调度请求类型
// =============================================================================

// InvokeRequest 代表一次能力调度请求。
// @Description 调度请求结构
type InvokeRequest struct {
	// 目标智能体 ID
	AgentID string `json:"agent_id" example:"react-agent" binding:"required"`
	// 技能名称（留空时使用智能体的默认技能）
	SkillName string `json:"skill_name,omitempty" example:"render-component"`
	// 技能参数
	Params map[string]any `json:"params,omitempty"`
	// 用于请求跟踪的跟踪 ID（留空时自动生成）
	TraceID string `json:"trace_id,omitempty" example:"trace-123"`
	// 请求超时时长
	Timeout string `json:"timeout,omitempty" example:"30s"`
}

// ToRequest 转换为调度核心的请求类型。
func (r *InvokeRequest) ToRequest() *types.Request {
	return &types.Request{
		AgentID:   r.AgentID,
		SkillName: r.SkillName,
		Params:    r.Params,
		TraceID:   r.TraceID,
	}
}

// =============================================================================
// 执行历史类型
// =============================================================================

// ExecutionSummary 是执行历史列表中的单条摘要。
// @Description 执行摘要结构
type ExecutionSummary struct {
	// 跟踪 ID
	TraceID string `json:"trace_id" example:"trace-123"`
	// 智能体 ID
	AgentID string `json:"agent_id" example:"react-agent"`
	// 根技能名称
	RootSkill string `json:"root_skill" example:"render-component"`
	// 最终状态（SUCCESS、ESCALATED、TERMINAL_FAILURE）
	Status string `json:"status" example:"SUCCESS"`
	// 步骤总数
	Steps int `json:"steps" example:"3"`
	// 升级链深度（0 表示未升级）
	EscalationDepth int `json:"escalation_depth" example:"0"`
	// 错误码（仅失败时）
	ErrorCode string `json:"error_code,omitempty" example:"FALLBACK_EXHAUSTED"`
	// 开始时间
	StartedAt time.Time `json:"started_at"`
	// 执行耗时
	Duration string `json:"duration" example:"1.2s"`
}

// SummarizeExecution 将执行结果折叠为列表摘要。
func SummarizeExecution(result *types.ExecutionResult) ExecutionSummary {
	return ExecutionSummary{
		TraceID:         result.TraceID,
		AgentID:         result.AgentID,
		RootSkill:       result.RootSkill,
		Status:          string(result.Status),
		Steps:           len(result.Steps),
		EscalationDepth: result.Depth(),
		ErrorCode:       string(result.ErrorCode),
		StartedAt:       result.StartedAt,
		Duration:        result.Duration.String(),
	}
}
