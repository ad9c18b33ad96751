// 技能处理器的测试模拟实现。
//
// 支持固定结果、按次失败与延迟场景，驱动引擎的重试和升级路径。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/skillflow/dispatch"
)

// --- StubHandler ---

// StubHandler 对每次调用返回同一个结果，并记录调用次数。
type StubHandler struct {
	mu     sync.Mutex
	calls  int
	detail string
	err    error
	delay  time.Duration
}

// NewStubHandler 创建成功的桩处理器
func NewStubHandler() *StubHandler {
	return &StubHandler{detail: "stub outcome"}
}

// WithDetail 设置返回的 detail 文本
func (h *StubHandler) WithDetail(detail string) *StubHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detail = detail
	return h
}

// WithError 让每次调用都失败
func (h *StubHandler) WithError(err error) *StubHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
	return h
}

// WithDelay 在返回前阻塞指定时长（可被 ctx 取消打断）
func (h *StubHandler) WithDelay(delay time.Duration) *StubHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delay = delay
	return h
}

// Execute 实现 dispatch.Handler
func (h *StubHandler) Execute(ctx context.Context, step *dispatch.StepContext) (*dispatch.StepOutcome, error) {
	h.mu.Lock()
	h.calls++
	detail, err, delay := h.detail, h.err, h.delay
	h.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return &dispatch.StepOutcome{
		Detail: detail,
		Output: map[string]any{"skill": step.Skill.Name, "attempt": step.Attempt},
	}, nil
}

// Calls 返回累计调用次数
func (h *StubHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Reset 清零调用计数
func (h *StubHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = 0
}

// --- FlakyHandler ---

// FlakyHandler 对每个技能先失败 failures 次，之后成功。
// 计数按 (agent, skill) 区分，用于驱动重试与升级链路。
type FlakyHandler struct {
	mu       sync.Mutex
	failures int
	seen     map[string]int
}

// NewFlakyHandler 创建先失败 failures 次的处理器
func NewFlakyHandler(failures int) *FlakyHandler {
	return &FlakyHandler{failures: failures, seen: make(map[string]int)}
}

// Execute 实现 dispatch.Handler
func (h *FlakyHandler) Execute(_ context.Context, step *dispatch.StepContext) (*dispatch.StepOutcome, error) {
	key := step.Agent.ID + "/" + step.Skill.Name

	h.mu.Lock()
	n := h.seen[key]
	h.seen[key] = n + 1
	h.mu.Unlock()

	if n < h.failures {
		return nil, fmt.Errorf("transient failure %d for %s", n+1, key)
	}
	return &dispatch.StepOutcome{Detail: "recovered"}, nil
}

// Attempts 返回某个技能的累计调用次数
func (h *FlakyHandler) Attempts(agentID, skillName string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[agentID+"/"+skillName]
}

// Reset 清空失败计数
func (h *FlakyHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = make(map[string]int)
}

// --- AgentScopedHandler ---

// AgentScopedHandler 按 agent 分派到不同的内层处理器，未命中时用默认
// 处理器。测试升级链时让故障 agent 失败、fallback agent 成功。
type AgentScopedHandler struct {
	mu       sync.RWMutex
	byAgent  map[string]dispatch.Handler
	fallback dispatch.Handler
}

// NewAgentScopedHandler 创建以 fallback 为默认的分派处理器
func NewAgentScopedHandler(fallback dispatch.Handler) *AgentScopedHandler {
	return &AgentScopedHandler{
		byAgent:  make(map[string]dispatch.Handler),
		fallback: fallback,
	}
}

// ForAgent 为指定 agent 绑定处理器
func (h *AgentScopedHandler) ForAgent(agentID string, handler dispatch.Handler) *AgentScopedHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byAgent[agentID] = handler
	return h
}

// Execute 实现 dispatch.Handler
func (h *AgentScopedHandler) Execute(ctx context.Context, step *dispatch.StepContext) (*dispatch.StepOutcome, error) {
	h.mu.RLock()
	handler, ok := h.byAgent[step.Agent.ID]
	h.mu.RUnlock()
	if !ok {
		handler = h.fallback
	}
	return handler.Execute(ctx, step)
}
