package types

import "github.com/google/uuid"

// Request is a dispatch request created at ingress. Read-only thereafter;
// cancellation travels on the context.Context passed alongside it.
type Request struct {
	AgentID   string         `json:"agent_id"`
	SkillName string         `json:"skill_name,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	TraceID   string         `json:"trace_id"`
}

// NewRequest creates a request with a generated trace id.
func NewRequest(agentID, skillName string, params map[string]any) *Request {
	return &Request{
		AgentID:   agentID,
		SkillName: skillName,
		Params:    params,
		TraceID:   uuid.NewString(),
	}
}

// EnsureTraceID fills an empty trace id and returns it.
func (r *Request) EnsureTraceID() string {
	if r.TraceID == "" {
		r.TraceID = uuid.NewString()
	}
	return r.TraceID
}

// Param returns a parameter value by name.
func (r *Request) Param(name string) (any, bool) {
	if r.Params == nil {
		return nil, false
	}
	v, ok := r.Params[name]
	return v, ok
}
