package dispatch

import (
	"fmt"
	"sync"

	"github.com/BaSui01/skillflow/types"
)

// HandlerMux routes plan steps to handlers. Lookup order: exact
// (agent, skill) registration, then skill name, then the fallback handler.
type HandlerMux struct {
	mu       sync.RWMutex
	byAgent  map[string]Handler
	bySkill  map[string]Handler
	fallback Handler
}

// NewHandlerMux creates an empty mux.
func NewHandlerMux() *HandlerMux {
	return &HandlerMux{
		byAgent: make(map[string]Handler),
		bySkill: make(map[string]Handler),
	}
}

// Handle registers a handler for every skill of the given name.
func (m *HandlerMux) Handle(skillName string, h Handler) *HandlerMux {
	m.mu.Lock()
	m.bySkill[skillName] = h
	m.mu.Unlock()
	return m
}

// HandleAgent registers a handler for one agent's skill, shadowing Handle.
func (m *HandlerMux) HandleAgent(agentID, skillName string, h Handler) *HandlerMux {
	m.mu.Lock()
	m.byAgent[agentID+"/"+skillName] = h
	m.mu.Unlock()
	return m
}

// Fallback registers the handler used when no registration matches.
func (m *HandlerMux) Fallback(h Handler) *HandlerMux {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
	return m
}

func (m *HandlerMux) resolve(agentID, skillName string) (Handler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.byAgent[agentID+"/"+skillName]; ok {
		return h, nil
	}
	if h, ok := m.bySkill[skillName]; ok {
		return h, nil
	}
	if m.fallback != nil {
		return m.fallback, nil
	}
	return nil, types.NewError(types.ErrInternal,
		fmt.Sprintf("no handler registered for skill %q of agent %q", skillName, agentID)).
		WithAgent(agentID).
		WithSkill(skillName).
		WithHTTPStatus(500)
}
