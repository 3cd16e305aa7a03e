package registry

import (
	"sync"

	"github.com/meftunca/courier/pkg/types"
)

// AgentInfo describes a registered consumer agent.
type AgentInfo struct {
	ID           types.AgentID `json:"id"`
	Name         string        `json:"name"`
	Capabilities []string      `json:"capabilities"`
}

// Registry maps agent identifiers to their declared capabilities. The
// router consumes it to resolve destinations; registration itself is an
// external concern.
type Registry interface {
	// Get returns the agent info and whether the agent is registered.
	Get(agentID types.AgentID) (AgentInfo, bool)

	// FindByCapability returns the ids of all agents declaring the
	// capability.
	FindByCapability(capability string) []types.AgentID
}

// MemoryRegistry is an in-process Registry implementation.
type MemoryRegistry struct {
	mu     sync.RWMutex
	agents map[types.AgentID]AgentInfo
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{agents: make(map[types.AgentID]AgentInfo)}
}

// Register adds or replaces an agent.
func (r *MemoryRegistry) Register(info AgentInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[info.ID] = info
}

// Deregister removes an agent.
func (r *MemoryRegistry) Deregister(agentID types.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// Get returns the agent info and whether the agent is registered.
func (r *MemoryRegistry) Get(agentID types.AgentID) (AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.agents[agentID]
	return info, ok
}

// FindByCapability returns the ids of all agents declaring the capability.
func (r *MemoryRegistry) FindByCapability(capability string) []types.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []types.AgentID
	for id, info := range r.agents {
		for _, c := range info.Capabilities {
			if c == capability {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}
