package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Agent describes one registered agent: its identity, role, and the
// task types it can take on.
type Agent struct {
	ID           string   `yaml:"id"`
	Role         string   `yaml:"role,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty"` // task types this agent handles
	Supervisor   bool     `yaml:"supervisor,omitempty"`
}

// Registry is the roster of agents loaded from agents.yaml.
type Registry struct {
	Agents []Agent `yaml:"agents"`
}

// LoadRegistry reads and validates the agent registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("unmarshal registry: %w", err)
	}

	seen := make(map[string]bool, len(reg.Agents))
	for _, agent := range reg.Agents {
		if agent.ID == "" {
			return nil, fmt.Errorf("registry %s: agent with empty id", path)
		}
		if seen[agent.ID] {
			return nil, fmt.Errorf("registry %s: duplicate agent id %q", path, agent.ID)
		}
		seen[agent.ID] = true
	}
	return &reg, nil
}

// Get returns the agent with the given id, or nil.
func (r *Registry) Get(id string) *Agent {
	for i := range r.Agents {
		if r.Agents[i].ID == id {
			return &r.Agents[i]
		}
	}
	return nil
}

// RouteTaskType returns the id of the first agent whose capabilities
// include the task type, or "" when no agent handles it.
func (r *Registry) RouteTaskType(taskType string) string {
	for _, agent := range r.Agents {
		for _, capability := range agent.Capabilities {
			if capability == taskType {
				return agent.ID
			}
		}
	}
	return ""
}

// Supervisor returns the id of the designated supervisor agent. When
// none is marked, the first registered agent acts as supervisor.
func (r *Registry) Supervisor() string {
	for _, agent := range r.Agents {
		if agent.Supervisor {
			return agent.ID
		}
	}
	if len(r.Agents) > 0 {
		return r.Agents[0].ID
	}
	return ""
}

// IDs returns every registered agent id in file order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.Agents))
	for _, agent := range r.Agents {
		ids = append(ids, agent.ID)
	}
	return ids
}
