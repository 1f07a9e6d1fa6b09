package routing

import "context"

// Backend is the routing persistence and agent-registry surface. Two
// interchangeable implementations exist: LocalBackend (workspace sqlite) and
// RemoteBackend (routing API), selected at construction from config.
type Backend interface {
	// Preview returns the default-resolution chain for a command in fixed
	// precedence order: workspace binding for the command, global binding for
	// the command, workspace binding for "default", global binding for
	// "default". Tiers with no persisted binding are omitted.
	Preview(ctx context.Context, workspaceID, command string) ([]Candidate, error)

	GetDefaults(ctx context.Context, workspaceID string) (*Defaults, error)

	// UpdateDefaults persists an already-validated update atomically.
	UpdateDefaults(ctx context.Context, workspaceID string, update DefaultsUpdate) error

	// GetAgent resolves an agent by slug or id, including its declared
	// capability set and health status.
	GetAgent(ctx context.Context, slugOrID string) (*Agent, error)
}

// buildChain assembles the precedence chain from workspace and global
// defaults. Shared by backends that store bindings as plain maps.
func buildChain(command string, workspace, global *Defaults) []Candidate {
	type tier struct {
		command  string
		defaults *Defaults
		source   Source
	}
	tiers := []tier{
		{command, workspace, SourceWorkspaceDefault},
		{command, global, SourceGlobalDefault},
		{DefaultCommand, workspace, SourceWorkspaceDefault},
		{DefaultCommand, global, SourceGlobalDefault},
	}

	var chain []Candidate
	for _, t := range tiers {
		if t.defaults == nil {
			continue
		}
		binding, ok := t.defaults.Bindings[t.command]
		if !ok || binding.AgentSlug == "" {
			continue
		}
		chain = append(chain, Candidate{
			Command:   t.command,
			AgentSlug: binding.AgentSlug,
			Source:    t.source,
		})
	}
	return chain
}
