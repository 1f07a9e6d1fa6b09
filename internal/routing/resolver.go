package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

type Resolver struct {
	backend Backend
}

func NewResolver(backend Backend) *Resolver {
	return &Resolver{backend: backend}
}

// ResolveAgentForCommand picks the agent that should execute a command.
//
// An override is tried first; if the override agent is capability-deficient or
// unreachable the default chain is consulted as a safety net before any error
// surfaces. Chain candidates are evaluated in fixed precedence order, first
// healthy capability-superset wins. No scoring, no re-ordering: the Source
// field of the result is the audit trail.
func (r *Resolver) ResolveAgentForCommand(ctx context.Context, workspaceID, commandName, taskType, overrideSlug string) (*Resolution, error) {
	command := CanonicalCommand(commandName)
	required := RequiredCapabilities(command, taskType)

	missingUnion := map[string]bool{}
	sawUnreachable := false

	if overrideSlug != "" {
		agent, err := r.backend.GetAgent(ctx, overrideSlug)
		switch {
		case err != nil && !errors.Is(err, ErrUnknownAgent):
			return nil, err
		case err == nil:
			missing := missingCapabilities(*agent, required)
			if len(missing) == 0 && agent.Health != HealthUnreachable {
				return resolution(agent, SourceOverride, required), nil
			}
			// Do not fail yet: fall through to the default chain.
			for _, cap := range missing {
				missingUnion[cap] = true
			}
			if agent.Health == HealthUnreachable {
				sawUnreachable = true
			}
		}
	}

	chain, err := r.backend.Preview(ctx, workspaceID, command)
	if err != nil {
		return nil, err
	}

	for _, candidate := range chain {
		agent, err := r.backend.GetAgent(ctx, candidate.AgentSlug)
		if errors.Is(err, ErrUnknownAgent) {
			continue
		}
		if err != nil {
			return nil, err
		}

		missing := missingCapabilities(*agent, required)
		if len(missing) > 0 {
			for _, cap := range missing {
				missingUnion[cap] = true
			}
			continue
		}
		if agent.Health == HealthUnreachable {
			sawUnreachable = true
			continue
		}
		return resolution(agent, candidate.Source, required), nil
	}

	if len(chain) == 0 && overrideSlug == "" {
		return nil, fmt.Errorf("%w for command %q", ErrNoRoutingDefaults, command)
	}
	if len(missingUnion) > 0 {
		missing := make([]string, 0, len(missingUnion))
		for cap := range missingUnion {
			missing = append(missing, cap)
		}
		sort.Strings(missing)
		return nil, &CapabilityError{Command: command, Missing: missing}
	}
	if sawUnreachable {
		return nil, fmt.Errorf("%w: every candidate for command %q is unreachable", ErrAgentUnreachable, command)
	}
	return nil, fmt.Errorf("%w for command %q", ErrNoRoutingDefaults, command)
}

// GetWorkspaceDefaults returns the persisted bindings for a workspace.
func (r *Resolver) GetWorkspaceDefaults(ctx context.Context, workspaceID string) (*Defaults, error) {
	return r.backend.GetDefaults(ctx, workspaceID)
}

func resolution(agent *Agent, source Source, required []string) *Resolution {
	return &Resolution{
		Agent:                *agent,
		Capabilities:         agent.Capabilities,
		HealthStatus:         agent.Health,
		Source:               source,
		RequiredCapabilities: required,
	}
}
