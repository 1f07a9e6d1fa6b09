package routing

import (
	"context"
	"fmt"
	"sort"
)

// Known tag values accepted on routing-defaults writes. Anything else is
// rejected before persistence.
var (
	knownQAProfiles   = []string{"default", "strict", "smoke"}
	knownDocdexScopes = []string{"workspace", "repository", "global"}
)

// UpdateWorkspaceDefaults validates and persists a routing-defaults update.
// Every (command, agent) pair is checked for capability coverage and the
// profile/scope tags against the known sets before anything is written; a
// single failure rejects the whole update and leaves prior defaults unchanged.
func (r *Resolver) UpdateWorkspaceDefaults(ctx context.Context, workspaceID string, update DefaultsUpdate) error {
	if update.QAProfile != "" && !contains(knownQAProfiles, update.QAProfile) {
		return &UnknownProfileError{Field: "qa_profile", Value: update.QAProfile, Known: knownQAProfiles}
	}
	if update.DocdexScope != "" && !contains(knownDocdexScopes, update.DocdexScope) {
		return &UnknownProfileError{Field: "docdex_scope", Value: update.DocdexScope, Known: knownDocdexScopes}
	}

	canonical := DefaultsUpdate{
		Set:         map[string]string{},
		QAProfile:   update.QAProfile,
		DocdexScope: update.DocdexScope,
	}

	// Validate pairs in a deterministic order so a multi-error update always
	// reports the same offender.
	commands := make([]string, 0, len(update.Set))
	for command := range update.Set {
		commands = append(commands, command)
	}
	sort.Strings(commands)

	for _, rawCommand := range commands {
		slug := update.Set[rawCommand]
		command := CanonicalCommand(rawCommand)
		required := RequiredCapabilities(command, "")

		agent, err := r.backend.GetAgent(ctx, slug)
		if err != nil {
			return fmt.Errorf("bind %q to %q: %w", command, slug, err)
		}
		if missing := missingCapabilities(*agent, required); len(missing) > 0 {
			return &CapabilityError{Command: command, Agent: agent.Slug, Missing: missing}
		}
		canonical.Set[command] = agent.Slug
	}

	for _, rawCommand := range update.Reset {
		canonical.Reset = append(canonical.Reset, CanonicalCommand(rawCommand))
	}

	return r.backend.UpdateDefaults(ctx, workspaceID, canonical)
}

func contains(values []string, v string) bool {
	for _, known := range values {
		if known == v {
			return true
		}
	}
	return false
}
