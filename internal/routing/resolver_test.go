package routing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory Backend for resolver tests.
type fakeBackend struct {
	agents   map[string]*Agent
	defaults map[string]*Defaults // by workspace id
	updates  []DefaultsUpdate
	updateWS []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		agents:   map[string]*Agent{},
		defaults: map[string]*Defaults{},
	}
}

func (f *fakeBackend) addAgent(slug string, health HealthStatus, capabilities ...string) {
	f.agents[slug] = &Agent{
		ID:           "agent-" + slug,
		Slug:         slug,
		AdapterKind:  "cli",
		Capabilities: capabilities,
		Health:       health,
	}
}

func (f *fakeBackend) bind(workspaceID, command, slug string) {
	d, ok := f.defaults[workspaceID]
	if !ok {
		d = &Defaults{WorkspaceID: workspaceID, Bindings: map[string]Binding{}}
		f.defaults[workspaceID] = d
	}
	d.Bindings[command] = Binding{AgentSlug: slug}
}

func (f *fakeBackend) Preview(ctx context.Context, workspaceID, command string) ([]Candidate, error) {
	return buildChain(command, f.defaults[workspaceID], f.defaults[GlobalWorkspace]), nil
}

func (f *fakeBackend) GetDefaults(ctx context.Context, workspaceID string) (*Defaults, error) {
	if d, ok := f.defaults[workspaceID]; ok {
		return d, nil
	}
	return &Defaults{WorkspaceID: workspaceID, Bindings: map[string]Binding{}}, nil
}

func (f *fakeBackend) UpdateDefaults(ctx context.Context, workspaceID string, update DefaultsUpdate) error {
	f.updates = append(f.updates, update)
	f.updateWS = append(f.updateWS, workspaceID)
	for command, slug := range update.Set {
		f.bind(workspaceID, command, slug)
	}
	if d, ok := f.defaults[workspaceID]; ok {
		for _, command := range update.Reset {
			delete(d.Bindings, command)
		}
	}
	return nil
}

func (f *fakeBackend) GetAgent(ctx context.Context, slugOrID string) (*Agent, error) {
	if agent, ok := f.agents[slugOrID]; ok {
		return agent, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, slugOrID)
}

func TestResolve_OverrideWins(t *testing.T) {
	backend := newFakeBackend()
	backend.addAgent("fast-coder", HealthHealthy, CapCodeGeneration)
	backend.bind(GlobalWorkspace, "implement-tasks", "other")

	r := NewResolver(backend)
	res, err := r.ResolveAgentForCommand(context.Background(), "ws-1", "implement-tasks", "", "fast-coder")
	require.NoError(t, err)
	assert.Equal(t, SourceOverride, res.Source)
	assert.Equal(t, "fast-coder", res.Agent.Slug)
	assert.Equal(t, []string{CapCodeGeneration}, res.RequiredCapabilities)
}

func TestResolve_DeficientOverrideFallsThroughToWorkspaceDefault(t *testing.T) {
	// Scenario: override missing a capability, valid workspace default
	// present. The resolver returns the workspace default, not an error.
	backend := newFakeBackend()
	backend.addAgent("weak", HealthHealthy)
	backend.addAgent("qa-bot", HealthHealthy, CapQAInterpretation)
	backend.bind("ws-1", "qa-tasks", "qa-bot")

	r := NewResolver(backend)
	res, err := r.ResolveAgentForCommand(context.Background(), "ws-1", "qa-tasks", "", "weak")
	require.NoError(t, err)
	assert.Equal(t, SourceWorkspaceDefault, res.Source)
	assert.Equal(t, "qa-bot", res.Agent.Slug)
}

func TestResolve_GlobalDeficientThenWorkspaceGenericDefault(t *testing.T) {
	// Scenario: "qa-tasks", no override, no workspace binding for the
	// command, global default missing qa_interpretation, workspace "default"
	// binding has it.
	backend := newFakeBackend()
	backend.addAgent("agent-a", HealthHealthy, CapCodeGeneration)
	backend.addAgent("agent-b", HealthHealthy, CapQAInterpretation)
	backend.bind(GlobalWorkspace, "qa-tasks", "agent-a")
	backend.bind("ws-1", DefaultCommand, "agent-b")

	r := NewResolver(backend)
	res, err := r.ResolveAgentForCommand(context.Background(), "ws-1", "qa-tasks", "", "")
	require.NoError(t, err)
	assert.Equal(t, "agent-b", res.Agent.Slug)
	assert.Equal(t, SourceWorkspaceDefault, res.Source)
}

func TestResolve_UnreachableSkippedThenGlobalGenericDefault(t *testing.T) {
	// No workspace default; global command binding unreachable; global
	// "default" binding healthy and capability-sufficient.
	backend := newFakeBackend()
	backend.addAgent("down", HealthUnreachable, CapQAInterpretation)
	backend.addAgent("up", HealthHealthy, CapQAInterpretation)
	backend.bind(GlobalWorkspace, "qa-tasks", "down")
	backend.bind(GlobalWorkspace, DefaultCommand, "up")

	r := NewResolver(backend)
	res, err := r.ResolveAgentForCommand(context.Background(), "ws-1", "qa-tasks", "", "")
	require.NoError(t, err)
	assert.Equal(t, "up", res.Agent.Slug)
	assert.Equal(t, SourceGlobalDefault, res.Source)
}

func TestResolve_NeverReturnsCapabilityDeficientAgent(t *testing.T) {
	backend := newFakeBackend()
	backend.addAgent("planner", HealthHealthy, CapTaskPlanning)
	backend.addAgent("coder", HealthHealthy, CapCodeGeneration)
	backend.addAgent("reviewer", HealthHealthy, CapCodeReview)
	backend.addAgent("qa-bot", HealthHealthy, CapQAInterpretation, CapCodeGeneration)
	for _, slug := range []string{"planner", "coder", "reviewer", "qa-bot"} {
		backend.bind(GlobalWorkspace, DefaultCommand, slug)
	}
	// Bind every command to every agent via the generic default one at a
	// time and verify the capability invariant.
	cases := []struct {
		command  string
		taskType string
	}{
		{"create-tasks", ""},
		{"refine-tasks", ""},
		{"implement-tasks", ""},
		{"implement-tasks", "qa-fix"},
		{"code-review", ""},
		{"qa-tasks", ""},
		{"qa-tasks", "qa"},
	}

	r := NewResolver(backend)
	for _, tc := range cases {
		for slug := range backend.agents {
			backend.bind(GlobalWorkspace, DefaultCommand, slug)
			res, err := r.ResolveAgentForCommand(context.Background(), "ws-1", tc.command, tc.taskType, "")
			if err != nil {
				continue
			}
			missing := missingCapabilities(res.Agent, res.RequiredCapabilities)
			assert.Empty(t, missing,
				"command %q (task type %q) resolved to %q which lacks %v",
				tc.command, tc.taskType, res.Agent.Slug, missing)
		}
	}
}

func TestResolve_ExhaustedChainEnumeratesMissing(t *testing.T) {
	backend := newFakeBackend()
	backend.addAgent("planner", HealthHealthy, CapTaskPlanning)
	backend.bind(GlobalWorkspace, "qa-tasks", "planner")
	backend.bind("ws-1", DefaultCommand, "planner")

	r := NewResolver(backend)
	_, err := r.ResolveAgentForCommand(context.Background(), "ws-1", "qa-tasks", "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCapability)

	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "qa-tasks", capErr.Command)
	assert.Contains(t, capErr.Missing, CapQAInterpretation)
}

func TestResolve_NoCandidates(t *testing.T) {
	backend := newFakeBackend()

	r := NewResolver(backend)
	_, err := r.ResolveAgentForCommand(context.Background(), "ws-1", "qa-tasks", "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRoutingDefaults)
}

func TestResolve_AllCandidatesUnreachable(t *testing.T) {
	backend := newFakeBackend()
	backend.addAgent("down", HealthUnreachable, CapQAInterpretation)
	backend.bind(GlobalWorkspace, "qa-tasks", "down")

	r := NewResolver(backend)
	_, err := r.ResolveAgentForCommand(context.Background(), "ws-1", "qa-tasks", "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentUnreachable)
}

func TestResolve_CommandAliasesAndTaskTypeExtras(t *testing.T) {
	backend := newFakeBackend()
	backend.addAgent("full", HealthHealthy, CapCodeGeneration, CapQAInterpretation)
	backend.addAgent("coder", HealthHealthy, CapCodeGeneration)
	backend.bind(GlobalWorkspace, "implement-tasks", "coder")
	backend.bind(GlobalWorkspace, DefaultCommand, "full")

	r := NewResolver(backend)

	// Alias normalizes onto the same binding.
	res, err := r.ResolveAgentForCommand(context.Background(), "ws-1", "Implement", "", "")
	require.NoError(t, err)
	assert.Equal(t, "coder", res.Agent.Slug)

	// A qa-flavored task type adds qa_interpretation, pushing resolution past
	// the plain coder to the generic default.
	res, err = r.ResolveAgentForCommand(context.Background(), "ws-1", "implement-tasks", "qa-regression", "")
	require.NoError(t, err)
	assert.Equal(t, "full", res.Agent.Slug)
	assert.Contains(t, res.RequiredCapabilities, CapQAInterpretation)
}
