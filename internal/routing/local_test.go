package routing

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newLocalBackend(t *testing.T) *LocalBackend {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "mcoda.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	backend, err := NewLocalBackend(db)
	require.NoError(t, err)
	return backend
}

func TestLocalBackend_AgentRoundTrip(t *testing.T) {
	backend := newLocalBackend(t)
	ctx := context.Background()

	agent := &Agent{
		ID:           "agent-1",
		Slug:         "qa-bot",
		AdapterKind:  "cli",
		Capabilities: []string{CapQAInterpretation, CapCodeReview},
		Health:       HealthHealthy,
		LatencyMS:    120,
		Rating:       4.5,
		CostPerMTok:  3.0,
	}
	require.NoError(t, backend.UpsertAgent(ctx, agent))

	bySlug, err := backend.GetAgent(ctx, "qa-bot")
	require.NoError(t, err)
	assert.Equal(t, agent.Capabilities, bySlug.Capabilities)
	assert.Equal(t, HealthHealthy, bySlug.Health)

	byID, err := backend.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "qa-bot", byID.Slug)

	_, err = backend.GetAgent(ctx, "nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestLocalBackend_DefaultsAndPreviewOrder(t *testing.T) {
	backend := newLocalBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.UpdateDefaults(ctx, "ws-1", DefaultsUpdate{
		Set: map[string]string{"qa-tasks": "ws-qa", DefaultCommand: "ws-any"},
	}))
	require.NoError(t, backend.UpdateDefaults(ctx, GlobalWorkspace, DefaultsUpdate{
		Set: map[string]string{"qa-tasks": "global-qa", DefaultCommand: "global-any"},
	}))

	chain, err := backend.Preview(ctx, "ws-1", "qa-tasks")
	require.NoError(t, err)
	require.Len(t, chain, 4)
	assert.Equal(t, Candidate{Command: "qa-tasks", AgentSlug: "ws-qa", Source: SourceWorkspaceDefault}, chain[0])
	assert.Equal(t, Candidate{Command: "qa-tasks", AgentSlug: "global-qa", Source: SourceGlobalDefault}, chain[1])
	assert.Equal(t, Candidate{Command: DefaultCommand, AgentSlug: "ws-any", Source: SourceWorkspaceDefault}, chain[2])
	assert.Equal(t, Candidate{Command: DefaultCommand, AgentSlug: "global-any", Source: SourceGlobalDefault}, chain[3])
}

func TestLocalBackend_PreviewGlobalWorkspaceHasNoWorkspaceTier(t *testing.T) {
	backend := newLocalBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.UpdateDefaults(ctx, GlobalWorkspace, DefaultsUpdate{
		Set: map[string]string{"qa-tasks": "global-qa"},
	}))

	chain, err := backend.Preview(ctx, GlobalWorkspace, "qa-tasks")
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, SourceGlobalDefault, chain[0].Source)
}

func TestLocalBackend_UpdateSetAndReset(t *testing.T) {
	backend := newLocalBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.UpdateDefaults(ctx, "ws-1", DefaultsUpdate{
		Set:       map[string]string{"qa-tasks": "qa-bot", "code-review": "reviewer"},
		QAProfile: "strict",
	}))

	defaults, err := backend.GetDefaults(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, defaults.Bindings, 2)
	assert.Equal(t, "qa-bot", defaults.Bindings["qa-tasks"].AgentSlug)
	assert.Equal(t, "strict", defaults.Bindings["qa-tasks"].QAProfile)

	require.NoError(t, backend.UpdateDefaults(ctx, "ws-1", DefaultsUpdate{
		Reset: []string{"qa-tasks"},
	}))

	defaults, err = backend.GetDefaults(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, defaults.Bindings, 1)
	_, bound := defaults.Bindings["qa-tasks"]
	assert.False(t, bound)
	assert.Equal(t, "reviewer", defaults.Bindings["code-review"].AgentSlug)
}

func TestLocalBackend_ResolverEndToEnd(t *testing.T) {
	backend := newLocalBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.UpsertAgent(ctx, &Agent{
		ID: "a-1", Slug: "qa-bot", Capabilities: []string{CapQAInterpretation}, Health: HealthHealthy,
	}))
	require.NoError(t, backend.UpsertAgent(ctx, &Agent{
		ID: "a-2", Slug: "coder", Capabilities: []string{CapCodeGeneration}, Health: HealthHealthy,
	}))

	r := NewResolver(backend)
	require.NoError(t, r.UpdateWorkspaceDefaults(ctx, "ws-1", DefaultsUpdate{
		Set: map[string]string{"qa": "qa-bot", "implement": "coder"},
	}))

	res, err := r.ResolveAgentForCommand(ctx, "ws-1", "qa-tasks", "", "")
	require.NoError(t, err)
	assert.Equal(t, "qa-bot", res.Agent.Slug)
	assert.Equal(t, SourceWorkspaceDefault, res.Source)
}
