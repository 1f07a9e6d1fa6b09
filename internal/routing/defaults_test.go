package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateWorkspaceDefaults_Valid(t *testing.T) {
	backend := newFakeBackend()
	backend.addAgent("qa-bot", HealthHealthy, CapQAInterpretation)
	backend.addAgent("coder", HealthHealthy, CapCodeGeneration)

	r := NewResolver(backend)
	err := r.UpdateWorkspaceDefaults(context.Background(), "ws-1", DefaultsUpdate{
		Set:       map[string]string{"qa": "qa-bot", "implement-tasks": "coder"},
		QAProfile: "strict",
	})
	require.NoError(t, err)

	require.Len(t, backend.updates, 1)
	// Command names canonicalized before persistence.
	assert.Equal(t, "qa-bot", backend.updates[0].Set["qa-tasks"])
	assert.Equal(t, "coder", backend.updates[0].Set["implement-tasks"])
	assert.Equal(t, "strict", backend.updates[0].QAProfile)
	assert.Equal(t, "ws-1", backend.updateWS[0])
}

func TestUpdateWorkspaceDefaults_RejectsDeficientAgent(t *testing.T) {
	backend := newFakeBackend()
	backend.addAgent("qa-bot", HealthHealthy, CapQAInterpretation)
	backend.addAgent("planner", HealthHealthy, CapTaskPlanning)

	r := NewResolver(backend)
	err := r.UpdateWorkspaceDefaults(context.Background(), "ws-1", DefaultsUpdate{
		Set: map[string]string{
			"create-tasks": "planner",
			"qa-tasks":     "planner", // deficient
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCapability)

	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "qa-tasks", capErr.Command)
	assert.Equal(t, "planner", capErr.Agent)

	// Whole update rejected: nothing persisted, including the valid pair.
	assert.Empty(t, backend.updates)
}

func TestUpdateWorkspaceDefaults_RejectsUnknownAgent(t *testing.T) {
	backend := newFakeBackend()

	r := NewResolver(backend)
	err := r.UpdateWorkspaceDefaults(context.Background(), "ws-1", DefaultsUpdate{
		Set: map[string]string{"qa-tasks": "ghost"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownAgent)
	assert.Empty(t, backend.updates)
}

func TestUpdateWorkspaceDefaults_RejectsUnknownProfileBeforePersistence(t *testing.T) {
	backend := newFakeBackend()
	backend.addAgent("qa-bot", HealthHealthy, CapQAInterpretation)

	r := NewResolver(backend)

	err := r.UpdateWorkspaceDefaults(context.Background(), "ws-1", DefaultsUpdate{
		Set:       map[string]string{"qa-tasks": "qa-bot"},
		QAProfile: "experimental",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownProfile)
	assert.Empty(t, backend.updates)

	err = r.UpdateWorkspaceDefaults(context.Background(), "ws-1", DefaultsUpdate{
		Set:         map[string]string{"qa-tasks": "qa-bot"},
		DocdexScope: "universe",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownProfile)
	assert.Empty(t, backend.updates)
}

func TestUpdateWorkspaceDefaults_ResetCanonicalized(t *testing.T) {
	backend := newFakeBackend()
	backend.addAgent("qa-bot", HealthHealthy, CapQAInterpretation)
	backend.bind("ws-1", "qa-tasks", "qa-bot")

	r := NewResolver(backend)
	err := r.UpdateWorkspaceDefaults(context.Background(), "ws-1", DefaultsUpdate{
		Reset: []string{"qa"},
	})
	require.NoError(t, err)

	require.Len(t, backend.updates, 1)
	assert.Equal(t, []string{"qa-tasks"}, backend.updates[0].Reset)

	defaults, err := r.GetWorkspaceDefaults(context.Background(), "ws-1")
	require.NoError(t, err)
	_, bound := defaults.Bindings["qa-tasks"]
	assert.False(t, bound)
}
