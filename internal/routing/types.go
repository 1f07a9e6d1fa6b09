// Package routing resolves which agent should execute a workflow command,
// using a fixed precedence chain with capability and health gating, and
// manages persisted routing defaults.
package routing

import "time"

type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnreachable HealthStatus = "unreachable"
)

// Agent is the capability registry's view of one configured agent. Read-only
// here.
type Agent struct {
	ID           string       `json:"id"`
	Slug         string       `json:"slug"`
	AdapterKind  string       `json:"adapter_kind"`
	Capabilities []string     `json:"capabilities"`
	Health       HealthStatus `json:"health_status"`
	LatencyMS    int          `json:"latency_ms"`
	Rating       float64      `json:"rating"`
	CostPerMTok  float64      `json:"cost_per_mtok"`
}

// Source is the provenance tier that produced a routing decision.
type Source string

const (
	SourceOverride         Source = "override"
	SourceWorkspaceDefault Source = "workspace_default"
	SourceGlobalDefault    Source = "global_default"
)

// GlobalWorkspace is the workspace id under which global routing defaults are
// stored.
const GlobalWorkspace = ""

// Binding maps one command to a preferred agent within a workspace.
type Binding struct {
	AgentSlug   string    `json:"agent_slug"`
	QAProfile   string    `json:"qa_profile,omitempty"`
	DocdexScope string    `json:"docdex_scope,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Defaults holds all bindings persisted for one workspace.
type Defaults struct {
	WorkspaceID string             `json:"workspace_id"`
	Bindings    map[string]Binding `json:"bindings"`
}

// Candidate is one entry of the default-resolution chain, in precedence order.
type Candidate struct {
	Command   string `json:"command"`
	AgentSlug string `json:"agent_slug"`
	Source    Source `json:"source"`
}

// DefaultsUpdate describes a routing-defaults write. Set binds commands to
// agents, Reset clears bindings, and the profile/scope tags are applied to
// every binding being set.
type DefaultsUpdate struct {
	Set         map[string]string `json:"set,omitempty"`
	Reset       []string          `json:"reset,omitempty"`
	QAProfile   string            `json:"qa_profile,omitempty"`
	DocdexScope string            `json:"docdex_scope,omitempty"`
}

// Resolution is the outcome of ResolveAgentForCommand. Source is the audit
// trail for why this agent was chosen.
type Resolution struct {
	Agent                Agent
	Capabilities         []string
	HealthStatus         HealthStatus
	Source               Source
	RequiredCapabilities []string
}
