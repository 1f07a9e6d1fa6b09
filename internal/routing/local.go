package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// LocalBackend stores agents and routing defaults in the workspace sqlite
// database. It shares the handle opened by the job store.
type LocalBackend struct {
	db *sql.DB
}

func NewLocalBackend(db *sql.DB) (*LocalBackend, error) {
	b := &LocalBackend{db: db}
	if err := b.migrate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *LocalBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		adapter_kind TEXT NOT NULL DEFAULT '',
		capabilities TEXT NOT NULL DEFAULT '[]',
		health_status TEXT NOT NULL DEFAULT 'healthy',
		latency_ms INTEGER NOT NULL DEFAULT 0,
		rating REAL NOT NULL DEFAULT 0,
		cost_per_mtok REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS routing_defaults (
		workspace_id TEXT NOT NULL,
		command_name TEXT NOT NULL,
		agent_slug TEXT NOT NULL,
		qa_profile TEXT,
		docdex_scope TEXT,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (workspace_id, command_name)
	);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate routing tables: %w", err)
	}
	return nil
}

func (b *LocalBackend) Preview(ctx context.Context, workspaceID, command string) ([]Candidate, error) {
	workspace, err := b.GetDefaults(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	global := workspace
	if workspaceID != GlobalWorkspace {
		global, err = b.GetDefaults(ctx, GlobalWorkspace)
		if err != nil {
			return nil, err
		}
	} else {
		// A global lookup has no separate workspace tier.
		workspace = &Defaults{WorkspaceID: GlobalWorkspace, Bindings: map[string]Binding{}}
	}
	return buildChain(command, workspace, global), nil
}

func (b *LocalBackend) GetDefaults(ctx context.Context, workspaceID string) (*Defaults, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT command_name, agent_slug, qa_profile, docdex_scope, updated_at
		 FROM routing_defaults WHERE workspace_id = ?`, workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("get defaults for workspace %q: %w", workspaceID, err)
	}
	defer rows.Close()

	defaults := &Defaults{WorkspaceID: workspaceID, Bindings: map[string]Binding{}}
	for rows.Next() {
		var command string
		var binding Binding
		var qaProfile, docdexScope sql.NullString
		if err := rows.Scan(&command, &binding.AgentSlug, &qaProfile, &docdexScope, &binding.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan routing default: %w", err)
		}
		if qaProfile.Valid {
			binding.QAProfile = qaProfile.String
		}
		if docdexScope.Valid {
			binding.DocdexScope = docdexScope.String
		}
		defaults.Bindings[command] = binding
	}
	return defaults, rows.Err()
}

// UpdateDefaults applies the update in one transaction: either every set and
// reset lands, or none do.
func (b *LocalBackend) UpdateDefaults(ctx context.Context, workspaceID string, update DefaultsUpdate) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin defaults update: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for command, slug := range update.Set {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO routing_defaults (workspace_id, command_name, agent_slug, qa_profile, docdex_scope, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(workspace_id, command_name) DO UPDATE SET
				agent_slug = excluded.agent_slug,
				qa_profile = excluded.qa_profile,
				docdex_scope = excluded.docdex_scope,
				updated_at = excluded.updated_at`,
			workspaceID, command, slug, nullable(update.QAProfile), nullable(update.DocdexScope), now,
		)
		if err != nil {
			return fmt.Errorf("set default %q -> %q: %w", command, slug, err)
		}
	}

	for _, command := range update.Reset {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM routing_defaults WHERE workspace_id = ? AND command_name = ?`,
			workspaceID, command,
		); err != nil {
			return fmt.Errorf("reset default %q: %w", command, err)
		}
	}

	return tx.Commit()
}

func (b *LocalBackend) GetAgent(ctx context.Context, slugOrID string) (*Agent, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, slug, adapter_kind, capabilities, health_status, latency_ms, rating, cost_per_mtok
		 FROM agents WHERE slug = ? OR id = ?`, slugOrID, slugOrID,
	)

	var agent Agent
	var capabilities string
	err := row.Scan(&agent.ID, &agent.Slug, &agent.AdapterKind, &capabilities,
		&agent.Health, &agent.LatencyMS, &agent.Rating, &agent.CostPerMTok)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, slugOrID)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %q: %w", slugOrID, err)
	}

	if err := json.Unmarshal([]byte(capabilities), &agent.Capabilities); err != nil {
		return nil, fmt.Errorf("parse capabilities for agent %q: %w", slugOrID, err)
	}
	return &agent, nil
}

// UpsertAgent writes a registry entry. Used by setup seeding and the agents
// CLI; the resolver itself never writes agents.
func (b *LocalBackend) UpsertAgent(ctx context.Context, agent *Agent) error {
	capabilities, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities for agent %q: %w", agent.Slug, err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO agents (id, slug, adapter_kind, capabilities, health_status, latency_ms, rating, cost_per_mtok, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug,
			adapter_kind = excluded.adapter_kind,
			capabilities = excluded.capabilities,
			health_status = excluded.health_status,
			latency_ms = excluded.latency_ms,
			rating = excluded.rating,
			cost_per_mtok = excluded.cost_per_mtok,
			updated_at = excluded.updated_at`,
		agent.ID, agent.Slug, agent.AdapterKind, string(capabilities),
		agent.Health, agent.LatencyMS, agent.Rating, agent.CostPerMTok, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert agent %q: %w", agent.Slug, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
