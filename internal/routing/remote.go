package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RemoteBackend talks to a routing API over HTTP. It implements the same
// Backend surface as LocalBackend so callers cannot tell the two apart.
type RemoteBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewRemoteBackend(baseURL, token string) *RemoteBackend {
	return &RemoteBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *RemoteBackend) Preview(ctx context.Context, workspaceID, command string) ([]Candidate, error) {
	query := url.Values{}
	query.Set("workspace_id", workspaceID)
	query.Set("command", command)

	var chain []Candidate
	if err := b.get(ctx, "/v1/routing/preview?"+query.Encode(), &chain); err != nil {
		return nil, err
	}
	return chain, nil
}

func (b *RemoteBackend) GetDefaults(ctx context.Context, workspaceID string) (*Defaults, error) {
	query := url.Values{}
	query.Set("workspace_id", workspaceID)

	defaults := &Defaults{}
	if err := b.get(ctx, "/v1/routing/defaults?"+query.Encode(), defaults); err != nil {
		return nil, err
	}
	if defaults.Bindings == nil {
		defaults.Bindings = map[string]Binding{}
	}
	return defaults, nil
}

func (b *RemoteBackend) UpdateDefaults(ctx context.Context, workspaceID string, update DefaultsUpdate) error {
	body := struct {
		WorkspaceID string `json:"workspace_id"`
		DefaultsUpdate
	}{WorkspaceID: workspaceID, DefaultsUpdate: update}

	return b.post(ctx, "/v1/routing/defaults", body, nil)
}

func (b *RemoteBackend) GetAgent(ctx context.Context, slugOrID string) (*Agent, error) {
	agent := &Agent{}
	err := b.get(ctx, "/v1/agents/"+url.PathEscape(slugOrID), agent)
	if err != nil {
		return nil, err
	}
	return agent, nil
}

func (b *RemoteBackend) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return b.do(req, path, out)
}

func (b *RemoteBackend) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, path, out)
}

func (b *RemoteBackend) do(req *http.Request, path string, out any) error {
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("routing API %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/v1/agents/") {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, strings.TrimPrefix(path, "/v1/agents/"))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("routing API %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode routing API response for %s: %w", path, err)
	}
	return nil
}
