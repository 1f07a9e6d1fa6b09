package lane

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// maxSummarizePasses bounds the summarization loop; after this many passes
// the oversized history is returned as-is.
const maxSummarizePasses = 5

// Limits configures token estimation and storage trimming. MaxMessages and
// MaxBytesPerLane accept -1 for unbounded.
type Limits struct {
	CharsPerToken     int
	DefaultTokenLimit int
	ModelTokenLimits  map[string]int
	MaxMessages       int
	MaxBytesPerLane   int
}

// Manager is the lane front end for one CLI invocation. It is not safe for
// concurrent use.
type Manager struct {
	store      Store
	summarizer Summarizer
	redactor   Redactor
	limits     Limits
	lanes      map[string]*Lane
}

// NewManager builds a Manager. A non-positive CharsPerToken is a
// configuration error.
func NewManager(store Store, summarizer Summarizer, redactor Redactor, limits Limits) (*Manager, error) {
	if limits.CharsPerToken <= 0 {
		return nil, fmt.Errorf("lane: chars_per_token must be positive, got %d", limits.CharsPerToken)
	}
	return &Manager{
		store:      store,
		summarizer: summarizer,
		redactor:   redactor,
		limits:     limits,
		lanes:      map[string]*Lane{},
	}, nil
}

// GetLane loads the lane for scope from the store if it was persisted before,
// otherwise creates an empty in-memory lane. Repeated calls with the same
// scope return the same lane.
func (m *Manager) GetLane(ctx context.Context, scope Scope) (*Lane, error) {
	id := scope.laneID()
	if ln, ok := m.lanes[id]; ok {
		return ln, nil
	}

	ln, found, err := m.store.LoadLane(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load lane %s: %w", id, err)
	}
	if !found {
		ln = &Lane{ID: id, Role: scope.Role}
	} else {
		ln.Persisted = true
	}
	ln.TokenEstimate = m.historyTokens(ln.Messages)

	m.lanes[id] = ln
	return ln, nil
}

// Append redacts and appends a message, recomputes the token estimate, and
// writes through to the store for persisted lanes before enforcing storage
// limits.
func (m *Manager) Append(ctx context.Context, laneID string, msg Message) error {
	ln, ok := m.lanes[laneID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLane, laneID)
	}

	if m.redactor != nil {
		scrubbed, changed := m.redactor.Redact(msg.Content)
		if changed {
			msg.Content = scrubbed
			ln.Redactions++
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	ln.Messages = append(ln.Messages, msg)
	ln.TokenEstimate = m.historyTokens(ln.Messages)
	ln.UpdatedAt = time.Now().UTC()

	if ln.Persisted {
		if err := m.store.Append(ctx, ln.ID, msg); err != nil {
			return fmt.Errorf("append to lane %s: %w", ln.ID, err)
		}
		if err := m.enforceStorageLimits(ctx, ln); err != nil {
			return err
		}
	}
	return nil
}

// PrepareInput carries the per-call context that competes with lane history
// for the model's token budget.
type PrepareInput struct {
	SystemPrompt string
	Bundle       string
	Model        string
}

// Prepare returns the lane's message list, summarizing older history first if
// the combined prompt would exceed the model's token limit. The persisted
// lane is only replaced once the final message list is fully computed.
func (m *Manager) Prepare(ctx context.Context, laneID string, in PrepareInput) ([]Message, error) {
	ln, ok := m.lanes[laneID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLane, laneID)
	}

	limit := m.tokenLimit(in.Model)
	overhead := m.tokens(in.SystemPrompt) + m.tokens(in.Bundle)

	history := make([]Message, len(ln.Messages))
	copy(history, ln.Messages)

	passes := 0
	total := overhead + m.historyTokens(history)
	for total > limit && len(history) > 1 && passes < maxSummarizePasses {
		half := len(history) / 2
		summary, err := m.summarizer.Summarize(ctx, history[:half])
		if err != nil {
			return nil, fmt.Errorf("%w: lane %s pass %d: %v", ErrSummarizerFailure, ln.ID, passes+1, err)
		}
		if strings.TrimSpace(summary) == "" {
			return nil, fmt.Errorf("%w: lane %s pass %d: empty summary", ErrSummarizerFailure, ln.ID, passes+1)
		}

		condensed := Message{Role: RoleSystem, Content: summary, CreatedAt: time.Now().UTC()}
		history = append([]Message{condensed}, history[half:]...)
		passes++
		total = overhead + m.historyTokens(history)
	}

	if passes > 0 {
		ln.Messages = history
		ln.TokenEstimate = m.historyTokens(history)
		ln.UpdatedAt = time.Now().UTC()
		if ln.Persisted {
			if err := m.store.Replace(ctx, ln.ID, history, ln.Redactions); err != nil {
				return nil, fmt.Errorf("replace lane %s: %w", ln.ID, err)
			}
		}
	}

	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

// Flush marks the lane persisted and writes the full message list to the
// store.
func (m *Manager) Flush(ctx context.Context, laneID string) error {
	ln, ok := m.lanes[laneID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLane, laneID)
	}
	if err := m.store.Replace(ctx, ln.ID, ln.Messages, ln.Redactions); err != nil {
		return fmt.Errorf("flush lane %s: %w", ln.ID, err)
	}
	ln.Persisted = true
	return nil
}

// enforceStorageLimits trims the lane to the configured message count first,
// then to the byte budget, always keeping the most recent content. Any trim
// is written back through Replace.
func (m *Manager) enforceStorageLimits(ctx context.Context, ln *Lane) error {
	trimmed := trimToLimits(ln.Messages, m.limits.MaxMessages, m.limits.MaxBytesPerLane)
	if len(trimmed) == len(ln.Messages) {
		return nil
	}

	ln.Messages = trimmed
	ln.TokenEstimate = m.historyTokens(trimmed)
	ln.UpdatedAt = time.Now().UTC()

	if ln.Persisted {
		if err := m.store.Replace(ctx, ln.ID, trimmed, ln.Redactions); err != nil {
			return fmt.Errorf("trim lane %s: %w", ln.ID, err)
		}
	}
	return nil
}

func trimToLimits(msgs []Message, maxMessages, maxBytes int) []Message {
	if maxMessages >= 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	if maxBytes < 0 {
		return msgs
	}

	// Walk newest to oldest until the byte budget would be exceeded, then
	// restore chronological order.
	kept := make([]Message, 0, len(msgs))
	total := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		size := len(msgs[i].Content)
		if total+size > maxBytes {
			break
		}
		total += size
		kept = append(kept, msgs[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
