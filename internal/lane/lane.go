// Package lane maintains per-scope conversation lanes for agent calls. Each
// lane is an isolated message history scoped to one job/task/role
// combination, with token estimation, bounded summarization, and storage
// limit enforcement.
package lane

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrSummarizerFailure wraps a summarizer call that errored or returned
	// empty content. The prepare call is aborted and persisted lane state is
	// left untouched.
	ErrSummarizerFailure = errors.New("summarizer failure")

	// ErrUnknownLane reports an operation on a lane id that was never loaded
	// through GetLane.
	ErrUnknownLane = errors.New("unknown lane")
)

const RoleSystem = "system"

// Message is one entry of a lane's conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Lane is a conversational history plus its bookkeeping. Summarization and
// trimming mutate the message list in place; lanes are never deleted, only
// replaced.
type Lane struct {
	ID            string
	Role          string
	Messages      []Message
	TokenEstimate int
	Persisted     bool
	Redactions    int
	UpdatedAt     time.Time
}

// Scope identifies which lane a caller wants. JobID falls back to RunID and
// TaskID falls back to TaskKey when deriving the lane id.
type Scope struct {
	JobID   string
	RunID   string
	TaskID  string
	TaskKey string
	Role    string
}

func (s Scope) laneID() string {
	owner := s.JobID
	if owner == "" {
		owner = s.RunID
	}
	task := s.TaskID
	if task == "" {
		task = s.TaskKey
	}
	return fmt.Sprintf("%s:%s:%s", owner, task, s.Role)
}

// laneRole extracts the role segment from a lane id.
func laneRole(id string) string {
	parts := strings.Split(id, ":")
	return parts[len(parts)-1]
}

// Store persists lanes. Implemented over sqlite in this package; tests use
// in-memory fakes.
type Store interface {
	LoadLane(ctx context.Context, id string) (*Lane, bool, error)
	Append(ctx context.Context, id string, msg Message) error
	Replace(ctx context.Context, id string, msgs []Message, redactions int) error
}

// Summarizer condenses a run of messages into one block of text.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []Message) (string, error)
}

// Redactor scrubs sensitive content before it enters a lane. The boolean
// reports whether anything was changed.
type Redactor interface {
	Redact(text string) (string, bool)
}
