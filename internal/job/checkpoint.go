package job

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bekirdag/mcoda/internal/jsonio"
)

// Checkpoint is an immutable, sequence-numbered snapshot of a job's stage,
// status, and opaque payload. One file per sequence number.
type Checkpoint struct {
	SchemaVersion int             `json:"schema_version"`
	JobID         string          `json:"job_id"`
	CommandName   string          `json:"command_name"`
	JobType       string          `json:"job_type"`
	Seq           int             `json:"checkpoint_seq"`
	CheckpointID  string          `json:"checkpoint_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        string          `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Stage         string          `json:"stage"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Engine        EngineMeta      `json:"engine"`
	Progress      Progress        `json:"progress"`
	Indexes       Indexes         `json:"indexes"`
}

type EngineMeta struct {
	RuntimeVersion string `json:"runtime_version"`
	Platform       string `json:"platform"`
}

type Progress struct {
	Step                int `json:"step"`
	EstimatedTotalSteps int `json:"estimated_total_steps"`
}

type Indexes struct {
	Tags    []string `json:"tags,omitempty"`
	Cursor  string   `json:"cursor,omitempty"`
	Parents []string `json:"parents,omitempty"`
}

func engineMeta() EngineMeta {
	return EngineMeta{
		RuntimeVersion: runtime.Version(),
		Platform:       runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func checkpointFileName(seq int) string {
	return fmt.Sprintf("%06d%s", seq, checkpointFileExt)
}

// maxSeq scans the checkpoint directory for the highest sequence number.
// Safe only under the single-writer-per-job assumption: two processes
// checkpointing the same job concurrently can derive the same next sequence.
func maxSeq(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan checkpoint dir: %w", err)
	}

	max := 0
	for _, entry := range entries {
		seq, ok := parseCheckpointFileName(entry.Name())
		if !ok {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

func parseCheckpointFileName(name string) (int, bool) {
	if !strings.HasSuffix(name, checkpointFileExt) {
		return 0, false
	}
	base := strings.TrimSuffix(name, checkpointFileExt)
	if len(base) != 6 {
		return 0, false
	}
	seq, err := strconv.Atoi(base)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

// listCheckpointFiles returns the sequenced checkpoint file names in ascending
// order. Lexicographic order equals numeric order because sequence numbers are
// zero-padded.
func listCheckpointFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan checkpoint dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if _, ok := parseCheckpointFileName(entry.Name()); ok {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func writeCheckpoint(dir string, ckpt *Checkpoint) (string, error) {
	path := filepath.Join(dir, checkpointFileName(ckpt.Seq))
	if err := jsonio.AtomicWrite(path, ckpt); err != nil {
		return "", fmt.Errorf("write checkpoint seq %d: %w", ckpt.Seq, err)
	}
	return path, nil
}

func readCheckpoint(path string) (*Checkpoint, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(content, &ckpt); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if err := jsonio.ValidateSchemaVersion(ckpt.SchemaVersion); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return &ckpt, nil
}
