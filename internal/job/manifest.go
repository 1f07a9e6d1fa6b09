package job

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bekirdag/mcoda/internal/jsonio"
)

const (
	mcodaDir          = ".mcoda"
	jobsDirName       = "jobs"
	checkpointsDir    = "checkpoints"
	manifestFileName  = "manifest.json"
	legacyCheckpoint  = "checkpoint.json"
	checkpointFileExt = ".ckpt.json"
)

// Manifest is the immutable per-job record written exactly once at job start
// and read on resume.
type Manifest struct {
	SchemaVersion   int             `json:"schema_version"`
	JobID           string          `json:"job_id"`
	WorkspaceRoot   string          `json:"workspace_root"`
	WorkspaceID     string          `json:"workspace_id"`
	CommandName     string          `json:"command_name"`
	JobType         string          `json:"job_type"`
	CreatedAt       time.Time       `json:"created_at"`
	ResumeSupported bool            `json:"resume_supported"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

func JobDir(workspaceRoot, jobID string) string {
	return filepath.Join(workspaceRoot, mcodaDir, jobsDirName, jobID)
}

func CheckpointsDir(workspaceRoot, jobID string) string {
	return filepath.Join(JobDir(workspaceRoot, jobID), checkpointsDir)
}

func ManifestPath(workspaceRoot, jobID string) string {
	return filepath.Join(JobDir(workspaceRoot, jobID), manifestFileName)
}

func LegacyCheckpointPath(workspaceRoot, jobID string) string {
	return filepath.Join(JobDir(workspaceRoot, jobID), legacyCheckpoint)
}

// writeManifestOnce writes the manifest if it does not yet exist. On resume the
// existing manifest is preserved after a job-id consistency check.
func writeManifestOnce(path string, m *Manifest) (*Manifest, error) {
	existing, err := readManifest(path)
	if err == nil {
		if existing.JobID != m.JobID {
			return nil, &MismatchError{Requested: m.JobID, Found: existing.JobID, Source: path}
		}
		return existing, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	if err := jsonio.AtomicWrite(path, m); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return m, nil
}

func readManifest(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := jsonio.ValidateSchemaVersion(m.SchemaVersion); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}
