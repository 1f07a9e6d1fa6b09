package job

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bekirdag/mcoda/internal/jsonio"
)

// Loaded is the normalized view of a job's most recent checkpoint.
type Loaded struct {
	Stage    string
	Status   string
	Seq      int
	Payload  json.RawMessage
	Manifest *Manifest
	Path     string
}

// LoadCheckpoint returns the checkpoint with the maximum sequence number for
// the job, falling back to the legacy single-file format when no sequenced
// checkpoints exist. A job-id disagreement between the request and anything on
// disk is fatal and surfaces as ErrCheckpointMismatch.
func LoadCheckpoint(workspaceRoot, jobID string) (*Loaded, error) {
	manifestPath := ManifestPath(workspaceRoot, jobID)
	manifest, err := readManifest(manifestPath)
	switch {
	case err == nil:
		if manifest.JobID != jobID {
			return nil, &MismatchError{Requested: jobID, Found: manifest.JobID, Source: manifestPath}
		}
	case os.IsNotExist(err):
		manifest = nil
	default:
		return nil, err
	}

	ckptDir := CheckpointsDir(workspaceRoot, jobID)
	names, err := listCheckpointFiles(ckptDir)
	if err != nil {
		return nil, err
	}

	if len(names) > 0 {
		path := filepath.Join(ckptDir, names[len(names)-1])
		ckpt, err := readCheckpoint(path)
		if err != nil {
			return nil, err
		}
		if ckpt.JobID != jobID {
			return nil, &MismatchError{Requested: jobID, Found: ckpt.JobID, Source: path}
		}
		return &Loaded{
			Stage:    ckpt.Stage,
			Status:   ckpt.Status,
			Seq:      ckpt.Seq,
			Payload:  ckpt.Payload,
			Manifest: manifest,
			Path:     path,
		}, nil
	}

	legacyPath := LegacyCheckpointPath(workspaceRoot, jobID)
	ckpt, err := readLegacyCheckpoint(legacyPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNoCheckpoint)
	}
	if err != nil {
		return nil, err
	}
	if ckpt.JobID != jobID {
		return nil, &MismatchError{Requested: jobID, Found: ckpt.JobID, Source: legacyPath}
	}

	return &Loaded{
		Stage:    ckpt.Stage,
		Status:   ckpt.Status,
		Seq:      ckpt.Seq,
		Payload:  ckpt.Payload,
		Manifest: manifest,
		Path:     legacyPath,
	}, nil
}

// readLegacyCheckpoint parses the pre-sequencing single-file format. Those
// files predate schema versioning, so a missing schema_version is tolerated.
func readLegacyCheckpoint(path string) (*Checkpoint, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(content, &ckpt); err != nil {
		return nil, fmt.Errorf("parse legacy checkpoint %s: %w", path, err)
	}
	if ckpt.SchemaVersion != 0 {
		if err := jsonio.ValidateSchemaVersion(ckpt.SchemaVersion); err != nil {
			return nil, fmt.Errorf("legacy checkpoint %s: %w", path, err)
		}
	}
	return &ckpt, nil
}
