package job

import (
	"errors"
	"fmt"
)

// ErrCheckpointMismatch reports that the job id on disk disagrees with the
// requested one. Always fatal, never auto-reconciled.
var ErrCheckpointMismatch = errors.New("checkpoint job id mismatch")

// ErrNoCheckpoint reports that a job has no checkpoint on disk (neither
// sequenced files nor the legacy single-file format).
var ErrNoCheckpoint = errors.New("no checkpoint found")

type MismatchError struct {
	Requested string
	Found     string
	Source    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: requested job %q but %s records job %q", ErrCheckpointMismatch, e.Requested, e.Source, e.Found)
}

func (e *MismatchError) Unwrap() error {
	return ErrCheckpointMismatch
}
