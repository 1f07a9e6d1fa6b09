// Package status aggregates job rows from the workspace database with the
// latest checkpoint on disk, so `jobs list` can show where each job actually
// stands.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/bekirdag/mcoda/internal/job"
	"github.com/bekirdag/mcoda/internal/jobstore"
)

// maxConcurrentLoads bounds the checkpoint reads fanned out per Summarize
// call.
const maxConcurrentLoads = 8

// JobStatus pairs one job row with what its checkpoint directory says.
type JobStatus struct {
	Job           *jobstore.Job `json:"job"`
	DiskStage     string        `json:"disk_stage,omitempty"`
	DiskStatus    string        `json:"disk_status,omitempty"`
	DiskSeq       int           `json:"disk_seq,omitempty"`
	CheckpointErr string        `json:"checkpoint_error,omitempty"`
	Drift         bool          `json:"drift"`
}

// Summary is the workspace-wide view returned by Summarize.
type Summary struct {
	WorkspaceRoot string      `json:"workspace_root"`
	Jobs          []JobStatus `json:"jobs"`
}

// Summarize lists up to limit job rows and loads each job's latest checkpoint
// from disk, reporting stage drift between the store and the checkpoint
// files. Checkpoint read failures are reported per job, not fatal.
func Summarize(ctx context.Context, workspaceRoot string, store *jobstore.Store, limit int) (*Summary, error) {
	jobs, err := store.ListJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	statuses := make([]JobStatus, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLoads)

	for i, row := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			statuses[i] = inspect(workspaceRoot, row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(statuses, func(a, b int) bool {
		return statuses[a].Job.CreatedAt.After(statuses[b].Job.CreatedAt)
	})
	return &Summary{WorkspaceRoot: workspaceRoot, Jobs: statuses}, nil
}

func inspect(workspaceRoot string, row *jobstore.Job) JobStatus {
	st := JobStatus{Job: row}

	loaded, err := job.LoadCheckpoint(workspaceRoot, row.ID)
	switch {
	case errors.Is(err, job.ErrNoCheckpoint):
		return st
	case err != nil:
		st.CheckpointErr = err.Error()
		return st
	}

	st.DiskStage = loaded.Stage
	st.DiskStatus = loaded.Status
	st.DiskSeq = loaded.Seq
	// Status strings legitimately diverge between row and checkpoint (the row
	// collapses transient states), so drift is judged on the stage label.
	st.Drift = loaded.Stage != row.StageDetail
	return st
}

// Render writes the summary as a plain table, or as indented JSON when
// jsonOutput is set.
func Render(w io.Writer, s *Summary, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	if len(s.Jobs) == 0 {
		fmt.Fprintln(w, "No jobs recorded.")
		return nil
	}

	fmt.Fprintf(w, "%-26s  %-14s  %-10s  %-14s  %5s  %s\n",
		"JOB", "COMMAND", "STATE", "STAGE", "SEQ", "DRIFT")
	for _, st := range s.Jobs {
		drift := ""
		if st.Drift {
			drift = "yes"
		}
		if st.CheckpointErr != "" {
			drift = "error"
		}
		fmt.Fprintf(w, "%-26s  %-14s  %-10s  %-14s  %5d  %s\n",
			st.Job.ID, st.Job.CommandName, st.Job.State, st.DiskStage, st.DiskSeq, drift)
	}
	return nil
}
