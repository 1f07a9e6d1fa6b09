// Package job implements the crash-safe job lifecycle engine: start,
// checkpoint, resume, finalize, backed by an on-disk manifest plus sequenced
// checkpoint files and the workspace job store.
//
// A Session drives exactly one job and is constructed once per CLI
// invocation. Running the same job id from two processes concurrently is a
// documented misuse: the checkpoint sequence is derived by scanning the
// checkpoint directory, which is only safe with a single writer per job.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bekirdag/mcoda/internal/events"
	"github.com/bekirdag/mcoda/internal/jobstore"
	"github.com/bekirdag/mcoda/internal/jsonio"
	"github.com/bekirdag/mcoda/internal/model"
)

const eventsLogName = "events.jsonl"

type Session struct {
	workspaceRoot string
	workspaceID   string
	store         *jobstore.Store
	maxLogSize    int64

	jobID         string
	commandName   string
	jobType       string
	runID         string
	checkpointDir string
	log           *events.Log
}

type Option func(*Session)

func WithMaxLogSize(n int64) Option {
	return func(s *Session) { s.maxLogSize = n }
}

func NewSession(workspaceRoot, workspaceID string, store *jobstore.Store, opts ...Option) *Session {
	s := &Session{
		workspaceRoot: workspaceRoot,
		workspaceID:   workspaceID,
		store:         store,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type StartParams struct {
	Command         string
	JobID           string
	JobType         string
	Payload         json.RawMessage
	ResumeSupported bool
	TotalUnits      int
}

type StartResult struct {
	JobID          string
	CommandRunID   string
	CheckpointPath string
	ManifestPath   string
}

// Start creates the job directory structure, writes the manifest (preserved on
// resume of an existing job id), merges the job store row, opens a command-run
// row, and writes the initial "started" checkpoint.
func (s *Session) Start(ctx context.Context, p StartParams) (*StartResult, error) {
	if p.Command == "" {
		return nil, fmt.Errorf("start job: command is required")
	}
	if s.jobID != "" {
		return nil, fmt.Errorf("start job: session already started for job %s", s.jobID)
	}

	jobID := p.JobID
	if jobID == "" {
		var err error
		jobID, err = model.GenerateID(model.IDTypeJob)
		if err != nil {
			return nil, fmt.Errorf("start job: %w", err)
		}
	}

	jobDir := JobDir(s.workspaceRoot, jobID)
	ckptDir := CheckpointsDir(s.workspaceRoot, jobID)
	if err := os.MkdirAll(ckptDir, 0755); err != nil {
		return nil, fmt.Errorf("create job directories: %w", err)
	}

	now := time.Now().UTC()
	manifestPath := ManifestPath(s.workspaceRoot, jobID)
	manifest, err := writeManifestOnce(manifestPath, &Manifest{
		SchemaVersion:   jsonio.CurrentSchemaVersion,
		JobID:           jobID,
		WorkspaceRoot:   s.workspaceRoot,
		WorkspaceID:     s.workspaceID,
		CommandName:     p.Command,
		JobType:         p.JobType,
		CreatedAt:       now,
		ResumeSupported: p.ResumeSupported,
		Payload:         p.Payload,
	})
	if err != nil {
		return nil, err
	}

	// The manifest is authoritative on resume.
	s.jobID = jobID
	s.commandName = manifest.CommandName
	s.jobType = manifest.JobType
	s.checkpointDir = ckptDir

	started := now
	if err := s.store.UpsertJob(ctx, &jobstore.Job{
		ID:              jobID,
		JobType:         s.jobType,
		CommandName:     s.commandName,
		WorkspaceID:     s.workspaceID,
		State:           model.JobStateRunning,
		TotalUnits:      p.TotalUnits,
		ResumeSupported: p.ResumeSupported,
		CheckpointDir:   ckptDir,
		CreatedAt:       now,
		StartedAt:       &started,
	}); err != nil {
		return nil, err
	}

	runID, err := model.GenerateID(model.IDTypeRun)
	if err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}
	if err := s.store.CreateCommandRun(ctx, &jobstore.CommandRun{
		ID:          runID,
		CommandName: s.commandName,
		JobID:       jobID,
		Status:      model.RunStatusRunning,
		StartedAt:   now,
	}); err != nil {
		return nil, err
	}
	s.runID = runID

	log, err := events.NewLog(filepath.Join(jobDir, eventsLogName), s.maxLogSize)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	s.log = log

	ckpt, err := s.Checkpoint(ctx, "started", p.Payload, CheckpointOpts{Status: "running"})
	if err != nil {
		return nil, err
	}

	return &StartResult{
		JobID:          jobID,
		CommandRunID:   runID,
		CheckpointPath: filepath.Join(ckptDir, checkpointFileName(ckpt.Seq)),
		ManifestPath:   manifestPath,
	}, nil
}

type CheckpointOpts struct {
	Status              string
	Reason              string
	Step                int
	EstimatedTotalSteps int
	Tags                []string
	Cursor              string
	Parents             []string
}

// Checkpoint writes the next sequenced checkpoint file atomically and updates
// the job store row. A reader never observes a torn checkpoint: the file is
// written to a temp path, fsynced, validated, then renamed into place.
func (s *Session) Checkpoint(ctx context.Context, stage string, payload json.RawMessage, opts CheckpointOpts) (*Checkpoint, error) {
	if s.jobID == "" {
		return nil, fmt.Errorf("checkpoint: session not started")
	}

	max, err := maxSeq(s.checkpointDir)
	if err != nil {
		return nil, err
	}

	state := model.NormalizeStatus(opts.Status)
	ckpt := &Checkpoint{
		SchemaVersion: jsonio.CurrentSchemaVersion,
		JobID:         s.jobID,
		CommandName:   s.commandName,
		JobType:       s.jobType,
		Seq:           max + 1,
		CheckpointID:  uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Status:        string(state),
		Reason:        opts.Reason,
		Stage:         stage,
		Payload:       payload,
		Engine:        engineMeta(),
		Progress: Progress{
			Step:                opts.Step,
			EstimatedTotalSteps: opts.EstimatedTotalSteps,
		},
		Indexes: Indexes{
			Tags:    opts.Tags,
			Cursor:  opts.Cursor,
			Parents: opts.Parents,
		},
	}

	if _, err := writeCheckpoint(s.checkpointDir, ckpt); err != nil {
		return nil, err
	}

	// checkpointing is transient: unless the checkpoint carries a terminal or
	// paused status, the job store row records running.
	rowState := state
	if !model.IsJobTerminal(state) && state != model.JobStatePaused {
		rowState = model.JobStateRunning
	}
	if err := s.store.RecordCheckpoint(ctx, s.jobID, rowState, stage, opts.Step, ckpt.CreatedAt); err != nil {
		return nil, err
	}

	if s.log != nil {
		_ = s.log.WriteEntry(&events.Entry{
			EventType: "checkpoint",
			JobID:     s.jobID,
			RunID:     s.runID,
			Details: map[string]any{
				"stage":  stage,
				"seq":    ckpt.Seq,
				"status": ckpt.Status,
			},
		})
	}

	return ckpt, nil
}

type FinalizeOpts struct {
	Result       json.RawMessage
	ErrorCode    string
	ErrorMessage string
	ExitCode     *int
}

// Finalize marks the command run and the job store row terminal.
func (s *Session) Finalize(ctx context.Context, status, summary, outputPath string, opts FinalizeOpts) error {
	if s.jobID == "" {
		return fmt.Errorf("finalize: session not started")
	}

	state := model.NormalizeStatus(status)
	if !model.IsJobTerminal(state) {
		return fmt.Errorf("finalize: status %q does not normalize to a terminal state", status)
	}

	now := time.Now().UTC()
	runStatus := model.RunStatus(state)
	if err := s.store.FinalizeCommandRun(ctx, s.runID, runStatus, summary, outputPath, opts.ExitCode, now); err != nil {
		return err
	}
	if err := s.store.FinalizeJob(ctx, s.jobID, state, opts.ErrorCode, opts.ErrorMessage, string(opts.Result), now); err != nil {
		return err
	}

	if s.log != nil {
		_ = s.log.WriteEntry(&events.Entry{
			EventType: "finalized",
			JobID:     s.jobID,
			RunID:     s.runID,
			Details: map[string]any{
				"status":  string(state),
				"summary": summary,
			},
		})
	}
	return nil
}

// LogPhase appends a phase event to the job's event log.
func (s *Session) LogPhase(phase string, details map[string]any) error {
	if s.log == nil {
		return fmt.Errorf("log phase: session not started")
	}
	merged := map[string]any{"phase": phase}
	for k, v := range details {
		merged[k] = v
	}
	return s.log.WriteEntry(&events.Entry{
		EventType: "phase",
		JobID:     s.jobID,
		RunID:     s.runID,
		Details:   merged,
	})
}

// RecordTokenUsage accumulates token counters on the job row and logs the
// usage event.
func (s *Session) RecordTokenUsage(ctx context.Context, usage jobstore.TokenUsage) error {
	if s.jobID == "" {
		return fmt.Errorf("record token usage: session not started")
	}
	if err := s.store.AddTokenUsage(ctx, s.jobID, usage); err != nil {
		return err
	}
	if s.log != nil {
		_ = s.log.WriteEntry(&events.Entry{
			EventType: "token_usage",
			JobID:     s.jobID,
			RunID:     s.runID,
			Details: map[string]any{
				"model":         usage.Model,
				"input_tokens":  usage.InputTokens,
				"output_tokens": usage.OutputTokens,
			},
		})
	}
	return nil
}

// RecordTaskRun records one task execution under this job.
func (s *Session) RecordTaskRun(ctx context.Context, tr jobstore.TaskRun) error {
	if s.jobID == "" {
		return fmt.Errorf("record task run: session not started")
	}
	tr.JobID = s.jobID
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	if err := s.store.InsertTaskRun(ctx, &tr); err != nil {
		return err
	}
	if s.log != nil {
		_ = s.log.WriteEntry(&events.Entry{
			EventType: "task_run",
			JobID:     s.jobID,
			RunID:     s.runID,
			TaskID:    tr.TaskID,
			AgentID:   tr.AgentSlug,
			Details: map[string]any{
				"status":  tr.Status,
				"summary": tr.Summary,
			},
		})
	}
	return nil
}

func (s *Session) JobID() string {
	return s.jobID
}

func (s *Session) RunID() string {
	return s.runID
}

func (s *Session) Close() error {
	if s.log != nil {
		return s.log.Close()
	}
	return nil
}
