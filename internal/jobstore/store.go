// Package jobstore persists job summary rows, command-run rows, and task-run
// rows in the workspace sqlite database.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bekirdag/mcoda/internal/model"
)

var ErrNotFound = errors.New("jobstore: not found")

type Job struct {
	ID               string
	JobType          string
	CommandName      string
	WorkspaceID      string
	State            model.JobState
	StageDetail      string
	TotalUnits       int
	CompletedUnits   int
	ResumeSupported  bool
	CheckpointDir    string
	TokensIn         int64
	TokensOut        int64
	ErrorCode        string
	ErrorMessage     string
	Result           string
	CreatedAt        time.Time
	StartedAt        *time.Time
	LastCheckpointAt *time.Time
	CompletedAt      *time.Time
}

type CommandRun struct {
	ID          string
	CommandName string
	JobID       string
	Status      model.RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Summary     string
	OutputPath  string
	ExitCode    *int
}

type TaskRun struct {
	JobID     string
	TaskID    string
	Status    string
	AgentSlug string
	Summary   string
	CreatedAt time.Time
}

type TokenUsage struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
}

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so the routing and lane repositories can
// share one workspace database.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		job_type TEXT NOT NULL,
		command_name TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'queued',
		stage_detail TEXT,
		total_units INTEGER NOT NULL DEFAULT 0,
		completed_units INTEGER NOT NULL DEFAULT 0,
		resume_supported INTEGER NOT NULL DEFAULT 0,
		checkpoint_dir TEXT,
		tokens_in INTEGER NOT NULL DEFAULT 0,
		tokens_out INTEGER NOT NULL DEFAULT 0,
		error_code TEXT,
		error_message TEXT,
		result TEXT,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		last_checkpoint_at TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS command_runs (
		id TEXT PRIMARY KEY,
		command_name TEXT NOT NULL,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		status TEXT NOT NULL DEFAULT 'running',
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		summary TEXT,
		output_path TEXT,
		exit_code INTEGER
	);

	CREATE TABLE IF NOT EXISTS task_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		task_id TEXT NOT NULL,
		status TEXT NOT NULL,
		agent_slug TEXT,
		summary TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	CREATE INDEX IF NOT EXISTS idx_command_runs_job ON command_runs(job_id);
	CREATE INDEX IF NOT EXISTS idx_task_runs_job ON task_runs(job_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate job store: %w", err)
	}
	return nil
}

// UpsertJob inserts the job row or merges onto an existing one. created_at and
// started_at of an existing row are preserved so re-entry after pause/crash is
// idempotent.
func (s *Store) UpsertJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, job_type, command_name, workspace_id, state, stage_detail,
			total_units, completed_units, resume_supported, checkpoint_dir, created_at, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			stage_detail = excluded.stage_detail,
			total_units = excluded.total_units,
			resume_supported = excluded.resume_supported,
			checkpoint_dir = excluded.checkpoint_dir`,
		job.ID, job.JobType, job.CommandName, job.WorkspaceID, job.State, job.StageDetail,
		job.TotalUnits, job.CompletedUnits, job.ResumeSupported, job.CheckpointDir,
		job.CreatedAt, job.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

// RecordCheckpoint updates the mutable progress fields of a job row after a
// checkpoint write.
func (s *Store) RecordCheckpoint(ctx context.Context, jobID string, state model.JobState, stageDetail string, completedUnits int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, stage_detail = ?, completed_units = ?, last_checkpoint_at = ? WHERE id = ?`,
		state, stageDetail, completedUnits, at, jobID,
	)
	if err != nil {
		return fmt.Errorf("record checkpoint for job %s: %w", jobID, err)
	}
	return requireRow(res, jobID)
}

// FinalizeJob marks the job row terminal.
func (s *Store) FinalizeJob(ctx context.Context, jobID string, state model.JobState, errorCode, errorMessage, result string, at time.Time) error {
	if !model.IsJobTerminal(state) {
		return fmt.Errorf("finalize job %s: %q is not a terminal state", jobID, state)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error_code = ?, error_message = ?, result = ?, completed_at = ? WHERE id = ?`,
		state, errorCode, errorMessage, result, at, jobID,
	)
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	return requireRow(res, jobID)
}

func (s *Store) AddTokenUsage(ctx context.Context, jobID string, usage TokenUsage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET tokens_in = tokens_in + ?, tokens_out = tokens_out + ? WHERE id = ?`,
		usage.InputTokens, usage.OutputTokens, jobID,
	)
	if err != nil {
		return fmt.Errorf("add token usage for job %s: %w", jobID, err)
	}
	return requireRow(res, jobID)
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_type, command_name, workspace_id, state, stage_detail,
			total_units, completed_units, resume_supported, checkpoint_dir,
			tokens_in, tokens_out, error_code, error_message, result,
			created_at, started_at, last_checkpoint_at, completed_at
		 FROM jobs WHERE id = ?`, jobID,
	)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, err
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_type, command_name, workspace_id, state, stage_detail,
			total_units, completed_units, resume_supported, checkpoint_dir,
			tokens_in, tokens_out, error_code, error_message, result,
			created_at, started_at, last_checkpoint_at, completed_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) CreateCommandRun(ctx context.Context, run *CommandRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_runs (id, command_name, job_id, status, started_at, output_path)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.CommandName, run.JobID, run.Status, run.StartedAt, run.OutputPath,
	)
	if err != nil {
		return fmt.Errorf("create command run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) FinalizeCommandRun(ctx context.Context, runID string, status model.RunStatus, summary, outputPath string, exitCode *int, at time.Time) error {
	if !model.IsRunTerminal(status) {
		return fmt.Errorf("finalize command run %s: %q is not a terminal status", runID, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE command_runs SET status = ?, summary = ?, output_path = ?, exit_code = ?, completed_at = ? WHERE id = ?`,
		status, summary, outputPath, exitCode, at, runID,
	)
	if err != nil {
		return fmt.Errorf("finalize command run %s: %w", runID, err)
	}
	return requireRow(res, runID)
}

func (s *Store) GetCommandRun(ctx context.Context, runID string) (*CommandRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, command_name, job_id, status, started_at, completed_at, summary, output_path, exit_code
		 FROM command_runs WHERE id = ?`, runID,
	)

	var run CommandRun
	var completedAt sql.NullTime
	var summary, outputPath sql.NullString
	var exitCode sql.NullInt64

	err := row.Scan(&run.ID, &run.CommandName, &run.JobID, &run.Status,
		&run.StartedAt, &completedAt, &summary, &outputPath, &exitCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("command run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get command run %s: %w", runID, err)
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if summary.Valid {
		run.Summary = summary.String
	}
	if outputPath.Valid {
		run.OutputPath = outputPath.String
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	return &run, nil
}

func (s *Store) InsertTaskRun(ctx context.Context, tr *TaskRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_runs (job_id, task_id, status, agent_slug, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tr.JobID, tr.TaskID, tr.Status, tr.AgentSlug, tr.Summary, tr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task run for job %s: %w", tr.JobID, err)
	}
	return nil
}

func (s *Store) ListTaskRuns(ctx context.Context, jobID string) ([]*TaskRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, task_id, status, agent_slug, summary, created_at
		 FROM task_runs WHERE job_id = ? ORDER BY id`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list task runs for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var runs []*TaskRun
	for rows.Next() {
		var tr TaskRun
		var agentSlug, summary sql.NullString
		if err := rows.Scan(&tr.JobID, &tr.TaskID, &tr.Status, &agentSlug, &summary, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task run: %w", err)
		}
		if agentSlug.Valid {
			tr.AgentSlug = agentSlug.String
		}
		if summary.Valid {
			tr.Summary = summary.String
		}
		runs = append(runs, &tr)
	}
	return runs, rows.Err()
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var job Job
	var stageDetail, checkpointDir, errorCode, errorMessage, result sql.NullString
	var startedAt, lastCheckpointAt, completedAt sql.NullTime

	err := scan(&job.ID, &job.JobType, &job.CommandName, &job.WorkspaceID, &job.State, &stageDetail,
		&job.TotalUnits, &job.CompletedUnits, &job.ResumeSupported, &checkpointDir,
		&job.TokensIn, &job.TokensOut, &errorCode, &errorMessage, &result,
		&job.CreatedAt, &startedAt, &lastCheckpointAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if stageDetail.Valid {
		job.StageDetail = stageDetail.String
	}
	if checkpointDir.Valid {
		job.CheckpointDir = checkpointDir.String
	}
	if errorCode.Valid {
		job.ErrorCode = errorCode.String
	}
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}
	if result.Valid {
		job.Result = result.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if lastCheckpointAt.Valid {
		job.LastCheckpointAt = &lastCheckpointAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}
