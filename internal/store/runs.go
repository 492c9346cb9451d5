package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// JobRun records one execution of a batch job for auditing.
type JobRun struct {
	ID              int64
	Job             string
	TriggeredBy     string // "schedule" or "manual"
	StartedAt       time.Time
	FinishedAt      sql.NullTime
	PlantsTotal     sql.NullInt64
	PlantsSucceeded sql.NullInt64
	PlantsFailed    sql.NullInt64
	Success         bool
	ErrorMessage    sql.NullString
}

// StartJobRun creates a new run record and returns it.
func (s *Store) StartJobRun(ctx context.Context, job, triggeredBy string) (*JobRun, error) {
	run := &JobRun{
		Job:         job,
		TriggeredBy: triggeredBy,
		StartedAt:   s.now(),
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (job, triggered_by, started_at, success)
		VALUES (?, ?, ?, FALSE)
	`, run.Job, run.TriggeredBy, run.StartedAt)
	if err != nil {
		return nil, writeErr("start job run", err)
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, writeErr("start job run", err)
	}
	return run, nil
}

// CompleteJobRun stores the outcome of a run.
func (s *Store) CompleteJobRun(ctx context.Context, run *JobRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: s.now(), Valid: true}

	_, err := s.db.ExecContext(ctx, `
		UPDATE job_runs SET
			finished_at = ?,
			plants_total = ?,
			plants_succeeded = ?,
			plants_failed = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.PlantsTotal, run.PlantsSucceeded, run.PlantsFailed, run.Success, run.ErrorMessage, run.ID)
	return writeErr("complete job run", err)
}

// LatestJobRun returns the most recently started run of job.
func (s *Store) LatestJobRun(ctx context.Context, job string) (*JobRun, error) {
	var r JobRun
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job, triggered_by, started_at, finished_at, plants_total, plants_succeeded, plants_failed, success, error_message
		FROM job_runs
		WHERE job = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, job).Scan(&r.ID, &r.Job, &r.TriggeredBy, &r.StartedAt, &r.FinishedAt, &r.PlantsTotal,
		&r.PlantsSucceeded, &r.PlantsFailed, &r.Success, &r.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
