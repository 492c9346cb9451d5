package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lox/planti/internal/health"
	"github.com/lox/planti/internal/metrics"
	"github.com/lox/planti/internal/models"
	"github.com/lox/planti/internal/store"
)

const (
	JobPlantHealth = "plant_health"

	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// ErrAlreadyRunning is returned when a run is requested while another is in
// progress. The request is dropped, not queued.
var ErrAlreadyRunning = errors.New("health job already running")

type PlantLister interface {
	ListAllPlants(ctx context.Context) ([]models.Plant, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, plant models.Plant, trigger string) (*health.Evaluation, error)
}

// RunRecorder audits job runs. Optional.
type RunRecorder interface {
	StartJobRun(ctx context.Context, job, triggeredBy string) (*store.JobRun, error)
	CompleteJobRun(ctx context.Context, run *store.JobRun) error
}

// PlantError is the failure result for a single plant.
type PlantError struct {
	PlantID int64
	Stage   health.Stage
	Err     error
}

func (e *PlantError) Error() string {
	return fmt.Sprintf("plant %d: %s: %v", e.PlantID, e.Stage, e.Err)
}

func (e *PlantError) Unwrap() error {
	return e.Err
}

// PlantResult holds either a score or a *PlantError.
type PlantResult struct {
	PlantID int64
	Score   int
	Err     *PlantError
}

func (r PlantResult) OK() bool {
	return r.Err == nil
}

type Summary struct {
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []PlantResult
	Succeeded  int
	Failed     int
}

// Err combines the per-plant failures, or returns nil if every plant
// succeeded.
func (s Summary) Err() error {
	var merr *multierror.Error
	for _, r := range s.Results {
		if r.Err != nil {
			merr = multierror.Append(merr, r.Err)
		}
	}
	return merr.ErrorOrNil()
}

// HealthJob recomputes the health score of every plant.
type HealthJob struct {
	plants    PlantLister
	evaluator Evaluator
	runs      RunRecorder
	running   atomic.Bool
}

func NewHealthJob(plants PlantLister, evaluator Evaluator, runs RunRecorder) *HealthJob {
	return &HealthJob{plants: plants, evaluator: evaluator, runs: runs}
}

// Running reports whether a run is in progress.
func (j *HealthJob) Running() bool {
	return j.running.Load()
}

// Run processes all plants sequentially. Per-plant failures are collected in
// the summary and never abort the batch. An error is returned only if the
// run could not start, the plant list could not be loaded, or ctx was
// cancelled between plants.
func (j *HealthJob) Run(ctx context.Context, trigger string) (Summary, error) {
	if !j.running.CompareAndSwap(false, true) {
		log.Printf("healthjob: %s run skipped, previous run still in progress", trigger)
		return Summary{}, ErrAlreadyRunning
	}
	defer j.running.Store(false)

	summary := Summary{Trigger: trigger, StartedAt: time.Now()}
	run := j.startRun(ctx, trigger)

	err := j.safeProcess(ctx, &summary)

	summary.FinishedAt = time.Now()
	j.completeRun(ctx, run, summary, err)

	metrics.HealthJobDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	metrics.HealthJobLastRun.Set(float64(summary.FinishedAt.Unix()))

	if err != nil {
		log.Printf("healthjob: run failed after %d plants: %v", len(summary.Results), err)
		return summary, err
	}

	log.Printf("healthjob: completed in %s: %d succeeded, %d failed",
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond), summary.Succeeded, summary.Failed)
	return summary, nil
}

// safeProcess turns a panic into a run error so the audit row is still
// completed and the guard released.
func (j *HealthJob) safeProcess(ctx context.Context, summary *Summary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("healthjob: panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.process(ctx, summary)
}

func (j *HealthJob) process(ctx context.Context, summary *Summary) error {
	plants, err := j.plants.ListAllPlants(ctx)
	if err != nil {
		return fmt.Errorf("list plants: %w", err)
	}
	log.Printf("healthjob: processing %d plants", len(plants))

	for _, plant := range plants {
		if err := ctx.Err(); err != nil {
			return err
		}

		result := j.processPlant(ctx, plant, summary.Trigger)
		summary.Results = append(summary.Results, result)
		if result.OK() {
			summary.Succeeded++
			metrics.HealthJobPlants.WithLabelValues("success").Inc()
		} else {
			summary.Failed++
			metrics.HealthJobPlants.WithLabelValues("failure").Inc()
			log.Printf("healthjob: %v", result.Err)
		}
	}
	return nil
}

func (j *HealthJob) processPlant(ctx context.Context, plant models.Plant, trigger string) PlantResult {
	ev, err := j.evaluator.Evaluate(ctx, plant, trigger)
	if err != nil {
		perr := &PlantError{PlantID: plant.ID, Err: err}
		var serr *health.StageError
		if errors.As(err, &serr) {
			perr.Stage = serr.Stage
			perr.Err = serr.Err
		}
		return PlantResult{PlantID: plant.ID, Err: perr}
	}
	return PlantResult{PlantID: plant.ID, Score: ev.Score}
}

func (j *HealthJob) startRun(ctx context.Context, trigger string) *store.JobRun {
	if j.runs == nil {
		return nil
	}
	run, err := j.runs.StartJobRun(ctx, JobPlantHealth, trigger)
	if err != nil {
		log.Printf("healthjob: record run start: %v", err)
		return nil
	}
	return run
}

func (j *HealthJob) completeRun(ctx context.Context, run *store.JobRun, summary Summary, runErr error) {
	if run == nil {
		return
	}
	run.PlantsTotal = sql.NullInt64{Int64: int64(len(summary.Results)), Valid: true}
	run.PlantsSucceeded = sql.NullInt64{Int64: int64(summary.Succeeded), Valid: true}
	run.PlantsFailed = sql.NullInt64{Int64: int64(summary.Failed), Valid: true}
	run.Success = runErr == nil
	if runErr != nil {
		run.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	}
	// The run context may be cancelled by now; the audit write should still land.
	if err := j.runs.CompleteJobRun(context.WithoutCancel(ctx), run); err != nil {
		log.Printf("healthjob: record run completion: %v", err)
	}
}
