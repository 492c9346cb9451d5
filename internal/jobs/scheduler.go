package jobs

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/go-co-op/gocron"
)

// DefaultRunAt is the local wall-clock time of the daily health run.
const DefaultRunAt = "10:00"

// Scheduler fires the health job once a day and exposes a manual trigger.
type Scheduler struct {
	cron  *gocron.Scheduler
	job   *HealthJob
	at    string
	entry *gocron.Job
}

func NewScheduler(job *HealthJob, at string, loc *time.Location) *Scheduler {
	if at == "" {
		at = DefaultRunAt
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron: gocron.NewScheduler(loc),
		job:  job,
		at:   at,
	}
}

// Start registers the daily run and starts the scheduler in the background.
func (s *Scheduler) Start() error {
	entry, err := s.cron.Every(1).Day().At(s.at).Do(s.scheduledRun)
	if err != nil {
		return fmt.Errorf("schedule health job at %q: %w", s.at, err)
	}
	s.entry = entry
	s.cron.StartAsync()
	log.Printf("scheduler: plant health job scheduled daily at %s (%s)", s.at, s.cron.Location())
	return nil
}

// Stop prevents future runs. A run already in progress finishes.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("scheduler: stopped")
}

// NextRun returns when the daily run fires next, or zero before Start.
func (s *Scheduler) NextRun() time.Time {
	if s.entry == nil {
		return time.Time{}
	}
	return s.entry.NextRun()
}

// RunNow runs the job synchronously, bypassing the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (Summary, error) {
	log.Println("scheduler: manual plant health run")
	return s.run(ctx, TriggerManual)
}

func (s *Scheduler) scheduledRun() {
	log.Printf("scheduler: running daily plant health job at %s", time.Now().Format(time.RFC3339))
	if _, err := s.run(context.Background(), TriggerSchedule); err != nil {
		log.Printf("scheduler: health job: %v", err)
	}
}

// run is the single entry point for both triggers. A panic escaping the job
// is logged and returned as an error.
func (s *Scheduler) run(ctx context.Context, trigger string) (summary Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: health job panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("health job panic: %v", r)
		}
	}()
	return s.job.Run(ctx, trigger)
}
