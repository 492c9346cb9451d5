package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/lox/planti/internal/jobs"
	"github.com/lox/planti/internal/store"
)

type JobStatus struct {
	StartedAt       time.Time  `json:"startedAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	TriggeredBy     string     `json:"triggeredBy"`
	Success         bool       `json:"success"`
	PlantsSucceeded int64      `json:"plantsSucceeded"`
	PlantsFailed    int64      `json:"plantsFailed"`
	Error           string     `json:"error,omitempty"`
}

type HealthStatus struct {
	Status        string     `json:"status"`
	SchemaVersion int        `json:"schemaVersion"`
	LastJobRun    *JobStatus `json:"lastJobRun,omitempty"`
	NextJobRun    *time.Time `json:"nextJobRun,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	status := HealthStatus{Status: "ok"}

	if v, err := s.store.MigrationVersion(); err == nil {
		status.SchemaVersion = v
	}

	run, err := s.store.LatestJobRun(r.Context(), jobs.JobPlantHealth)
	switch {
	case err == nil:
		js := &JobStatus{
			StartedAt:       run.StartedAt,
			TriggeredBy:     run.TriggeredBy,
			Success:         run.Success,
			PlantsSucceeded: run.PlantsSucceeded.Int64,
			PlantsFailed:    run.PlantsFailed.Int64,
			Error:           run.ErrorMessage.String,
		}
		if run.FinishedAt.Valid {
			js.FinishedAt = &run.FinishedAt.Time
		}
		status.LastJobRun = js
	case !errors.Is(err, store.ErrNotFound):
		log.Printf("api: latest job run: %v", err)
	}

	if s.scheduler != nil {
		if next := s.scheduler.NextRun(); !next.IsZero() {
			status.NextJobRun = &next
		}
	}

	writeJSON(w, http.StatusOK, status)
}
