package jobs

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/planti/internal/health"
	"github.com/lox/planti/internal/models"
	"github.com/lox/planti/internal/store"
	"github.com/lox/planti/internal/weather"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

// weatherByLatitude fails for any latitude listed in failing.
type weatherByLatitude struct {
	mu      sync.Mutex
	failing map[float64]bool
	calls   int
}

func (w *weatherByLatitude) Fetch(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failing[lat] {
		return models.WeatherSnapshot{}, errors.New("upstream timeout")
	}
	return models.WeatherSnapshot{Humidity: 60, WeeklyPrecipitation: 1}, nil
}

func seedPlants(t *testing.T, s *store.Store, n int) []models.Plant {
	t.Helper()
	ctx := context.Background()
	user, err := s.FindOrCreateUser(ctx, "grower@example.com")
	if err != nil {
		t.Fatalf("FindOrCreateUser: %v", err)
	}
	var plants []models.Plant
	for i := 1; i <= n; i++ {
		p, err := s.CreatePlant(ctx, models.Plant{
			UserID:        user.ID,
			Name:          "Fern",
			Species:       "Nephrolepis",
			Icon:          "🌿",
			WeeklyWaterMl: 1000,
			Humidity:      60,
			Location:      "Bathroom",
			Latitude:      float64(i),
			Longitude:     float64(i),
		})
		if err != nil {
			t.Fatalf("CreatePlant: %v", err)
		}
		plants = append(plants, p)
	}
	return plants
}

func TestHealthJob_IsolatesPlantFailures(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	plants := seedPlants(t, s, 3)

	weather := &weatherByLatitude{failing: map[float64]bool{plants[1].Latitude: true}}
	job := NewHealthJob(s, health.NewService(weather, s), s)

	summary, err := job.Run(ctx, TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Errorf("succeeded/failed = %d/%d, want 2/1", summary.Succeeded, summary.Failed)
	}
	if len(summary.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(summary.Results))
	}
	if weather.calls != 3 {
		t.Errorf("weather calls = %d, want 3", weather.calls)
	}

	failed := summary.Results[1]
	if failed.OK() {
		t.Fatal("plant 2 result should be a failure")
	}
	if failed.Err.PlantID != plants[1].ID {
		t.Errorf("failed PlantID = %d, want %d", failed.Err.PlantID, plants[1].ID)
	}
	if failed.Err.Stage != health.StageWeather {
		t.Errorf("failed Stage = %q, want %q", failed.Err.Stage, health.StageWeather)
	}

	if err := summary.Err(); err == nil || !strings.Contains(err.Error(), "upstream timeout") {
		t.Errorf("summary.Err() = %v, want the plant 2 failure", err)
	}

	var total int
	for i, p := range plants {
		n, err := s.CountPlantData(ctx, p.ID)
		if err != nil {
			t.Fatalf("CountPlantData: %v", err)
		}
		total += n
		if i == 1 && n != 0 {
			t.Errorf("failed plant has %d history records, want 0", n)
		}
	}
	if total != 2 {
		t.Errorf("history records = %d, want 2", total)
	}

	got, err := s.GetPlant(ctx, plants[0].ID, plants[0].UserID)
	if err != nil {
		t.Fatalf("GetPlant: %v", err)
	}
	if got.HealthScore == nil || *got.HealthScore != 80 {
		t.Errorf("HealthScore = %v, want 80", got.HealthScore)
	}
}

const forecastBody = `{"current":{"relative_humidity_2m":60,"precipitation":0},"daily":{"precipitation_sum":[1,0,0,0,0,0,0]}}`

// forecastUpstream serves a valid forecast unless failStatus returns a
// non-zero status for the requested latitude.
func forecastUpstream(t *testing.T, calls *atomic.Int32, failStatus func(lat string) int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if code := failStatus(r.URL.Query().Get("latitude")); code != 0 {
			w.WriteHeader(code)
			w.Write([]byte(`{"error":true,"reason":"rejected"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(forecastBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthJob_RejectedPlantsDoNotBlockLaterPlants(t *testing.T) {
	s := setupTestStore(t)
	plants := seedPlants(t, s, 8)

	var calls atomic.Int32
	srv := forecastUpstream(t, &calls, func(lat string) int {
		switch lat {
		case "1", "2", "3", "4", "5":
			return http.StatusBadRequest
		}
		return 0
	})

	wc := weather.NewClient(srv.URL, weather.WithHTTPClient(srv.Client()))
	job := NewHealthJob(s, health.NewService(wc, s), s)

	summary, err := job.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 3 || summary.Failed != 5 {
		t.Errorf("succeeded/failed = %d/%d, want 3/5", summary.Succeeded, summary.Failed)
	}
	if got := calls.Load(); got != 8 {
		t.Errorf("upstream calls = %d, want 8", got)
	}
	for i, r := range summary.Results {
		wantOK := i >= 5
		if r.OK() != wantOK {
			t.Errorf("plant %d (lat %v) OK = %v, want %v: %v", r.PlantID, plants[i].Latitude, r.OK(), wantOK, r.Err)
		}
		if !r.OK() && !errors.Is(r.Err, weather.ErrUnavailable) {
			t.Errorf("plant %d err = %v, want ErrUnavailable", r.PlantID, r.Err)
		}
	}
}

func TestHealthJob_ServerErrorsWithoutBreaker(t *testing.T) {
	s := setupTestStore(t)
	seedPlants(t, s, 8)

	var calls atomic.Int32
	srv := forecastUpstream(t, &calls, func(lat string) int {
		switch lat {
		case "1", "2", "3", "4", "5", "6":
			return http.StatusServiceUnavailable
		}
		return 0
	})

	wc := weather.NewClient(srv.URL, weather.WithHTTPClient(srv.Client()), weather.WithoutBreaker())
	job := NewHealthJob(s, health.NewService(wc, s), s)

	summary, err := job.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 2 || summary.Failed != 6 {
		t.Errorf("succeeded/failed = %d/%d, want 2/6", summary.Succeeded, summary.Failed)
	}
	if got := calls.Load(); got != 8 {
		t.Errorf("upstream calls = %d, want 8", got)
	}
}

func TestHealthJob_PanicCompletesRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	job := NewHealthJob(
		listerFunc(func(context.Context) ([]models.Plant, error) {
			panic("corrupt row")
		}),
		nil,
		s,
	)

	_, err := job.Run(ctx, TriggerManual)
	if err == nil || !strings.Contains(err.Error(), "corrupt row") {
		t.Fatalf("err = %v, want the panic value", err)
	}
	if job.Running() {
		t.Error("guard should be released after a panic")
	}

	run, err := s.LatestJobRun(ctx, JobPlantHealth)
	if err != nil {
		t.Fatalf("LatestJobRun: %v", err)
	}
	if !run.FinishedAt.Valid {
		t.Error("FinishedAt should be set after a panic")
	}
	if run.Success {
		t.Error("run should be recorded as failed")
	}
}

func TestHealthJob_RecordsRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	plants := seedPlants(t, s, 2)

	weather := &weatherByLatitude{failing: map[float64]bool{plants[0].Latitude: true}}
	job := NewHealthJob(s, health.NewService(weather, s), s)

	if _, err := job.Run(ctx, TriggerSchedule); err != nil {
		t.Fatalf("Run: %v", err)
	}

	run, err := s.LatestJobRun(ctx, JobPlantHealth)
	if err != nil {
		t.Fatalf("LatestJobRun: %v", err)
	}
	if run.TriggeredBy != TriggerSchedule {
		t.Errorf("TriggeredBy = %q, want %q", run.TriggeredBy, TriggerSchedule)
	}
	if !run.Success {
		t.Error("run should be successful despite a plant failure")
	}
	if !run.FinishedAt.Valid {
		t.Error("FinishedAt should be set")
	}
	if run.PlantsSucceeded.Int64 != 1 || run.PlantsFailed.Int64 != 1 || run.PlantsTotal.Int64 != 2 {
		t.Errorf("counts = %d/%d/%d, want 2 total, 1 ok, 1 failed",
			run.PlantsTotal.Int64, run.PlantsSucceeded.Int64, run.PlantsFailed.Int64)
	}
}

func TestHealthJob_EmptyPlantList(t *testing.T) {
	s := setupTestStore(t)
	job := NewHealthJob(s, health.NewService(&weatherByLatitude{}, s), nil)

	summary, err := job.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 0 || summary.Failed != 0 || len(summary.Results) != 0 {
		t.Errorf("summary = %+v, want empty", summary)
	}
	if err := summary.Err(); err != nil {
		t.Errorf("summary.Err() = %v, want nil", err)
	}
}

type listerFunc func(ctx context.Context) ([]models.Plant, error)

func (f listerFunc) ListAllPlants(ctx context.Context) ([]models.Plant, error) {
	return f(ctx)
}

type evaluatorFunc func(ctx context.Context, p models.Plant, trigger string) (*health.Evaluation, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, p models.Plant, trigger string) (*health.Evaluation, error) {
	return f(ctx, p, trigger)
}

func TestHealthJob_ListFailure(t *testing.T) {
	listErr := errors.New("database is locked")
	job := NewHealthJob(
		listerFunc(func(context.Context) ([]models.Plant, error) { return nil, listErr }),
		evaluatorFunc(func(context.Context, models.Plant, string) (*health.Evaluation, error) {
			t.Fatal("Evaluate should not be called")
			return nil, nil
		}),
		nil,
	)

	_, err := job.Run(context.Background(), TriggerManual)
	if !errors.Is(err, listErr) {
		t.Errorf("err = %v, want %v", err, listErr)
	}
	if job.Running() {
		t.Error("job should not be running after Run returns")
	}
}

func TestHealthJob_RejectsOverlappingRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	job := NewHealthJob(
		listerFunc(func(context.Context) ([]models.Plant, error) {
			return []models.Plant{{ID: 1}}, nil
		}),
		evaluatorFunc(func(ctx context.Context, p models.Plant, trigger string) (*health.Evaluation, error) {
			close(started)
			<-release
			return &health.Evaluation{Plant: p, Score: 80}, nil
		}),
		nil,
	)

	done := make(chan error, 1)
	go func() {
		_, err := job.Run(context.Background(), TriggerSchedule)
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not start")
	}

	if _, err := job.Run(context.Background(), TriggerManual); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("overlapping Run err = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// guard is released once the first run finishes
	job.evaluator = evaluatorFunc(func(ctx context.Context, p models.Plant, trigger string) (*health.Evaluation, error) {
		return &health.Evaluation{Plant: p, Score: 80}, nil
	})
	if _, err := job.Run(context.Background(), TriggerManual); err != nil {
		t.Errorf("Run after completion: %v", err)
	}
}

func TestHealthJob_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var evaluated []int64

	job := NewHealthJob(
		listerFunc(func(context.Context) ([]models.Plant, error) {
			return []models.Plant{{ID: 1}, {ID: 2}, {ID: 3}}, nil
		}),
		evaluatorFunc(func(ctx context.Context, p models.Plant, trigger string) (*health.Evaluation, error) {
			evaluated = append(evaluated, p.ID)
			if p.ID == 1 {
				cancel()
			}
			return &health.Evaluation{Plant: p, Score: 80}, nil
		}),
		nil,
	)

	summary, err := job.Run(ctx, TriggerManual)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(evaluated) != 1 {
		t.Errorf("evaluated %v, want only plant 1", evaluated)
	}
	if summary.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", summary.Succeeded)
	}
}

func TestPlantError(t *testing.T) {
	cause := errors.New("boom")
	err := &PlantError{PlantID: 7, Stage: health.StageAppend, Err: cause}

	if got, want := err.Error(), "plant 7: append_history: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("PlantError should unwrap to its cause")
	}
}
