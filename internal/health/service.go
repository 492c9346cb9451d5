package health

import (
	"context"
	"fmt"
	"math"

	"github.com/lox/planti/internal/metrics"
	"github.com/lox/planti/internal/models"
)

type WeatherFetcher interface {
	Fetch(ctx context.Context, latitude, longitude float64) (models.WeatherSnapshot, error)
}

type ScoreStore interface {
	UpdateHealthScore(ctx context.Context, plantID int64, score int) error
	AppendPlantData(ctx context.Context, rec models.PlantDataRecord) (models.PlantDataRecord, error)
}

// Stage names the step of an evaluation that failed.
type Stage string

const (
	StageWeather Stage = "weather"
	StageUpdate  Stage = "update_score"
	StageAppend  Stage = "append_history"
)

// StageError reports which step of an evaluation failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Evaluation is the outcome of scoring one plant.
type Evaluation struct {
	Plant   models.Plant
	Score   int
	Weather models.WeatherSnapshot
	Record  models.PlantDataRecord
}

type Service struct {
	weather WeatherFetcher
	store   ScoreStore
}

func NewService(weather WeatherFetcher, store ScoreStore) *Service {
	return &Service{weather: weather, store: store}
}

// Evaluate fetches weather for the plant, scores it, updates the cached
// score and appends a history record. The two writes are independent; a
// failure between them leaves the cached score ahead of the history.
func (s *Service) Evaluate(ctx context.Context, plant models.Plant, trigger string) (*Evaluation, error) {
	snap, err := s.weather.Fetch(ctx, plant.Latitude, plant.Longitude)
	if err != nil {
		return nil, &StageError{Stage: StageWeather, Err: err}
	}

	score := Score(plant.WeeklyWaterMl, plant.Humidity, snap)

	if err := s.store.UpdateHealthScore(ctx, plant.ID, score); err != nil {
		return nil, &StageError{Stage: StageUpdate, Err: err}
	}
	plant.HealthScore = &score

	rec, err := s.store.AppendPlantData(ctx, models.PlantDataRecord{
		PlantID:       plant.ID,
		HealthScore:   score,
		Humidity:      int(math.Round(snap.Humidity)),
		WeeklyWaterMl: plant.WeeklyWaterMl,
	})
	if err != nil {
		return nil, &StageError{Stage: StageAppend, Err: err}
	}

	metrics.HealthScoresComputed.WithLabelValues(trigger).Inc()
	return &Evaluation{Plant: plant, Score: score, Weather: snap, Record: rec}, nil
}
