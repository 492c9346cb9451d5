package api

import (
	"errors"
	"log"
	"net/http"
	"slices"
	"strconv"

	"github.com/lox/planti/internal/health"
	"github.com/lox/planti/internal/imagegen"
	"github.com/lox/planti/internal/models"
	"github.com/lox/planti/internal/store"
	"github.com/lox/planti/internal/weather"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 90
)

type healthResponse struct {
	Plant          models.Plant           `json:"plant"`
	HealthScore    int                    `json:"healthScore"`
	CurrentWeather models.WeatherSnapshot `json:"currentWeather"`
}

type recordResponse struct {
	Record         models.PlantDataRecord `json:"record"`
	CurrentWeather models.WeatherSnapshot `json:"currentWeather"`
}

type historyResponse struct {
	Plant   models.Plant             `json:"plant"`
	History []models.PlantDataRecord `json:"history"`
	Trend   models.Trend             `json:"trend"`
}

// evaluate runs a synchronous scoring pass for the plant and writes the
// error response on failure.
func (s *Server) evaluate(w http.ResponseWriter, r *http.Request, plant models.Plant) (*health.Evaluation, bool) {
	ev, err := s.health.Evaluate(r.Context(), plant, "request")
	if err == nil {
		s.cards.Invalidate(plant.ID)
		return ev, true
	}

	log.Printf("api: score plant %d: %v", plant.ID, err)
	switch {
	case errors.Is(err, weather.ErrUnavailable):
		writeError(w, http.StatusInternalServerError, "Weather data unavailable")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Plant not found")
	default:
		writeError(w, http.StatusInternalServerError, "Failed to calculate plant health")
	}
	return nil, false
}

func (s *Server) handlePlantHealth(w http.ResponseWriter, r *http.Request) {
	plant, ok := s.loadPlant(w, r)
	if !ok {
		return
	}
	ev, ok := s.evaluate(w, r, plant)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Plant:          ev.Plant,
		HealthScore:    ev.Score,
		CurrentWeather: ev.Weather,
	})
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	plant, ok := s.loadPlant(w, r)
	if !ok {
		return
	}
	ev, ok := s.evaluate(w, r, plant)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, recordResponse{Record: ev.Record, CurrentWeather: ev.Weather})
}

func (s *Server) handlePlantHistory(w http.ResponseWriter, r *http.Request) {
	plant, ok := s.loadPlant(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	history, err := s.store.PlantDataHistory(r.Context(), plant.ID, limit)
	if err != nil {
		log.Printf("api: plant %d history: %v", plant.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch plant data history")
		return
	}
	trend, err := s.store.PlantDataTrend(r.Context(), plant.ID)
	if err != nil {
		log.Printf("api: plant %d trend: %v", plant.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch plant data history")
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{Plant: plant, History: history, Trend: trend})
}

func (s *Server) handlePlantCard(w http.ResponseWriter, r *http.Request) {
	plant, ok := s.loadPlant(w, r)
	if !ok {
		return
	}

	if data, ok := s.cards.Get(plant.ID); ok {
		writePNG(w, data)
		return
	}

	records, err := s.store.PlantDataHistory(r.Context(), plant.ID, imagegen.SparklinePoints)
	if err != nil {
		log.Printf("api: plant %d card history: %v", plant.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to render card")
		return
	}

	scores := make([]int, len(records))
	for i, rec := range records {
		scores[i] = rec.HealthScore
	}
	slices.Reverse(scores)

	data, err := imagegen.GeneratePlantCard(imagegen.CardData{
		Name:    plant.Name,
		Species: plant.Species,
		Score:   plant.HealthScore,
		Trend:   health.TrendOf(records),
		History: scores,
	})
	if err != nil {
		log.Printf("api: plant %d card: %v", plant.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to render card")
		return
	}

	s.cards.Set(plant.ID, data)
	writePNG(w, data)
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Write(data)
}
