package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/lox/planti/internal/models"
	"github.com/lox/planti/internal/store"
)

// plantRequest is the body of create and update calls. Numeric fields are
// pointers so that a missing field is distinguishable from zero.
type plantRequest struct {
	Name          string   `json:"name" validate:"required,max=100"`
	Species       string   `json:"species" validate:"required,max=100"`
	Icon          string   `json:"icon" validate:"required,max=16"`
	WeeklyWaterMl *int     `json:"weeklyWaterMl" validate:"required,gt=0,lte=100000"`
	Humidity      *int     `json:"humidity" validate:"required,gte=0,lte=100"`
	Location      string   `json:"location" validate:"required,max=100"`
	Longitude     *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Latitude      *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
}

func (req plantRequest) apply(p *models.Plant) {
	p.Name = req.Name
	p.Species = req.Species
	p.Icon = req.Icon
	p.WeeklyWaterMl = *req.WeeklyWaterMl
	p.Humidity = *req.Humidity
	p.Location = req.Location
	p.Longitude = *req.Longitude
	p.Latitude = *req.Latitude
}

func (s *Server) decodePlant(w http.ResponseWriter, r *http.Request) (plantRequest, bool) {
	var req plantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return req, false
	}
	return req, true
}

// loadPlant resolves the {id} path value to a plant owned by the caller,
// writing the error response itself when it cannot.
func (s *Server) loadPlant(w http.ResponseWriter, r *http.Request) (models.Plant, bool) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid plant ID")
		return models.Plant{}, false
	}
	plant, err := s.store.GetPlant(r.Context(), id, userID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Plant not found")
		return models.Plant{}, false
	}
	if err != nil {
		log.Printf("api: get plant %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch plant")
		return models.Plant{}, false
	}
	return plant, true
}

func (s *Server) handleListPlants(w http.ResponseWriter, r *http.Request) {
	plants, err := s.store.ListUserPlants(r.Context(), userID(r))
	if err != nil {
		log.Printf("api: list plants: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch plants")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plants": plants})
}

func (s *Server) handleCreatePlant(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePlant(w, r)
	if !ok {
		return
	}

	plant := models.Plant{UserID: userID(r)}
	req.apply(&plant)

	plant, err := s.store.CreatePlant(r.Context(), plant)
	if err != nil {
		log.Printf("api: create plant: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to add plant")
		return
	}

	plant = s.rescore(r, plant)
	writeJSON(w, http.StatusCreated, map[string]any{"plant": plant})
}

func (s *Server) handleGetPlant(w http.ResponseWriter, r *http.Request) {
	plant, ok := s.loadPlant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plant": plant})
}

func (s *Server) handleUpdatePlant(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.loadPlant(w, r)
	if !ok {
		return
	}
	req, ok := s.decodePlant(w, r)
	if !ok {
		return
	}

	updated := existing
	req.apply(&updated)

	plant, err := s.store.UpdatePlant(r.Context(), updated)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Plant not found")
		return
	}
	if err != nil {
		log.Printf("api: update plant %d: %v", existing.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to update plant")
		return
	}

	if !plant.ScoringInputsEqual(existing) {
		plant = s.rescore(r, plant)
	}
	writeJSON(w, http.StatusOK, map[string]any{"plant": plant})
}

func (s *Server) handleDeletePlant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid plant ID")
		return
	}

	err := s.store.DeletePlant(r.Context(), id, userID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Plant not found")
		return
	}
	if err != nil {
		log.Printf("api: delete plant %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to delete plant")
		return
	}

	s.cards.Invalidate(id)
	w.WriteHeader(http.StatusNoContent)
}

// rescore scores a plant after a mutation. Failure is logged and the plant
// is returned unscored; the next daily run picks it up.
func (s *Server) rescore(r *http.Request, plant models.Plant) models.Plant {
	ev, err := s.health.Evaluate(r.Context(), plant, "mutation")
	if err != nil {
		log.Printf("api: score plant %d after change: %v", plant.ID, err)
		return plant
	}
	s.cards.Invalidate(plant.ID)
	return ev.Plant
}
