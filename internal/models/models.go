package models

import (
	"database/sql"
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AuthToken is a single-use magic link token.
type AuthToken struct {
	ID        int64
	UserID    int64
	Token     string
	ExpiresAt time.Time
	UsedAt    sql.NullTime
	CreatedAt time.Time
}

type Plant struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	Name          string    `json:"name"`
	Species       string    `json:"species"`
	Icon          string    `json:"icon"`
	WeeklyWaterMl int       `json:"weeklyWaterMl"`
	Humidity      int       `json:"humidity"` // target relative humidity, percent
	Location      string    `json:"location"`
	Longitude     float64   `json:"longitude"`
	Latitude      float64   `json:"latitude"`
	HealthScore   *int      `json:"healthScore"` // nil until first computed
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ScoringInputsEqual reports whether two plants would score identically
// against the same weather.
func (p Plant) ScoringInputsEqual(o Plant) bool {
	return p.WeeklyWaterMl == o.WeeklyWaterMl &&
		p.Humidity == o.Humidity &&
		p.Latitude == o.Latitude &&
		p.Longitude == o.Longitude
}

// PlantDataRecord is an immutable health snapshot for a plant.
type PlantDataRecord struct {
	ID            int64     `json:"id"`
	PlantID       int64     `json:"plantId"`
	HealthScore   int       `json:"healthScore"`
	Humidity      int       `json:"humidity"`
	WeeklyWaterMl int       `json:"weeklyWaterMl"`
	CreatedAt     time.Time `json:"createdAt"`
}

// WeatherSnapshot is fetched fresh for every scoring call and never stored.
type WeatherSnapshot struct {
	Humidity            float64 `json:"humidity"`            // current relative humidity, percent
	DailyPrecipitation  float64 `json:"dailyPrecipitation"`  // current precipitation, mm
	WeeklyPrecipitation float64 `json:"weeklyPrecipitation"` // sum of 7 daily forecasts, mm
}

type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)
