package health

import (
	"math"

	"github.com/lox/planti/internal/models"
)

const (
	baseScore = 80
	maxScore  = 100
	minScore  = 0

	// trendThreshold is the score movement needed before a trend is reported.
	trendThreshold = 5
)

// Score rates a plant 0-100 from its weekly water target (ml), its target
// humidity (%) and the current weather. Thresholds are fixed; they are not
// calibrated against anything physical.
func Score(targetWaterMl, targetHumidity int, snap models.WeatherSnapshot) int {
	score := baseScore

	score -= humidityPenalty(math.Abs(float64(targetHumidity) - snap.Humidity))
	score -= waterPenalty(float64(targetWaterMl)/1000, snap.WeeklyPrecipitation)

	return clamp(score)
}

func humidityPenalty(diff float64) int {
	switch {
	case diff > 20:
		return 15
	case diff > 10:
		return 8
	case diff > 5:
		return 3
	default:
		return 0
	}
}

// waterPenalty compares forecast rain (mm) against the watering target (l).
func waterPenalty(targetLiters, weeklyPrecip float64) int {
	switch {
	case weeklyPrecip < 0.5*targetLiters:
		return 10
	case weeklyPrecip > 2*targetLiters:
		return 5
	default:
		return 0
	}
}

func clamp(score int) int {
	return max(minScore, min(maxScore, score))
}

// TrendBetween classifies the movement from previous to current.
func TrendBetween(previous, current int) models.Trend {
	diff := current - previous
	switch {
	case diff >= trendThreshold:
		return models.TrendUp
	case diff <= -trendThreshold:
		return models.TrendDown
	default:
		return models.TrendStable
	}
}

// TrendOf summarises a newest-first window of records by comparing the
// newest against the oldest. Fewer than two records is always stable.
func TrendOf(records []models.PlantDataRecord) models.Trend {
	if len(records) < 2 {
		return models.TrendStable
	}
	return TrendBetween(records[len(records)-1].HealthScore, records[0].HealthScore)
}
