package store

import (
	"context"

	"github.com/lox/planti/internal/health"
	"github.com/lox/planti/internal/models"
)

// trendWindow is how many recent records feed the trend.
const trendWindow = 5

// AppendPlantData inserts a new history record timestamped now.
func (s *Store) AppendPlantData(ctx context.Context, rec models.PlantDataRecord) (models.PlantDataRecord, error) {
	rec.CreatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO plant_data (plant_id, health_score, humidity, weekly_water_ml, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.PlantID, rec.HealthScore, rec.Humidity, rec.WeeklyWaterMl, rec.CreatedAt)
	if err != nil {
		return models.PlantDataRecord{}, writeErr("append plant data", err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return models.PlantDataRecord{}, writeErr("append plant data", err)
	}
	return rec, nil
}

// PlantDataHistory returns up to limit records, newest first.
func (s *Store) PlantDataHistory(ctx context.Context, plantID int64, limit int) ([]models.PlantDataRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plant_id, health_score, humidity, weekly_water_ml, created_at
		FROM plant_data
		WHERE plant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, plantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.PlantDataRecord{}
	for rows.Next() {
		var r models.PlantDataRecord
		if err := rows.Scan(&r.ID, &r.PlantID, &r.HealthScore, &r.Humidity, &r.WeeklyWaterMl, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) LatestPlantData(ctx context.Context, plantID int64) (models.PlantDataRecord, error) {
	records, err := s.PlantDataHistory(ctx, plantID, 1)
	if err != nil {
		return models.PlantDataRecord{}, err
	}
	if len(records) == 0 {
		return models.PlantDataRecord{}, ErrNotFound
	}
	return records[0], nil
}

// PlantDataTrend compares the newest record against the oldest of the last five.
func (s *Store) PlantDataTrend(ctx context.Context, plantID int64) (models.Trend, error) {
	records, err := s.PlantDataHistory(ctx, plantID, trendWindow)
	if err != nil {
		return models.TrendStable, err
	}
	return health.TrendOf(records), nil
}

// CountPlantData returns the number of stored records for a plant.
func (s *Store) CountPlantData(ctx context.Context, plantID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plant_data WHERE plant_id = ?`, plantID).Scan(&n)
	return n, err
}
