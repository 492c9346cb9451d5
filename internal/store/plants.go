package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lox/planti/internal/models"
)

const plantColumns = `id, user_id, name, species, icon, weekly_water_ml, humidity, location, longitude, latitude, health_score, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlant(row rowScanner) (models.Plant, error) {
	var p models.Plant
	var score sql.NullInt64
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Species, &p.Icon, &p.WeeklyWaterMl, &p.Humidity,
		&p.Location, &p.Longitude, &p.Latitude, &score, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Plant{}, err
	}
	if score.Valid {
		v := int(score.Int64)
		p.HealthScore = &v
	}
	return p, nil
}

func (s *Store) CreatePlant(ctx context.Context, p models.Plant) (models.Plant, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO plants (user_id, name, species, icon, weekly_water_ml, humidity, location, longitude, latitude, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.UserID, p.Name, p.Species, p.Icon, p.WeeklyWaterMl, p.Humidity, p.Location, p.Longitude, p.Latitude, now, now)
	if err != nil {
		return models.Plant{}, writeErr("create plant", err)
	}

	p.ID, err = res.LastInsertId()
	if err != nil {
		return models.Plant{}, writeErr("create plant", err)
	}
	p.HealthScore = nil
	p.CreatedAt = now
	p.UpdatedAt = now
	return p, nil
}

// GetPlant returns the plant only if userID owns it.
func (s *Store) GetPlant(ctx context.Context, id, userID int64) (models.Plant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+plantColumns+` FROM plants WHERE id = ? AND user_id = ?`, id, userID)
	p, err := scanPlant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Plant{}, ErrNotFound
	}
	return p, err
}

func (s *Store) ListUserPlants(ctx context.Context, userID int64) ([]models.Plant, error) {
	return s.queryPlants(ctx, `SELECT `+plantColumns+` FROM plants WHERE user_id = ? ORDER BY id`, userID)
}

// ListAllPlants returns every plant across all users.
func (s *Store) ListAllPlants(ctx context.Context) ([]models.Plant, error) {
	return s.queryPlants(ctx, `SELECT `+plantColumns+` FROM plants ORDER BY id`)
}

func (s *Store) queryPlants(ctx context.Context, query string, args ...any) ([]models.Plant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plants := []models.Plant{}
	for rows.Next() {
		p, err := scanPlant(rows)
		if err != nil {
			return nil, err
		}
		plants = append(plants, p)
	}
	return plants, rows.Err()
}

// UpdatePlant overwrites the editable fields of a plant owned by p.UserID.
// The cached health score is left untouched.
func (s *Store) UpdatePlant(ctx context.Context, p models.Plant) (models.Plant, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE plants SET
			name = ?,
			species = ?,
			icon = ?,
			weekly_water_ml = ?,
			humidity = ?,
			location = ?,
			longitude = ?,
			latitude = ?,
			updated_at = ?
		WHERE id = ? AND user_id = ?
	`, p.Name, p.Species, p.Icon, p.WeeklyWaterMl, p.Humidity, p.Location, p.Longitude, p.Latitude, s.now(), p.ID, p.UserID)
	if err != nil {
		return models.Plant{}, writeErr("update plant", err)
	}
	if err := expectOneRow(res, "update plant"); err != nil {
		return models.Plant{}, err
	}
	return s.GetPlant(ctx, p.ID, p.UserID)
}

// UpdateHealthScore sets the cached score and bumps updated_at.
func (s *Store) UpdateHealthScore(ctx context.Context, plantID int64, score int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE plants SET health_score = ?, updated_at = ? WHERE id = ?`, score, s.now(), plantID)
	if err != nil {
		return writeErr("update health score", err)
	}
	return expectOneRow(res, "update health score")
}

// DeletePlant removes a plant and its history in one transaction.
func (s *Store) DeletePlant(ctx context.Context, id, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return writeErr("delete plant", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM plants WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return writeErr("delete plant", err)
	}
	if err := expectOneRow(res, "delete plant"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM plant_data WHERE plant_id = ?`, id); err != nil {
		return writeErr("delete plant history", err)
	}

	return writeErr("delete plant", tx.Commit())
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return writeErr(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
