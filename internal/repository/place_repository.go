package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
)

const placeColumns = `id, label, latitude, longitude, radius_meters, category, color_argb, created_at`

// PlaceRepository handles database operations for places
type PlaceRepository struct {
	db *sql.DB
}

// NewPlaceRepository creates a new place repository
func NewPlaceRepository(db *sql.DB) *PlaceRepository {
	return &PlaceRepository{db: db}
}

// Insert persists a new place and sets its ID
func (r *PlaceRepository) Insert(ctx context.Context, place *models.Place) error {
	if place.CreatedAt == 0 {
		place.CreatedAt = time.Now().UnixMilli()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO places (label, latitude, longitude, radius_meters, category, color_argb, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		place.Label,
		place.Latitude,
		place.Longitude,
		place.RadiusMeters,
		place.Category,
		place.ColorARGB,
		place.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert place: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	place.ID = id
	return nil
}

// GetAll returns every place in registration order
func (r *PlaceRepository) GetAll(ctx context.Context) ([]models.Place, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+placeColumns+` FROM places ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query places: %w", err)
	}
	defer rows.Close()

	places := []models.Place{}
	for rows.Next() {
		var p models.Place
		if err := rows.Scan(scanPlace(&p)...); err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		places = append(places, p)
	}

	return places, rows.Err()
}

// GetByID retrieves a place by ID
func (r *PlaceRepository) GetByID(ctx context.Context, id int64) (*models.Place, error) {
	var p models.Place
	err := r.db.QueryRowContext(ctx, `SELECT `+placeColumns+` FROM places WHERE id = ?`, id).Scan(scanPlace(&p)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("place %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get place: %w", err)
	}
	return &p, nil
}

// GetByCategory retrieves the earliest registered place with the given category key
func (r *PlaceRepository) GetByCategory(ctx context.Context, category string) (*models.Place, error) {
	var p models.Place
	err := r.db.QueryRowContext(ctx,
		`SELECT `+placeColumns+` FROM places WHERE category = ? ORDER BY id ASC LIMIT 1`, category,
	).Scan(scanPlace(&p)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("place category %q: %w", category, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get place by category: %w", err)
	}
	return &p, nil
}

// Delete removes a place; its visits are removed by the foreign key cascade
func (r *PlaceRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM places WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete place: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("place %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanPlace(p *models.Place) []any {
	return []any{
		&p.ID,
		&p.Label,
		&p.Latitude,
		&p.Longitude,
		&p.RadiusMeters,
		&p.Category,
		&p.ColorARGB,
		&p.CreatedAt,
	}
}
