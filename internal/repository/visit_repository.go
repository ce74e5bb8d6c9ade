package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jengzang/lifecycle-backend-go/internal/database"
	"github.com/jengzang/lifecycle-backend-go/internal/models"
)

const visitWithPlaceQuery = `
	SELECT v.id, v.place_id, v.start_time, v.end_time, v.confidence,
		p.label, p.category, p.color_argb
	FROM visits v
	INNER JOIN places p ON v.place_id = p.id`

// VisitRepository handles database operations for visits
type VisitRepository struct {
	db *sql.DB
}

// NewVisitRepository creates a new visit repository
func NewVisitRepository(db *sql.DB) *VisitRepository {
	return &VisitRepository{db: db}
}

// Insert opens a visit at start and returns its ID
func (r *VisitRepository) Insert(ctx context.Context, placeID, start int64, confidence int) (int64, error) {
	return insertVisit(ctx, r.db, &models.Visit{PlaceID: placeID, StartTime: start, Confidence: confidence})
}

// InsertClosed persists a visit with both ends known and sets its ID
func (r *VisitRepository) InsertClosed(ctx context.Context, visit *models.Visit) error {
	if visit.EndTime == nil {
		return fmt.Errorf("failed to insert visit: missing end time")
	}
	id, err := insertVisit(ctx, r.db, visit)
	if err != nil {
		return err
	}
	visit.ID = id
	return nil
}

// End sets the end time of an open visit. The end time is written exactly once:
// ending a closed visit returns ErrVisitClosed and leaves it untouched.
func (r *VisitRepository) End(ctx context.Context, id, end int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE visits SET end_time = ? WHERE id = ? AND end_time IS NULL`, end, id)
	if err != nil {
		return fmt.Errorf("failed to end visit: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check visit: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("visit %d: %w", id, ErrNotFound)
	}
	return fmt.Errorf("visit %d: %w", id, ErrVisitClosed)
}

// Delete removes a visit
func (r *VisitRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM visits WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete visit: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("visit %d: %w", id, ErrNotFound)
	}
	return nil
}

// Replace deletes visit oldID and inserts replacement in one transaction,
// setting replacement.ID. Either both writes commit or neither does.
func (r *VisitRepository) Replace(ctx context.Context, oldID int64, replacement *models.Visit) error {
	if replacement.EndTime == nil {
		return fmt.Errorf("failed to replace visit: missing end time")
	}

	return database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		id, err := insertVisit(ctx, tx, replacement)
		if err != nil {
			return err
		}

		// Tags follow the visit before the cascade would drop them
		if _, err := tx.ExecContext(ctx, `UPDATE visit_tags SET visit_id = ? WHERE visit_id = ?`, id, oldID); err != nil {
			return fmt.Errorf("failed to move visit tags: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM visits WHERE id = ?`, oldID)
		if err != nil {
			return fmt.Errorf("failed to delete visit: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("visit %d: %w", oldID, ErrNotFound)
		}

		replacement.ID = id
		return nil
	})
}

// GetByID retrieves a visit by ID
func (r *VisitRepository) GetByID(ctx context.Context, id int64) (*models.Visit, error) {
	var v models.Visit
	var end sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, place_id, start_time, end_time, confidence FROM visits WHERE id = ?`, id,
	).Scan(&v.ID, &v.PlaceID, &v.StartTime, &end, &v.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("visit %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}
	v.EndTime = nullableInt64(end)
	return &v, nil
}

// QueryInRange returns visits overlapping [from, to], open visits included, ordered by start
func (r *VisitRepository) QueryInRange(ctx context.Context, from, to int64) ([]models.VisitWithPlace, error) {
	rows, err := r.db.QueryContext(ctx, visitWithPlaceQuery+`
		WHERE v.start_time <= ? AND (v.end_time >= ? OR v.end_time IS NULL)
		ORDER BY v.start_time ASC, v.id ASC`, to, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	visits := []models.VisitWithPlace{}
	for rows.Next() {
		v, err := scanVisitWithPlace(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, *v)
	}
	return visits, rows.Err()
}

// LastEndingBefore returns the most recent visit that ended at or before t
func (r *VisitRepository) LastEndingBefore(ctx context.Context, t int64) (*models.VisitWithPlace, error) {
	row := r.db.QueryRowContext(ctx, visitWithPlaceQuery+`
		WHERE v.end_time IS NOT NULL AND v.end_time <= ?
		ORDER BY v.end_time DESC
		LIMIT 1`, t)

	v, err := scanVisitWithPlace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("visit before %d: %w", t, ErrNotFound)
	}
	return v, err
}

// GetOpen returns every visit without an end time, oldest first
func (r *VisitRepository) GetOpen(ctx context.Context) ([]models.VisitWithPlace, error) {
	rows, err := r.db.QueryContext(ctx, visitWithPlaceQuery+`
		WHERE v.end_time IS NULL
		ORDER BY v.start_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open visits: %w", err)
	}
	defer rows.Close()

	visits := []models.VisitWithPlace{}
	for rows.Next() {
		v, err := scanVisitWithPlace(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, *v)
	}
	return visits, rows.Err()
}

// CountOpen counts visits without an end time
func (r *VisitRepository) CountOpen(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits WHERE end_time IS NULL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count open visits: %w", err)
	}
	return count, nil
}

func insertVisit(ctx context.Context, q execer, v *models.Visit) (int64, error) {
	var end any
	if v.EndTime != nil {
		end = *v.EndTime
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO visits (place_id, start_time, end_time, confidence) VALUES (?, ?, ?, ?)`,
		v.PlaceID, v.StartTime, end, v.Confidence)
	if err != nil {
		return 0, fmt.Errorf("failed to insert visit: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisitWithPlace(row rowScanner) (*models.VisitWithPlace, error) {
	var v models.VisitWithPlace
	var end sql.NullInt64
	err := row.Scan(
		&v.ID,
		&v.PlaceID,
		&v.StartTime,
		&end,
		&v.Confidence,
		&v.PlaceLabel,
		&v.PlaceCategory,
		&v.PlaceColor,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan visit: %w", err)
	}
	v.EndTime = nullableInt64(end)
	return &v, nil
}

func nullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	e := v.Int64
	return &e
}
