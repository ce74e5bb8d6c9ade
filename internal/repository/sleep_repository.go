package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jengzang/lifecycle-backend-go/internal/database"
	"github.com/jengzang/lifecycle-backend-go/internal/models"
)

// SleepRepository handles database operations for sleep records
type SleepRepository struct {
	db *sql.DB
}

// NewSleepRepository creates a new sleep repository
func NewSleepRepository(db *sql.DB) *SleepRepository {
	return &SleepRepository{db: db}
}

// InsertAll writes records in one transaction, replacing any record with the same ID
func (r *SleepRepository) InsertAll(ctx context.Context, records []models.SleepRecord) error {
	if len(records) == 0 {
		return nil
	}

	return database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sleep_records (id, start_time, end_time, source, quality_score)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				start_time = excluded.start_time,
				end_time = excluded.end_time,
				source = excluded.source,
				quality_score = excluded.quality_score`)
		if err != nil {
			return fmt.Errorf("failed to prepare sleep insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			var quality any
			if rec.QualityScore != nil {
				quality = *rec.QualityScore
			}
			if _, err := stmt.ExecContext(ctx, rec.ID, rec.StartTime, rec.EndTime, rec.Source, quality); err != nil {
				return fmt.Errorf("failed to insert sleep record %s: %w", rec.ID, err)
			}
		}
		return nil
	})
}

// QueryInRange returns records lying entirely within [from, to], ordered by start
func (r *SleepRepository) QueryInRange(ctx context.Context, from, to int64) ([]models.SleepRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, start_time, end_time, source, quality_score
		FROM sleep_records
		WHERE start_time >= ? AND end_time <= ?
		ORDER BY start_time ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query sleep records: %w", err)
	}
	defer rows.Close()

	records := []models.SleepRecord{}
	for rows.Next() {
		var rec models.SleepRecord
		var quality sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.StartTime, &rec.EndTime, &rec.Source, &quality); err != nil {
			return nil, fmt.Errorf("failed to scan sleep record: %w", err)
		}
		if quality.Valid {
			q := int(quality.Int64)
			rec.QualityScore = &q
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountOverlapping counts records whose [start, end) intersects [start, end)
func (r *SleepRepository) CountOverlapping(ctx context.Context, start, end int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sleep_records
		WHERE NOT (? <= start_time OR ? >= end_time)`, end, start,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count overlapping sleep records: %w", err)
	}
	return count, nil
}

// DeleteByID removes a sleep record
func (r *SleepRepository) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sleep_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sleep record: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("sleep record %s: %w", id, ErrNotFound)
	}
	return nil
}
