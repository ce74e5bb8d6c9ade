package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
)

// VisitTagRepository handles database operations for visit tags
type VisitTagRepository struct {
	db *sql.DB
}

// NewVisitTagRepository creates a new visit tag repository
func NewVisitTagRepository(db *sql.DB) *VisitTagRepository {
	return &VisitTagRepository{db: db}
}

// Add attaches a tag to an existing visit and sets its ID
func (r *VisitTagRepository) Add(ctx context.Context, tag *models.VisitTag) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO visit_tags (visit_id, tag_type, value)
		SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM visits WHERE id = ?)`,
		tag.VisitID, tag.TagType, tag.Value, tag.VisitID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert visit tag: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("visit %d: %w", tag.VisitID, ErrNotFound)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	tag.ID = id
	return nil
}

// ListByVisit returns the tags of a visit in insertion order
func (r *VisitTagRepository) ListByVisit(ctx context.Context, visitID int64) ([]models.VisitTag, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, visit_id, tag_type, value FROM visit_tags WHERE visit_id = ? ORDER BY id ASC`, visitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query visit tags: %w", err)
	}
	defer rows.Close()

	tags := []models.VisitTag{}
	for rows.Next() {
		var t models.VisitTag
		if err := rows.Scan(&t.ID, &t.VisitID, &t.TagType, &t.Value); err != nil {
			return nil, fmt.Errorf("failed to scan visit tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// Delete removes one tag of a visit
func (r *VisitTagRepository) Delete(ctx context.Context, visitID, tagID int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM visit_tags WHERE id = ? AND visit_id = ?`, tagID, visitID)
	if err != nil {
		return fmt.Errorf("failed to delete visit tag: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("visit tag %d: %w", tagID, ErrNotFound)
	}
	return nil
}
