package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/repository"
)

// ErrInvalidTag is returned when a visit tag has no type
var ErrInvalidTag = errors.New("invalid visit tag")

// VisitTagService manages user labels on visits
type VisitTagService struct {
	repo *repository.VisitTagRepository
}

// NewVisitTagService creates a new visit tag service
func NewVisitTagService(repo *repository.VisitTagRepository) *VisitTagService {
	return &VisitTagService{repo: repo}
}

// Add tags a visit. The type is trimmed and lowercased so "Mood" and "mood " match.
func (s *VisitTagService) Add(ctx context.Context, visitID int64, req models.CreateVisitTagRequest) (*models.VisitTag, error) {
	tagType := strings.ToLower(strings.TrimSpace(req.TagType))
	if tagType == "" {
		return nil, fmt.Errorf("%w: empty tag type", ErrInvalidTag)
	}

	tag := &models.VisitTag{VisitID: visitID, TagType: tagType, Value: strings.TrimSpace(req.Value)}
	if err := s.repo.Add(ctx, tag); err != nil {
		return nil, err
	}
	return tag, nil
}

// List returns the tags of a visit
func (s *VisitTagService) List(ctx context.Context, visitID int64) ([]models.VisitTag, error) {
	return s.repo.ListByVisit(ctx, visitID)
}

// Delete removes one tag of a visit
func (s *VisitTagService) Delete(ctx context.Context, visitID, tagID int64) error {
	return s.repo.Delete(ctx, visitID, tagID)
}
