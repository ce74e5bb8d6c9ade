package tracking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
)

// Reclassifier turns movement visits that were not really trips into stays
type Reclassifier struct {
	places   PlaceResolver
	visits   VisitStore
	footTrip time.Duration
	nearby   float64
	logger   *zap.Logger
}

// NewReclassifier creates a reclassifier. Walking or running trips shorter
// than footTrip, and trips that never got nearby meters from their first
// sample, are converted.
func NewReclassifier(places PlaceResolver, visits VisitStore, footTrip time.Duration, nearby float64, logger *zap.Logger) *Reclassifier {
	return &Reclassifier{
		places:   places,
		visits:   visits,
		footTrip: footTrip,
		nearby:   nearby,
		logger:   logger,
	}
}

// ShouldConvert reports whether a finished trip should become a stay
func (r *Reclassifier) ShouldConvert(summary models.VisitSummary, snap MovementSnapshot) bool {
	duration := time.Duration(summary.DurationMillis()) * time.Millisecond
	shortFootTrip := snap.Kind.IsFoot() && duration < r.footTrip
	stayedNearby := snap.MaxDistance < r.nearby
	return shortFootTrip || stayedNearby
}

// Apply replaces the movement visit in summary with a still visit over the
// same interval when ShouldConvert holds and an anchor is known. Otherwise
// the summary is returned unchanged. On error the movement visit is left as
// it was.
//
// A summary with VisitID 0 describes a trip whose visit was never written;
// it yields a new still visit or nil.
func (r *Reclassifier) Apply(ctx context.Context, summary models.VisitSummary, snap MovementSnapshot) (*models.VisitSummary, error) {
	unchanged := &summary
	if summary.VisitID == 0 {
		unchanged = nil
	}

	if !r.ShouldConvert(summary, snap) {
		return unchanged, nil
	}

	anchor := snap.Anchor()
	if anchor == nil {
		r.logger.Debug("No anchor for reclassification", zap.Int64("visit_id", summary.VisitID))
		return unchanged, nil
	}

	place, err := r.places.ResolveCoordinate(ctx, *anchor)
	if err != nil {
		return unchanged, fmt.Errorf("failed to resolve reclassification anchor: %w", err)
	}

	end := summary.EndTime
	replacement := &models.Visit{
		PlaceID:    place.ID,
		StartTime:  summary.StartTime,
		EndTime:    &end,
		Confidence: models.ConfidenceReclassified,
	}
	if summary.VisitID == 0 {
		err = r.visits.InsertClosed(ctx, replacement)
	} else {
		err = r.visits.Replace(ctx, summary.VisitID, replacement)
	}
	if err != nil {
		return unchanged, fmt.Errorf("failed to reclassify visit: %w", err)
	}

	r.logger.Info("Reclassified trip as stay",
		zap.Int64("movement_visit_id", summary.VisitID),
		zap.Int64("visit_id", replacement.ID),
		zap.String("kind", string(snap.Kind)),
		zap.Int64("place_id", place.ID),
	)

	return &models.VisitSummary{
		VisitID:      replacement.ID,
		PlaceID:      place.ID,
		Category:     place.Category,
		Type:         models.SessionStill,
		StartTime:    summary.StartTime,
		EndTime:      summary.EndTime,
		Confidence:   models.ConfidenceReclassified,
		Anchor:       anchor,
		Reclassified: true,
	}, nil
}
