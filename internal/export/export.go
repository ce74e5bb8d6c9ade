// Package export writes a best-effort JSON backup of the timeline.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/spatial"
)

// FormatVersion is bumped when the snapshot layout changes
const FormatVersion = 1

const geohashPrecision = 7

// PlaceSource lists every place
type PlaceSource interface {
	GetAll(ctx context.Context) ([]models.Place, error)
}

// VisitSource lists visits overlapping a range
type VisitSource interface {
	QueryInRange(ctx context.Context, from, to int64) ([]models.VisitWithPlace, error)
}

// SleepSource lists sleep records inside a range
type SleepSource interface {
	QueryInRange(ctx context.Context, from, to int64) ([]models.SleepRecord, error)
}

// Snapshot is the exported document
type Snapshot struct {
	Version    int                     `json:"version"`
	ExportedAt string                  `json:"exportedAt"`
	Places     []Place                 `json:"places"`
	Visits     []models.VisitWithPlace `json:"visits"`
	Sleep      []models.SleepRecord    `json:"sleep"`
}

// Place is a place with its geohash cell
type Place struct {
	models.Place
	Geohash string `json:"geohash,omitempty"`
}

// Build collects everything stored into a snapshot
func Build(ctx context.Context, places PlaceSource, visits VisitSource, sleep SleepSource, now time.Time) (*Snapshot, error) {
	allPlaces, err := places.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export places: %w", err)
	}

	// Open visits are included as-is
	allVisits, err := visits.QueryInRange(ctx, 0, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to export visits: %w", err)
	}

	records, err := sleep.QueryInRange(ctx, 0, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to export sleep records: %w", err)
	}

	snap := &Snapshot{
		Version:    FormatVersion,
		ExportedAt: now.UTC().Format(time.RFC3339),
		Places:     make([]Place, 0, len(allPlaces)),
		Visits:     allVisits,
		Sleep:      records,
	}
	for _, p := range allPlaces {
		out := Place{Place: p}
		if p.IsGeographic() {
			out.Geohash = spatial.Geohash(p.Center(), geohashPrecision)
		}
		snap.Places = append(snap.Places, out)
	}
	return snap, nil
}

// WriteJSON encodes the snapshot as indented JSON
func WriteJSON(w io.Writer, snap *Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// WriteFile writes the snapshot to path, creating parent directories
func WriteFile(path string, snap *Snapshot) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := WriteJSON(f, snap); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
