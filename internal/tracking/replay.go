package tracking

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
)

// Event types accepted in a replay log
const (
	EventLocation = "location"
	EventActivity = "activity"
	EventGeofence = "geofence"
)

const maxReplayLine = 1 << 20

// ReplayStats summarizes a replay run
type ReplayStats struct {
	Lines    int   `json:"lines"`
	Applied  int   `json:"applied"`
	Failed   int   `json:"failed"`
	LastTime int64 `json:"lastTime"` // Epoch millis of the last applied event
}

// replayLine is one JSON object per line. Fields not used by the event type are ignored.
type replayLine struct {
	Type       string  `json:"type"`
	Time       int64   `json:"time"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Accuracy   float64 `json:"accuracy"`
	Kind       string  `json:"kind"`
	Entering   bool    `json:"entering"`
	PlaceID    int64   `json:"placeId"`
	Transition string  `json:"transition"`
}

// Replay feeds a newline-delimited JSON event log through the engine in file order,
// then finalizes the active session at the last event time.
// Malformed or rejected lines are counted and skipped.
func Replay(ctx context.Context, e *Engine, r io.Reader) (ReplayStats, error) {
	var stats ReplayStats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxReplayLine)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		stats.Lines++

		t, err := e.applyReplayLine(ctx, line)
		if err != nil {
			stats.Failed++
			e.logger.Warn("Skipping replay line", zap.Int("line", stats.Lines), zap.Error(err))
			continue
		}
		stats.Applied++
		if t > stats.LastTime {
			stats.LastTime = t
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read replay log: %w", err)
	}

	if stats.Applied > 0 {
		if _, err := e.Flush(ctx, stats.LastTime); err != nil {
			return stats, fmt.Errorf("flush replay: %w", err)
		}
	}
	return stats, nil
}

func (e *Engine) applyReplayLine(ctx context.Context, line string) (int64, error) {
	var ev replayLine
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}
	if ev.Time <= 0 {
		return 0, fmt.Errorf("missing time")
	}

	switch ev.Type {
	case EventLocation:
		if ev.Latitude < -90 || ev.Latitude > 90 || ev.Longitude < -180 || ev.Longitude > 180 {
			return 0, fmt.Errorf("coordinate out of range: %f,%f", ev.Latitude, ev.Longitude)
		}
		return ev.Time, e.HandleLocation(ctx, models.LocationSample{
			Latitude:  ev.Latitude,
			Longitude: ev.Longitude,
			Accuracy:  ev.Accuracy,
			Time:      ev.Time,
		})
	case EventActivity:
		kind, err := models.ParseActivityKind(ev.Kind)
		if err != nil {
			return 0, err
		}
		return ev.Time, e.HandleActivity(ctx, models.ActivityTransition{Kind: kind, Entering: ev.Entering, Time: ev.Time})
	case EventGeofence:
		tr, err := models.ParseGeofenceTransition(ev.Transition)
		if err != nil {
			return 0, err
		}
		return ev.Time, e.HandleGeofence(ctx, models.GeofenceEvent{PlaceID: ev.PlaceID, Transition: tr, Time: ev.Time})
	}
	return 0, fmt.Errorf("unknown event type: %q", ev.Type)
}
