package models

import "fmt"

// SleepRecord represents a sleep interval, either inferred from visits or imported
type SleepRecord struct {
	ID           string `json:"id" db:"id"`
	StartTime    int64  `json:"startTime" db:"start_time"` // Epoch millis
	EndTime      int64  `json:"endTime" db:"end_time"`     // Epoch millis
	Source       string `json:"source" db:"source"`
	QualityScore *int   `json:"qualityScore,omitempty" db:"quality_score"`
}

// SourceInferred tags sleep records derived from still visits
const SourceInferred = "lifecycle.auto"

// InferredSleepID builds the deterministic id for an inferred sleep record
func InferredSleepID(start, end int64) string {
	return fmt.Sprintf("auto_%d_%d", start, end)
}

// DurationMillis returns the record length in milliseconds
func (r *SleepRecord) DurationMillis() int64 {
	if r.EndTime < r.StartTime {
		return 0
	}
	return r.EndTime - r.StartTime
}

// SleepStats summarizes sleep durations over a range
type SleepStats struct {
	Count         int     `json:"count"`
	MeanHours     float64 `json:"meanHours"`
	MedianHours   float64 `json:"medianHours"`
	P90Hours      float64 `json:"p90Hours"`
	ShortestHours float64 `json:"shortestHours"`
	LongestHours  float64 `json:"longestHours"`
}

// SleepCorrelation counts how often sleep followed a visit to a category
type SleepCorrelation struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	Fraction float64 `json:"fraction"`
}

// CategoryBreakdown is the time spent in one category over a range
type CategoryBreakdown struct {
	Category          string  `json:"category"`
	TotalMinutes      int64   `json:"totalMinutes"`
	PercentOfInterval float64 `json:"percentOfInterval"`
}
