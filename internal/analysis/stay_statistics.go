package analysis

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/stats"
)

// SkillStayStatistics aggregates stays per place category
const SkillStayStatistics = "stay_statistics"

// StayStat holds aggregated statistics for one place category
type StayStat struct {
	Category    string  `json:"category"`
	StayCount   int     `json:"stay_count"`
	VisitDays   int     `json:"visit_days"`
	TotalHours  float64 `json:"total_hours"`
	MeanHours   float64 `json:"mean_hours"`
	MedianHours float64 `json:"median_hours"`
	MaxHours    float64 `json:"max_hours"`
}

// StayStatisticsAnalyzer ranks place categories by time spent staying there
type StayStatisticsAnalyzer struct {
	visits VisitSource
	loc    *time.Location
	limit  int
}

// NewStayStatisticsAnalyzer creates a stay statistics analyzer reporting the top limit categories
func NewStayStatisticsAnalyzer(visits VisitSource, loc *time.Location, limit int) *StayStatisticsAnalyzer {
	if limit <= 0 {
		limit = 10
	}
	return &StayStatisticsAnalyzer{visits: visits, loc: loc, limit: limit}
}

// Name returns the skill name
func (a *StayStatisticsAnalyzer) Name() string {
	return SkillStayStatistics
}

// Analyze aggregates closed stays in the task range
func (a *StayStatisticsAnalyzer) Analyze(ctx context.Context, task *models.AnalysisTask, report ProgressFunc) (string, error) {
	visits, err := a.visits.QueryInRange(ctx, task.FromTime, task.ToTime)
	if err != nil {
		return "", err
	}
	report(len(visits), 0, 0)

	hours := make(map[string][]float64)
	days := make(map[string]map[string]bool)
	for i, v := range visits {
		if v.EndTime == nil || models.IsMovementCategory(v.PlaceCategory) {
			continue
		}

		h := time.Duration(v.DurationMillis(0) * int64(time.Millisecond)).Hours()
		hours[v.PlaceCategory] = append(hours[v.PlaceCategory], h)

		if days[v.PlaceCategory] == nil {
			days[v.PlaceCategory] = make(map[string]bool)
		}
		days[v.PlaceCategory][time.UnixMilli(v.StartTime).In(a.loc).Format("2006-01-02")] = true

		if (i+1)%100 == 0 {
			report(len(visits), i+1, 0)
		}
	}
	report(len(visits), len(visits), 0)

	result := make([]StayStat, 0, len(hours))
	for category, values := range hours {
		sum := stats.Summarize(values)
		result = append(result, StayStat{
			Category:    category,
			StayCount:   sum.Count,
			VisitDays:   len(days[category]),
			TotalHours:  sum.Mean * float64(sum.Count),
			MeanHours:   sum.Mean,
			MedianHours: sum.Median,
			MaxHours:    sum.Max,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalHours != result[j].TotalHours {
			return result[i].TotalHours > result[j].TotalHours
		}
		return result[i].Category < result[j].Category
	})
	if len(result) > a.limit {
		result = result[:a.limit]
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
