package report

import (
	"context"
	"fmt"
	"time"

	"github.com/mr1hm/go-grievance-risk/internal/models"
	"github.com/mr1hm/go-grievance-risk/internal/repository"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

type DayBucket struct {
	Day          string  `json:"day"`
	AverageScore float64 `json:"average_score"`
	Records      int     `json:"records"`
}

// MaxTrendDays is the longest window RiskTrend reports on.
const MaxTrendDays = 366

// RiskTrend averages scores per UTC day over the last days days, today
// included. Days without records are returned with zero values. Windows
// longer than MaxTrendDays are clamped.
func (r *Reporter) RiskTrend(ctx context.Context, days int, now time.Time) ([]DayBucket, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	days = min(days, MaxTrendDays)

	today := now.UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))

	history, err := r.store.ListRiskHistory(ctx, repository.RiskFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("error loading risk history: %w", err)
	}

	buckets := make([]DayBucket, days)
	sums := make([]float64, days)
	for i := range buckets {
		buckets[i].Day = since.AddDate(0, 0, i).Format(dayLayout)
	}
	for _, rec := range history {
		i := int(rec.CreatedAt.UTC().Truncate(24*time.Hour).Sub(since) / (24 * time.Hour))
		if i < 0 || i >= days {
			continue
		}
		buckets[i].Records++
		sums[i] += float64(rec.Score)
	}
	for i := range buckets {
		if buckets[i].Records > 0 {
			buckets[i].AverageScore = sums[i] / float64(buckets[i].Records)
		}
	}
	return buckets, nil
}

type MonthBucket struct {
	Month        string `json:"month"`
	Total        int    `json:"total"`
	Resolved     int    `json:"resolved"`
	InProgress   int    `json:"in_progress"`
	Pending      int    `json:"pending"`
	HighSeverity int    `json:"high_severity"`
}

// MonthlyComplaints buckets grievances created in [from, to) by UTC month.
// Only months with at least one grievance are returned, oldest first.
func (r *Reporter) MonthlyComplaints(ctx context.Context, from, to time.Time) ([]MonthBucket, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("invalid range: %s is not after %s", to.Format(dayLayout), from.Format(dayLayout))
	}

	grievances, err := r.store.ListGrievances(ctx, repository.GrievanceFilter{Since: &from, Until: &to})
	if err != nil {
		return nil, fmt.Errorf("error loading grievances: %w", err)
	}

	var out []MonthBucket
	index := make(map[string]int)
	for _, g := range grievances {
		key := g.CreatedAt.UTC().Format(monthLayout)
		i, exists := index[key]
		if !exists {
			i = len(out)
			index[key] = i
			out = append(out, MonthBucket{Month: key})
		}

		b := &out[i]
		b.Total++
		switch g.Status {
		case models.GrievanceResolved:
			b.Resolved++
		case models.GrievanceInProgress:
			b.InProgress++
		default:
			b.Pending++
		}
		if g.Severity == models.SeverityHigh {
			b.HighSeverity++
		}
	}
	return out, nil
}
