// Package risk scores Active clusters for repair priority.
//
// Volume and cost are min-max normalized over the clusters scored in the
// same run, so a score ranks a cluster against the current landscape only.
// Scores from different runs are not comparable.
package risk

import (
	"math"
	"time"

	"github.com/mr1hm/go-grievance-risk/internal/models"
)

const (
	weightSeverity    = 0.25
	weightRecency     = 0.20
	weightVolume      = 0.20
	weightMaintenance = 0.20
	weightCost        = 0.15

	recencyHorizonDays     = 30.0
	maintenanceHorizonDays = 365.0
	defaultMaintenance     = 0.5
)

// Scored is one cluster's result in a batch.
type Scored struct {
	ClusterID string
	Score     int
	Breakdown models.RiskBreakdown
}

// ScoreBatch scores every cluster that has at least one member. It is pure:
// the only clock it reads is now.
func ScoreBatch(details []models.ClusterDetail, now time.Time) []Scored {
	batch := make([]models.ClusterDetail, 0, len(details))
	for _, d := range details {
		if len(d.Grievances) > 0 {
			batch = append(batch, d)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	minVol, maxVol := bounds(batch, func(d models.ClusterDetail) float64 {
		return float64(d.Cluster.ComplaintVolume)
	})
	minCost, maxCost := bounds(batch, repairCost)

	out := make([]Scored, 0, len(batch))
	for _, d := range batch {
		b := models.RiskBreakdown{
			Severity:    clamp01(severity(d.Grievances)),
			Recency:     clamp01(recency(d.Grievances, now)),
			Volume:      clamp01(normalize(float64(d.Cluster.ComplaintVolume), minVol, maxVol)),
			Maintenance: clamp01(maintenance(d.Asset, now)),
			Cost:        clamp01(normalize(repairCost(d), minCost, maxCost)),
		}
		out = append(out, Scored{
			ClusterID: d.Cluster.ID,
			Score:     composite(b),
			Breakdown: b,
		})
	}
	return out
}

func composite(b models.RiskBreakdown) int {
	raw := 100 * (weightSeverity*b.Severity +
		weightRecency*b.Recency +
		weightVolume*b.Volume +
		weightMaintenance*b.Maintenance +
		weightCost*b.Cost)
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0
	}
	score := int(math.Round(raw))
	return max(0, min(100, score))
}

func severity(members []models.Grievance) float64 {
	var sum float64
	for _, g := range members {
		sum += g.Severity.Weight()
	}
	return sum / float64(len(members))
}

// recency decays linearly from 1 for a complaint filed now to 0 at 30 days.
func recency(members []models.Grievance, now time.Time) float64 {
	latest := members[0].CreatedAt
	for _, g := range members[1:] {
		if g.CreatedAt.After(latest) {
			latest = g.CreatedAt
		}
	}
	days := now.Sub(latest).Hours() / 24
	return math.Max(0, 1-days/recencyHorizonDays)
}

func maintenance(a *models.Asset, now time.Time) float64 {
	if a == nil || a.LastMaintenance == nil {
		return defaultMaintenance
	}
	days := now.Sub(*a.LastMaintenance).Hours() / 24
	return math.Min(1, days/maintenanceHorizonDays)
}

// repairCost is 0 when the asset or its estimate is missing.
func repairCost(d models.ClusterDetail) float64 {
	if !d.Asset.HasCost() {
		return 0
	}
	return *d.Asset.RepairCost
}

func bounds(batch []models.ClusterDetail, value func(models.ClusterDetail) float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, d := range batch {
		v := value(d)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// normalize maps v into [0,1] over [lo,hi]; a degenerate range yields 0.
func normalize(v, lo, hi float64) float64 {
	if hi == lo {
		return 0
	}
	return (v - lo) / (hi - lo)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
