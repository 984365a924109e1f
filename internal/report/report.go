// Package report builds the read-only dashboard views over clusters,
// grievances and risk history.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mr1hm/go-grievance-risk/internal/models"
	"github.com/mr1hm/go-grievance-risk/internal/repository"
)

type Store interface {
	ListClusters(ctx context.Context, opts repository.ClusterFilter) ([]models.Cluster, error)
	ListActiveClusterDetails(ctx context.Context) ([]models.ClusterDetail, error)
	ListRiskHistory(ctx context.Context, opts repository.RiskFilter) ([]models.RiskHistory, error)
	ListGrievances(ctx context.Context, opts repository.GrievanceFilter) ([]models.Grievance, error)
}

type Reporter struct {
	store Store
}

func NewReporter(store Store) *Reporter {
	return &Reporter{store: store}
}

type ClusterRisk struct {
	ClusterID    string               `json:"cluster_id"`
	Score        int                  `json:"score"`
	Breakdown    models.RiskBreakdown `json:"breakdown"`
	CalculatedAt time.Time            `json:"calculated_at"`
	Cluster      *models.Cluster      `json:"-"`
}

// latestPerCluster keeps the newest record of each cluster. history must be
// ordered newest first.
func latestPerCluster(history []models.RiskHistory) map[string]models.RiskHistory {
	latest := make(map[string]models.RiskHistory)
	for _, r := range history {
		if _, seen := latest[r.ClusterID]; !seen {
			latest[r.ClusterID] = r
		}
	}
	return latest
}

// TopRisks returns up to n clusters ranked by their latest score. Clusters
// that were never scored are left out. n <= 0 means no limit.
func (r *Reporter) TopRisks(ctx context.Context, n int) ([]ClusterRisk, error) {
	history, err := r.store.ListRiskHistory(ctx, repository.RiskFilter{})
	if err != nil {
		return nil, fmt.Errorf("error loading risk history: %w", err)
	}
	clusters, err := r.store.ListClusters(ctx, repository.ClusterFilter{})
	if err != nil {
		return nil, fmt.Errorf("error loading clusters: %w", err)
	}
	byID := make(map[string]*models.Cluster, len(clusters))
	for i := range clusters {
		byID[clusters[i].ID] = &clusters[i]
	}

	out := make([]ClusterRisk, 0)
	for id, rec := range latestPerCluster(history) {
		out = append(out, ClusterRisk{
			ClusterID:    id,
			Score:        rec.Score,
			Breakdown:    rec.Breakdown,
			CalculatedAt: rec.CreatedAt,
			Cluster:      byID[id],
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].CalculatedAt.Equal(out[j].CalculatedAt) {
			return out[i].CalculatedAt.After(out[j].CalculatedAt)
		}
		return out[i].ClusterID < out[j].ClusterID
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

type Group struct {
	Key             string    `json:"key"`
	Clusters        int       `json:"clusters"`
	ComplaintVolume int       `json:"complaint_volume"`
	EarliestCreated time.Time `json:"earliest_created"`
}

type Summary struct {
	TotalClusters  int     `json:"total_clusters"`
	ActiveClusters int     `json:"active_clusters"`
	ByCategory     []Group `json:"by_category"`
	ByWard         []Group `json:"by_ward"`
}

func (r *Reporter) Summary(ctx context.Context) (*Summary, error) {
	clusters, err := r.store.ListClusters(ctx, repository.ClusterFilter{})
	if err != nil {
		return nil, fmt.Errorf("error loading clusters: %w", err)
	}

	s := &Summary{TotalClusters: len(clusters)}
	categories := make(map[string]*Group)
	wards := make(map[string]*Group)
	for _, c := range clusters {
		if c.Status == models.ClusterActive {
			s.ActiveClusters++
		}
		addToGroup(categories, c.Category, c)
		addToGroup(wards, c.WardID, c)
	}
	s.ByCategory = sortedGroups(categories)
	s.ByWard = sortedGroups(wards)
	return s, nil
}

func addToGroup(groups map[string]*Group, key string, c models.Cluster) {
	g, exists := groups[key]
	if !exists {
		g = &Group{Key: key, EarliestCreated: c.CreatedAt}
		groups[key] = g
	}
	g.Clusters++
	g.ComplaintVolume += c.ComplaintVolume
	if c.CreatedAt.Before(g.EarliestCreated) {
		g.EarliestCreated = c.CreatedAt
	}
}

// sortedGroups orders by cluster count, largest first.
func sortedGroups(groups map[string]*Group) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clusters != out[j].Clusters {
			return out[i].Clusters > out[j].Clusters
		}
		return out[i].Key < out[j].Key
	})
	return out
}
