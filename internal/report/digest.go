package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mr1hm/go-grievance-risk/internal/models"
	"github.com/mr1hm/go-grievance-risk/internal/repository"
)

// DigestEntry summarizes one Active cluster for the periodic admin digest.
type DigestEntry struct {
	ClusterID       string     `json:"cluster_id"`
	Category        string     `json:"category"`
	WardID          string     `json:"ward_id"`
	DistrictName    string     `json:"district_name"`
	ComplaintVolume int        `json:"complaint_volume"`
	AssetID         *string    `json:"asset_id,omitempty"`
	AssetType       string     `json:"asset_type,omitempty"`
	LatestScore     *int       `json:"latest_score"`
	ScoredAt        *time.Time `json:"scored_at,omitempty"`
	Members         int        `json:"members"`
	Unresolved      int        `json:"unresolved"`
	HighSeverity    int        `json:"high_severity"`
}

type Digest struct {
	Clusters        []DigestEntry `json:"clusters"`
	TotalUnresolved int           `json:"total_unresolved"`
}

// ActiveDigest lists Active clusters by complaint volume, largest first,
// with their latest score if they have been scored.
func (r *Reporter) ActiveDigest(ctx context.Context) (*Digest, error) {
	details, err := r.store.ListActiveClusterDetails(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading active clusters: %w", err)
	}
	history, err := r.store.ListRiskHistory(ctx, repository.RiskFilter{})
	if err != nil {
		return nil, fmt.Errorf("error loading risk history: %w", err)
	}
	latest := latestPerCluster(history)

	d := &Digest{Clusters: make([]DigestEntry, 0, len(details))}
	for _, cd := range details {
		e := DigestEntry{
			ClusterID:       cd.Cluster.ID,
			Category:        cd.Cluster.Category,
			WardID:          cd.Cluster.WardID,
			DistrictName:    cd.Cluster.DistrictName,
			ComplaintVolume: cd.Cluster.ComplaintVolume,
			AssetID:         cd.Cluster.AssetID,
			Members:         len(cd.Grievances),
		}
		if cd.Asset != nil {
			e.AssetType = cd.Asset.Type
		}
		if rec, ok := latest[cd.Cluster.ID]; ok {
			score, at := rec.Score, rec.CreatedAt
			e.LatestScore = &score
			e.ScoredAt = &at
		}
		for _, g := range cd.Grievances {
			if g.Status != models.GrievanceResolved {
				e.Unresolved++
			}
			if g.Severity == models.SeverityHigh {
				e.HighSeverity++
			}
		}
		d.TotalUnresolved += e.Unresolved
		d.Clusters = append(d.Clusters, e)
	}

	sort.SliceStable(d.Clusters, func(i, j int) bool {
		if d.Clusters[i].ComplaintVolume != d.Clusters[j].ComplaintVolume {
			return d.Clusters[i].ComplaintVolume > d.Clusters[j].ComplaintVolume
		}
		return d.Clusters[i].ClusterID < d.Clusters[j].ClusterID
	})
	return d, nil
}
