package clustering

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mr1hm/go-grievance-risk/internal/models"
	"github.com/mr1hm/go-grievance-risk/internal/repository"
)

type BackfillResult struct {
	Scanned int
	Updated int
}

// BackfillAssets re-resolves the asset of every Active cluster that has no
// usable one. Clusters for which no asset can be found are left as they are.
func (a *Aggregator) BackfillAssets(ctx context.Context) (BackfillResult, error) {
	active := models.ClusterActive
	clusters, err := a.store.ListClusters(ctx, repository.ClusterFilter{Status: &active})
	if err != nil {
		return BackfillResult{}, fmt.Errorf("error listing active clusters: %w", err)
	}

	res := BackfillResult{Scanned: len(clusters)}
	for i := range clusters {
		c := &clusters[i]

		unlock, err := a.locker.Lock(ctx, lockKey(c.Category, c.WardID))
		if err != nil {
			return res, fmt.Errorf("error locking %s/%s: %w", c.Category, c.WardID, err)
		}
		changed, err := a.refreshAsset(ctx, c)
		if err == nil && changed {
			c.UpdatedAt = a.now()
			err = a.store.UpdateCluster(ctx, c)
		}
		unlock()

		if err != nil {
			return res, fmt.Errorf("error backfilling cluster %s: %w", c.ID, err)
		}
		if !changed {
			slog.Debug("no asset change for cluster", "cluster_id", c.ID)
			continue
		}
		res.Updated++
		slog.Info("mapped cluster to asset", "cluster_id", c.ID, "asset_id", *c.AssetID)
	}

	slog.Info("asset backfill complete", "updated", res.Updated, "scanned", res.Scanned)
	return res, nil
}
