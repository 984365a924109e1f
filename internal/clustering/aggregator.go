// Package clustering groups grievances that describe the same physical
// problem. Clustering is online and accumulating: a grievance either joins
// the nearest Active cluster, seeds a new cluster together with one nearby
// unclustered partner, or stays unclustered. Clusters never merge with each
// other and membership only grows.
package clustering

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-grievance-risk/internal/events"
	"github.com/mr1hm/go-grievance-risk/internal/locator"
	"github.com/mr1hm/go-grievance-risk/internal/lock"
	"github.com/mr1hm/go-grievance-risk/internal/models"
	"github.com/mr1hm/go-grievance-risk/internal/repository"
)

const (
	DefaultMergeRadius   = 500 // meters
	DefaultPartnerWindow = 30 * 24 * time.Hour
)

// Store is the persistence the aggregator needs.
type Store interface {
	CountClusters(ctx context.Context) (int, error)
	NearestCluster(ctx context.Context, q repository.ClusterQuery) (*models.Cluster, error)
	CreateCluster(ctx context.Context, c *models.Cluster) error
	UpdateCluster(ctx context.Context, c *models.Cluster) error
	ListClusters(ctx context.Context, opts repository.ClusterFilter) ([]models.Cluster, error)
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	NearestUnclusteredGrievance(ctx context.Context, q repository.PartnerQuery) (*models.Grievance, error)
}

type Config struct {
	MergeRadius   float64       // meters; applies to both cluster and partner search
	PartnerWindow time.Duration // how far back a partner's creation may lie
}

type Aggregator struct {
	store     Store
	assets    locator.AssetLocator
	locker    lock.Locker
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
}

// NewAggregator wires an aggregator. locker and publisher may be nil: a nil
// locker leaves concurrent submissions unserialized and a nil publisher
// disables events.
func NewAggregator(store Store, assets locator.AssetLocator, locker lock.Locker, publisher events.Publisher, cfg Config) *Aggregator {
	if cfg.MergeRadius <= 0 {
		cfg.MergeRadius = DefaultMergeRadius
	}
	if cfg.PartnerWindow <= 0 {
		cfg.PartnerWindow = DefaultPartnerWindow
	}
	if locker == nil {
		locker = lock.Noop{}
	}
	return &Aggregator{
		store:     store,
		assets:    assets,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// lockKey scopes serialization to the clusters a grievance could touch.
func lockKey(category, wardID string) string {
	return category + "|" + wardID
}

// ProcessGrievance runs once per stored grievance. It returns the cluster the
// grievance ended up in, or nil when it stays unclustered.
func (a *Aggregator) ProcessGrievance(ctx context.Context, g *models.Grievance) (*models.Cluster, error) {
	unlock, err := a.locker.Lock(ctx, lockKey(g.Category, g.WardID))
	if err != nil {
		return nil, fmt.Errorf("error locking %s/%s: %w", g.Category, g.WardID, err)
	}
	defer unlock()

	c, outcome, err := a.process(ctx, g)
	if err != nil {
		ClusteringTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	ClusteringTotal.WithLabelValues(outcome).Inc()

	switch outcome {
	case "created":
		a.publish(events.ClusterCreated, c, g.ID)
	case "merged":
		a.publish(events.ClusterMerged, c, g.ID)
	}
	return c, nil
}

func (a *Aggregator) process(ctx context.Context, g *models.Grievance) (*models.Cluster, string, error) {
	count, err := a.store.CountClusters(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("error counting clusters: %w", err)
	}

	if count > 0 {
		existing, err := a.store.NearestCluster(ctx, repository.ClusterQuery{
			Category: g.Category,
			WardID:   g.WardID,
			Status:   models.ClusterActive,
			Near:     repository.Near{Point: g.Location, MaxDistance: a.cfg.MergeRadius},
		})
		if err != nil {
			return nil, "", fmt.Errorf("error searching clusters for grievance %s: %w", g.ID, err)
		}
		if existing != nil {
			return a.merge(ctx, existing, g)
		}
	}

	// the window trails the grievance, so a replay pairs only with
	// grievances that already existed when it arrived
	until := g.CreatedAt
	if until.IsZero() {
		until = a.now()
	}
	partner, err := a.store.NearestUnclusteredGrievance(ctx, repository.PartnerQuery{
		ExcludeID:    g.ID,
		Category:     g.Category,
		WardID:       g.WardID,
		District:     g.DistrictName,
		CreatedSince: until.Add(-a.cfg.PartnerWindow),
		CreatedUntil: until,
		Near:         repository.Near{Point: g.Location, MaxDistance: a.cfg.MergeRadius},
	})
	if err != nil {
		return nil, "", fmt.Errorf("error searching partner for grievance %s: %w", g.ID, err)
	}
	if partner == nil {
		slog.Debug("grievance left unclustered", "grievance_id", g.ID, "category", g.Category, "ward_id", g.WardID)
		return nil, "unclustered", nil
	}

	return a.create(ctx, partner, g)
}

func (a *Aggregator) merge(ctx context.Context, c *models.Cluster, g *models.Grievance) (*models.Cluster, string, error) {
	added := c.AddMember(g.ID)

	assetChanged, err := a.refreshAsset(ctx, c)
	if err != nil {
		return nil, "", err
	}

	if !added && !assetChanged {
		return c, "duplicate", nil
	}

	c.UpdatedAt = a.now()
	if err := a.store.UpdateCluster(ctx, c); err != nil {
		return nil, "", fmt.Errorf("error merging grievance %s into cluster %s: %w", g.ID, c.ID, err)
	}

	slog.Info("merged grievance into cluster", "grievance_id", g.ID, "cluster_id", c.ID, "complaint_volume", c.ComplaintVolume)
	if !added {
		return c, "duplicate", nil
	}
	return c, "merged", nil
}

func (a *Aggregator) create(ctx context.Context, partner, g *models.Grievance) (*models.Cluster, string, error) {
	asset, err := a.assets.FindNearestAsset(ctx, g.WardID, g.DistrictName, g.Location)
	if err != nil {
		return nil, "", fmt.Errorf("error resolving asset for grievance %s: %w", g.ID, err)
	}

	now := a.now()
	c := &models.Cluster{
		ID:           uuid.NewString(),
		Category:     g.Category,
		WardID:       g.WardID,
		DistrictName: g.DistrictName,
		Location:     g.Location,
		GrievanceIDs: []string{partner.ID, g.ID},
		Status:       models.ClusterActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.ComplaintVolume = len(c.GrievanceIDs)
	if asset != nil {
		c.AssetID = &asset.ID
	}

	if err := a.store.CreateCluster(ctx, c); err != nil {
		return nil, "", fmt.Errorf("error creating cluster for grievances %s and %s: %w", partner.ID, g.ID, err)
	}

	slog.Info("created cluster", "cluster_id", c.ID, "category", c.Category, "ward_id", c.WardID,
		"grievance_ids", c.GrievanceIDs, "asset_id", c.AssetID)
	return c, "created", nil
}

// needsAsset reports whether c has no usable asset: unset, dangling, or
// pointing at an asset with no repair cost.
func (a *Aggregator) needsAsset(ctx context.Context, c *models.Cluster) (bool, error) {
	if c.AssetID == nil || *c.AssetID == "" {
		return true, nil
	}
	asset, err := a.store.GetAsset(ctx, *c.AssetID)
	if err != nil {
		return false, fmt.Errorf("error loading asset %s of cluster %s: %w", *c.AssetID, c.ID, err)
	}
	return !asset.HasCost(), nil
}

// refreshAsset re-resolves the cluster's asset when it has no usable one.
// An existing reference is kept when the lookup comes back empty.
func (a *Aggregator) refreshAsset(ctx context.Context, c *models.Cluster) (bool, error) {
	needs, err := a.needsAsset(ctx, c)
	if err != nil || !needs {
		return false, err
	}

	asset, err := a.assets.FindNearestAsset(ctx, c.WardID, c.DistrictName, c.Location)
	if err != nil {
		return false, fmt.Errorf("error resolving asset for cluster %s: %w", c.ID, err)
	}
	if asset == nil || (c.AssetID != nil && *c.AssetID == asset.ID) {
		return false, nil
	}
	c.AssetID = &asset.ID
	return true, nil
}

func (a *Aggregator) publish(kind events.Kind, c *models.Cluster, grievanceID string) {
	if a.publisher == nil {
		return
	}
	snapshot := *c
	snapshot.GrievanceIDs = slices.Clone(c.GrievanceIDs)
	a.publisher.Publish(&events.ClusterEvent{
		Kind:        kind,
		Cluster:     snapshot,
		GrievanceID: grievanceID,
		At:          a.now(),
	})
}
