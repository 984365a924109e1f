package repository

import (
	"context"
	"time"

	"github.com/mr1hm/go-grievance-risk/internal/models"
)

// Near bounds a proximity query. A zero MaxDistance means no distance bound:
// the nearest match is returned no matter how far away it is.
type Near struct {
	Point       models.Point
	MaxDistance float64 // meters
}

type AssetQuery struct {
	WardID   string // exact match when non-empty
	District string // case-insensitive exact match when non-empty
	Near     Near
}

type ClusterQuery struct {
	Category string
	WardID   string
	Status   models.ClusterStatus
	Near     Near
}

// PartnerQuery finds a grievance that is not a member of any cluster.
// Candidates are created in [CreatedSince, CreatedUntil]; a zero
// CreatedUntil leaves the window open-ended.
type PartnerQuery struct {
	ExcludeID    string
	Category     string
	WardID       string
	District     string
	CreatedSince time.Time
	CreatedUntil time.Time
	Near         Near
}

type GrievanceFilter struct {
	Limit    int
	Since    *time.Time // created_at >= Since
	Until    *time.Time // created_at < Until
	Category string
	WardID   string
}

type ClusterFilter struct {
	Limit    int
	Status   *models.ClusterStatus
	Category string
	WardID   string
}

type RiskFilter struct {
	ClusterID string
	Since     *time.Time
}

type GrievanceRepository interface {
	AddGrievance(ctx context.Context, g *models.Grievance) error
	GetGrievance(ctx context.Context, id string) (*models.Grievance, error)
	ListGrievances(ctx context.Context, opts GrievanceFilter) ([]models.Grievance, error)
	SetGrievanceStatus(ctx context.Context, id string, status models.GrievanceStatus) error
	NearestUnclusteredGrievance(ctx context.Context, q PartnerQuery) (*models.Grievance, error)
}

type AssetRepository interface {
	UpsertAsset(ctx context.Context, a *models.Asset) error
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	NearestAsset(ctx context.Context, q AssetQuery) (*models.Asset, error)
}

type ClusterRepository interface {
	CountClusters(ctx context.Context) (int, error)
	NearestCluster(ctx context.Context, q ClusterQuery) (*models.Cluster, error)
	CreateCluster(ctx context.Context, c *models.Cluster) error
	UpdateCluster(ctx context.Context, c *models.Cluster) error
	GetCluster(ctx context.Context, id string) (*models.Cluster, error)
	ListClusters(ctx context.Context, opts ClusterFilter) ([]models.Cluster, error)
	SetClusterStatus(ctx context.Context, id string, status models.ClusterStatus) (bool, error)
	ListActiveClusterDetails(ctx context.Context) ([]models.ClusterDetail, error)
}

type RiskRepository interface {
	AddRiskHistory(ctx context.Context, r *models.RiskHistory) error
	ListRiskHistory(ctx context.Context, opts RiskFilter) ([]models.RiskHistory, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	GrievanceRepository
	AssetRepository
	ClusterRepository
	RiskRepository
}
