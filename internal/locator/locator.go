// Package locator resolves the infrastructure asset a grievance or cluster
// most likely refers to.
package locator

import (
	"context"
	"fmt"
	"strings"

	"github.com/mr1hm/go-grievance-risk/internal/models"
	"github.com/mr1hm/go-grievance-risk/internal/repository"
)

const DefaultRadius = 1000 // meters

// AssetFinder is the proximity query the locator is built on.
type AssetFinder interface {
	NearestAsset(ctx context.Context, q repository.AssetQuery) (*models.Asset, error)
}

// AssetLocator is what the aggregator depends on.
type AssetLocator interface {
	FindNearestAsset(ctx context.Context, wardID, districtName string, location models.Point) (*models.Asset, error)
}

type Locator struct {
	finder AssetFinder
	radius float64
}

func New(finder AssetFinder, radius float64) *Locator {
	if radius <= 0 {
		radius = DefaultRadius
	}
	return &Locator{
		finder: finder,
		radius: radius,
	}
}

type stage struct {
	name     string
	ward     bool
	district bool
	bounded  bool
}

// Administrative names are entered inconsistently, so exact locality is tried
// first, then administrative area alone, then distance alone.
var stages = []stage{
	{name: "ward_district", ward: true, district: true, bounded: true},
	{name: "ward", ward: true, bounded: true},
	{name: "district", district: true, bounded: true},
	{name: "ward_any", ward: true},
	{name: "district_any", district: true},
}

// FindNearestAsset walks the stages in order and returns the first match, or
// nil when none of them find anything. Stages that need a ward or district
// are skipped when that value is blank.
func (l *Locator) FindNearestAsset(ctx context.Context, wardID, districtName string, location models.Point) (*models.Asset, error) {
	district := strings.TrimSpace(districtName)

	for _, s := range stages {
		if s.ward && wardID == "" {
			continue
		}
		if s.district && district == "" {
			continue
		}

		q := repository.AssetQuery{Near: repository.Near{Point: location}}
		if s.ward {
			q.WardID = wardID
		}
		if s.district {
			q.District = district
		}
		if s.bounded {
			q.Near.MaxDistance = l.radius
		}

		asset, err := l.finder.NearestAsset(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("asset lookup stage %s: %w", s.name, err)
		}
		if asset != nil {
			AssetLookupsTotal.WithLabelValues(s.name).Inc()
			return asset, nil
		}
	}

	AssetLookupsTotal.WithLabelValues("none").Inc()
	return nil, nil
}
