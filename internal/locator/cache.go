package locator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/mr1hm/go-grievance-risk/internal/models"
)

// CachedLocator memoizes lookups, including misses, for a short TTL.
// Flush it whenever assets change.
type CachedLocator struct {
	next  AssetLocator
	cache *cache.Cache
}

func NewCachedLocator(next AssetLocator, ttl time.Duration) *CachedLocator {
	return &CachedLocator{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *CachedLocator) FindNearestAsset(ctx context.Context, wardID, districtName string, location models.Point) (*models.Asset, error) {
	key := cacheKey(wardID, districtName, location)
	if v, found := c.cache.Get(key); found {
		AssetCacheTotal.WithLabelValues("hit").Inc()
		return copyAsset(v.(*models.Asset)), nil
	}
	AssetCacheTotal.WithLabelValues("miss").Inc()

	asset, err := c.next.FindNearestAsset(ctx, wardID, districtName, location)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, copyAsset(asset))
	return asset, nil
}

func (c *CachedLocator) Flush() {
	c.cache.Flush()
}

// ~1m of precision at the equator
func cacheKey(wardID, districtName string, p models.Point) string {
	return fmt.Sprintf("%s|%s|%.5f|%.5f", wardID, strings.ToLower(strings.TrimSpace(districtName)), p.Longitude, p.Latitude)
}

func copyAsset(a *models.Asset) *models.Asset {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
