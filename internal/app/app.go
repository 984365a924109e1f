// Package app assembles the service's components from configuration. Both
// the HTTP server and grievancectl build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mr1hm/go-grievance-risk/internal/clustering"
	"github.com/mr1hm/go-grievance-risk/internal/config"
	"github.com/mr1hm/go-grievance-risk/internal/events"
	"github.com/mr1hm/go-grievance-risk/internal/locator"
	"github.com/mr1hm/go-grievance-risk/internal/lock"
	"github.com/mr1hm/go-grievance-risk/internal/report"
	"github.com/mr1hm/go-grievance-risk/internal/repository"
	"github.com/mr1hm/go-grievance-risk/internal/risk"
)

// clusterLockTTL bounds how long a crashed instance can hold a
// category/ward key in Redis.
const clusterLockTTL = 30 * time.Second

type App struct {
	DB          *repository.SQLiteDB
	Redis       *redis.Client // nil unless configured
	Broadcaster *events.Broadcaster
	AssetCache  *locator.CachedLocator // nil when caching is off
	Aggregator  *clustering.Aggregator
	Engine      *risk.Engine
	Reporter    *report.Reporter
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	a := &App{
		DB:          db,
		Broadcaster: events.NewBroadcaster(),
		Reporter:    report.NewReporter(db),
	}

	if cfg.Redis.Enabled() {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("error connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	var assets locator.AssetLocator = locator.New(db, cfg.Assets.MatchRadius)
	if cfg.Assets.CacheTTL > 0 {
		a.AssetCache = locator.NewCachedLocator(assets, cfg.Assets.CacheTTL)
		assets = a.AssetCache
	}

	var (
		locker lock.Locker
		lease  lock.TryLocker = db
	)
	if a.Redis != nil {
		rl := lock.NewRedisLocker(a.Redis, clusterLockTTL)
		lease = rl
		if cfg.Clustering.Serialize {
			locker = rl
		}
	} else if cfg.Clustering.Serialize {
		locker = lock.NewKeyedMutex()
	}
	slog.Info("clustering configured",
		"merge_radius_m", cfg.Clustering.MergeRadius,
		"partner_window", cfg.Clustering.PartnerWindow,
		"serialize", cfg.Clustering.Serialize)

	a.Aggregator = clustering.NewAggregator(db, assets, locker, a.Broadcaster, clustering.Config{
		MergeRadius:   cfg.Clustering.MergeRadius,
		PartnerWindow: cfg.Clustering.PartnerWindow,
	})
	a.Engine = risk.NewEngine(db, lease, cfg.Risk.LeaseTTL)

	return a, nil
}

// AssetFlusher returns the asset cache as a handler dependency, or nil.
func (a *App) AssetFlusher() interface{ Flush() } {
	if a.AssetCache == nil {
		return nil
	}
	return a.AssetCache
}

func (a *App) Close() {
	a.Broadcaster.Close()
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Error("error closing redis client", "error", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
