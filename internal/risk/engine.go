package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-grievance-risk/internal/lock"
	"github.com/mr1hm/go-grievance-risk/internal/models"
)

// ErrRunInProgress is returned when another run holds the engine.
var ErrRunInProgress = errors.New("risk run already in progress")

const leaseName = "risk-engine"

type Store interface {
	ListActiveClusterDetails(ctx context.Context) ([]models.ClusterDetail, error)
	AddRiskHistory(ctx context.Context, r *models.RiskHistory) error
}

// Engine runs scoring batches. At most one run is in flight per process, and
// per deployment when a lease is configured.
type Engine struct {
	store    Store
	lease    lock.TryLocker
	leaseTTL time.Duration
	running  sync.Mutex
	now      func() time.Time
}

// NewEngine returns an engine. lease may be nil for a single instance.
// A leased run that outlives leaseTTL is cut short and returns
// context.DeadlineExceeded, so leaseTTL must exceed the longest expected run.
func NewEngine(store Store, lease lock.TryLocker, leaseTTL time.Duration) *Engine {
	if leaseTTL <= 0 {
		leaseTTL = 10 * time.Minute
	}
	return &Engine{
		store:    store,
		lease:    lease,
		leaseTTL: leaseTTL,
		now:      time.Now,
	}
}

// Run scores every Active cluster and appends one history record each.
// Records are written one at a time; the first failure stops the run and the
// records already written are returned alongside the error.
func (e *Engine) Run(ctx context.Context) ([]models.RiskHistory, error) {
	if !e.running.TryLock() {
		RiskRunsTotal.WithLabelValues("busy").Inc()
		return nil, ErrRunInProgress
	}
	defer e.running.Unlock()

	if e.lease != nil {
		// the lease is not renewed, so the run must finish before it expires
		deadline := time.Now().Add(e.leaseTTL)
		release, ok, err := e.lease.TryLock(ctx, leaseName, e.leaseTTL)
		if err != nil {
			RiskRunsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("error acquiring risk run lease: %w", err)
		}
		if !ok {
			RiskRunsTotal.WithLabelValues("busy").Inc()
			return nil, ErrRunInProgress
		}
		defer release()

		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	start := time.Now()
	records, err := e.run(ctx)
	RiskRunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		RiskRunsTotal.WithLabelValues("error").Inc()
		slog.Error("risk run failed", "written", len(records), "error", err)
		return records, err
	}

	RiskRunsTotal.WithLabelValues("success").Inc()
	RiskClustersScored.Set(float64(len(records)))
	slog.Info("risk run complete", "clusters_scored", len(records), "duration", time.Since(start))
	return records, nil
}

func (e *Engine) run(ctx context.Context) ([]models.RiskHistory, error) {
	details, err := e.store.ListActiveClusterDetails(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading active clusters: %w", err)
	}

	now := e.now()
	scored := ScoreBatch(details, now)

	records := make([]models.RiskHistory, 0, len(scored))
	for _, s := range scored {
		if err := ctx.Err(); err != nil {
			return records, fmt.Errorf("risk run cancelled after %d clusters: %w", len(records), err)
		}

		r := models.RiskHistory{
			ID:        uuid.NewString(),
			ClusterID: s.ClusterID,
			Score:     s.Score,
			Breakdown: s.Breakdown,
			CreatedAt: now,
		}
		if err := e.store.AddRiskHistory(ctx, &r); err != nil {
			return records, fmt.Errorf("error saving risk score for cluster %s: %w", s.ClusterID, err)
		}
		records = append(records, r)
		slog.Debug("scored cluster", "cluster_id", s.ClusterID, "score", s.Score)
	}
	return records, nil
}
