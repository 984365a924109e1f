// Package intake accepts stored grievances for clustering and drives the
// scheduled risk runs.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-grievance-risk/internal/config"
	"github.com/mr1hm/go-grievance-risk/internal/models"
	"github.com/mr1hm/go-grievance-risk/internal/risk"
	"github.com/mr1hm/go-grievance-risk/internal/worker"
)

type GrievanceStore interface {
	AddGrievance(ctx context.Context, g *models.Grievance) error
}

type Processor interface {
	ProcessGrievance(ctx context.Context, g *models.Grievance) (*models.Cluster, error)
}

type RiskRunner interface {
	Run(ctx context.Context) ([]models.RiskHistory, error)
}

// ErrStopped is returned by Submit once the manager has begun shutting down.
var ErrStopped = errors.New("intake manager stopped")

type Manager struct {
	cfg       *config.Config
	store     GrievanceStore
	processor Processor
	runner    RiskRunner
	pool      *worker.WorkerPool[*models.Grievance]
	wg        sync.WaitGroup

	// mu guards stopped; Submit holds it shared while queueing so Stop
	// never closes the queue under an in-flight send.
	mu              sync.RWMutex
	stopped         bool
	cancelScheduler context.CancelFunc
}

// NewManager wires the intake path. runner may be nil when no scheduled
// risk runs are wanted.
func NewManager(cfg *config.Config, store GrievanceStore, processor Processor, runner RiskRunner) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     store,
		processor: processor,
		runner:    runner,
	}
}

func (m *Manager) Start(ctx context.Context) {
	process := func(ctx context.Context, g *models.Grievance) error {
		c, err := m.processor.ProcessGrievance(ctx, g)
		if err != nil {
			return fmt.Errorf("error clustering grievance %s: %w", g.ID, err)
		}
		if c != nil {
			slog.Debug("grievance clustered", "grievance_id", g.ID, "cluster_id", c.ID)
		}
		return nil
	}

	// queued grievances are already stored and acknowledged, so clustering
	// them must not be cut short by ctx; Stop drains the queue instead
	m.pool = worker.NewWorkerPool("clustering", m.cfg.Worker.Count, m.cfg.Worker.BufferSize, process)
	m.pool.Start(context.WithoutCancel(ctx))

	schedCtx, cancel := context.WithCancel(ctx)
	m.cancelScheduler = cancel
	if m.runner != nil && m.cfg.Risk.Interval > 0 {
		m.wg.Add(1)
		go m.runScheduler(schedCtx, m.cfg.Risk.Interval)
	}
}

// Submit validates and stores g, then queues it for clustering. The
// grievance is durable once Submit returns nil, even if clustering later fails.
func (m *Manager) Submit(ctx context.Context, g *models.Grievance) error {
	if err := g.Validate(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return ErrStopped
	}

	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if g.SubmittedAt.IsZero() {
		g.SubmittedAt = g.CreatedAt
	}

	if err := m.store.AddGrievance(ctx, g); err != nil {
		return fmt.Errorf("error storing grievance %s: %w", g.ID, err)
	}
	if err := m.pool.SubmitContext(ctx, g); err != nil {
		return fmt.Errorf("grievance %s stored but not queued for clustering: %w", g.ID, err)
	}

	slog.Info("grievance accepted", "grievance_id", g.ID, "category", g.Category, "ward_id", g.WardID)
	return nil
}

func (m *Manager) runScheduler(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	slog.Info("starting risk scheduler", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("risk scheduler shutting down")
			return
		case <-ticker.C:
			m.runRisk(ctx)
		}
	}
}

func (m *Manager) runRisk(ctx context.Context) {
	records, err := m.runner.Run(ctx)
	switch {
	case errors.Is(err, risk.ErrRunInProgress):
		slog.Info("scheduled risk run skipped, another run in progress")
	case err != nil:
		slog.Error("scheduled risk run failed", "written", len(records), "error", err)
	default:
		slog.Debug("scheduled risk run complete", "records", len(records))
	}
}

// Stop rejects further submissions, waits for every queued grievance to be
// clustered, then stops the risk scheduler. It is safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.pool.Stop()
	m.cancelScheduler()
	m.wg.Wait()
	slog.Info("intake manager stopped")
}
