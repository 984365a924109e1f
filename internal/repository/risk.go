package repository

import (
	"context"
	"fmt"

	"github.com/mr1hm/go-grievance-risk/internal/models"
)

// AddRiskHistory appends a score record. Records are never updated.
func (s *SQLiteDB) AddRiskHistory(ctx context.Context, r *models.RiskHistory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_history (id, cluster_id, score, severity, recency, volume, maintenance, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ClusterID, r.Score, r.Breakdown.Severity, r.Breakdown.Recency, r.Breakdown.Volume,
		r.Breakdown.Maintenance, r.Breakdown.Cost, toMillis(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("error inserting risk history for cluster %s: %w", r.ClusterID, err)
	}
	return nil
}

// ListRiskHistory returns records newest first.
func (s *SQLiteDB) ListRiskHistory(ctx context.Context, opts RiskFilter) ([]models.RiskHistory, error) {
	var w where
	if opts.ClusterID != "" {
		w.add("cluster_id = ?", opts.ClusterID)
	}
	if opts.Since != nil {
		w.add("created_at >= ?", toMillis(*opts.Since))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cluster_id, score, severity, recency, volume, maintenance, cost, created_at
		FROM risk_history`+w.String()+`
		ORDER BY created_at DESC, rowid DESC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("error listing risk history: %w", err)
	}
	defer rows.Close()

	var out []models.RiskHistory
	for rows.Next() {
		var (
			r         models.RiskHistory
			createdAt int64
		)
		err := rows.Scan(&r.ID, &r.ClusterID, &r.Score, &r.Breakdown.Severity, &r.Breakdown.Recency,
			&r.Breakdown.Volume, &r.Breakdown.Maintenance, &r.Breakdown.Cost, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning risk history: %w", err)
		}
		r.CreatedAt = fromMillis(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
