package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mr1hm/go-grievance-risk/internal/models"
)

const grievanceColumns = `id, category, longitude, latitude, ward_id, district_name, description, severity, status, submitted_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrievance(r rowScanner) (models.Grievance, error) {
	var (
		g           models.Grievance
		description sql.NullString
		severity    string
		status      string
		submittedAt int64
		createdAt   int64
	)
	err := r.Scan(&g.ID, &g.Category, &g.Location.Longitude, &g.Location.Latitude, &g.WardID,
		&g.DistrictName, &description, &severity, &status, &submittedAt, &createdAt)
	if err != nil {
		return g, err
	}
	g.Description = description.String
	g.Severity = models.Severity(severity)
	g.Status = models.GrievanceStatus(status)
	g.SubmittedAt = fromMillis(submittedAt)
	g.CreatedAt = fromMillis(createdAt)
	return g, nil
}

func (s *SQLiteDB) queryGrievances(ctx context.Context, query string, args ...any) ([]models.Grievance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Grievance
	for rows.Next() {
		g, err := scanGrievance(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning grievance: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) AddGrievance(ctx context.Context, g *models.Grievance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grievances (`+grievanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Category, g.Location.Longitude, g.Location.Latitude, g.WardID, g.DistrictName,
		g.Description, string(g.Severity), string(g.Status), toMillis(g.SubmittedAt), toMillis(g.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("error inserting grievance %s: %w", g.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetGrievance(ctx context.Context, id string) (*models.Grievance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+grievanceColumns+` FROM grievances WHERE id = ?`, id)
	g, err := scanGrievance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting grievance %s: %w", id, err)
	}
	return &g, nil
}

func (s *SQLiteDB) ListGrievances(ctx context.Context, opts GrievanceFilter) ([]models.Grievance, error) {
	var w where
	if opts.Since != nil {
		w.add("created_at >= ?", toMillis(*opts.Since))
	}
	if opts.Until != nil {
		w.add("created_at < ?", toMillis(*opts.Until))
	}
	if opts.Category != "" {
		w.add("category = ?", opts.Category)
	}
	if opts.WardID != "" {
		w.add("ward_id = ?", opts.WardID)
	}

	query := `SELECT ` + grievanceColumns + ` FROM grievances` + w.String() + ` ORDER BY created_at, id`
	args := w.args
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	out, err := s.queryGrievances(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing grievances: %w", err)
	}
	return out, nil
}

func (s *SQLiteDB) SetGrievanceStatus(ctx context.Context, id string, status models.GrievanceStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE grievances SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("error updating grievance %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("grievance %s: %w", id, ErrNotFound)
	}
	return nil
}

// NearestUnclusteredGrievance finds a partner for cluster creation: a grievance
// that no cluster has ever claimed.
func (s *SQLiteDB) NearestUnclusteredGrievance(ctx context.Context, q PartnerQuery) (*models.Grievance, error) {
	var w where
	w.add("id != ?", q.ExcludeID)
	w.add("category = ?", q.Category)
	w.add("ward_id = ?", q.WardID)
	w.add("district_name = ?", q.District)
	w.add("created_at >= ?", toMillis(q.CreatedSince))
	if !q.CreatedUntil.IsZero() {
		w.add("created_at <= ?", toMillis(q.CreatedUntil))
	}
	w.add("id NOT IN (SELECT grievance_id FROM cluster_members)")
	w.within(q.Near)

	candidates, err := s.queryGrievances(ctx, `SELECT `+grievanceColumns+` FROM grievances`+w.String(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("error searching partner grievances: %w", err)
	}

	best, ok := nearest(candidates,
		func(g *models.Grievance) models.Point { return g.Location },
		func(g *models.Grievance) string { return g.ID },
		q.Near)
	if !ok {
		return nil, nil
	}
	return best, nil
}
