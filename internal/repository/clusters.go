package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-grievance-risk/internal/models"
)

const clusterColumns = `id, category, ward_id, district_name, longitude, latitude, complaint_volume, asset_id, status, created_at, updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanCluster(r rowScanner) (models.Cluster, error) {
	var (
		c         models.Cluster
		assetID   sql.NullString
		status    string
		createdAt int64
		updatedAt int64
	)
	err := r.Scan(&c.ID, &c.Category, &c.WardID, &c.DistrictName, &c.Location.Longitude, &c.Location.Latitude,
		&c.ComplaintVolume, &assetID, &status, &createdAt, &updatedAt)
	if err != nil {
		return c, err
	}
	if assetID.Valid {
		id := assetID.String
		c.AssetID = &id
	}
	c.Status = models.ClusterStatus(status)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// queryClusters reads cluster rows and then their members. Rows are drained
// before members are loaded so a single-connection pool never deadlocks.
func queryClusters(ctx context.Context, q querier, query string, args ...any) ([]models.Cluster, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []models.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning cluster: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		ids, err := loadMembers(ctx, q, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].GrievanceIDs = ids
	}
	return out, nil
}

func loadMembers(ctx context.Context, q querier, clusterID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT grievance_id FROM cluster_members WHERE cluster_id = ? ORDER BY seq`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("error loading members of cluster %s: %w", clusterID, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteDB) CountClusters(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clusters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting clusters: %w", err)
	}
	return n, nil
}

func (s *SQLiteDB) NearestCluster(ctx context.Context, q ClusterQuery) (*models.Cluster, error) {
	var w where
	w.add("category = ?", q.Category)
	w.add("ward_id = ?", q.WardID)
	if q.Status != "" {
		w.add("status = ?", string(q.Status))
	}
	w.within(q.Near)

	rows, err := s.db.QueryContext(ctx, `SELECT `+clusterColumns+` FROM clusters`+w.String(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("error searching clusters: %w", err)
	}
	var candidates []models.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning cluster: %w", err)
		}
		candidates = append(candidates, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating clusters: %w", err)
	}

	best, ok := nearest(candidates,
		func(c *models.Cluster) models.Point { return c.Location },
		func(c *models.Cluster) string { return c.ID },
		q.Near)
	if !ok {
		return nil, nil
	}

	ids, err := loadMembers(ctx, s.db, best.ID)
	if err != nil {
		return nil, err
	}
	best.GrievanceIDs = ids
	return best, nil
}

// CreateCluster writes the cluster and its members in one transaction. It
// fails without side effects if any member already belongs to a cluster.
func (s *SQLiteDB) CreateCluster(ctx context.Context, c *models.Cluster) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	c.ComplaintVolume = len(c.GrievanceIDs)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO clusters (`+clusterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Category, c.WardID, c.DistrictName, c.Location.Longitude, c.Location.Latitude,
		c.ComplaintVolume, nullString(c.AssetID), string(c.Status), toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("error inserting cluster %s: %w", c.ID, err)
	}

	for _, gid := range c.GrievanceIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cluster_members (cluster_id, grievance_id, added_at) VALUES (?, ?, ?)`,
			c.ID, gid, toMillis(c.CreatedAt))
		if err != nil {
			return fmt.Errorf("error adding grievance %s to cluster %s: %w", gid, c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing cluster %s: %w", c.ID, err)
	}
	return nil
}

// UpdateCluster persists new members, asset and status. Members already
// claimed by any cluster are skipped. The stored membership is read back and
// ComplaintVolume is recomputed from it, so c always reflects what was written.
func (s *SQLiteDB) UpdateCluster(ctx context.Context, c *models.Cluster) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := toMillis(c.UpdatedAt)
	for _, gid := range c.GrievanceIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cluster_members (cluster_id, grievance_id, added_at) VALUES (?, ?, ?)
			ON CONFLICT(grievance_id) DO NOTHING`,
			c.ID, gid, now)
		if err != nil {
			return fmt.Errorf("error adding grievance %s to cluster %s: %w", gid, c.ID, err)
		}
	}

	ids, err := loadMembers(ctx, tx, c.ID)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE clusters SET complaint_volume = ?, asset_id = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		len(ids), nullString(c.AssetID), string(c.Status), now, c.ID)
	if err != nil {
		return fmt.Errorf("error updating cluster %s: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("error checking rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("cluster %s: %w", c.ID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing cluster %s: %w", c.ID, err)
	}

	c.GrievanceIDs = ids
	c.ComplaintVolume = len(ids)
	return nil
}

func (s *SQLiteDB) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	clusters, err := queryClusters(ctx, s.db, `SELECT `+clusterColumns+` FROM clusters WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("error getting cluster %s: %w", id, err)
	}
	if len(clusters) == 0 {
		return nil, nil
	}
	return &clusters[0], nil
}

func (s *SQLiteDB) ListClusters(ctx context.Context, opts ClusterFilter) ([]models.Cluster, error) {
	var w where
	if opts.Status != nil {
		w.add("status = ?", string(*opts.Status))
	}
	if opts.Category != "" {
		w.add("category = ?", opts.Category)
	}
	if opts.WardID != "" {
		w.add("ward_id = ?", opts.WardID)
	}

	query := `SELECT ` + clusterColumns + ` FROM clusters` + w.String() + ` ORDER BY created_at, id`
	args := w.args
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	clusters, err := queryClusters(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing clusters: %w", err)
	}
	return clusters, nil
}

func (s *SQLiteDB) SetClusterStatus(ctx context.Context, id string, status models.ClusterStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE clusters SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("error updating cluster %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking rows affected: %w", err)
	}
	return n > 0, nil
}

// ListActiveClusterDetails loads every Active cluster with its member
// grievances (in membership order) and linked asset. A dangling asset
// reference resolves to a nil Asset.
func (s *SQLiteDB) ListActiveClusterDetails(ctx context.Context) ([]models.ClusterDetail, error) {
	active := models.ClusterActive
	clusters, err := s.ListClusters(ctx, ClusterFilter{Status: &active})
	if err != nil {
		return nil, err
	}

	members := make(map[string][]models.Grievance, len(clusters))
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.cluster_id, `+prefixed("g.", grievanceColumns)+`
		FROM cluster_members m
		JOIN grievances g ON g.id = m.grievance_id
		JOIN clusters c ON c.id = m.cluster_id
		WHERE c.status = ?
		ORDER BY m.seq`, string(models.ClusterActive))
	if err != nil {
		return nil, fmt.Errorf("error loading cluster members: %w", err)
	}
	for rows.Next() {
		var clusterID string
		g, err := scanGrievance(prefixScanner{rows, &clusterID})
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning cluster member: %w", err)
		}
		members[clusterID] = append(members[clusterID], g)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating cluster members: %w", err)
	}

	assets := make(map[string]*models.Asset)
	details := make([]models.ClusterDetail, 0, len(clusters))
	for _, c := range clusters {
		d := models.ClusterDetail{Cluster: c, Grievances: members[c.ID]}
		if c.AssetID != nil {
			a, seen := assets[*c.AssetID]
			if !seen {
				a, err = s.GetAsset(ctx, *c.AssetID)
				if err != nil {
					return nil, err
				}
				assets[*c.AssetID] = a
			}
			d.Asset = a
		}
		details = append(details, d)
	}
	return details, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// prefixScanner scans a leading column into head before handing the rest to
// an entity scanner.
type prefixScanner struct {
	r    rowScanner
	head any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.r.Scan(append([]any{p.head}, dest...)...)
}
