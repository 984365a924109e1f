package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mr1hm/go-grievance-risk/internal/models"
)

const assetColumns = `id, type, longitude, latitude, ward_id, district_name, last_maintenance, repair_cost, service_radius`

func scanAsset(r rowScanner) (models.Asset, error) {
	var (
		a               models.Asset
		lastMaintenance sql.NullInt64
		repairCost      sql.NullFloat64
	)
	err := r.Scan(&a.ID, &a.Type, &a.Location.Longitude, &a.Location.Latitude, &a.WardID,
		&a.DistrictName, &lastMaintenance, &repairCost, &a.ServiceRadius)
	if err != nil {
		return a, err
	}
	if lastMaintenance.Valid {
		t := fromMillis(lastMaintenance.Int64)
		a.LastMaintenance = &t
	}
	if repairCost.Valid {
		cost := repairCost.Float64
		a.RepairCost = &cost
	}
	return a, nil
}

func (s *SQLiteDB) UpsertAsset(ctx context.Context, a *models.Asset) error {
	var cost sql.NullFloat64
	if a.RepairCost != nil {
		cost = sql.NullFloat64{Float64: *a.RepairCost, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			longitude = excluded.longitude,
			latitude = excluded.latitude,
			ward_id = excluded.ward_id,
			district_name = excluded.district_name,
			last_maintenance = excluded.last_maintenance,
			repair_cost = excluded.repair_cost,
			service_radius = excluded.service_radius`,
		a.ID, a.Type, a.Location.Longitude, a.Location.Latitude, a.WardID, a.DistrictName,
		nullMillis(a.LastMaintenance), cost, a.ServiceRadius,
	)
	if err != nil {
		return fmt.Errorf("error upserting asset %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting asset %s: %w", id, err)
	}
	return &a, nil
}

func (s *SQLiteDB) NearestAsset(ctx context.Context, q AssetQuery) (*models.Asset, error) {
	var w where
	if q.WardID != "" {
		w.add("ward_id = ?", q.WardID)
	}
	if district := strings.TrimSpace(q.District); district != "" {
		w.add("TRIM(district_name) = ? COLLATE NOCASE", district)
	}
	w.within(q.Near)

	rows, err := s.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets`+w.String(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("error searching assets: %w", err)
	}
	defer rows.Close()

	var candidates []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning asset: %w", err)
		}
		candidates = append(candidates, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}

	best, ok := nearest(candidates,
		func(a *models.Asset) models.Point { return a.Location },
		func(a *models.Asset) string { return a.ID },
		q.Near)
	if !ok {
		return nil, nil
	}
	return best, nil
}
