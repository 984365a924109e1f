package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mr1hm/go-grievance-risk/internal/geo"
	"github.com/mr1hm/go-grievance-risk/internal/models"
)

var origin = models.Point{Longitude: 80.2707, Latitude: 13.0827}

func setupTestDB(t *testing.T) *SQLiteDB {
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	return db
}

func grievance(id string, loc models.Point, created time.Time) *models.Grievance {
	return &models.Grievance{
		ID:           id,
		Category:     "Road Damage",
		Location:     loc,
		WardID:       "W1",
		DistrictName: "Chennai",
		Severity:     models.SeverityMedium,
		Status:       models.GrievancePending,
		SubmittedAt:  created,
		CreatedAt:    created,
	}
}

func cost(v float64) *float64 { return &v }

func TestSQLiteDB_AddAndGetGrievance(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	g := grievance("g1", origin, now)
	g.Description = "pothole near the bus stop"

	if err := db.AddGrievance(ctx, g); err != nil {
		t.Fatalf("AddGrievance failed: %v", err)
	}

	got, err := db.GetGrievance(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGrievance failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected grievance, got nil")
	}
	if got.Description != "pothole near the bus stop" {
		t.Errorf("expected description to round trip, got '%s'", got.Description)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("expected created_at %v, got %v", now, got.CreatedAt)
	}

	missing, err := db.GetGrievance(ctx, "nope")
	if err != nil {
		t.Fatalf("GetGrievance failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing grievance")
	}
}

func TestSQLiteDB_DuplicateGrievance(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	g := grievance("dup", origin, time.Now())
	if err := db.AddGrievance(ctx, g); err != nil {
		t.Fatalf("first AddGrievance failed: %v", err)
	}
	if err := db.AddGrievance(ctx, g); err == nil {
		t.Error("expected error for duplicate ID, got nil")
	}
}

func TestSQLiteDB_NearestAsset_RadiusAndFilters(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	assets := []*models.Asset{
		{ID: "near", Type: "Road", Location: geo.Offset(origin, 200, 0), WardID: "W1", DistrictName: "Chennai", RepairCost: cost(100)},
		{ID: "nearer-other-ward", Type: "Road", Location: geo.Offset(origin, 50, 0), WardID: "W2", DistrictName: "Chennai"},
		{ID: "far", Type: "Drain", Location: geo.Offset(origin, 5000, 0), WardID: "W1", DistrictName: "chennai "},
	}
	for _, a := range assets {
		if err := db.UpsertAsset(ctx, a); err != nil {
			t.Fatalf("UpsertAsset failed: %v", err)
		}
	}

	got, err := db.NearestAsset(ctx, AssetQuery{WardID: "W1", Near: Near{Point: origin, MaxDistance: 1000}})
	if err != nil {
		t.Fatalf("NearestAsset failed: %v", err)
	}
	if got == nil || got.ID != "near" {
		t.Fatalf("expected 'near', got %+v", got)
	}
	if !got.HasCost() || *got.RepairCost != 100 {
		t.Errorf("expected repair cost 100, got %v", got.RepairCost)
	}

	got, err = db.NearestAsset(ctx, AssetQuery{Near: Near{Point: origin, MaxDistance: 1000}})
	if err != nil {
		t.Fatalf("NearestAsset failed: %v", err)
	}
	if got == nil || got.ID != "nearer-other-ward" {
		t.Errorf("expected 'nearer-other-ward' without filters, got %+v", got)
	}

	// unbounded, case-insensitive trimmed district match
	got, err = db.NearestAsset(ctx, AssetQuery{District: "CHENNAI", WardID: "W1", Near: Near{Point: geo.Offset(origin, 6000, 0)}})
	if err != nil {
		t.Fatalf("NearestAsset failed: %v", err)
	}
	if got == nil || got.ID != "far" {
		t.Errorf("expected 'far' for unbounded query, got %+v", got)
	}

	got, err = db.NearestAsset(ctx, AssetQuery{WardID: "W9", Near: Near{Point: origin}})
	if err != nil {
		t.Fatalf("NearestAsset failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown ward, got %+v", got)
	}
}

func TestSQLiteDB_UpsertAssetOverwrites(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	a := &models.Asset{ID: "a1", Type: "Road", Location: origin, WardID: "W1", DistrictName: "Chennai"}
	if err := db.UpsertAsset(ctx, a); err != nil {
		t.Fatalf("UpsertAsset failed: %v", err)
	}
	maintained := time.Now().Add(-90 * 24 * time.Hour).UTC().Truncate(time.Millisecond)
	a.RepairCost = cost(2500)
	a.LastMaintenance = &maintained
	if err := db.UpsertAsset(ctx, a); err != nil {
		t.Fatalf("UpsertAsset failed: %v", err)
	}

	got, err := db.GetAsset(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if got.RepairCost == nil || *got.RepairCost != 2500 {
		t.Errorf("expected repair cost 2500, got %v", got.RepairCost)
	}
	if got.LastMaintenance == nil || !got.LastMaintenance.Equal(maintained) {
		t.Errorf("expected last maintenance %v, got %v", maintained, got.LastMaintenance)
	}
}

func TestSQLiteDB_CreateAndUpdateCluster(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"g1", "g2", "g3"} {
		if err := db.AddGrievance(ctx, grievance(id, origin, now)); err != nil {
			t.Fatalf("AddGrievance failed: %v", err)
		}
	}

	c := &models.Cluster{
		ID: "c1", Category: "Road Damage", WardID: "W1", DistrictName: "Chennai", Location: origin,
		GrievanceIDs: []string{"g1", "g2"}, Status: models.ClusterActive, CreatedAt: now, UpdatedAt: now,
	}
	if err := db.CreateCluster(ctx, c); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	if c.ComplaintVolume != 2 {
		t.Errorf("expected volume 2, got %d", c.ComplaintVolume)
	}

	c.AddMember("g3")
	c.AddMember("g3")
	if err := db.UpdateCluster(ctx, c); err != nil {
		t.Fatalf("UpdateCluster failed: %v", err)
	}

	got, err := db.GetCluster(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCluster failed: %v", err)
	}
	if got.ComplaintVolume != 3 || len(got.GrievanceIDs) != 3 {
		t.Errorf("expected 3 members and volume 3, got %v / %d", got.GrievanceIDs, got.ComplaintVolume)
	}
	if got.GrievanceIDs[0] != "g1" || got.GrievanceIDs[2] != "g3" {
		t.Errorf("expected membership order preserved, got %v", got.GrievanceIDs)
	}

	n, err := db.CountClusters(ctx)
	if err != nil {
		t.Fatalf("CountClusters failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cluster, got %d", n)
	}
}

func TestSQLiteDB_MembershipIsExclusive(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"g1", "g2", "g3"} {
		db.AddGrievance(ctx, grievance(id, origin, now))
	}

	first := &models.Cluster{ID: "c1", Category: "Road Damage", WardID: "W1", Location: origin,
		GrievanceIDs: []string{"g1", "g2"}, Status: models.ClusterActive, CreatedAt: now, UpdatedAt: now}
	if err := db.CreateCluster(ctx, first); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}

	// g2 is taken: creation must fail atomically
	second := &models.Cluster{ID: "c2", Category: "Road Damage", WardID: "W1", Location: origin,
		GrievanceIDs: []string{"g2", "g3"}, Status: models.ClusterActive, CreatedAt: now, UpdatedAt: now}
	if err := db.CreateCluster(ctx, second); err == nil {
		t.Fatal("expected error when a member already belongs to a cluster")
	}
	if got, _ := db.GetCluster(ctx, "c2"); got != nil {
		t.Error("expected no partial cluster after failed create")
	}

	// an update that tries to steal g1 silently skips it
	third := &models.Cluster{ID: "c3", Category: "Road Damage", WardID: "W1", Location: origin,
		GrievanceIDs: []string{"g3"}, Status: models.ClusterActive, CreatedAt: now, UpdatedAt: now}
	if err := db.CreateCluster(ctx, third); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	third.GrievanceIDs = append(third.GrievanceIDs, "g1")
	if err := db.UpdateCluster(ctx, third); err != nil {
		t.Fatalf("UpdateCluster failed: %v", err)
	}
	if third.ComplaintVolume != 1 || len(third.GrievanceIDs) != 1 {
		t.Errorf("expected stolen member to be skipped, got %v / %d", third.GrievanceIDs, third.ComplaintVolume)
	}
}

func TestSQLiteDB_NearestUnclusteredGrievance(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	old := grievance("old", geo.Offset(origin, 10, 0), now.Add(-40*24*time.Hour))
	clustered := grievance("clustered", geo.Offset(origin, 5, 0), now)
	otherDistrict := grievance("other-district", geo.Offset(origin, 5, 0), now)
	otherDistrict.DistrictName = "Madurai"
	far := grievance("far", geo.Offset(origin, 800, 0), now)
	partner := grievance("partner", geo.Offset(origin, 120, 0), now)
	self := grievance("self", origin, now)
	for _, g := range []*models.Grievance{old, clustered, otherDistrict, far, partner, self} {
		if err := db.AddGrievance(ctx, g); err != nil {
			t.Fatalf("AddGrievance failed: %v", err)
		}
	}
	db.AddGrievance(ctx, grievance("buddy", origin, now))
	db.CreateCluster(ctx, &models.Cluster{ID: "c1", Category: "Road Damage", WardID: "W1", Location: origin,
		GrievanceIDs: []string{"clustered", "buddy"}, Status: models.ClusterActive, CreatedAt: now, UpdatedAt: now})

	got, err := db.NearestUnclusteredGrievance(ctx, PartnerQuery{
		ExcludeID:    "self",
		Category:     "Road Damage",
		WardID:       "W1",
		District:     "Chennai",
		CreatedSince: now.Add(-30 * 24 * time.Hour),
		Near:         Near{Point: origin, MaxDistance: 500},
	})
	if err != nil {
		t.Fatalf("NearestUnclusteredGrievance failed: %v", err)
	}
	if got == nil || got.ID != "partner" {
		t.Errorf("expected 'partner', got %+v", got)
	}
}

func TestSQLiteDB_NearestUnclusteredGrievanceUpperBound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	db.AddGrievance(ctx, grievance("later", origin, now.Add(40*24*time.Hour)))
	db.AddGrievance(ctx, grievance("same-time", origin, now))

	q := PartnerQuery{
		ExcludeID:    "self",
		Category:     "Road Damage",
		WardID:       "W1",
		District:     "Chennai",
		CreatedSince: now.Add(-30 * 24 * time.Hour),
		CreatedUntil: now,
		Near:         Near{Point: origin, MaxDistance: 500},
	}
	got, err := db.NearestUnclusteredGrievance(ctx, q)
	if err != nil {
		t.Fatalf("NearestUnclusteredGrievance failed: %v", err)
	}
	if got == nil || got.ID != "same-time" {
		t.Errorf("expected 'same-time', got %+v", got)
	}

	q.CreatedUntil = now.Add(-time.Minute)
	got, err = db.NearestUnclusteredGrievance(ctx, q)
	if err != nil {
		t.Fatalf("NearestUnclusteredGrievance failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected no partner created after the window, got %s", got.ID)
	}
}

func TestSQLiteDB_ListActiveClusterDetails(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"g1", "g2", "g3", "g4"} {
		db.AddGrievance(ctx, grievance(id, origin, now))
	}
	db.UpsertAsset(ctx, &models.Asset{ID: "a1", Type: "Road", Location: origin, WardID: "W1", DistrictName: "Chennai", RepairCost: cost(10)})

	assetID := "a1"
	dangling := "gone"
	db.CreateCluster(ctx, &models.Cluster{ID: "c1", Category: "Road Damage", WardID: "W1", Location: origin, AssetID: &assetID,
		GrievanceIDs: []string{"g1", "g2"}, Status: models.ClusterActive, CreatedAt: now, UpdatedAt: now})
	db.CreateCluster(ctx, &models.Cluster{ID: "c2", Category: "Road Damage", WardID: "W1", Location: origin, AssetID: &dangling,
		GrievanceIDs: []string{"g3", "g4"}, Status: models.ClusterActive, CreatedAt: now, UpdatedAt: now})

	ok, err := db.SetClusterStatus(ctx, "c2", models.ClusterResolved)
	if err != nil || !ok {
		t.Fatalf("SetClusterStatus failed: %v (ok=%v)", err, ok)
	}

	details, err := db.ListActiveClusterDetails(ctx)
	if err != nil {
		t.Fatalf("ListActiveClusterDetails failed: %v", err)
	}
	if len(details) != 1 {
		t.Fatalf("expected 1 active cluster, got %d", len(details))
	}
	d := details[0]
	if len(d.Grievances) != 2 || d.Grievances[0].ID != "g1" {
		t.Errorf("expected members g1,g2 in order, got %+v", d.Grievances)
	}
	if d.Asset == nil || d.Asset.ID != "a1" {
		t.Errorf("expected asset a1, got %+v", d.Asset)
	}
}

func TestSQLiteDB_RiskHistoryAppendOnly(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	db.AddGrievance(ctx, grievance("g1", origin, now))
	db.AddGrievance(ctx, grievance("g2", origin, now))
	db.CreateCluster(ctx, &models.Cluster{ID: "c1", Category: "Road Damage", WardID: "W1", Location: origin,
		GrievanceIDs: []string{"g1", "g2"}, Status: models.ClusterActive, CreatedAt: now, UpdatedAt: now})

	for i, score := range []int{40, 70} {
		r := &models.RiskHistory{ID: string(rune('a' + i)), ClusterID: "c1", Score: score,
			Breakdown: models.RiskBreakdown{Severity: 0.6}, CreatedAt: now.Add(time.Duration(i) * time.Minute)}
		if err := db.AddRiskHistory(ctx, r); err != nil {
			t.Fatalf("AddRiskHistory failed: %v", err)
		}
	}

	records, err := db.ListRiskHistory(ctx, RiskFilter{ClusterID: "c1"})
	if err != nil {
		t.Fatalf("ListRiskHistory failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Score != 70 {
		t.Errorf("expected newest record first, got score %d", records[0].Score)
	}

	// same id is rejected rather than overwritten
	if err := db.AddRiskHistory(ctx, &records[0]); err == nil {
		t.Error("expected error re-inserting an existing record")
	}
}

func TestSQLiteDB_SetGrievanceStatus(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	db.AddGrievance(ctx, grievance("g1", origin, time.Now()))

	if err := db.SetGrievanceStatus(ctx, "g1", models.GrievanceResolved); err != nil {
		t.Fatalf("SetGrievanceStatus failed: %v", err)
	}
	got, _ := db.GetGrievance(ctx, "g1")
	if got.Status != models.GrievanceResolved {
		t.Errorf("expected Resolved, got %s", got.Status)
	}

	err := db.SetGrievanceStatus(ctx, "missing", models.GrievanceResolved)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteDB_TryLock(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	release, ok, err := db.TryLock(ctx, "risk-engine", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first TryLock to succeed, got ok=%v err=%v", ok, err)
	}

	_, ok, err = db.TryLock(ctx, "risk-engine", time.Minute)
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	if ok {
		t.Error("expected second TryLock to fail while held")
	}

	release()
	release2, ok, err := db.TryLock(ctx, "risk-engine", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected TryLock after release to succeed, got ok=%v err=%v", ok, err)
	}
	release2()

	// expired leases can be taken over
	_, ok, _ = db.TryLock(ctx, "short", -time.Second)
	if !ok {
		t.Fatal("expected TryLock to succeed")
	}
	_, ok, _ = db.TryLock(ctx, "short", time.Minute)
	if !ok {
		t.Error("expected expired lease to be taken over")
	}
}
