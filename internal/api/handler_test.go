package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-grievance-risk/internal/clustering"
	"github.com/mr1hm/go-grievance-risk/internal/events"
	"github.com/mr1hm/go-grievance-risk/internal/locator"
	"github.com/mr1hm/go-grievance-risk/internal/models"
	"github.com/mr1hm/go-grievance-risk/internal/report"
	"github.com/mr1hm/go-grievance-risk/internal/repository"
	"github.com/mr1hm/go-grievance-risk/internal/risk"
)

// syncIntake stores and clusters a grievance in the request goroutine so
// tests can assert on clusters right after the POST returns.
type syncIntake struct {
	db  *repository.SQLiteDB
	agg *clustering.Aggregator
}

func (s *syncIntake) Submit(ctx context.Context, g *models.Grievance) error {
	if err := g.Validate(); err != nil {
		return err
	}
	g.CreatedAt = time.Now().UTC()
	if g.SubmittedAt.IsZero() {
		g.SubmittedAt = g.CreatedAt
	}
	if err := s.db.AddGrievance(ctx, g); err != nil {
		return err
	}
	_, err := s.agg.ProcessGrievance(ctx, g)
	return err
}

type busyRunner struct{}

func (busyRunner) Run(ctx context.Context) ([]models.RiskHistory, error) {
	return nil, risk.ErrRunInProgress
}

type countingFlusher struct{ flushes int }

func (f *countingFlusher) Flush() { f.flushes++ }

type testServer struct {
	db          *repository.SQLiteDB
	router      *gin.Engine
	handler     *Handler
	broadcaster *events.Broadcaster
	flusher     *countingFlusher
}

func setupTestRouter(t *testing.T, writeLimit gin.HandlerFunc) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	broadcaster := events.NewBroadcaster()
	t.Cleanup(broadcaster.Close)

	agg := clustering.NewAggregator(db, locator.New(db, locator.DefaultRadius), nil, broadcaster, clustering.Config{})
	flusher := &countingFlusher{}
	h := NewHandler(db, &syncIntake{db: db, agg: agg}, risk.NewEngine(db, nil, 0), report.NewReporter(db), broadcaster, flusher)

	r := gin.New()
	h.RegisterRoutes(r, writeLimit)

	return &testServer{db: db, router: r, handler: h, broadcaster: broadcaster, flusher: flusher}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
	}
}

func pothole(id string, lon float64) gin.H {
	return gin.H{
		"id":            id,
		"category":      "Road Damage",
		"longitude":     lon,
		"latitude":      22.5726,
		"ward_id":       "W1",
		"district_name": "Kolkata",
		"severity":      "high",
	}
}

// seedCluster submits two nearby grievances, which form one cluster.
func (s *testServer) seedCluster(t *testing.T) string {
	t.Helper()
	for _, g := range []gin.H{pothole("g1", 88.3639), pothole("g2", 88.3645)} {
		if w := s.do(t, http.MethodPost, "/api/grievances", g); w.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
		}
	}
	clusters, err := s.db.ListClusters(context.Background(), repository.ClusterFilter{})
	if err != nil {
		t.Fatalf("ListClusters failed: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(clusters))
	}
	return clusters[0].ID
}

func TestHealth(t *testing.T) {
	s := setupTestRouter(t, nil)

	w := s.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	s := setupTestRouter(t, nil)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "grievance_risk_clusters_scored") {
		t.Error("expected risk metrics to be exported")
	}
}

func TestSubmitGrievance(t *testing.T) {
	s := setupTestRouter(t, nil)

	w := s.do(t, http.MethodPost, "/api/grievances", pothole("g1", 88.3639))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var got grievanceJSON
	decode(t, w, &got)
	if got.Severity != "High" || got.Status != "Pending" {
		t.Errorf("expected normalized High/Pending, got %s/%s", got.Severity, got.Status)
	}

	stored, err := s.db.GetGrievance(context.Background(), "g1")
	if err != nil || stored == nil {
		t.Fatalf("expected grievance stored, got %v, %v", stored, err)
	}
}

func TestSubmitGrievance_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing category", gin.H{"id": "x", "severity": "low"}, http.StatusBadRequest},
		{"unknown severity", gin.H{"id": "x", "category": "Road Damage", "severity": "critical"}, http.StatusBadRequest},
		{"bad latitude", gin.H{"id": "x", "category": "Road Damage", "severity": "low", "latitude": 120}, http.StatusBadRequest},
		{"bad status", gin.H{"id": "x", "category": "Road Damage", "severity": "low", "status": "Closed"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestRouter(t, nil)
			if w := s.do(t, http.MethodPost, "/api/grievances", tt.body); w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestSubmitGrievance_Duplicate(t *testing.T) {
	s := setupTestRouter(t, nil)

	s.do(t, http.MethodPost, "/api/grievances", pothole("g1", 88.3639))
	w := s.do(t, http.MethodPost, "/api/grievances", pothole("g1", 88.3639))
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestPutAsset(t *testing.T) {
	s := setupTestRouter(t, nil)

	body := gin.H{"type": "Road", "longitude": 88.364, "latitude": 22.5726, "ward_id": "W1",
		"district_name": "Kolkata", "repair_cost": 12000}
	w := s.do(t, http.MethodPut, "/api/assets/a1", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if s.flusher.flushes != 1 {
		t.Errorf("expected asset cache flushed once, got %d", s.flusher.flushes)
	}

	a, err := s.db.GetAsset(context.Background(), "a1")
	if err != nil || a == nil {
		t.Fatalf("expected asset stored, got %v, %v", a, err)
	}
	if !a.HasCost() || *a.RepairCost != 12000 {
		t.Errorf("expected repair cost 12000, got %v", a.RepairCost)
	}
}

func TestPutAsset_NegativeCost(t *testing.T) {
	s := setupTestRouter(t, nil)

	w := s.do(t, http.MethodPut, "/api/assets/a1", gin.H{"type": "Road", "repair_cost": -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if s.flusher.flushes != 0 {
		t.Error("expected no flush for a rejected asset")
	}
}

func TestGetClusters(t *testing.T) {
	s := setupTestRouter(t, nil)
	id := s.seedCluster(t)

	w := s.do(t, http.MethodGet, "/api/clusters", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var fc FeatureCollection
	decode(t, w, &fc)
	if fc.Type != "FeatureCollection" {
		t.Errorf("expected FeatureCollection, got %s", fc.Type)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}

	f := fc.Features[0]
	if f.Properties["id"] != id {
		t.Errorf("expected cluster %s, got %v", id, f.Properties["id"])
	}
	if f.Properties["complaint_volume"] != float64(2) {
		t.Errorf("expected volume 2, got %v", f.Properties["complaint_volume"])
	}
	if f.Geometry.Coordinates[0] != 88.3645 {
		t.Errorf("expected the triggering grievance's location, got %v", f.Geometry.Coordinates)
	}
	if _, ok := f.Properties["risk_score"]; ok {
		t.Error("expected no risk score before any run")
	}
}

func TestGetClusters_Filters(t *testing.T) {
	s := setupTestRouter(t, nil)
	s.seedCluster(t)

	tests := []struct {
		query string
		code  int
		count int
	}{
		{"?status=Active", http.StatusOK, 1},
		{"?status=Resolved", http.StatusOK, 0},
		{"?category=Drain%20Blockage", http.StatusOK, 0},
		{"?ward=W1", http.StatusOK, 1},
		{"?status=Closed", http.StatusBadRequest, 0},
		{"?limit=0", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		w := s.do(t, http.MethodGet, "/api/clusters"+tt.query, nil)
		if w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.query, tt.code, w.Code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		var fc FeatureCollection
		decode(t, w, &fc)
		if len(fc.Features) != tt.count {
			t.Errorf("%s: expected %d features, got %d", tt.query, tt.count, len(fc.Features))
		}
	}
}

func TestGetCluster(t *testing.T) {
	s := setupTestRouter(t, nil)

	cost := 5000.0
	if err := s.db.UpsertAsset(context.Background(), &models.Asset{ID: "a1", Type: "Road",
		Location: models.Point{Longitude: 88.3640, Latitude: 22.5726}, WardID: "W1",
		DistrictName: "Kolkata", RepairCost: &cost}); err != nil {
		t.Fatalf("UpsertAsset failed: %v", err)
	}
	id := s.seedCluster(t)

	w := s.do(t, http.MethodGet, "/api/clusters/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got clusterDetailJSON
	decode(t, w, &got)
	if len(got.Grievances) != 2 {
		t.Errorf("expected 2 member grievances, got %d", len(got.Grievances))
	}
	if got.Asset == nil || got.Asset.ID != "a1" {
		t.Errorf("expected linked asset a1, got %+v", got.Asset)
	}
	if len(got.Risk) != 0 {
		t.Errorf("expected empty risk history, got %d", len(got.Risk))
	}
}

func TestGetCluster_NotFound(t *testing.T) {
	s := setupTestRouter(t, nil)

	if w := s.do(t, http.MethodGet, "/api/clusters/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestResolveCluster(t *testing.T) {
	s := setupTestRouter(t, nil)
	id := s.seedCluster(t)

	if w := s.do(t, http.MethodPost, "/api/clusters/missing/resolve", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	w := s.do(t, http.MethodPost, "/api/clusters/"+id+"/resolve", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	c, err := s.db.GetCluster(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCluster failed: %v", err)
	}
	if c.Status != models.ClusterResolved {
		t.Errorf("expected Resolved, got %s", c.Status)
	}
}

func TestRunRisk(t *testing.T) {
	s := setupTestRouter(t, nil)
	id := s.seedCluster(t)

	w := s.do(t, http.MethodPost, "/api/risk/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var got struct {
		Generated int        `json:"generated"`
		Records   []riskJSON `json:"records"`
	}
	decode(t, w, &got)
	if got.Generated != 1 || len(got.Records) != 1 {
		t.Fatalf("expected 1 record, got %d/%d", got.Generated, len(got.Records))
	}
	if got.Records[0].ClusterID != id {
		t.Errorf("expected record for %s, got %s", id, got.Records[0].ClusterID)
	}

	w = s.do(t, http.MethodGet, "/api/clusters", nil)
	var fc FeatureCollection
	decode(t, w, &fc)
	if fc.Features[0].Properties["risk_score"] != float64(got.Records[0].Score) {
		t.Errorf("expected latest score on feature, got %v", fc.Features[0].Properties["risk_score"])
	}
}

func TestRunRisk_InProgress(t *testing.T) {
	s := setupTestRouter(t, nil)
	s.handler.runner = busyRunner{}

	if w := s.do(t, http.MethodPost, "/api/risk/run", nil); w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestTopRisks(t *testing.T) {
	s := setupTestRouter(t, nil)
	id := s.seedCluster(t)
	s.do(t, http.MethodPost, "/api/risk/run", nil)

	w := s.do(t, http.MethodGet, "/api/risk/top?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []topRiskJSON
	decode(t, w, &got)
	if len(got) != 1 || got[0].ClusterID != id {
		t.Fatalf("expected cluster %s ranked, got %+v", id, got)
	}
	if got[0].ComplaintVolume != 2 || got[0].Category != "Road Damage" {
		t.Errorf("expected cluster fields attached, got %+v", got[0])
	}

	if w := s.do(t, http.MethodGet, "/api/risk/top?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestDashboard(t *testing.T) {
	s := setupTestRouter(t, nil)
	s.seedCluster(t)
	s.do(t, http.MethodPost, "/api/risk/run", nil)

	w := s.do(t, http.MethodGet, "/api/dashboard/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d", w.Code)
	}
	var summary report.Summary
	decode(t, w, &summary)
	if summary.TotalClusters != 1 || summary.ActiveClusters != 1 {
		t.Errorf("expected 1 active cluster, got %+v", summary)
	}

	w = s.do(t, http.MethodGet, "/api/dashboard/trend?days=7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("trend: expected 200, got %d", w.Code)
	}
	var trend []report.DayBucket
	decode(t, w, &trend)
	if len(trend) != 7 {
		t.Errorf("expected 7 day buckets, got %d", len(trend))
	}
	if trend[len(trend)-1].Records != 1 {
		t.Errorf("expected today's bucket to hold the run, got %+v", trend[len(trend)-1])
	}

	w = s.do(t, http.MethodGet, "/api/dashboard/monthly", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("monthly: expected 200, got %d", w.Code)
	}
	var months []report.MonthBucket
	decode(t, w, &months)
	if len(months) != 1 || months[0].Total != 2 || months[0].HighSeverity != 2 {
		t.Errorf("expected 2 high severity complaints this month, got %+v", months)
	}

	w = s.do(t, http.MethodGet, "/api/dashboard/digest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("digest: expected 200, got %d", w.Code)
	}
	var digest report.Digest
	decode(t, w, &digest)
	if len(digest.Clusters) != 1 || digest.TotalUnresolved != 2 {
		t.Errorf("expected 1 cluster with 2 unresolved, got %+v", digest)
	}
	if digest.Clusters[0].LatestScore == nil {
		t.Error("expected latest score in digest")
	}
}

func TestDashboard_BadParams(t *testing.T) {
	s := setupTestRouter(t, nil)

	for _, path := range []string{
		"/api/dashboard/trend?days=-1",
		"/api/dashboard/trend?days=367",
		"/api/dashboard/trend?days=1099511627776",
		"/api/risk/top?limit=1001",
		"/api/dashboard/monthly?from=2026-13",
		"/api/dashboard/monthly?from=2026-05&to=2026-04",
	} {
		if w := s.do(t, http.MethodGet, path, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestRateLimit(t *testing.T) {
	s := setupTestRouter(t, RateLimitMiddleware(1))

	if w := s.do(t, http.MethodPost, "/api/grievances", pothole("g1", 88.3639)); w.Code != http.StatusAccepted {
		t.Fatalf("expected first write accepted, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/grievances", pothole("g2", 88.3645)); w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/clusters", nil); w.Code != http.StatusOK {
		t.Errorf("expected reads to bypass the write limit, got %d", w.Code)
	}
}

func TestStreamClusters(t *testing.T) {
	s := setupTestRouter(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/clusters/stream", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.broadcaster.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.broadcaster.Publish(&events.ClusterEvent{
		Kind:        events.ClusterCreated,
		Cluster:     models.Cluster{ID: "c1", GrievanceIDs: []string{"g1", "g2"}, ComplaintVolume: 2},
		GrievanceID: "g2",
		At:          time.Now(),
	})

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = v
			break
		}
	}
	if event != "created" {
		t.Errorf("expected created event, got %q", event)
	}
	if !strings.Contains(data, `"grievance_id":"g2"`) || !strings.Contains(data, `"id":"c1"`) {
		t.Errorf("unexpected event payload %s", data)
	}
}
