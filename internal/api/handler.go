package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/go-grievance-risk/internal/events"
	"github.com/mr1hm/go-grievance-risk/internal/models"
	"github.com/mr1hm/go-grievance-risk/internal/report"
	"github.com/mr1hm/go-grievance-risk/internal/repository"
	"github.com/mr1hm/go-grievance-risk/internal/risk"
)

const (
	defaultClusterLimit = 1000
	defaultTopLimit     = 10
	defaultTrendDays    = 30
	maxTopLimit         = 1000
	monthLayout         = "2006-01"
)

type Store interface {
	GetGrievance(ctx context.Context, id string) (*models.Grievance, error)
	UpsertAsset(ctx context.Context, a *models.Asset) error
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	GetCluster(ctx context.Context, id string) (*models.Cluster, error)
	ListClusters(ctx context.Context, opts repository.ClusterFilter) ([]models.Cluster, error)
	SetClusterStatus(ctx context.Context, id string, status models.ClusterStatus) (bool, error)
	ListRiskHistory(ctx context.Context, opts repository.RiskFilter) ([]models.RiskHistory, error)
}

type Submitter interface {
	Submit(ctx context.Context, g *models.Grievance) error
}

type RiskRunner interface {
	Run(ctx context.Context) ([]models.RiskHistory, error)
}

// Flusher drops cached asset lookups after the asset table changes.
type Flusher interface {
	Flush()
}

type Handler struct {
	store       Store
	intake      Submitter
	runner      RiskRunner
	reporter    *report.Reporter
	broadcaster *events.Broadcaster
	assetCache  Flusher
	now         func() time.Time
}

// NewHandler builds the HTTP handler. assetCache may be nil.
func NewHandler(store Store, intake Submitter, runner RiskRunner, reporter *report.Reporter, broadcaster *events.Broadcaster, assetCache Flusher) *Handler {
	return &Handler{
		store:       store,
		intake:      intake,
		runner:      runner,
		reporter:    reporter,
		broadcaster: broadcaster,
		assetCache:  assetCache,
		now:         time.Now,
	}
}

// RegisterRoutes mounts the API. writeLimit, when non-nil, guards the
// endpoints that change state.
func (h *Handler) RegisterRoutes(r *gin.Engine, writeLimit gin.HandlerFunc) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/clusters", h.GetClusters)
	api.GET("/clusters/stream", h.StreamClusters)
	api.GET("/clusters/:id", h.GetCluster)
	api.GET("/risk/top", h.TopRisks)

	dashboard := api.Group("/dashboard")
	dashboard.GET("/summary", h.Summary)
	dashboard.GET("/trend", h.Trend)
	dashboard.GET("/monthly", h.Monthly)
	dashboard.GET("/digest", h.Digest)

	write := api.Group("")
	if writeLimit != nil {
		write.Use(writeLimit)
	}
	write.POST("/grievances", h.SubmitGrievance)
	write.PUT("/assets/:id", h.PutAsset)
	write.POST("/clusters/:id/resolve", h.ResolveCluster)
	write.POST("/risk/run", h.RunRisk)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) SubmitGrievance(c *gin.Context) {
	var req grievanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g, ok := req.toModel()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity " + strconv.Quote(req.Severity)})
		return
	}

	existing, err := h.store.GetGrievance(c.Request.Context(), g.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "grievance already exists"})
		return
	}

	if err := h.intake.Submit(c.Request.Context(), g); err != nil {
		if errors.Is(err, models.ErrInvalidGrievance) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, toGrievanceJSON(g))
}

func (h *Handler) PutAsset(c *gin.Context) {
	var req assetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a := req.toModel(c.Param("id"))
	if err := a.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.UpsertAsset(c.Request.Context(), a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.assetCache != nil {
		h.assetCache.Flush()
	}

	c.JSON(http.StatusOK, toAssetJSON(a))
}

func (h *Handler) GetClusters(c *gin.Context) {
	opts := repository.ClusterFilter{
		Limit:    defaultClusterLimit,
		Category: c.Query("category"),
		WardID:   c.Query("ward"),
	}
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		opts.Limit = parsed
	}
	if s := c.Query("status"); s != "" {
		status := models.ClusterStatus(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(s)})
			return
		}
		opts.Status = &status
	}

	clusters, err := h.store.ListClusters(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	history, err := h.store.ListRiskHistory(c.Request.Context(), repository.RiskFilter{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, toGeoJSON(clusters, latestScores(history)))
}

// latestScores keeps the newest record per cluster. history is ordered
// newest first.
func latestScores(history []models.RiskHistory) map[string]models.RiskHistory {
	out := make(map[string]models.RiskHistory)
	for _, r := range history {
		if _, seen := out[r.ClusterID]; !seen {
			out[r.ClusterID] = r
		}
	}
	return out
}

func (h *Handler) GetCluster(c *gin.Context) {
	ctx := c.Request.Context()
	cluster, err := h.store.GetCluster(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cluster == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cluster not found"})
		return
	}

	detail := clusterDetailJSON{
		Cluster:    toClusterJSON(cluster),
		Grievances: make([]grievanceJSON, 0, len(cluster.GrievanceIDs)),
	}
	for _, id := range cluster.GrievanceIDs {
		g, err := h.store.GetGrievance(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if g != nil {
			detail.Grievances = append(detail.Grievances, toGrievanceJSON(g))
		}
	}
	if cluster.AssetID != nil {
		a, err := h.store.GetAsset(ctx, *cluster.AssetID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		detail.Asset = toAssetJSON(a)
	}
	history, err := h.store.ListRiskHistory(ctx, repository.RiskFilter{ClusterID: cluster.ID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	detail.Risk = toRiskJSON(history)

	c.JSON(http.StatusOK, detail)
}

func (h *Handler) ResolveCluster(c *gin.Context) {
	id := c.Param("id")
	found, err := h.store.SetClusterStatus(c.Request.Context(), id, models.ClusterResolved)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "cluster not found"})
		return
	}
	slog.Info("cluster resolved", "cluster_id", id)
	c.JSON(http.StatusOK, gin.H{"id": id, "status": string(models.ClusterResolved)})
}

// StreamClusters pushes cluster created/merged events as server-sent events
// until the client disconnects or the broadcaster shuts down.
func (h *Handler) StreamClusters(c *gin.Context) {
	id, ch := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(id)

	slog.Debug("cluster stream subscriber connected", "subscriber_id", id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Kind), gin.H{
				"grievance_id": e.GrievanceID,
				"at":           e.At,
				"cluster":      toClusterJSON(&e.Cluster),
			})
			return true
		}
	})
}

func (h *Handler) RunRisk(c *gin.Context) {
	records, err := h.runner.Run(c.Request.Context())
	if errors.Is(err, risk.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     err.Error(),
			"generated": len(records),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"generated": len(records),
		"records":   toRiskJSON(records),
	})
}

func (h *Handler) TopRisks(c *gin.Context) {
	n, ok := positiveQuery(c, "limit", defaultTopLimit, maxTopLimit)
	if !ok {
		return
	}
	risks, err := h.reporter.TopRisks(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toTopRiskJSON(risks))
}

func (h *Handler) Summary(c *gin.Context) {
	s, err := h.reporter.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) Trend(c *gin.Context) {
	days, ok := positiveQuery(c, "days", defaultTrendDays, report.MaxTrendDays)
	if !ok {
		return
	}
	buckets, err := h.reporter.RiskTrend(c.Request.Context(), days, h.now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, buckets)
}

// Monthly reports complaint counts for the months in [from, to]. Both
// default to the current month.
func (h *Handler) Monthly(c *gin.Context) {
	current := h.now().UTC().Format(monthLayout)
	from, err := time.Parse(monthLayout, c.DefaultQuery("from", current))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM"})
		return
	}
	to, err := time.Parse(monthLayout, c.DefaultQuery("to", current))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM"})
		return
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must not be before from"})
		return
	}

	buckets, err := h.reporter.MonthlyComplaints(c.Request.Context(), from, to.AddDate(0, 1, 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if buckets == nil {
		buckets = []report.MonthBucket{}
	}
	c.JSON(http.StatusOK, buckets)
}

func (h *Handler) Digest(c *gin.Context) {
	d, err := h.reporter.ActiveDigest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}

// positiveQuery reads an optional integer parameter in [1, upper], writing a
// 400 and returning false when it is malformed or out of range.
func positiveQuery(c *gin.Context, key string, def, upper int) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > upper {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s must be an integer between 1 and %d", key, upper)})
		return 0, false
	}
	return n, true
}
