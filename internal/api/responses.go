package api

import (
	"time"

	"github.com/mr1hm/go-grievance-risk/internal/models"
	"github.com/mr1hm/go-grievance-risk/internal/report"
)

type grievanceRequest struct {
	ID           string     `json:"id" binding:"required"`
	Category     string     `json:"category" binding:"required"`
	Longitude    float64    `json:"longitude"`
	Latitude     float64    `json:"latitude"`
	WardID       string     `json:"ward_id"`
	DistrictName string     `json:"district_name"`
	Description  string     `json:"description"`
	Severity     string     `json:"severity" binding:"required"`
	Status       string     `json:"status"`
	SubmittedAt  *time.Time `json:"submitted_at"`
}

func (r grievanceRequest) toModel() (*models.Grievance, bool) {
	sev, ok := models.ParseSeverity(r.Severity)
	if !ok {
		return nil, false
	}
	status := models.GrievancePending
	if r.Status != "" {
		status = models.GrievanceStatus(r.Status)
	}
	g := &models.Grievance{
		ID:           r.ID,
		Category:     r.Category,
		Location:     models.Point{Longitude: r.Longitude, Latitude: r.Latitude},
		WardID:       r.WardID,
		DistrictName: r.DistrictName,
		Description:  r.Description,
		Severity:     sev,
		Status:       status,
	}
	if r.SubmittedAt != nil {
		g.SubmittedAt = r.SubmittedAt.UTC()
	}
	return g, true
}

type assetRequest struct {
	Type            string     `json:"type" binding:"required"`
	Longitude       float64    `json:"longitude"`
	Latitude        float64    `json:"latitude"`
	WardID          string     `json:"ward_id"`
	DistrictName    string     `json:"district_name"`
	LastMaintenance *time.Time `json:"last_maintenance"`
	RepairCost      *float64   `json:"repair_cost"`
	ServiceRadius   float64    `json:"service_radius"`
}

func (r assetRequest) toModel(id string) *models.Asset {
	return &models.Asset{
		ID:              id,
		Type:            r.Type,
		Location:        models.Point{Longitude: r.Longitude, Latitude: r.Latitude},
		WardID:          r.WardID,
		DistrictName:    r.DistrictName,
		LastMaintenance: r.LastMaintenance,
		RepairCost:      r.RepairCost,
		ServiceRadius:   r.ServiceRadius,
	}
}

type grievanceJSON struct {
	ID           string       `json:"id"`
	Category     string       `json:"category"`
	Location     models.Point `json:"location"`
	WardID       string       `json:"ward_id"`
	DistrictName string       `json:"district_name"`
	Description  string       `json:"description,omitempty"`
	Severity     string       `json:"severity"`
	Status       string       `json:"status"`
	SubmittedAt  time.Time    `json:"submitted_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

func toGrievanceJSON(g *models.Grievance) grievanceJSON {
	return grievanceJSON{
		ID:           g.ID,
		Category:     g.Category,
		Location:     g.Location,
		WardID:       g.WardID,
		DistrictName: g.DistrictName,
		Description:  g.Description,
		Severity:     string(g.Severity),
		Status:       string(g.Status),
		SubmittedAt:  g.SubmittedAt,
		CreatedAt:    g.CreatedAt,
	}
}

type assetJSON struct {
	ID              string       `json:"id"`
	Type            string       `json:"type"`
	Location        models.Point `json:"location"`
	WardID          string       `json:"ward_id"`
	DistrictName    string       `json:"district_name"`
	LastMaintenance *time.Time   `json:"last_maintenance"`
	RepairCost      *float64     `json:"repair_cost"`
	ServiceRadius   float64      `json:"service_radius"`
}

func toAssetJSON(a *models.Asset) *assetJSON {
	if a == nil {
		return nil
	}
	return &assetJSON{
		ID:              a.ID,
		Type:            a.Type,
		Location:        a.Location,
		WardID:          a.WardID,
		DistrictName:    a.DistrictName,
		LastMaintenance: a.LastMaintenance,
		RepairCost:      a.RepairCost,
		ServiceRadius:   a.ServiceRadius,
	}
}

type clusterJSON struct {
	ID              string       `json:"id"`
	Category        string       `json:"category"`
	WardID          string       `json:"ward_id"`
	DistrictName    string       `json:"district_name"`
	Location        models.Point `json:"location"`
	GrievanceIDs    []string     `json:"grievance_ids"`
	ComplaintVolume int          `json:"complaint_volume"`
	AssetID         *string      `json:"asset_id"`
	Status          string       `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func toClusterJSON(c *models.Cluster) clusterJSON {
	return clusterJSON{
		ID:              c.ID,
		Category:        c.Category,
		WardID:          c.WardID,
		DistrictName:    c.DistrictName,
		Location:        c.Location,
		GrievanceIDs:    c.GrievanceIDs,
		ComplaintVolume: c.ComplaintVolume,
		AssetID:         c.AssetID,
		Status:          string(c.Status),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

type riskJSON struct {
	ID        string               `json:"id"`
	ClusterID string               `json:"cluster_id"`
	Score     int                  `json:"score"`
	Breakdown models.RiskBreakdown `json:"breakdown"`
	CreatedAt time.Time            `json:"created_at"`
}

func toRiskJSON(records []models.RiskHistory) []riskJSON {
	out := make([]riskJSON, 0, len(records))
	for _, r := range records {
		out = append(out, riskJSON{
			ID:        r.ID,
			ClusterID: r.ClusterID,
			Score:     r.Score,
			Breakdown: r.Breakdown,
			CreatedAt: r.CreatedAt,
		})
	}
	return out
}

type clusterDetailJSON struct {
	Cluster    clusterJSON     `json:"cluster"`
	Grievances []grievanceJSON `json:"grievances"`
	Asset      *assetJSON      `json:"asset"`
	Risk       []riskJSON      `json:"risk_history"`
}

type topRiskJSON struct {
	report.ClusterRisk
	Category        string `json:"category,omitempty"`
	WardID          string `json:"ward_id,omitempty"`
	Status          string `json:"status,omitempty"`
	ComplaintVolume int    `json:"complaint_volume"`
}

func toTopRiskJSON(risks []report.ClusterRisk) []topRiskJSON {
	out := make([]topRiskJSON, 0, len(risks))
	for _, r := range risks {
		t := topRiskJSON{ClusterRisk: r}
		if r.Cluster != nil {
			t.Category = r.Cluster.Category
			t.WardID = r.Cluster.WardID
			t.Status = string(r.Cluster.Status)
			t.ComplaintVolume = r.Cluster.ComplaintVolume
		}
		out = append(out, t)
	}
	return out
}
