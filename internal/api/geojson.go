package api

import (
	"github.com/mr1hm/go-grievance-risk/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// toGeoJSON renders clusters as points at their representative location,
// with the latest risk score attached when one is known.
func toGeoJSON(clusters []models.Cluster, latest map[string]models.RiskHistory) FeatureCollection {
	features := make([]Feature, 0, len(clusters))

	for _, c := range clusters {
		props := map[string]any{
			"id":               c.ID,
			"category":         c.Category,
			"ward_id":          c.WardID,
			"district_name":    c.DistrictName,
			"complaint_volume": c.ComplaintVolume,
			"status":           string(c.Status),
			"asset_id":         c.AssetID,
			"created_at":       c.CreatedAt,
			"updated_at":       c.UpdatedAt,
		}
		if r, ok := latest[c.ID]; ok {
			props["risk_score"] = r.Score
			props["risk_calculated_at"] = r.CreatedAt
		}

		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{c.Location.Longitude, c.Location.Latitude},
			},
			Properties: props,
		})
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
