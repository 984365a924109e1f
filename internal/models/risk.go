package models

import "time"

// RiskBreakdown holds the component sub-scores behind a composite score, each in [0,1].
type RiskBreakdown struct {
	Severity    float64 `json:"severity"`
	Recency     float64 `json:"recency"`
	Volume      float64 `json:"volume"`
	Maintenance float64 `json:"maintenance"`
	Cost        float64 `json:"cost"`
}

// RiskHistory is an immutable score record. Runs only ever append.
type RiskHistory struct {
	ID        string
	ClusterID string
	Score     int // 0-100
	Breakdown RiskBreakdown
	CreatedAt time.Time
}
