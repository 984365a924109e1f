package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInvalidGrievance = errors.New("invalid grievance")

type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Weight is the severity contribution used by the risk scorer.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 0.3
	case SeverityMedium:
		return 0.6
	case SeverityHigh:
		return 1.0
	default:
		return 0
	}
}

func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, true
	case "medium":
		return SeverityMedium, true
	case "high":
		return SeverityHigh, true
	default:
		return "", false
	}
}

type GrievanceStatus string

const (
	GrievancePending    GrievanceStatus = "Pending"
	GrievanceInProgress GrievanceStatus = "In Progress"
	GrievanceResolved   GrievanceStatus = "Resolved"
)

func (s GrievanceStatus) Valid() bool {
	return s == GrievancePending || s == GrievanceInProgress || s == GrievanceResolved
}

// Point is a WGS84 location. Distances between points are in meters.
type Point struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

func (p Point) Valid() bool {
	if math.IsNaN(p.Longitude) || math.IsNaN(p.Latitude) ||
		math.IsInf(p.Longitude, 0) || math.IsInf(p.Latitude, 0) {
		return false
	}
	return p.Longitude >= -180 && p.Longitude <= 180 && p.Latitude >= -90 && p.Latitude <= 90
}

type Grievance struct {
	ID           string          // external id supplied by the intake workflow
	Category     string          // e.g. "Road Damage", "Drain Blockage"
	Location     Point
	WardID       string
	DistrictName string
	Description  string
	Severity     Severity
	Status       GrievanceStatus
	SubmittedAt  time.Time // when the citizen filed it
	CreatedAt    time.Time // when we stored it; drives clustering recency
}

func (g *Grievance) Validate() error {
	switch {
	case strings.TrimSpace(g.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidGrievance)
	case strings.TrimSpace(g.Category) == "":
		return fmt.Errorf("%w: category is required", ErrInvalidGrievance)
	case !g.Location.Valid():
		return fmt.Errorf("%w: location %v is not a valid point", ErrInvalidGrievance, g.Location)
	case !g.Severity.Valid():
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidGrievance, g.Severity)
	case !g.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidGrievance, g.Status)
	}
	return nil
}
