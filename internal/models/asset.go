package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidAsset = errors.New("invalid asset")

// Asset is a maintainable piece of infrastructure (road segment, drain, streetlight...).
type Asset struct {
	ID              string
	Type            string
	Location        Point
	WardID          string
	DistrictName    string
	LastMaintenance *time.Time // nil when never recorded
	RepairCost      *float64   // nil when no estimate exists
	ServiceRadius   float64
}

func (a *Asset) HasCost() bool {
	return a != nil && a.RepairCost != nil
}

func (a *Asset) Validate() error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidAsset)
	case !a.Location.Valid():
		return fmt.Errorf("%w: location %v is not a valid point", ErrInvalidAsset, a.Location)
	case a.RepairCost != nil && *a.RepairCost < 0:
		return fmt.Errorf("%w: repair cost must be >= 0", ErrInvalidAsset)
	}
	return nil
}
