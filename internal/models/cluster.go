package models

import "time"

type ClusterStatus string

const (
	ClusterActive   ClusterStatus = "Active"
	ClusterResolved ClusterStatus = "Resolved"
)

func (s ClusterStatus) Valid() bool {
	return s == ClusterActive || s == ClusterResolved
}

// Cluster groups grievances believed to describe the same physical problem.
// Membership is append-only and ComplaintVolume always equals len(GrievanceIDs).
type Cluster struct {
	ID              string
	Category        string
	WardID          string
	DistrictName    string
	Location        Point // seeding grievance's location
	GrievanceIDs    []string
	ComplaintVolume int
	AssetID         *string
	Status          ClusterStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (c *Cluster) HasMember(grievanceID string) bool {
	for _, id := range c.GrievanceIDs {
		if id == grievanceID {
			return true
		}
	}
	return false
}

// AddMember appends grievanceID unless it is already a member and
// recomputes ComplaintVolume from the member set. Reports whether it was added.
func (c *Cluster) AddMember(grievanceID string) bool {
	if c.HasMember(grievanceID) {
		c.ComplaintVolume = len(c.GrievanceIDs)
		return false
	}
	c.GrievanceIDs = append(c.GrievanceIDs, grievanceID)
	c.ComplaintVolume = len(c.GrievanceIDs)
	return true
}

// ClusterDetail is a cluster with its members and linked asset resolved.
type ClusterDetail struct {
	Cluster    Cluster
	Grievances []Grievance
	Asset      *Asset
}
