package repository

import (
	"strings"

	"github.com/mr1hm/go-grievance-risk/internal/geo"
	"github.com/mr1hm/go-grievance-risk/internal/models"
)

// where accumulates AND-ed predicates for a candidate query.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

// within narrows candidates to the bounding box of n. Exact distances are
// checked afterwards by nearest.
func (w *where) within(n Near) {
	if n.MaxDistance <= 0 {
		return
	}
	box := geo.BoundingBox(n.Point, n.MaxDistance)
	w.add("latitude BETWEEN ? AND ?", box.MinLat, box.MaxLat)
	if !box.WrapsLon {
		w.add("longitude BETWEEN ? AND ?", box.MinLon, box.MaxLon)
	}
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// nearest returns the candidate closest to n.Point, honoring n.MaxDistance
// when set. Equal distances are broken by the smaller id so results are stable.
func nearest[T any](candidates []T, loc func(*T) models.Point, id func(*T) string, n Near) (*T, bool) {
	var (
		best     *T
		bestDist float64
	)
	for i := range candidates {
		c := &candidates[i]
		d := geo.Distance(n.Point, loc(c))
		if n.MaxDistance > 0 && d > n.MaxDistance {
			continue
		}
		if best == nil || d < bestDist || (d == bestDist && id(c) < id(best)) {
			best, bestDist = c, d
		}
	}
	return best, best != nil
}
