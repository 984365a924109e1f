package clustering

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mr1hm/go-grievance-risk/internal/models"
)

type ReplayResult struct {
	Processed int
	Clustered int
	Errors    int
}

// Replay feeds grievances through ProcessGrievance oldest first. A failing
// grievance is logged and counted; the replay carries on with the next one.
// It stops early only when ctx is done.
func (a *Aggregator) Replay(ctx context.Context, grievances []models.Grievance) (ReplayResult, error) {
	ordered := slices.Clone(grievances)
	slices.SortStableFunc(ordered, func(x, y models.Grievance) int {
		if c := x.CreatedAt.Compare(y.CreatedAt); c != 0 {
			return c
		}
		if x.ID < y.ID {
			return -1
		}
		if x.ID > y.ID {
			return 1
		}
		return 0
	})

	var res ReplayResult
	for i := range ordered {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("replay interrupted after %d grievances: %w", res.Processed, err)
		}

		g := &ordered[i]
		c, err := a.ProcessGrievance(ctx, g)
		if err != nil {
			res.Errors++
			slog.Error("error replaying grievance", "grievance_id", g.ID, "error", err)
			continue
		}
		res.Processed++
		if c != nil {
			res.Clustered++
		}
	}

	slog.Info("replay complete", "processed", res.Processed, "clustered", res.Clustered, "errors", res.Errors)
	return res, nil
}
