package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mr1hm/go-grievance-risk/internal/repository"
)

type replayOutput struct {
	Processed int `json:"processed" yaml:"processed"`
	Clustered int `json:"clustered" yaml:"clustered"`
	Errors    int `json:"errors" yaml:"errors"`
}

type backfillOutput struct {
	Scanned int `json:"scanned" yaml:"scanned"`
	Updated int `json:"updated" yaml:"updated"`
}

func newClusterCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Clustering maintenance tasks",
	}
	cmd.AddCommand(newReplayCmd(c))
	cmd.AddCommand(newBackfillCmd(c))
	return cmd
}

func newReplayCmd(c *cli) *cobra.Command {
	var (
		since    string
		category string
		ward     string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run stored grievances through clustering again",
		Long: `Replay stored grievances through the aggregator in creation order.
Grievances that already belong to a cluster are left where they are; the
rest get another chance to merge or pair up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := repository.GrievanceFilter{Category: category, WardID: ward}
			if since != "" {
				t, err := time.Parse(time.DateOnly, since)
				if err != nil {
					return fmt.Errorf("--since must be YYYY-MM-DD: %w", err)
				}
				filter.Since = &t
			}

			svc, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			grievances, err := svc.DB.ListGrievances(cmd.Context(), filter)
			if err != nil {
				return err
			}
			res, err := svc.Aggregator.Replay(cmd.Context(), grievances)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), replayOutput{
				Processed: res.Processed,
				Clustered: res.Clustered,
				Errors:    res.Errors,
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Only replay grievances created on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&category, "category", "", "Only replay this category")
	cmd.Flags().StringVar(&ward, "ward", "", "Only replay this ward")

	return cmd
}

func newBackfillCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-assets",
		Short: "Link assets to active clusters that lack a costed one",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Aggregator.BackfillAssets(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), backfillOutput{Scanned: res.Scanned, Updated: res.Updated})
		},
	}
}
