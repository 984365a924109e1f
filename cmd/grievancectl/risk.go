package main

import (
	"time"

	"github.com/spf13/cobra"
)

type riskRecord struct {
	ClusterID   string  `json:"cluster_id" yaml:"cluster_id"`
	Score       int     `json:"score" yaml:"score"`
	Severity    float64 `json:"severity" yaml:"severity"`
	Recency     float64 `json:"recency" yaml:"recency"`
	Volume      float64 `json:"volume" yaml:"volume"`
	Maintenance float64 `json:"maintenance" yaml:"maintenance"`
	Cost        float64 `json:"cost" yaml:"cost"`
}

type riskRunResult struct {
	Generated int          `json:"generated" yaml:"generated"`
	Duration  string       `json:"duration" yaml:"duration"`
	Records   []riskRecord `json:"records" yaml:"records"`
}

func newRiskCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Risk scoring tasks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Score every active cluster once",
		Long: `Score every active cluster and append one risk history record per cluster.
Fails when another run holds the risk lease.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			start := time.Now()
			records, err := svc.Engine.Run(cmd.Context())
			if err != nil {
				return err
			}

			out := riskRunResult{
				Generated: len(records),
				Duration:  time.Since(start).Round(time.Millisecond).String(),
				Records:   make([]riskRecord, 0, len(records)),
			}
			for _, r := range records {
				out.Records = append(out.Records, riskRecord{
					ClusterID:   r.ClusterID,
					Score:       r.Score,
					Severity:    r.Breakdown.Severity,
					Recency:     r.Breakdown.Recency,
					Volume:      r.Breakdown.Volume,
					Maintenance: r.Breakdown.Maintenance,
					Cost:        r.Breakdown.Cost,
				})
			}
			return c.print(cmd.OutOrStdout(), out)
		},
	})

	return cmd
}
