package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/temporalmerge/tmerge/internal/tm/engine"
	"github.com/temporalmerge/tmerge/internal/tmconfig"
)

var (
	planBatchPath string
	planTrace     bool
)

var planCmd = &cobra.Command{
	Use:     "plan",
	GroupID: "compile",
	Short:   "Compile a batch into an ordered plan without touching the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := tmconfig.Load(configPath)
		if err != nil {
			return err
		}
		if planTrace {
			cfg.LogTrace = true
		}
		b, err := loadBatch(planBatchPath)
		if err != nil {
			return err
		}

		e := engine.New(nil, cfg)
		plan := e.Compile(cmd.Context(), b)

		printJSONOrTable(plan.Operations, func() {
			if planTrace {
				fmt.Fprintf(os.Stdout, "%-5s %-8s %-6s %-24s %-24s %-24s %-10s %s\n",
					"seq", "op", "effect", "old_from", "new_from", "new_until", "stage", "reason")
				for _, op := range plan.Operations {
					stage, reason := "", ""
					if op.Trace != nil {
						stage, reason = op.Trace.Stage, op.Trace.Reason
					}
					fmt.Fprintf(os.Stdout, "%-5d %-8s %-6s %-24s %-24s %-24s %-10s %s\n",
						op.Seq, op.Op, op.Effect, op.OldFrom.Format(timeLayout), op.NewFrom.Format(timeLayout),
						op.NewUntil.Format(timeLayout), stage, reason)
				}
				return
			}
			fmt.Fprintf(os.Stdout, "%-5s %-8s %-6s %-24s %-24s %-24s %s\n",
				"seq", "op", "effect", "old_from", "new_from", "new_until", "source_rows")
			for _, op := range plan.Operations {
				fmt.Fprintf(os.Stdout, "%-5d %-8s %-6s %-24s %-24s %-24s %v\n",
					op.Seq, op.Op, op.Effect, op.OldFrom.Format(timeLayout), op.NewFrom.Format(timeLayout),
					op.NewUntil.Format(timeLayout), op.SourceRowIDs)
			}
		})
		return nil
	},
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func init() {
	planCmd.Flags().StringVar(&planBatchPath, "batch", "", "path to a batch JSON file (required)")
	planCmd.Flags().BoolVar(&planTrace, "trace", false, "attach structural trace info (stage/reason) to every plan operation")
	_ = planCmd.MarkFlagRequired("batch")
	rootCmd.AddCommand(planCmd)
}
