package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/temporalmerge/tmerge/internal/tm/catalog"
)

var (
	doctorDriver string
	doctorDSN    string
	doctorTable  string
	doctorEra    string
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	GroupID: "ops",
	Short:   "Validate connectivity and a registered era's catalog metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, introspector, _, _, _, err := openDriver(cmd.Context(), doctorDriver, doctorDSN)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		meta, err := introspector.Resolve(cmd.Context(), doctorTable, doctorEra)
		if err != nil {
			return err
		}

		printJSONOrTable(meta, func() {
			fmt.Fprintf(os.Stdout, "table             %s\n", meta.Table)
			fmt.Fprintf(os.Stdout, "era               %s\n", meta.Era)
			fmt.Fprintf(os.Stdout, "valid_from/until  %s / %s\n", meta.ValidFromColumn, meta.ValidUntilColumn)
			fmt.Fprintf(os.Stdout, "identity columns  %v\n", meta.IdentityColumns)
			fmt.Fprintf(os.Stdout, "pk columns        %v\n", meta.PKColumns)
			fmt.Fprintf(os.Stdout, "ephemeral columns %v\n", meta.EphemeralColumns)
			fmt.Fprintf(os.Stdout, "defaulted columns %v\n", meta.DefaultedColumns)
			fmt.Fprintf(os.Stdout, "supporting index  %v\n", meta.HasSupportingIndex)
			fmt.Fprintf(os.Stdout, "row count         %d\n", meta.RowCount)
			if warn, reason := catalog.IndexHints(meta); warn {
				fmt.Fprintf(os.Stdout, "\nwarning: %s\n", reason)
			}
		})
		return nil
	},
}

func init() {
	doctorCmd.Flags().StringVar(&doctorDriver, "driver", "sqlite", "target backend: sqlite or dolt")
	doctorCmd.Flags().StringVar(&doctorDSN, "dsn", "", "sqlite connection string (sqlite only)")
	doctorCmd.Flags().StringVar(&doctorTable, "table", "", "target table name (required)")
	doctorCmd.Flags().StringVar(&doctorEra, "era", "current", "era name registered in tm_era_catalog")
	_ = doctorCmd.MarkFlagRequired("table")
	rootCmd.AddCommand(doctorCmd)
}
