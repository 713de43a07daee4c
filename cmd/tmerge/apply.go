package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/temporalmerge/tmerge/internal/tm/catalog"
	doltdriver "github.com/temporalmerge/tmerge/internal/tm/driver/dolt"
	sqlitedriver "github.com/temporalmerge/tmerge/internal/tm/driver/sqlite"
	"github.com/temporalmerge/tmerge/internal/tm/engine"
	"github.com/temporalmerge/tmerge/internal/tm/exec"
	"github.com/temporalmerge/tmerge/internal/tmconfig"
	"github.com/temporalmerge/tmerge/internal/tmerrors"

	_ "modernc.org/sqlite"
)

var (
	applyBatchPath string
	applyDriver    string
	applyDSN       string
	applyTable     string
	applyEra       string

	applyDoltEmbeddedPath string
	applyDoltHost         string
	applyDoltPort         int
	applyDoltUser         string
	applyDoltPassword     string
	applyDoltDatabase     string
	applyDoltTLS          bool
)

var applyCmd = &cobra.Command{
	Use:     "apply",
	GroupID: "ops",
	Short:   "Compile a batch and apply it against the target table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := tmconfig.Load(configPath)
		if err != nil {
			return err
		}
		b, err := loadBatch(applyBatchPath)
		if err != nil {
			return err
		}

		db, introspector, deferSQL, restoreSQL, retryEnabled, err := openDriver(cmd.Context(), applyDriver, applyDSN)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		meta, err := introspector.Resolve(cmd.Context(), applyTable, applyEra)
		if err != nil {
			return err
		}
		b.PKColumns = meta.PKColumns

		e := engine.New(nil, cfg)
		plan := e.Compile(cmd.Context(), b)

		schema := exec.Schema{
			Table:                 meta.Table,
			ValidFromColumn:       meta.ValidFromColumn,
			ValidUntilColumn:      meta.ValidUntilColumn,
			IdentityColumns:       meta.IdentityColumns,
			PKColumns:             meta.PKColumns,
			DefaultedColumns:      meta.DefaultedColumns,
			DeferConstraintsSQL:   deferSQL,
			RestoreConstraintsSQL: restoreSQL,
		}
		if err := exec.ValidateSchema(schema); err != nil {
			return err
		}

		ex := exec.New(db, schema, retryEnabled)
		result, err := e.Apply(cmd.Context(), ex, plan)
		feedback := e.Feedback(b, plan)

		printJSONOrTable(struct {
			Result   exec.Result `json:"result"`
			Feedback any         `json:"feedback"`
		}{result, feedback}, func() {
			fmt.Fprintf(os.Stdout, "inserted=%d updated=%d deleted=%d\n", result.Inserted, result.Updated, result.Deleted)
			for _, row := range feedback {
				fmt.Fprintf(os.Stdout, "row %-4d %-20s %s\n", row.SourceRowID, row.Status, row.Error)
			}
		})
		return err
	},
}

// openDriver resolves the (db, introspector, constraint-deferral SQL,
// retry policy) tuple for a named backend, SPEC_FULL.md §2's "pluggable
// backend" surface over internal/tm/driver/sqlite and internal/tm/driver/dolt.
func openDriver(ctx context.Context, name, dsn string) (*sql.DB, catalog.Introspector, string, string, bool, error) {
	switch name {
	case "sqlite":
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, "", "", false, tmerrors.Wrap("tmerge: open sqlite", err)
		}
		return db, sqlitedriver.New(db), "PRAGMA foreign_keys = OFF", "PRAGMA foreign_keys = ON", false, nil
	case "dolt":
		db, err := doltdriver.Open(ctx, doltdriver.Config{
			Embedded:       applyDoltEmbeddedPath != "",
			Path:           applyDoltEmbeddedPath,
			ServerHost:     applyDoltHost,
			ServerPort:     applyDoltPort,
			ServerUser:     applyDoltUser,
			ServerPassword: applyDoltPassword,
			ServerTLS:      applyDoltTLS,
			Database:       applyDoltDatabase,
		})
		if err != nil {
			return nil, nil, "", "", false, err
		}
		return db, doltdriver.New(db), "SET FOREIGN_KEY_CHECKS=0", "SET FOREIGN_KEY_CHECKS=1", true, nil
	default:
		return nil, nil, "", "", false, tmerrors.InvalidConfig(fmt.Sprintf("tmerge: unknown --driver %q (want sqlite or dolt)", name), nil)
	}
}

func init() {
	applyCmd.Flags().StringVar(&applyBatchPath, "batch", "", "path to a batch JSON file (required)")
	applyCmd.Flags().StringVar(&applyDriver, "driver", "sqlite", "target backend: sqlite or dolt")
	applyCmd.Flags().StringVar(&applyDSN, "dsn", "", "sqlite connection string, e.g. a file path (sqlite only)")
	applyCmd.Flags().StringVar(&applyTable, "table", "", "target table name (required)")
	applyCmd.Flags().StringVar(&applyEra, "era", "current", "era name registered in tm_era_catalog")

	applyCmd.Flags().StringVar(&applyDoltEmbeddedPath, "dolt-embedded-path", "", "dolt database directory (embedded mode)")
	applyCmd.Flags().StringVar(&applyDoltHost, "dolt-host", "localhost", "dolt sql-server host (server mode)")
	applyCmd.Flags().IntVar(&applyDoltPort, "dolt-port", 3306, "dolt sql-server port (server mode)")
	applyCmd.Flags().StringVar(&applyDoltUser, "dolt-user", "root", "dolt sql-server user (server mode)")
	applyCmd.Flags().StringVar(&applyDoltPassword, "dolt-password", "", "dolt sql-server password (server mode)")
	applyCmd.Flags().StringVar(&applyDoltDatabase, "dolt-database", "", "dolt database name (server mode)")
	applyCmd.Flags().BoolVar(&applyDoltTLS, "dolt-tls", false, "use TLS for the dolt server connection")

	_ = applyCmd.MarkFlagRequired("batch")
	_ = applyCmd.MarkFlagRequired("table")
	rootCmd.AddCommand(applyCmd)
}
