// Package dolt implements catalog.Introspector against a Dolt target
// database, connecting either embedded (github.com/dolthub/driver, no
// server required) or to a running dolt sql-server over the MySQL wire
// protocol (github.com/go-sql-driver/mysql), mirroring the two connection
// modes DoltStore.New supports in internal/storage/dolt/store.go.
package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/dolthub/driver"
	_ "github.com/go-sql-driver/mysql"

	"github.com/temporalmerge/tmerge/internal/tm/catalog"
	"github.com/temporalmerge/tmerge/internal/tmerrors"
)

// Config mirrors the subset of internal/storage/dolt/store.go's Config
// relevant to a read-only catalog connection: either an embedded directory
// or a running sql-server's address.
type Config struct {
	// Embedded, when true, opens Path directly via dolthub/driver (CGO).
	Embedded bool
	Path     string

	ServerHost     string
	ServerPort     int
	ServerUser     string
	ServerPassword string
	ServerTLS      bool
	Database       string
}

// Open connects to cfg and pings it, retrying transient connection errors
// with the same exponential backoff store.go's openServerConnection uses
// for the post-CREATE-DATABASE catalog-registration race.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	driverName, dsn, err := dsn(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, tmerrors.Wrap("dolt catalog: open connection", err)
	}

	if !cfg.Embedded {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(func() error {
		pingErr := db.PingContext(ctx)
		if pingErr != nil && isRetryableError(pingErr) {
			return pingErr
		}
		if pingErr != nil {
			return backoff.Permanent(pingErr)
		}
		return nil
	}, backoff.WithContext(bo, ctx)); err != nil {
		_ = db.Close()
		return nil, tmerrors.Wrap("dolt catalog: ping after open", err)
	}

	return db, nil
}

func dsn(cfg Config) (driverName, dsn string, err error) {
	if cfg.Embedded {
		if cfg.Path == "" {
			return "", "", tmerrors.InvalidConfig("dolt catalog: embedded mode requires Path", nil)
		}
		return "dolt", fmt.Sprintf("file://%s?commitname=tmerge&commitemail=tmerge@local", cfg.Path), nil
	}
	if err := validateIdent(cfg.Database); err != nil {
		return "", "", tmerrors.InvalidConfig(fmt.Sprintf("dolt catalog: invalid database name %q", cfg.Database), err)
	}
	var userPart string
	if cfg.ServerPassword != "" {
		userPart = fmt.Sprintf("%s:%s", cfg.ServerUser, cfg.ServerPassword)
	} else {
		userPart = cfg.ServerUser
	}
	params := "parseTime=true"
	if cfg.ServerTLS {
		params += "&tls=true"
	}
	return "mysql", fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", userPart, cfg.ServerHost, cfg.ServerPort, cfg.Database, params), nil
}

// isRetryableError reports whether err looks like a transient connection
// failure worth retrying rather than a permanent rejection, the same
// classification store.go's withRetry applies to Dolt server-mode errors.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "broken pipe", "connection reset", "unknown database", "i/o timeout", "bad connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// validateIdent rejects anything but ASCII letters, digits, and
// underscores, the same defense-in-depth store.go's validateDatabaseName
// applies before backtick-interpolating a database name into DDL.
func validateIdent(ident string) error {
	if ident == "" {
		return fmt.Errorf("identifier must not be empty")
	}
	for _, r := range ident {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return fmt.Errorf("identifier %q contains a disallowed character %q", ident, r)
		}
	}
	return nil
}

// Introspector resolves catalog.EraMetadata against a Dolt/MySQL
// information_schema.
type Introspector struct {
	DB *sql.DB
}

// New returns an Introspector reading through db.
func New(db *sql.DB) *Introspector {
	return &Introspector{DB: db}
}

// Resolve implements catalog.Introspector. Era metadata itself lives in a
// sidecar tm_era_catalog table (era registration DDL is out of scope,
// spec.md §1); this driver cross-validates every named column and the
// identity+valid_from index shape against information_schema, the Dolt/
// MySQL-compatible dialect's column catalog.
func (in *Introspector) Resolve(ctx context.Context, table, era string) (catalog.EraMetadata, error) {
	row := in.DB.QueryRowContext(ctx, `
		SELECT valid_from_column, valid_until_column, pk_columns, identity_columns, ephemeral_columns
		FROM tm_era_catalog
		WHERE table_name = ? AND era = ?`, table, era)

	var validFrom, validUntil, pkCols, idCols, ephemCols string
	if err := row.Scan(&validFrom, &validUntil, &pkCols, &idCols, &ephemCols); err != nil {
		if err == sql.ErrNoRows {
			return catalog.EraMetadata{}, tmerrors.InvalidConfig(
				fmt.Sprintf("dolt catalog: no era %q registered for table %q", era, table), nil)
		}
		return catalog.EraMetadata{}, tmerrors.Wrap("dolt catalog: query tm_era_catalog", err)
	}

	cols, defaults, err := in.columnInfo(ctx, table)
	if err != nil {
		return catalog.EraMetadata{}, err
	}

	meta := catalog.EraMetadata{
		Table:            table,
		Era:              era,
		ValidFromColumn:  validFrom,
		ValidUntilColumn: validUntil,
		PKColumns:        splitCSV(pkCols),
		IdentityColumns:  splitCSV(idCols),
		EphemeralColumns: splitCSV(ephemCols),
		DefaultedColumns: defaults,
	}

	for _, col := range allColumns(meta) {
		if !cols[col] {
			return catalog.EraMetadata{}, tmerrors.IncompatibleSchema(
				fmt.Sprintf("dolt catalog: table %q has no column %q named by era %q", table, col, era))
		}
	}

	if err := catalog.Validate(meta); err != nil {
		return catalog.EraMetadata{}, err
	}

	meta.HasSupportingIndex, err = in.hasSupportingIndex(ctx, table, meta.IdentityColumns, meta.ValidFromColumn)
	if err != nil {
		return catalog.EraMetadata{}, err
	}

	meta.RowCount, err = in.rowCount(ctx, table)
	if err != nil {
		return catalog.EraMetadata{}, err
	}

	return meta, nil
}

// rowCount feeds catalog.IndexHints's row-count threshold (SPEC_FULL.md §5).
func (in *Introspector) rowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := in.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))).Scan(&n)
	return n, tmerrors.Wrap("dolt catalog: count rows", err)
}

// quoteIdent backtick-quotes a SQL identifier for interpolation into a
// query MySQL/Dolt's driver won't accept as a bind parameter.
func quoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (in *Introspector) columnInfo(ctx context.Context, table string) (map[string]bool, map[string]string, error) {
	rows, err := in.DB.QueryContext(ctx, `
		SELECT column_name, column_default
		FROM information_schema.columns
		WHERE table_name = ? AND table_schema = database()`, table)
	if err != nil {
		return nil, nil, tmerrors.Wrap("dolt catalog: query information_schema.columns", err)
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]bool)
	defaults := make(map[string]string)
	for rows.Next() {
		var name string
		var dflt sql.NullString
		if err := rows.Scan(&name, &dflt); err != nil {
			return nil, nil, tmerrors.Wrap("dolt catalog: scan information_schema.columns row", err)
		}
		cols[name] = true
		if dflt.Valid {
			defaults[name] = dflt.String
		}
	}
	if len(cols) == 0 {
		return nil, nil, tmerrors.InvalidConfig(fmt.Sprintf("dolt catalog: table %q not found", table), nil)
	}
	return cols, defaults, tmerrors.Wrap("dolt catalog: iterate information_schema.columns rows", rows.Err())
}

// hasSupportingIndex reports whether any index on table covers
// (identityColumns..., validFrom) as a column prefix, read from
// information_schema.statistics which orders rows by seq_in_index.
func (in *Introspector) hasSupportingIndex(ctx context.Context, table string, identityColumns []string, validFrom string) (bool, error) {
	rows, err := in.DB.QueryContext(ctx, `
		SELECT index_name, column_name
		FROM information_schema.statistics
		WHERE table_name = ? AND table_schema = database()
		ORDER BY index_name, seq_in_index`, table)
	if err != nil {
		return false, tmerrors.Wrap("dolt catalog: query information_schema.statistics", err)
	}
	defer func() { _ = rows.Close() }()

	byIndex := make(map[string][]string)
	var order []string
	for rows.Next() {
		var idx, col string
		if err := rows.Scan(&idx, &col); err != nil {
			return false, tmerrors.Wrap("dolt catalog: scan information_schema.statistics row", err)
		}
		if _, ok := byIndex[idx]; !ok {
			order = append(order, idx)
		}
		byIndex[idx] = append(byIndex[idx], col)
	}
	if err := rows.Err(); err != nil {
		return false, tmerrors.Wrap("dolt catalog: iterate information_schema.statistics rows", err)
	}

	want := append(append([]string{}, identityColumns...), validFrom)
	for _, idx := range order {
		if hasPrefix(byIndex[idx], want) {
			return true, nil
		}
	}
	return false, nil
}

func hasPrefix(cols, want []string) bool {
	if len(cols) < len(want) {
		return false
	}
	for i, w := range want {
		if cols[i] != w {
			return false
		}
	}
	return true
}

func allColumns(meta catalog.EraMetadata) []string {
	out := []string{meta.ValidFromColumn, meta.ValidUntilColumn}
	out = append(out, meta.PKColumns...)
	out = append(out, meta.IdentityColumns...)
	out = append(out, meta.EphemeralColumns...)
	return out
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
