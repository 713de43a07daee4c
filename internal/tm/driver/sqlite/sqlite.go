// Package sqlite implements catalog.Introspector against a SQLite target
// database reached through modernc.org/sqlite, for local development and
// the engine's own test suite (spec.md §4.1's C1, driver side).
//
// Era registration DDL is out of scope (spec.md §1's "out of scope ...
// the core consumes from them only era metadata"); this driver assumes a
// sidecar catalog table, tm_era_catalog, that whatever external tool owns
// era registration has already populated, the same division of labor the
// teacher's SQLiteStorage keeps between the config table it reads
// (internal/storage/sqlite/config.go's GetConfig/SetConfig) and the
// migration tooling that creates it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/temporalmerge/tmerge/internal/tm/catalog"
	"github.com/temporalmerge/tmerge/internal/tmerrors"
)

// Introspector resolves catalog.EraMetadata against a SQLite connection.
type Introspector struct {
	DB *sql.DB
}

// New returns an Introspector reading through db.
func New(db *sql.DB) *Introspector {
	return &Introspector{DB: db}
}

// catalogRow is tm_era_catalog's shape: comma-separated column lists, the
// simplest encoding a sidecar SQLite table can hold without a JSON1
// extension dependency.
type catalogRow struct {
	validFrom, validUntil   string
	pkColumns               string
	identityColumns         string
	ephemeralColumns        string
}

// Resolve implements catalog.Introspector.
func (in *Introspector) Resolve(ctx context.Context, table, era string) (catalog.EraMetadata, error) {
	row := in.DB.QueryRowContext(ctx, `
		SELECT valid_from_column, valid_until_column, pk_columns, identity_columns, ephemeral_columns
		FROM tm_era_catalog
		WHERE table_name = ? AND era = ?`, table, era)

	var cr catalogRow
	if err := row.Scan(&cr.validFrom, &cr.validUntil, &cr.pkColumns, &cr.identityColumns, &cr.ephemeralColumns); err != nil {
		if err == sql.ErrNoRows {
			return catalog.EraMetadata{}, tmerrors.InvalidConfig(
				fmt.Sprintf("sqlite catalog: no era %q registered for table %q", era, table), nil)
		}
		return catalog.EraMetadata{}, tmerrors.Wrap("sqlite catalog: query tm_era_catalog", err)
	}

	cols, defaults, err := in.columnInfo(ctx, table)
	if err != nil {
		return catalog.EraMetadata{}, err
	}

	meta := catalog.EraMetadata{
		Table:            table,
		Era:              era,
		ValidFromColumn:  cr.validFrom,
		ValidUntilColumn: cr.validUntil,
		PKColumns:        splitCSV(cr.pkColumns),
		IdentityColumns:  splitCSV(cr.identityColumns),
		EphemeralColumns: splitCSV(cr.ephemeralColumns),
		DefaultedColumns: defaults,
	}

	for _, col := range allColumns(meta) {
		if !cols[col] {
			return catalog.EraMetadata{}, tmerrors.IncompatibleSchema(
				fmt.Sprintf("sqlite catalog: table %q has no column %q named by era %q", table, col, era))
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
	err := in.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(table))).Scan(&n)
	return n, tmerrors.Wrap("sqlite catalog: count rows", err)
}

// columnInfo reads table's columns and which carry a SQL-level default via
// PRAGMA table_info, the introspection primitive the teacher's migrations
// never needed but that every sqlite-backed catalog reader reaches for.
func (in *Introspector) columnInfo(ctx context.Context, table string) (map[string]bool, map[string]string, error) {
	rows, err := in.DB.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, nil, tmerrors.Wrap("sqlite catalog: PRAGMA table_info", err)
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]bool)
	defaults := make(map[string]string)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return nil, nil, tmerrors.Wrap("sqlite catalog: scan table_info row", err)
		}
		cols[name] = true
		if dfltValue.Valid {
			defaults[name] = dfltValue.String
		}
	}
	if len(cols) == 0 {
		return nil, nil, tmerrors.InvalidConfig(fmt.Sprintf("sqlite catalog: table %q not found", table), nil)
	}
	return cols, defaults, tmerrors.Wrap("sqlite catalog: iterate table_info rows", rows.Err())
}

// hasSupportingIndex reports whether any index on table covers
// (identityColumns..., validFromColumn) as a prefix, via PRAGMA
// index_list/index_info (SPEC_FULL.md §5's index-presence hinting).
func (in *Introspector) hasSupportingIndex(ctx context.Context, table string, identityColumns []string, validFrom string) (bool, error) {
	want := append(append([]string{}, identityColumns...), validFrom)

	rows, err := in.DB.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list(%s)`, quoteIdent(table)))
	if err != nil {
		return false, tmerrors.Wrap("sqlite catalog: PRAGMA index_list", err)
	}
	var names []string
	for rows.Next() {
		var seq int
		var name, origin, partial, unique string
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			_ = rows.Close()
			return false, tmerrors.Wrap("sqlite catalog: scan index_list row", err)
		}
		names = append(names, name)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return false, tmerrors.Wrap("sqlite catalog: iterate index_list rows", err)
	}

	for _, idx := range names {
		cols, err := in.indexColumns(ctx, idx)
		if err != nil {
			return false, err
		}
		if hasPrefix(cols, want) {
			return true, nil
		}
	}
	return false, nil
}

func (in *Introspector) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := in.DB.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_info(%s)`, quoteIdent(index)))
	if err != nil {
		return nil, tmerrors.Wrap("sqlite catalog: PRAGMA index_info", err)
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, tmerrors.Wrap("sqlite catalog: scan index_info row", err)
		}
		cols = append(cols, name.String)
	}
	return cols, tmerrors.Wrap("sqlite catalog: iterate index_info rows", rows.Err())
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

// quoteIdent double-quotes a SQL identifier for interpolation into PRAGMA
// statements, which SQLite's driver does not accept as bind parameters.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
