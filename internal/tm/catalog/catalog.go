// Package catalog implements the catalog introspector (C1): it resolves a
// target table's era metadata — which columns carry the valid-time range,
// the entity's identity projection, its stable surrogate key, which columns
// are ephemeral, and which carry server-side defaults — and validates it
// eagerly before any planning begins (spec.md §4.1).
//
// Concrete resolution is driver-specific (dolt/mysql and sqlite expose
// column metadata through different information_schema dialects), so this
// package only holds the resolved shape and its validation rules; the
// drivers under internal/tm/driver/* implement Introspector.
package catalog

import (
	"context"
	"fmt"

	"github.com/temporalmerge/tmerge/internal/tmerrors"
)

// EraMetadata is everything the planner needs to know about one
// (table, era) pair (spec.md §4.1, §3's GLOSSARY "era").
type EraMetadata struct {
	Table string
	Era   string

	// ValidFromColumn/ValidUntilColumn carry the half-open [from, until)
	// valid-time range (spec.md §3).
	ValidFromColumn  string
	ValidUntilColumn string

	// PKColumns is the stable surrogate key propagated across an entity's
	// timeline as it's split (spec.md §4.4).
	PKColumns []string

	// IdentityColumns is the entity projection used to group source/target
	// rows (spec.md §3's EntityKey).
	IdentityColumns []string

	// EphemeralColumns are excluded from coalescing/identity equality
	// (spec.md §3).
	EphemeralColumns []string

	// DefaultedColumns maps a column name to the SQL default expression
	// backing it, so C8 can omit it from an INSERT's column list instead
	// of passing an explicit value (SPEC_FULL.md §5, "real index-presence
	// hinting" sibling feature: defaulted-column awareness).
	DefaultedColumns map[string]string

	// HasSupportingIndex reports whether the driver found an index
	// covering (identity columns, valid_from) — the shape every plan
	// compile's full-outer-join and diff join benefit from
	// (SPEC_FULL.md §5).
	HasSupportingIndex bool

	// RowCount is the table's approximate row count as of Resolve, used
	// only to scale IndexHints's warning to tables where a missing index
	// is actually likely to matter (SPEC_FULL.md §5).
	RowCount int64
}

// IndexHintRowCountThreshold is the row count at or above which a missing
// supporting index is worth warning about (SPEC_FULL.md §5, "hint when row
// count >= 512"). Below it, a full scan is cheap enough that the index
// doesn't matter yet.
const IndexHintRowCountThreshold = 512

// IndexHints reports whether meta's table is missing a supporting index and
// has grown large enough that the omission is worth surfacing (cmd/tmerge
// doctor, SPEC_FULL.md §5).
func IndexHints(meta EraMetadata) (warn bool, reason string) {
	if meta.HasSupportingIndex {
		return false, ""
	}
	if meta.RowCount < IndexHintRowCountThreshold {
		return false, ""
	}
	return true, fmt.Sprintf(
		"no index covers (identity columns, valid_from) and table %q has %d rows (>= %d): plan compiles will scan the full table",
		meta.Table, meta.RowCount, IndexHintRowCountThreshold)
}

// Introspector resolves era metadata from a live connection. Each backend
// driver (internal/tm/driver/sqlite, internal/tm/driver/dolt) implements
// this against its own information_schema/PRAGMA dialect.
type Introspector interface {
	Resolve(ctx context.Context, table, era string) (EraMetadata, error)
}

// Validate checks that meta is complete enough to plan against, returning a
// tmerrors.ErrInvalidConfig-class error naming the first problem found
// (spec.md §4.1: "validates config eagerly, before scanning any rows").
func Validate(meta EraMetadata) error {
	if meta.Table == "" {
		return tmerrors.InvalidConfig("catalog: table name is required", nil)
	}
	if meta.ValidFromColumn == "" || meta.ValidUntilColumn == "" {
		return tmerrors.InvalidConfig(
			fmt.Sprintf("catalog: table %q: valid_from/valid_until columns must both be set", meta.Table), nil)
	}
	if meta.ValidFromColumn == meta.ValidUntilColumn {
		return tmerrors.InvalidConfig(
			fmt.Sprintf("catalog: table %q: valid_from and valid_until must be distinct columns", meta.Table), nil)
	}
	if len(meta.IdentityColumns) == 0 {
		return tmerrors.InvalidConfig(
			fmt.Sprintf("catalog: table %q: at least one identity column is required", meta.Table), nil)
	}
	for _, col := range meta.IdentityColumns {
		if col == meta.ValidFromColumn || col == meta.ValidUntilColumn {
			return tmerrors.IncompatibleSchema(
				fmt.Sprintf("catalog: table %q: identity column %q collides with the valid-time range", meta.Table, col))
		}
	}
	seen := make(map[string]bool, len(meta.IdentityColumns))
	for _, col := range meta.IdentityColumns {
		if seen[col] {
			return tmerrors.InvalidConfig(
				fmt.Sprintf("catalog: table %q: identity column %q listed more than once", meta.Table, col), nil)
		}
		seen[col] = true
	}
	return nil
}
