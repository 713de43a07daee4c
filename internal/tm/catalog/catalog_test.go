package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temporalmerge/tmerge/internal/tmerrors"
)

func validMeta() EraMetadata {
	return EraMetadata{
		Table:             "accounts",
		Era:               "validity",
		ValidFromColumn:   "valid_from",
		ValidUntilColumn:  "valid_until",
		IdentityColumns:   []string{"account_id"},
		PKColumns:         []string{"id"},
	}
}

func TestValidate_AcceptsCompleteMetadata(t *testing.T) {
	require.NoError(t, Validate(validMeta()))
}

func TestValidate_RejectsMissingTable(t *testing.T) {
	m := validMeta()
	m.Table = ""
	err := Validate(m)
	require.Error(t, err)
	require.True(t, tmerrors.IsInvalidConfig(err))
}

func TestValidate_RejectsMissingRangeColumns(t *testing.T) {
	m := validMeta()
	m.ValidUntilColumn = ""
	require.True(t, tmerrors.IsInvalidConfig(Validate(m)))
}

func TestValidate_RejectsSameFromUntilColumn(t *testing.T) {
	m := validMeta()
	m.ValidUntilColumn = m.ValidFromColumn
	require.True(t, tmerrors.IsInvalidConfig(Validate(m)))
}

func TestValidate_RejectsNoIdentityColumns(t *testing.T) {
	m := validMeta()
	m.IdentityColumns = nil
	require.True(t, tmerrors.IsInvalidConfig(Validate(m)))
}

func TestValidate_RejectsIdentityCollidingWithRange(t *testing.T) {
	m := validMeta()
	m.IdentityColumns = []string{"valid_from"}
	err := Validate(m)
	require.Error(t, err)
	require.True(t, tmerrors.IsIncompatibleSchema(err))
}

func TestValidate_RejectsDuplicateIdentityColumn(t *testing.T) {
	m := validMeta()
	m.IdentityColumns = []string{"account_id", "account_id"}
	require.True(t, tmerrors.IsInvalidConfig(Validate(m)))
}

func TestIndexHints_NoWarningWhenIndexPresent(t *testing.T) {
	m := validMeta()
	m.HasSupportingIndex = true
	m.RowCount = 10_000
	warn, _ := IndexHints(m)
	require.False(t, warn)
}

func TestIndexHints_NoWarningBelowThreshold(t *testing.T) {
	m := validMeta()
	m.HasSupportingIndex = false
	m.RowCount = IndexHintRowCountThreshold - 1
	warn, _ := IndexHints(m)
	require.False(t, warn)
}

func TestIndexHints_WarnsAtOrAboveThreshold(t *testing.T) {
	m := validMeta()
	m.HasSupportingIndex = false
	m.RowCount = IndexHintRowCountThreshold
	warn, reason := IndexHints(m)
	require.True(t, warn)
	require.Contains(t, reason, m.Table)
	require.Contains(t, reason, "512")
}
