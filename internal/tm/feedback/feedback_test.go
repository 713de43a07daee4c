package feedback

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temporalmerge/tmerge/internal/tm/model"
)

func TestBuild_AppliedBeatsSkipIdentical(t *testing.T) {
	sources := []model.SourceRow{{RowID: 1, Identity: model.EntityKey{"id": int64(1)}}}
	ops := []model.PlanOperation{
		{Op: model.OpUpdate, SourceRowIDs: []int64{1}},
		{Op: model.OpSkipIdentical, SourceRowIDs: []int64{1}},
	}
	rows := Build(sources, ops)
	require.Len(t, rows, 1)
	require.Equal(t, model.StatusApplied, rows[0].Status)
}

func TestBuild_UnreferencedRowIsError(t *testing.T) {
	sources := []model.SourceRow{{RowID: 1}}
	rows := Build(sources, nil)
	require.Len(t, rows, 1)
	require.Equal(t, model.StatusError, rows[0].Status)
	require.Equal(t, errNoPlanForRow, rows[0].Error)
}

func TestBuild_SkipNoTargetBeatsSkipFiltered(t *testing.T) {
	sources := []model.SourceRow{{RowID: 1}}
	ops := []model.PlanOperation{
		{Op: model.OpSkipFiltered, SourceRowIDs: []int64{1}},
		{Op: model.OpSkipNoTarget, SourceRowIDs: []int64{1}},
	}
	rows := Build(sources, ops)
	require.Equal(t, model.StatusSkippedNoTarget, rows[0].Status)
}

func TestBuild_OneRowPerSourceRowSortedByID(t *testing.T) {
	sources := []model.SourceRow{{RowID: 3}, {RowID: 1}, {RowID: 2}}
	ops := []model.PlanOperation{
		{Op: model.OpInsert, SourceRowIDs: []int64{1}},
		{Op: model.OpInsert, SourceRowIDs: []int64{2}},
		{Op: model.OpInsert, SourceRowIDs: []int64{3}},
	}
	rows := Build(sources, ops)
	require.Len(t, rows, 3)
	require.Equal(t, int64(1), rows[0].SourceRowID)
	require.Equal(t, int64(2), rows[1].SourceRowID)
	require.Equal(t, int64(3), rows[2].SourceRowID)
}

func TestWithErrors_OverridesStatus(t *testing.T) {
	sources := []model.SourceRow{{RowID: 1}}
	ops := []model.PlanOperation{{Op: model.OpInsert, SourceRowIDs: []int64{1}}}
	rows := WithErrors(sources, ops, map[int64]string{1: "constraint violation: unique(account_id, valid_from)"})
	require.Equal(t, model.StatusError, rows[0].Status)
	require.Contains(t, rows[0].Error, "constraint violation")
}
