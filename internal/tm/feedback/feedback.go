// Package feedback implements the feedback channel (C9): it aggregates
// every plan operation that named a source row into one FeedbackRow per
// row, applying the status precedence from spec.md §4.9 (ERROR > any
// applied op > SKIPPED_NO_TARGET > SKIPPED_FILTERED > SKIPPED_ECLIPSED >
// SKIPPED_IDENTICAL) so a caller gets exactly one outcome per row it sent.
package feedback

import (
	"sort"

	"github.com/temporalmerge/tmerge/internal/tm/model"
)

// errNoPlanForRow is spec.md §4.9's literal message for a source row that
// produced no plan operation at all.
const errNoPlanForRow = "Planner failed to generate a plan for this source row."

// Build aggregates ops (already assigned plan_op_seq) plus every source row
// in the batch into one FeedbackRow per source row id. A source row that no
// plan operation ever referenced is reported as ERROR (spec.md §4.9), not
// SKIPPED_ECLIPSED — every row the planner processed gets at least a skip
// op recorded against it (internal/tm/engine's compileEntity re-introduces
// mode-filtered rows for exactly this reason), so an empty op set means the
// planner itself failed to account for the row.
func Build(sources []model.SourceRow, ops []model.PlanOperation) []model.FeedbackRow {
	opsByRow := make(map[int64][]model.Op, len(sources))
	keyByRow := make(map[int64]model.EntityKey, len(sources))

	for _, op := range ops {
		for _, rowID := range op.SourceRowIDs {
			opsByRow[rowID] = append(opsByRow[rowID], op.Op)
			if _, ok := keyByRow[rowID]; !ok {
				keyByRow[rowID] = op.Entity
			}
		}
	}

	rows := make([]model.FeedbackRow, 0, len(sources))
	for _, src := range sources {
		classes := opsByRow[src.RowID]
		status := model.ResolveStatusPrecedence(classes)
		row := model.FeedbackRow{
			SourceRowID: src.RowID,
			TargetKey:   entityFor(src, keyByRow),
			Status:      status,
		}
		if status == model.StatusError {
			row.Error = errNoPlanForRow
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].SourceRowID < rows[j].SourceRowID })
	return rows
}

// WithErrors is Build plus a per-row error message map, for callers that
// attach ErrConstraintViolation-class failures discovered during C8
// execution (spec.md §4.9: "ERROR ... carries the underlying failure
// message").
func WithErrors(sources []model.SourceRow, ops []model.PlanOperation, rowErrors map[int64]string) []model.FeedbackRow {
	rows := Build(sources, ops)
	for i := range rows {
		if msg, ok := rowErrors[rows[i].SourceRowID]; ok {
			rows[i].Status = model.StatusError
			rows[i].Error = msg
		}
	}
	return rows
}

func entityFor(src model.SourceRow, keyByRow map[int64]model.EntityKey) model.EntityKey {
	if k, ok := keyByRow[src.RowID]; ok {
		return k
	}
	return src.Identity
}
