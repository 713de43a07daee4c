package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temporalmerge/tmerge/internal/tm/model"
	"github.com/temporalmerge/tmerge/internal/tmconfig"
)

func d(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func newEngine() *Engine {
	return New(nil, tmconfig.Session{})
}

func opsFor(plan Plan, entity int64) []model.PlanOperation {
	var out []model.PlanOperation
	for _, op := range plan.Operations {
		if id, ok := op.Entity["account_id"]; ok && id == entity {
			out = append(out, op)
		}
	}
	return out
}

// S1: Patch inside one target row. The target has one row [1,10). The source
// patches [5,8) with new data. MERGE_ENTITY_PATCH produces a 3-way split: the pre-patch remainder keeps the target's row (UPDATE,
// clipped to [1,5)), the patched middle is an INSERT, and the post-patch
// remainder is another INSERT (spec.md §8, S1).
func TestEngine_S1_PatchInsideTargetRow(t *testing.T) {
	e := newEngine()
	b := Batch{
		Mode:      model.ModeMergeEntityPatch,
		PKColumns: []string{"account_id"},
		Sources: []model.SourceRow{
			{RowID: 1, Identity: model.EntityKey{"account_id": int64(1)}, From: d(5), Until: d(8), Data: model.Payload{"status": "patched"}},
		},
		Targets: []model.TargetRow{
			{Identity: model.EntityKey{"account_id": int64(1)}, From: d(1), Until: d(10), Data: model.Payload{"status": "orig"}},
		},
	}
	plan := e.Compile(t.Context(), b)
	ops := opsFor(plan, 1)

	var updates, inserts int
	for _, op := range ops {
		switch op.Op {
		case model.OpUpdate:
			updates++
			require.True(t, op.NewFrom.Equal(d(1)))
			require.True(t, op.NewUntil.Equal(d(5)))
		case model.OpInsert:
			inserts++
		}
	}
	require.Equal(t, 1, updates)
	require.Equal(t, 2, inserts)
}

// S2: Surgical patch clipped to the target. The source interval extends
// past the target's boundary; PATCH_FOR_PORTION_OF only ever touches the
// portion that overlaps an existing target row, so the out-of-bounds tail
// produces no operation at all for that entity (spec.md §8, S2).
func TestEngine_S2_SurgicalPatchClippedToTarget(t *testing.T) {
	e := newEngine()
	b := Batch{
		Mode:      model.ModePatchForPortionOf,
		PKColumns: []string{"account_id"},
		Sources: []model.SourceRow{
			{RowID: 1, Identity: model.EntityKey{"account_id": int64(1)}, From: d(5), Until: d(20), Data: model.Payload{"status": "patched"}},
		},
		Targets: []model.TargetRow{
			{Identity: model.EntityKey{"account_id": int64(1)}, From: d(1), Until: d(10), Data: model.Payload{"status": "orig"}},
		},
	}
	plan := e.Compile(t.Context(), b)
	ops := opsFor(plan, 1)

	for _, op := range ops {
		require.False(t, op.NewUntil.After(d(10)), "no op should extend past the target's own boundary")
	}
	fb := e.Feedback(b, plan)
	require.Len(t, fb, 1)
	require.Equal(t, int64(1), fb[0].SourceRowID)
}

// S3: Founding a new entity with a generated identity. Two source rows
// share a correlation id but no identity (the id column is generated by the
// database). They must compile as one entity group and, per spec.md §4.8,
// one becomes the founding insert and the rest share its back-filled
// surrogate key once applied.
func TestEngine_S3_FoundingNewEntitySharesGeneratedKey(t *testing.T) {
	e := newEngine()
	b := Batch{
		Mode:      model.ModeInsertNewEntities,
		PKColumns: []string{"id"},
		Sources: []model.SourceRow{
			{RowID: 1, CorrelationID: "corr-1", From: d(1), Until: d(5), Data: model.Payload{"status": "a"}},
			{RowID: 2, CorrelationID: "corr-1", From: d(5), Until: d(10), Data: model.Payload{"status": "b"}},
		},
	}
	plan := e.Compile(t.Context(), b)
	require.Len(t, plan.Operations, 2)
	for _, op := range plan.Operations {
		require.Equal(t, model.OpInsert, op.Op)
		require.Nil(t, op.StablePK, "a founding entity has no pre-existing stable PK yet")
	}
	require.Len(t, plan.entities, 1, "both rows belong to the same founding entity group")
}

// S4: Destructive timeline delete. DELETE_MISSING_TIMELINE removes any
// target segment the source batch doesn't cover, even though the entity
// itself is still present in the source (spec.md §8, S4).
func TestEngine_S4_DeleteMissingTimeline(t *testing.T) {
	e := newEngine()
	b := Batch{
		Mode:       model.ModeMergeEntityReplace,
		DeleteMode: model.DeleteModeMissingTimeline,
		PKColumns:  []string{"account_id"},
		Sources: []model.SourceRow{
			{RowID: 1, Identity: model.EntityKey{"account_id": int64(1)}, From: d(1), Until: d(5), Data: model.Payload{"status": "kept"}},
		},
		Targets: []model.TargetRow{
			{Identity: model.EntityKey{"account_id": int64(1)}, From: d(1), Until: d(10), Data: model.Payload{"status": "orig"}},
		},
	}
	plan := e.Compile(t.Context(), b)
	ops := opsFor(plan, 1)

	// The surviving [1,5) slice and the wiped [5,10) tail are the same
	// target row's island, so the wipe surfaces as a SHRINK update rather
	// than a standalone DELETE (a bare DELETE only occurs when a target row
	// loses its entire interval, not part of it).
	var sawShrink bool
	for _, op := range ops {
		if op.Op == model.OpUpdate && op.Effect == model.EffectShrink {
			sawShrink = true
			require.True(t, op.NewUntil.Equal(d(5)))
		}
		require.NotEqual(t, model.OpInsert, op.Op, "nothing should be inserted past the deleted tail")
	}
	require.True(t, sawShrink, "the uncovered tail [5,10) must be destructively truncated away")
}

// S5: Identical no-op. The source restates exactly what the target already
// holds; the plan must skip it rather than issue a no-op UPDATE, and
// feedback must report SKIPPED_IDENTICAL (spec.md §8, S5).
func TestEngine_S5_IdenticalIsSkipped(t *testing.T) {
	e := newEngine()
	b := Batch{
		Mode:      model.ModeMergeEntityUpsert,
		PKColumns: []string{"account_id"},
		Sources: []model.SourceRow{
			{RowID: 1, Identity: model.EntityKey{"account_id": int64(1)}, From: d(1), Until: d(10), Data: model.Payload{"status": "orig"}},
		},
		Targets: []model.TargetRow{
			{Identity: model.EntityKey{"account_id": int64(1)}, From: d(1), Until: d(10), Data: model.Payload{"status": "orig"}},
		},
	}
	plan := e.Compile(t.Context(), b)
	ops := opsFor(plan, 1)
	require.Len(t, ops, 1)
	require.Equal(t, model.OpSkipIdentical, ops[0].Op)

	fb := e.Feedback(b, plan)
	require.Len(t, fb, 1)
	require.Equal(t, model.StatusSkippedIdentical, fb[0].Status)
}

// S6: Insert-only filter. INSERT_NEW_ENTITIES never touches an entity that
// already has a target row; the source row for that pre-existing entity
// must come back as SKIPPED_FILTERED feedback rather than silently
// vanishing (spec.md §8, S6).
func TestEngine_S6_InsertOnlyFiltersExistingEntity(t *testing.T) {
	e := newEngine()
	b := Batch{
		Mode:      model.ModeInsertNewEntities,
		PKColumns: []string{"account_id"},
		Sources: []model.SourceRow{
			{RowID: 1, Identity: model.EntityKey{"account_id": int64(1)}, From: d(1), Until: d(10), Data: model.Payload{"status": "new"}},
		},
		Targets: []model.TargetRow{
			{Identity: model.EntityKey{"account_id": int64(1)}, From: d(1), Until: d(10), Data: model.Payload{"status": "orig"}},
		},
	}
	plan := e.Compile(t.Context(), b)
	fb := e.Feedback(b, plan)
	require.Len(t, fb, 1)
	require.Equal(t, model.StatusSkippedFiltered, fb[0].Status)
}

// The plan cache is consulted per entity: compiling the same batch twice
// must hit the cache on the second call rather than recomputing (C7,
// spec.md §4.7).
func TestEngine_CompileIsCachedAcrossCalls(t *testing.T) {
	e := newEngine()
	b := Batch{
		Mode:      model.ModeMergeEntityUpsert,
		PKColumns: []string{"account_id"},
		Sources: []model.SourceRow{
			{RowID: 1, Identity: model.EntityKey{"account_id": int64(1)}, From: d(1), Until: d(10), Data: model.Payload{"status": "a"}},
		},
	}
	first := e.Compile(t.Context(), b)
	require.Equal(t, 1, e.Cache.Len())
	second := e.Compile(t.Context(), b)
	require.Equal(t, first.Operations, second.Operations)
}
