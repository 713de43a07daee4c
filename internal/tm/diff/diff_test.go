package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temporalmerge/tmerge/internal/tm/model"
)

func d(n int) time.Time {
	return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func target(from, until int, data model.Payload) model.TargetRow {
	return model.TargetRow{From: d(from), Until: d(until), Data: data}
}

func island(from, until int, data model.Payload, ancestorFrom int, hasAncestor bool) model.Island {
	return model.Island{
		From:          d(from),
		Until:         d(until),
		Data:          data,
		HasAncestor:   hasAncestor,
		AncestorFrom:  d(ancestorFrom),
		AncestorUntil: d(until),
		CausalRowIDs:  []int64{1},
	}
}

func TestDiff_UpdateOnDataChange(t *testing.T) {
	ops := Diff(Input{
		Targets: []model.TargetRow{target(0, 10, model.Payload{"name": "A"})},
		Islands: []model.Island{island(0, 10, model.Payload{"name": "B"}, 0, true)},
	})
	require.Len(t, ops, 1)
	require.Equal(t, model.OpUpdate, ops[0].Op)
	require.Equal(t, model.EffectNone, ops[0].Effect)
}

func TestDiff_SkipIdenticalWhenUnchanged(t *testing.T) {
	ops := Diff(Input{
		Targets: []model.TargetRow{target(0, 10, model.Payload{"name": "A"})},
		Islands: []model.Island{island(0, 10, model.Payload{"name": "A"}, 0, true)},
	})
	require.Len(t, ops, 1)
	require.Equal(t, model.OpSkipIdentical, ops[0].Op)
}

func TestDiff_DeleteWhenNoMatchingIsland(t *testing.T) {
	ops := Diff(Input{
		Targets: []model.TargetRow{target(0, 10, model.Payload{"name": "A"})},
		Islands: nil,
	})
	require.Len(t, ops, 1)
	require.Equal(t, model.OpDelete, ops[0].Op)
	require.Equal(t, d(0), ops[0].OldFrom)
	require.Equal(t, d(10), ops[0].OldUntil)
}

func TestDiff_InsertForEntityWithNoAncestor(t *testing.T) {
	ops := Diff(Input{
		Islands: []model.Island{island(0, 10, model.Payload{"name": "X"}, 0, false)},
	})
	require.Len(t, ops, 1)
	require.Equal(t, model.OpInsert, ops[0].Op)
}

func TestDiff_SplitProducesOneUpdateAndInserts(t *testing.T) {
	// target [0,10) splits into two islands sharing the same ancestor:
	// the one preserving From=0 becomes UPDATE, the other an INSERT.
	ops := Diff(Input{
		Targets: []model.TargetRow{target(0, 10, model.Payload{"name": "A"})},
		Islands: []model.Island{
			island(0, 4, model.Payload{"name": "A"}, 0, true),
			island(4, 10, model.Payload{"name": "B"}, 0, true),
		},
	})
	require.Len(t, ops, 2)
	var updates, inserts int
	for _, op := range ops {
		switch op.Op {
		case model.OpUpdate, model.OpSkipIdentical:
			updates++
			require.Equal(t, d(0), op.NewFrom)
		case model.OpInsert:
			inserts++
		}
	}
	require.Equal(t, 1, updates)
	require.Equal(t, 1, inserts)
}

func TestDiff_EffectGrow(t *testing.T) {
	ops := Diff(Input{
		Targets: []model.TargetRow{target(5, 10, model.Payload{"name": "A"})},
		Islands: []model.Island{island(0, 10, model.Payload{"name": "A"}, 5, true)},
	})
	require.Equal(t, model.OpUpdate, ops[0].Op)
	require.Equal(t, model.EffectGrow, ops[0].Effect)
}

func TestDiff_EffectShrink(t *testing.T) {
	ops := Diff(Input{
		Targets: []model.TargetRow{target(0, 10, model.Payload{"name": "A"})},
		Islands: []model.Island{island(2, 8, model.Payload{"name": "A"}, 0, true)},
	})
	require.Equal(t, model.EffectShrink, ops[0].Effect)
}

func TestDiff_EffectMove(t *testing.T) {
	ops := Diff(Input{
		Targets: []model.TargetRow{target(0, 10, model.Payload{"name": "A"})},
		Islands: []model.Island{island(5, 15, model.Payload{"name": "A"}, 0, true)},
	})
	require.Equal(t, model.EffectMove, ops[0].Effect)
}

func TestDiff_EphemeralOnlyChangeIsSkipIdenticalByDefault(t *testing.T) {
	ops := Diff(Input{
		Targets:   []model.TargetRow{target(0, 10, model.Payload{"name": "A", "synced_at": "t0"})},
		Islands:   []model.Island{island(0, 10, model.Payload{"name": "A", "synced_at": "t1"}, 0, true)},
		Ephemeral: map[string]bool{"synced_at": true},
	})
	require.Len(t, ops, 1)
	require.Equal(t, model.OpSkipIdentical, ops[0].Op)
}

func TestDiff_EphemeralOnlyChangeIsUpdateWhenFlagSet(t *testing.T) {
	ops := Diff(Input{
		Targets:                    []model.TargetRow{target(0, 10, model.Payload{"name": "A", "synced_at": "t0"})},
		Islands:                    []model.Island{island(0, 10, model.Payload{"name": "A", "synced_at": "t1"}, 0, true)},
		Ephemeral:                  map[string]bool{"synced_at": true},
		EphemeralChangesAreUpdates: true,
	})
	require.Len(t, ops, 1)
	require.Equal(t, model.OpUpdate, ops[0].Op)
	require.Equal(t, model.EffectNone, ops[0].Effect)
}

func TestDiff_TrueNoOpStaysSkipIdenticalEvenWhenFlagSet(t *testing.T) {
	ops := Diff(Input{
		Targets:                    []model.TargetRow{target(0, 10, model.Payload{"name": "A", "synced_at": "t0"})},
		Islands:                    []model.Island{island(0, 10, model.Payload{"name": "A", "synced_at": "t0"}, 0, true)},
		Ephemeral:                  map[string]bool{"synced_at": true},
		EphemeralChangesAreUpdates: true,
	})
	require.Len(t, ops, 1)
	require.Equal(t, model.OpSkipIdentical, ops[0].Op)
}

func TestDiff_SeqOrdersInsertBeforeUpdateBeforeDelete(t *testing.T) {
	ops := Diff(Input{
		Targets: []model.TargetRow{
			target(0, 10, model.Payload{"name": "A"}),  // -> UPDATE
			target(20, 30, model.Payload{"name": "Z"}), // -> DELETE (no island)
		},
		Islands: []model.Island{
			island(0, 10, model.Payload{"name": "A2"}, 0, true), // -> UPDATE
			island(40, 50, model.Payload{"name": "N"}, 0, false), // -> INSERT
		},
	})
	require.Len(t, ops, 3)
	byOp := map[model.Op]model.PlanOperation{}
	for _, op := range ops {
		byOp[op.Op] = op
	}
	require.Less(t, byOp[model.OpInsert].Seq, byOp[model.OpUpdate].Seq)
	require.Less(t, byOp[model.OpUpdate].Seq, byOp[model.OpDelete].Seq)
}
