// Package diff implements the diff/operation assigner (C6): it full-outer-joins
// one entity's coalesced islands against its original target rows, classifies
// each match as INSERT/UPDATE/DELETE/SKIP_IDENTICAL, computes each UPDATE's
// update_effect, and assigns the final plan_op_seq total order (spec.md §4.6).
package diff

import (
	"sort"
	"time"

	"github.com/temporalmerge/tmerge/internal/tm/model"
)

// Input is one entity's post-coalesce join inputs.
type Input struct {
	Entity     model.EntityKey
	EntityRepr string // stable string projection of Entity, for PlanOrderKey

	Islands   []model.Island
	Targets   []model.TargetRow
	Ephemeral map[string]bool

	// EphemeralChangesAreUpdates resolves spec.md §4's ephemeral-only-diff
	// Open Question (SPEC_FULL.md §4): when true, a match whose non-ephemeral
	// payload and interval are unchanged but whose ephemeral columns differ
	// becomes an UPDATE/NONE instead of SKIP_IDENTICAL.
	EphemeralChangesAreUpdates bool

	// Trace enables structural plan tracing (SPEC_FULL.md §5): when set,
	// every returned operation carries a model.TraceInfo naming this stage
	// and the reason it was classified as it was.
	Trace bool
}

func traceOf(in Input, reason string) *model.TraceInfo {
	if !in.Trace {
		return nil
	}
	return &model.TraceInfo{Stage: "diff", Reason: reason}
}

// Diff returns the entity's plan operations, already assigned a total
// plan_op_seq (spec.md §4.6). Seq numbers are local to this call; a caller
// merging several entities' plans must renumber by PlanOrderKey across the
// whole batch.
func Diff(in Input) []model.PlanOperation {
	targetByFrom := make(map[int64]model.TargetRow, len(in.Targets))
	for _, t := range in.Targets {
		targetByFrom[t.From.UnixNano()] = t
	}

	groups := make(map[int64][]model.Island)
	var newIslands []model.Island
	for _, is := range in.Islands {
		if !is.HasAncestor {
			newIslands = append(newIslands, is)
			continue
		}
		key := is.AncestorFrom.UnixNano()
		groups[key] = append(groups[key], is)
	}

	var ops []model.PlanOperation

	for _, t := range in.Targets {
		key := t.From.UnixNano()
		group := groups[key]
		delete(groups, key)

		if len(group) == 0 {
			op := model.PlanOperation{
				Entity:   in.Entity,
				Op:       model.OpDelete,
				Effect:   model.EffectBottom,
				OldFrom:  t.From,
				OldUntil: t.Until,
				Data:     t.Data,
			}
			op.Trace = traceOf(in, "target row has no surviving island")
			ops = append(ops, op)
			continue
		}

		matchIdx := pickUpdateCandidate(group, t)
		for i, is := range group {
			if i == matchIdx {
				op := matchOp(is, t, in.Ephemeral, in.EphemeralChangesAreUpdates)
				op.Trace = traceOf(in, "matched target row by From/payload similarity")
				ops = append(ops, op)
				continue
			}
			op := insertOp(is)
			op.Trace = traceOf(in, "split-group member other than the chosen update candidate")
			ops = append(ops, op)
		}
	}

	// Any island group whose ancestor_from didn't match a known target row
	// (shouldn't occur with a consistent catalog snapshot, but the join
	// must stay total) is treated as a plain insert.
	for _, group := range groups {
		for _, is := range group {
			op := insertOp(is)
			op.Trace = traceOf(in, "ancestor_from had no matching target row")
			ops = append(ops, op)
		}
	}

	for _, is := range newIslands {
		op := insertOp(is)
		op.Trace = traceOf(in, "island has no ancestor: founding or existing-entity insert")
		ops = append(ops, op)
	}

	assignSeq(ops, in.EntityRepr)
	return ops
}

// pickUpdateCandidate chooses which island in a split group becomes the
// UPDATE (the rest become INSERTs): prefer the island that preserves the
// target's original From, breaking ties by payload similarity to the
// target (spec.md §4.6, "exactly one... preserving from").
func pickUpdateCandidate(group []model.Island, t model.TargetRow) int {
	best := 0
	bestScore := -1
	for i, is := range group {
		score := 0
		if is.From.Equal(t.From) {
			score += 1000
		}
		score += similarity(is.Data, t.Data)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	return best
}

func similarity(a, b model.Payload) int {
	n := 0
	for k, v := range a {
		if ov, ok := b[k]; ok && ov == v {
			n++
		}
	}
	return n
}

func matchOp(is model.Island, t model.TargetRow, ephemeral map[string]bool, ephemeralChangesAreUpdates bool) model.PlanOperation {
	intervalSame := is.From.Equal(t.From) && is.Until.Equal(t.Until)
	if intervalSame && is.Data.EqualIgnoring(t.Data, ephemeral) {
		// Non-ephemeral payload and interval both match. If the ephemeral
		// columns also match exactly, this is a true no-op. Otherwise it's
		// an ephemeral-only change: spec.md §4's Open Question resolves it
		// to SKIP_IDENTICAL by default, or to UPDATE/NONE when the batch's
		// EphemeralChangesAreUpdates tuning knob is set.
		if ephemeralChangesAreUpdates && !is.Data.EqualIgnoring(t.Data, nil) {
			return model.PlanOperation{
				Entity:       is.Entity,
				Op:           model.OpUpdate,
				Effect:       model.EffectNone,
				OldFrom:      t.From,
				OldUntil:     t.Until,
				NewFrom:      is.From,
				NewUntil:     is.Until,
				Data:         is.Data,
				StablePK:     is.StablePK,
				SourceRowIDs: is.CausalRowIDs,
			}
		}
		return model.PlanOperation{
			Entity:       is.Entity,
			Op:           model.OpSkipIdentical,
			Effect:       model.EffectBottom,
			OldFrom:      t.From,
			OldUntil:     t.Until,
			NewFrom:      is.From,
			NewUntil:     is.Until,
			Data:         is.Data,
			SourceRowIDs: is.CausalRowIDs,
		}
	}
	return model.PlanOperation{
		Entity:       is.Entity,
		Op:           model.OpUpdate,
		Effect:       updateEffect(t.From, t.Until, is.From, is.Until),
		OldFrom:      t.From,
		OldUntil:     t.Until,
		NewFrom:      is.From,
		NewUntil:     is.Until,
		Data:         is.Data,
		StablePK:     is.StablePK,
		SourceRowIDs: is.CausalRowIDs,
	}
}

func insertOp(is model.Island) model.PlanOperation {
	return model.PlanOperation{
		Entity:       is.Entity,
		Op:           model.OpInsert,
		Effect:       model.EffectBottom,
		NewFrom:      is.From,
		NewUntil:     is.Until,
		Data:         is.Data,
		StablePK:     is.StablePK,
		SourceRowIDs: is.CausalRowIDs,
	}
}

// updateEffect classifies how the interval changed from [oldFrom,oldUntil)
// to [newFrom,newUntil) (spec.md §4.6, §8: "NONE<GROW<SHRINK<MOVE").
func updateEffect(oldFrom, oldUntil, newFrom, newUntil time.Time) model.UpdateEffect {
	switch {
	case oldFrom.Equal(newFrom) && oldUntil.Equal(newUntil):
		return model.EffectNone
	case !newFrom.After(oldFrom) && !newUntil.Before(oldUntil):
		return model.EffectGrow
	case !newFrom.Before(oldFrom) && !newUntil.After(oldUntil):
		return model.EffectShrink
	default:
		return model.EffectMove
	}
}

// assignSeq sorts ops by their PlanOrderKey and stamps Seq as a 1-based row
// number under that total order (spec.md §4.6).
func assignSeq(ops []model.PlanOperation, entityRepr string) {
	Reseq(ops, func(model.EntityKey) string { return entityRepr })
}

// Reseq sorts ops by their PlanOrderKey — computing each op's EntityRepr via
// entityReprOf — and stamps Seq as a 1-based row number under that total
// order. Unlike the per-entity Diff call, this is used by internal/tm/engine
// to renumber a whole batch's plan across every entity it touched
// (spec.md §4.6).
func Reseq(ops []model.PlanOperation, entityReprOf func(model.EntityKey) string) {
	keys := make([]model.PlanOrderKey, len(ops))
	for i, op := range ops {
		keys[i] = model.OrderKey(op, entityReprOf(op.Entity))
	}
	idx := make([]int, len(ops))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return keys[idx[a]].Less(keys[idx[b]])
	})
	sorted := make([]model.PlanOperation, len(ops))
	for seq, i := range idx {
		op := ops[i]
		op.Seq = int64(seq + 1)
		sorted[seq] = op
	}
	copy(ops, sorted)
}
