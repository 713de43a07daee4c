// Package segment implements the interval deconstructor (C3): it turns the
// union of one entity's source and target intervals into a sequence of
// atomic, non-overlapping segments bounded by the sorted distinct boundary
// points of the inputs (spec.md §4.3).
package segment

import (
	"sort"
	"time"

	"github.com/temporalmerge/tmerge/internal/tm/interval"
	"github.com/temporalmerge/tmerge/internal/tm/model"
)

// Input groups one entity's active source rows and matching target rows.
// Callers (internal/tm/engine) are responsible for the partitioning
// discipline from spec.md §4.3: existing entities group by lookup key, new
// entities (identity null) group by correlation id.
type Input struct {
	Entity  model.EntityKey
	Sources []model.SourceRow
	Targets []model.TargetRow
	Policy  model.ConflictPolicy
}

// Deconstruct computes entity's atomic segments. The contract (spec.md
// §4.3): for any input interval I, the union of atomic segments that
// intersect I equals I ∩ timeline(entity); no two segments overlap;
// segments are contiguous iff the inputs are contiguous there.
func Deconstruct(in Input) []model.AtomicSegment {
	if len(in.Sources) == 0 && len(in.Targets) == 0 {
		return nil
	}

	boundaries := collectBoundaries(in.Sources, in.Targets)
	if len(boundaries) < 2 {
		return nil
	}

	segs := make([]model.AtomicSegment, 0, len(boundaries)-1)
	for i := 0; i+1 < len(boundaries); i++ {
		from, until := boundaries[i], boundaries[i+1]

		srcRow, srcOK := pickSource(in.Sources, from, until, in.Policy)
		tgtRow, tgtOK := pickTarget(in.Targets, from, until)

		if !srcOK && !tgtOK {
			// Not covered by anything: not part of the timeline.
			continue
		}

		seg := model.AtomicSegment{
			Entity: in.Entity,
			From:   from,
			Until:  until,
		}
		if srcOK {
			rowID := srcRow.RowID
			seg.SourceRowID = &rowID
			seg.SourceData = srcRow.Data
			seg.SourceEphem = srcRow.Ephemeral
		}
		if tgtOK {
			seg.HasTarget = true
			seg.TargetFrom = tgtRow.From
			seg.TargetUntil = tgtRow.Until
			seg.TargetData = tgtRow.Data
			seg.TargetEphem = tgtRow.Ephemeral
		}
		if srcOK && tgtOK {
			sIv := interval.Interval[time.Time]{From: srcRow.From, Until: srcRow.Until}
			tIv := interval.Interval[time.Time]{From: tgtRow.From, Until: tgtRow.Until}
			seg.Relation = interval.Classify(sIv, tIv, interval.Time)
		}
		seg.CausalRowID = causalRowID(in.Sources, from, until, in.Policy)
		segs = append(segs, seg)
	}
	return segs
}

// collectBoundaries returns the sorted, de-duplicated set of all From/Until
// points across sources and targets.
func collectBoundaries(sources []model.SourceRow, targets []model.TargetRow) []time.Time {
	seen := make(map[int64]time.Time, 2*(len(sources)+len(targets)))
	add := func(t time.Time) { seen[t.UnixNano()] = t }
	for _, s := range sources {
		add(s.From)
		add(s.Until)
	}
	for _, t := range targets {
		add(t.From)
		add(t.Until)
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// pickSource returns the source row whose interval contains [from, until),
// resolving overlap ties per policy (spec.md §4.4: "last write" by default,
// the row id tie-break exposed as ConflictPolicy per SPEC_FULL.md §4).
func pickSource(sources []model.SourceRow, from, until time.Time, policy model.ConflictPolicy) (model.SourceRow, bool) {
	var best model.SourceRow
	found := false
	for _, s := range sources {
		if !s.From.After(from) && !s.Until.Before(until) && s.Until.After(from) {
			if !found {
				best, found = s, true
				continue
			}
			if winsOverlap(s, best, policy) {
				best = s
			}
		}
	}
	return best, found
}

func winsOverlap(candidate, current model.SourceRow, policy model.ConflictPolicy) bool {
	if policy == model.ConflictPolicyFirstWriteWins {
		return candidate.RowID < current.RowID
	}
	return candidate.RowID > current.RowID
}

// pickTarget returns the (at most one) target row whose interval contains
// [from, until).
func pickTarget(targets []model.TargetRow, from, until time.Time) (model.TargetRow, bool) {
	for _, t := range targets {
		if !t.From.After(from) && !t.Until.Before(until) && t.Until.After(from) {
			return t, true
		}
	}
	return model.TargetRow{}, false
}

// causalRowID resolves the causal source row id for a segment per the
// priority order in spec.md §4.4: (1) a source row overlapping the segment,
// (2) a source row meeting the segment on its right boundary, (3) one
// meeting it on its left, (4) highest row id tie-break.
func causalRowID(sources []model.SourceRow, from, until time.Time, policy model.ConflictPolicy) int64 {
	if row, ok := pickSource(sources, from, until, policy); ok {
		return row.RowID
	}

	var rightMeets, leftMeets []model.SourceRow
	for _, s := range sources {
		if s.From.Equal(until) {
			rightMeets = append(rightMeets, s)
		}
		if s.Until.Equal(from) {
			leftMeets = append(leftMeets, s)
		}
	}
	if len(rightMeets) > 0 {
		return maxRowID(rightMeets)
	}
	if len(leftMeets) > 0 {
		return maxRowID(leftMeets)
	}
	if len(sources) > 0 {
		return maxRowID(sources)
	}
	return 0
}

func maxRowID(rows []model.SourceRow) int64 {
	best := rows[0].RowID
	for _, r := range rows[1:] {
		if r.RowID > best {
			best = r.RowID
		}
	}
	return best
}
