// Package coalesce implements the island coalescer (C5): it merges
// contiguous atomic segments of one entity whose resolved data is
// identical (ignoring ephemeral columns) into islands (spec.md §4.5).
package coalesce

import "github.com/temporalmerge/tmerge/internal/tm/model"

// Coalesce reduces segs (already resolved by internal/tm/resolve, sorted by
// From, and belonging to a single entity) into islands. Segments with
// Deleted set contribute no island — they are holes in the final timeline,
// left for internal/tm/diff (C6) to turn into DELETEs by full-outer-join
// against the original target rows.
//
// This is a gaps-and-islands reduction: a segment starts a new island iff
// it has no predecessor, a gap precedes it, or its data differs from its
// predecessor (spec.md §4.5).
func Coalesce(segs []model.AtomicSegment, ephemeralColumns map[string]bool) []model.Island {
	var islands []model.Island

	for _, seg := range segs {
		if seg.Deleted {
			continue
		}

		if len(islands) > 0 {
			last := &islands[len(islands)-1]
			contiguous := last.Until.Equal(seg.From)
			sameData := contiguous && last.Data.EqualIgnoring(seg.FinalData, ephemeralColumns)
			if contiguous && sameData {
				extend(last, seg)
				continue
			}
		}

		islands = append(islands, newIsland(seg))
	}

	return islands
}

func newIsland(seg model.AtomicSegment) model.Island {
	is := model.Island{
		Entity:        seg.Entity,
		From:          seg.From,
		Until:         seg.Until,
		Data:          seg.FinalData,
		Ephemeral:     seg.SourceEphem,
		HasAncestor:   seg.HasTarget,
		AncestorFrom:  seg.TargetFrom,
		AncestorUntil: seg.TargetUntil,
		StablePK:      seg.StablePK,
	}
	if seg.HasTarget && is.Ephemeral == nil {
		is.Ephemeral = seg.TargetEphem
	}
	if seg.SourceRowID != nil {
		is.CausalRowIDs = append(is.CausalRowIDs, *seg.SourceRowID)
	} else {
		is.CausalRowIDs = append(is.CausalRowIDs, seg.CausalRowID)
	}
	return is
}

// extend grows island in place to also cover seg, keeping the latest (by
// From) ephemeral payload as the representative (spec.md §4.5).
func extend(island *model.Island, seg model.AtomicSegment) {
	island.Until = seg.Until

	// "a deterministic representative ephemeral payload (latest by from)":
	// seg.From >= island's prior max From since segs are processed in
	// ascending order, so the incoming segment's ephemeral always wins.
	if seg.SourceEphem != nil {
		island.Ephemeral = seg.SourceEphem
	} else if seg.HasTarget {
		island.Ephemeral = seg.TargetEphem
	}

	if island.StablePK == nil {
		island.StablePK = seg.StablePK
	}

	if seg.SourceRowID != nil {
		island.CausalRowIDs = append(island.CausalRowIDs, *seg.SourceRowID)
	} else {
		island.CausalRowIDs = append(island.CausalRowIDs, seg.CausalRowID)
	}
}
