// Package resolve implements the payload resolver (C4): for each atomic
// segment, it computes the final payload under the batch's chosen mode and
// delete_mode, and propagates the causal attribution and stable PK payload
// along an entity's timeline (spec.md §4.4).
package resolve

import "github.com/temporalmerge/tmerge/internal/tm/model"

// Options parameterizes one entity's payload resolution pass.
type Options struct {
	Mode       model.Mode
	DeleteMode model.DeleteMode

	// EntityHasSource is true iff the source batch contains at least one
	// row for this entity (used by delete_mode's MISSING_ENTITIES branch,
	// spec.md §4.4).
	EntityHasSource bool

	// PKColumns names the stable surrogate-key columns to propagate from an
	// existing target row onto new slices split from it (spec.md §4.4,
	// "stable PK payload is propagated along an entity's timeline").
	PKColumns []string
}

// Resolve computes FinalData/Deleted for every segment in segs, in place
// order, and returns the resolved slice. segs must already be sorted by
// From (segment.Deconstruct guarantees this).
func Resolve(segs []model.AtomicSegment, opts Options) []model.AtomicSegment {
	out := make([]model.AtomicSegment, len(segs))
	copy(out, segs)

	for i := range out {
		resolveSegment(&out[i], opts)
	}
	applyDeleteMode(out, opts)
	propagateStablePK(out, opts.PKColumns)
	return out
}

// resolveSegment computes FinalData/Deleted for one segment per the mode
// table in spec.md §4.4.
func resolveSegment(seg *model.AtomicSegment, opts Options) {
	sPresent := seg.SourceRowID != nil
	tPresent := seg.HasTarget

	switch opts.Mode {
	case model.ModeMergeEntityPatch:
		s := seg.SourceData.StripNulls()
		switch {
		case sPresent && tPresent:
			seg.FinalData = seg.TargetData.Merge(s)
		case sPresent:
			seg.FinalData = s
		default:
			seg.FinalData = seg.TargetData
		}

	case model.ModeMergeEntityReplace:
		switch {
		case sPresent:
			seg.FinalData = seg.SourceData.Clone()
		case tPresent:
			seg.FinalData = seg.TargetData
		}

	case model.ModeMergeEntityUpsert:
		switch {
		case sPresent && tPresent:
			seg.FinalData = seg.TargetData.Merge(seg.SourceData)
		case sPresent:
			seg.FinalData = seg.SourceData
		default:
			seg.FinalData = seg.TargetData
		}

	case model.ModePatchForPortionOf:
		if !tPresent {
			seg.Deleted = true
			seg.SkipReason = model.OpSkipNoTarget
			return
		}
		s := seg.SourceData.StripNulls()
		if sPresent {
			seg.FinalData = seg.TargetData.Merge(s)
		} else {
			seg.FinalData = seg.TargetData
		}

	case model.ModeReplaceForPortionOf:
		if !tPresent {
			seg.Deleted = true
			seg.SkipReason = model.OpSkipNoTarget
			return
		}
		if sPresent {
			seg.FinalData = seg.SourceData.Clone()
		} else {
			seg.FinalData = seg.TargetData
		}

	case model.ModeUpdateForPortionOf:
		if !tPresent {
			seg.Deleted = true
			seg.SkipReason = model.OpSkipNoTarget
			return
		}
		if sPresent {
			seg.FinalData = seg.TargetData.Merge(seg.SourceData)
		} else {
			seg.FinalData = seg.TargetData
		}

	case model.ModeDeleteForPortionOf:
		switch {
		case !tPresent:
			seg.Deleted = true
			seg.SkipReason = model.OpSkipNoTarget
		case sPresent:
			// s_data <- DELETE sentinel: final = ∅ where source overlaps target.
			seg.Deleted = true
		default:
			seg.FinalData = seg.TargetData
		}

	case model.ModeInsertNewEntities:
		if tPresent {
			// This mode only founds new entities: a segment that overlaps an
			// existing target row is filtered here (SKIP_FILTERED); the
			// engine filters the remaining segments of such an entity.
			seg.Deleted = true
			seg.SkipReason = model.OpSkipFiltered
			return
		}
		seg.FinalData = seg.SourceData

	default:
		seg.Deleted = true
	}
}

// replaceFamily reports whether mode honors the delete_mode modifier
// (spec.md §4.4: "applies only to REPLACE-family modes").
func replaceFamily(mode model.Mode) bool {
	return mode == model.ModeMergeEntityReplace || mode == model.ModeReplaceForPortionOf
}

// applyDeleteMode wipes segments per the delete_mode modifier, operating
// entity-wide since it needs to know whether the batch covered this entity
// at all (spec.md §4.4).
func applyDeleteMode(segs []model.AtomicSegment, opts Options) {
	if !replaceFamily(opts.Mode) || opts.DeleteMode == model.DeleteModeNone || opts.DeleteMode == "" {
		return
	}

	wipeMissingTimeline := opts.DeleteMode == model.DeleteModeMissingTimeline ||
		opts.DeleteMode == model.DeleteModeMissingTimelineAndEntities
	wipeMissingEntities := opts.DeleteMode == model.DeleteModeMissingEntities ||
		opts.DeleteMode == model.DeleteModeMissingTimelineAndEntities

	if wipeMissingEntities && !opts.EntityHasSource {
		for i := range segs {
			segs[i].Deleted = true
			segs[i].FinalData = nil
		}
		return
	}

	if wipeMissingTimeline && opts.EntityHasSource {
		for i := range segs {
			if segs[i].SourceRowID == nil && !segs[i].Deleted {
				segs[i].Deleted = true
				segs[i].FinalData = nil
			}
		}
	}
}

// propagateStablePK forward-fills the surrogate-key payload of an existing
// target row onto later segments of the same entity so that new slices
// split from it carry its identifiers (spec.md §4.4).
func propagateStablePK(segs []model.AtomicSegment, pkColumns []string) {
	if len(pkColumns) == 0 {
		return
	}
	var known model.Payload
	for i := range segs {
		if segs[i].HasTarget {
			pk := make(model.Payload, len(pkColumns))
			for _, col := range pkColumns {
				if v, ok := segs[i].TargetData[col]; ok {
					pk[col] = v
				}
			}
			known = pk
		}
		if known != nil {
			segs[i].StablePK = known
		}
	}
}
