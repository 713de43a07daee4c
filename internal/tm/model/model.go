// Package model holds the data model shared by every stage of the temporal
// merge pipeline: payloads, source/target rows, atomic segments, islands,
// plan operations, and feedback rows. See spec.md §3.
package model

import (
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Mode selects the merge semantics applied to the whole batch (spec.md §4.4, §6).
type Mode string

const (
	ModeMergeEntityPatch    Mode = "MERGE_ENTITY_PATCH"
	ModeMergeEntityReplace  Mode = "MERGE_ENTITY_REPLACE"
	ModeMergeEntityUpsert   Mode = "MERGE_ENTITY_UPSERT"
	ModeInsertNewEntities   Mode = "INSERT_NEW_ENTITIES"
	ModePatchForPortionOf   Mode = "PATCH_FOR_PORTION_OF"
	ModeReplaceForPortionOf Mode = "REPLACE_FOR_PORTION_OF"
	ModeUpdateForPortionOf  Mode = "UPDATE_FOR_PORTION_OF"
	ModeDeleteForPortionOf  Mode = "DELETE_FOR_PORTION_OF"
)

// DeleteMode modifies REPLACE-family modes (spec.md §4.4).
type DeleteMode string

const (
	DeleteModeNone                       DeleteMode = "NONE"
	DeleteModeMissingTimeline            DeleteMode = "DELETE_MISSING_TIMELINE"
	DeleteModeMissingEntities            DeleteMode = "DELETE_MISSING_ENTITIES"
	DeleteModeMissingTimelineAndEntities DeleteMode = "DELETE_MISSING_TIMELINE_AND_ENTITIES"
)

// ConflictPolicy resolves overlapping source rows that cover the same
// atomic segment (spec.md §9 Open Question, resolved in SPEC_FULL.md §4).
type ConflictPolicy string

const (
	ConflictPolicyLastWriteWins  ConflictPolicy = "LAST_WRITE_WINS"
	ConflictPolicyFirstWriteWins ConflictPolicy = "FIRST_WRITE_WINS"
)

// AllenRelation is one of the 13 interval relations (spec.md §4.2).
type AllenRelation string

const (
	RelPrecedes       AllenRelation = "precedes"
	RelPrecededBy     AllenRelation = "preceded_by"
	RelMeets          AllenRelation = "meets"
	RelMetBy          AllenRelation = "met_by"
	RelOverlaps       AllenRelation = "overlaps"
	RelOverlappedBy   AllenRelation = "overlapped_by"
	RelStarts         AllenRelation = "starts"
	RelStartedBy      AllenRelation = "started_by"
	RelDuring         AllenRelation = "during"
	RelContains       AllenRelation = "contains"
	RelFinishes       AllenRelation = "finishes"
	RelFinishedBy     AllenRelation = "finished_by"
	RelEquals         AllenRelation = "equals"
)

// Op is a plan operation class (spec.md §3).
type Op string

const (
	OpInsert         Op = "INSERT"
	OpUpdate         Op = "UPDATE"
	OpDelete         Op = "DELETE"
	OpSkipIdentical  Op = "SKIP_IDENTICAL"
	OpSkipNoTarget   Op = "SKIP_NO_TARGET"
	OpSkipFiltered   Op = "SKIP_FILTERED"
	OpSkipEclipsed   Op = "SKIP_ECLIPSED"
	OpError          Op = "ERROR"
)

// rank gives the total order INSERT < UPDATE < DELETE < every other op (the
// SKIP_* and ERROR ops) required by spec.md §4.6's plan_op_seq ordering key.
func (o Op) rank() int {
	switch o {
	case OpInsert:
		return 0
	case OpUpdate:
		return 1
	case OpDelete:
		return 2
	default:
		return 3
	}
}

// UpdateEffect classifies an UPDATE's interval change relative to its
// pre-image (spec.md §3, §4.6).
type UpdateEffect string

const (
	EffectNone   UpdateEffect = "NONE"
	EffectGrow   UpdateEffect = "GROW"
	EffectShrink UpdateEffect = "SHRINK"
	EffectMove   UpdateEffect = "MOVE"
	EffectBottom UpdateEffect = "" // ⊥, not applicable to non-UPDATE rows
)

// rank gives the update-effect order NONE < GROW < SHRINK < MOVE, with ⊥
// (non-UPDATE rows) last, used as the effect component of spec.md §4.6's
// plan_op_seq ordering key.
func (e UpdateEffect) rank() int {
	switch e {
	case EffectNone:
		return 0
	case EffectGrow:
		return 1
	case EffectShrink:
		return 2
	case EffectMove:
		return 3
	default:
		return 4
	}
}

// FeedbackStatus is the per-source-row outcome reported to callers
// (spec.md §3, §4.9).
type FeedbackStatus string

const (
	StatusApplied            FeedbackStatus = "APPLIED"
	StatusSkippedIdentical   FeedbackStatus = "SKIPPED_IDENTICAL"
	StatusSkippedFiltered    FeedbackStatus = "SKIPPED_FILTERED"
	StatusSkippedNoTarget    FeedbackStatus = "SKIPPED_NO_TARGET"
	StatusSkippedEclipsed    FeedbackStatus = "SKIPPED_ECLIPSED"
	StatusError              FeedbackStatus = "ERROR"
)

// deleteSentinel is the unexported type behind Delete, the payload sentinel
// requesting deletion (spec.md §3).
type deleteSentinel struct{}

// Delete is the sentinel Value that marks a payload as requesting deletion.
var Delete = deleteSentinel{}

// IsDelete reports whether v is the DELETE sentinel.
func IsDelete(v any) bool {
	_, ok := v.(deleteSentinel)
	return ok
}

// Payload is a semistructured map from column name to typed value. Values
// are whatever the driver layer scans into (string, int64, float64, bool,
// time.Time, []byte, nil, or the Delete sentinel).
type Payload map[string]any

// Clone returns a shallow copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// StripNulls returns a copy of p with nil-valued keys removed. Used by the
// *_PATCH family of modes (spec.md §4.4: "strip nulls").
func (p Payload) StripNulls() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// Merge returns p with every key of override set on top (right-wins),
// matching the "t_data ∥ s_data" notation in spec.md §4.4.
func (p Payload) Merge(override Payload) Payload {
	out := p.Clone()
	if out == nil {
		out = make(Payload, len(override))
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// EqualIgnoring reports whether p and other are equal as data payloads,
// ignoring the named ephemeral columns (spec.md §3: ephemeral columns are
// excluded from coalescing/identity equality).
func (p Payload) EqualIgnoring(other Payload, ephemeral map[string]bool) bool {
	for k, v := range p {
		if ephemeral[k] {
			continue
		}
		ov, ok := other[k]
		if !ok || !valueEqual(v, ov) {
			return false
		}
	}
	for k, ov := range other {
		if ephemeral[k] {
			continue
		}
		if _, ok := p[k]; ok {
			continue
		}
		if !valueEqual(ov, nil) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	if t1, ok := a.(time.Time); ok {
		if t2, ok := b.(time.Time); ok {
			return t1.Equal(t2)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// EntityKey is the resolved entity projection: the union of stable identity
// and lookup/natural identity column values for one entity (spec.md §3).
type EntityKey map[string]any

// Repr returns a canonical string projection of k, stable regardless of map
// iteration order, for use as a grouping/map key and as the EntityRepr
// component of PlanOrderKey (maps themselves cannot be map keys or directly
// ordered).
func (k EntityKey) Repr() string {
	keys := make([]string, 0, len(k))
	for col := range k {
		keys = append(keys, col)
	}
	sort.Strings(keys)
	repr := ""
	for _, col := range keys {
		repr += fmt.Sprintf("%s=%v;", col, k[col])
	}
	return repr
}

// Equal reports whether k and other name the same entity.
func (k EntityKey) Equal(other EntityKey) bool {
	if len(k) != len(other) {
		return false
	}
	for key, v := range k {
		ov, ok := other[key]
		if !ok || !valueEqual(v, ov) {
			return false
		}
	}
	return true
}

// SourceRow is one row of the source batch (spec.md §3).
type SourceRow struct {
	RowID         int64
	CorrelationID string
	Identity      EntityKey
	From          time.Time
	Until         time.Time
	Data          Payload
	Ephemeral     Payload
}

// TargetRow is one row currently stored in the target table (spec.md §3).
type TargetRow struct {
	Identity  EntityKey
	From      time.Time
	Until     time.Time
	Data      Payload
	Ephemeral Payload
}

// AtomicSegment is a maximal sub-interval of one entity's timeline that is
// covered by exactly one combination of source/target intervals
// (spec.md §3, §4.3).
type AtomicSegment struct {
	Entity EntityKey
	From   time.Time
	Until  time.Time

	// SourceRowID is the source row whose interval contains this segment,
	// if any (left-lateral lookup result, spec.md §4.4).
	SourceRowID   *int64
	SourceData    Payload
	SourceEphem   Payload

	// TargetFrom/TargetUntil identify the target row this segment descends
	// from, when any (the "ancestor" used by C6's join, spec.md §4.6).
	HasTarget    bool
	TargetFrom   time.Time
	TargetUntil  time.Time
	TargetData   Payload
	TargetEphem  Payload

	// FinalData is the mode-resolved payload for this segment. Deleted marks
	// a segment that contributes no row to the final timeline (destructively
	// emptied or filtered by the mode); downstream stages skip Deleted
	// segments and do not inspect FinalData to decide emptiness.
	FinalData Payload
	Deleted   bool

	// StablePK is the surrogate-key payload propagated along an entity's
	// timeline from whichever target row it was split from (spec.md §4.4).
	StablePK Payload

	// CausalRowID is the source row id used for ordering and feedback
	// attribution (spec.md §4.4).
	CausalRowID int64

	Relation AllenRelation

	// SkipReason is set alongside Deleted when the segment was dropped by
	// an explicit mode predicate rather than a destructive delete_mode
	// (e.g. a surgical mode's portion outside the target, or
	// INSERT_NEW_ENTITIES seeing an entity that already exists). The
	// engine uses it to re-introduce the causing source row as
	// SKIP_FILTERED/SKIP_NO_TARGET feedback (spec.md §4.6) when no other
	// plan operation ends up referencing that row.
	SkipReason Op
}

// Island is a run of contiguous atomic segments with equal non-ephemeral
// FinalData (spec.md §3, §4.5).
type Island struct {
	Entity EntityKey
	From   time.Time
	Until  time.Time

	Data      Payload
	Ephemeral Payload
	Deleted   bool

	// AncestorFrom/AncestorUntil identify the target row this island
	// descends from (spec.md §4.6's join key ancestor_from).
	HasAncestor   bool
	AncestorFrom  time.Time
	AncestorUntil time.Time

	StablePK    Payload
	CausalRowIDs []int64
}

// PlanOperation is one row of the compiled plan (spec.md §3).
type PlanOperation struct {
	Seq          int64
	SourceRowIDs []int64
	Entity       EntityKey
	Op           Op
	Effect       UpdateEffect
	OldFrom      time.Time
	OldUntil     time.Time
	NewFrom      time.Time
	NewUntil     time.Time
	Data         Payload
	// StablePK carries the surrogate-key payload this row descends from, if
	// any (spec.md §4.4's stable-PK propagation). An INSERT with a non-nil
	// StablePK is an "existing-entity insert" — a new slice of an entity
	// already present in the target — rather than a founding insert of a
	// brand-new entity (spec.md §4.8's DML ordering).
	StablePK Payload
	Relation AllenRelation
	Trace    *TraceInfo
}

// TraceInfo records which pipeline stage produced a plan row and why,
// populated only when the log_trace tuning knob is set
// (SPEC_FULL.md §5, "Structural plan tracing").
type TraceInfo struct {
	Stage  string
	Reason string
}

// FeedbackRow is the per-source-row outcome reported to callers
// (spec.md §3, §4.9).
type FeedbackRow struct {
	SourceRowID int64
	TargetKey   EntityKey
	Status      FeedbackStatus
	Error       string
}

// ResolveStatusPrecedence picks the feedback status for a source row given
// every plan operation that named it, applying the precedence order from
// spec.md §4.9: ERROR > any applied op > SKIPPED_NO_TARGET >
// SKIPPED_FILTERED > SKIPPED_ECLIPSED > SKIPPED_IDENTICAL.
func ResolveStatusPrecedence(ops []Op) FeedbackStatus {
	precedence := func(op Op) int {
		switch op {
		case OpError:
			return 0
		case OpInsert, OpUpdate, OpDelete:
			return 1
		case OpSkipNoTarget:
			return 2
		case OpSkipFiltered:
			return 3
		case OpSkipEclipsed:
			return 4
		case OpSkipIdentical:
			return 5
		default:
			return 6
		}
	}
	if len(ops) == 0 {
		return StatusError
	}
	best := ops[0]
	for _, op := range ops[1:] {
		if precedence(op) < precedence(best) {
			best = op
		}
	}
	switch best {
	case OpError:
		return StatusError
	case OpInsert, OpUpdate, OpDelete:
		return StatusApplied
	case OpSkipNoTarget:
		return StatusSkippedNoTarget
	case OpSkipFiltered:
		return StatusSkippedFiltered
	case OpSkipEclipsed:
		return StatusSkippedEclipsed
	default:
		return StatusSkippedIdentical
	}
}

// PlanOrderKey is the total order from spec.md §4.6: entity projection,
// operation class, update_effect, earliest interval endpoint, row id.
type PlanOrderKey struct {
	EntityRepr string
	OpRank     int
	EffectRank int
	From       time.Time
	RowID      int64
}

// OrderKey computes op's PlanOrderKey. entityRepr is a caller-supplied
// stable string representation of op.Entity (entity keys are maps and
// therefore not directly orderable).
func OrderKey(op PlanOperation, entityRepr string) PlanOrderKey {
	from := op.NewFrom
	if op.Op == OpDelete {
		from = op.OldFrom
	}
	rowID := int64(0)
	if len(op.SourceRowIDs) > 0 {
		rowID = op.SourceRowIDs[0]
	}
	return PlanOrderKey{
		EntityRepr: entityRepr,
		OpRank:     op.Op.rank(),
		EffectRank: op.Effect.rank(),
		From:       from,
		RowID:      rowID,
	}
}

// Less implements the total order comparison for PlanOrderKey.
func (k PlanOrderKey) Less(other PlanOrderKey) bool {
	if k.EntityRepr != other.EntityRepr {
		return k.EntityRepr < other.EntityRepr
	}
	if k.OpRank != other.OpRank {
		return k.OpRank < other.OpRank
	}
	if k.EffectRank != other.EffectRank {
		return k.EffectRank < other.EffectRank
	}
	if !k.From.Equal(other.From) {
		return k.From.Before(other.From)
	}
	return k.RowID < other.RowID
}
