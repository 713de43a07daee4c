// Package interval implements half-open intervals over an arbitrary totally
// ordered element type and the 13-valued Allen-relation classifier between
// two such intervals (spec.md §3, §4.2 — components C2).
package interval

import (
	"cmp"
	"fmt"
	"time"

	"github.com/temporalmerge/tmerge/internal/tm/model"
)

// Cmp compares two points of type T, returning <0, 0, or >0 the way
// cmp.Compare does. Passed explicitly because time.Time does not satisfy
// cmp.Ordered.
type Cmp[T any] func(a, b T) int

// Ordered adapts any cmp.Ordered type to Cmp.
func Ordered[T cmp.Ordered]() Cmp[T] {
	return func(a, b T) int { return cmp.Compare(a, b) }
}

// Time is the Cmp for time.Time, the most common element type for temporal
// merge tables.
func Time(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

// Interval is a half-open [From, Until) interval over T. Invariants
// (spec.md §3): From < Until; never empty; Until may be positive infinity
// (represented by the caller's chosen sentinel T value); From may be
// negative infinity only for discrete types that define it.
type Interval[T any] struct {
	From  T
	Until T
}

// Validate checks the Interval invariant From < Until using cmp.
func (iv Interval[T]) Validate(cmp Cmp[T]) error {
	if cmp(iv.From, iv.Until) >= 0 {
		return fmt.Errorf("interval invariant violated: from must be strictly less than until")
	}
	return nil
}

// Contains reports whether point p falls within [From, Until).
func (iv Interval[T]) Contains(p T, cmp Cmp[T]) bool {
	return cmp(iv.From, p) <= 0 && cmp(p, iv.Until) < 0
}

// Overlaps reports whether iv and other share any point.
func (iv Interval[T]) Overlaps(other Interval[T], cmp Cmp[T]) bool {
	return cmp(iv.From, other.Until) < 0 && cmp(other.From, iv.Until) < 0
}

// Classify computes the Allen relation of x to y: 13 mutually exclusive,
// collectively exhaustive tags over non-empty half-open intervals
// (spec.md §4.2).
//
// Boundary rules are exact, not approximate:
//   - meets  ⇔ x.Until == y.From (touching, not overlapping)
//   - equals ⇔ x.From == y.From && x.Until == y.Until
//   - strict inequality everywhere else
func Classify[T any](x, y Interval[T], c Cmp[T]) model.AllenRelation {
	xfYf := c(x.From, y.From)
	xuYu := c(x.Until, y.Until)
	xfYu := c(x.From, y.Until)
	xuYf := c(x.Until, y.From)

	switch {
	case xuYf == 0:
		return model.RelMeets
	case xfYu == 0:
		return model.RelMetBy
	case xuYf < 0:
		return model.RelPrecedes
	case xfYu > 0:
		return model.RelPrecededBy
	case xfYf == 0 && xuYu == 0:
		return model.RelEquals
	case xfYf == 0 && xuYu < 0:
		return model.RelStarts
	case xfYf == 0 && xuYu > 0:
		return model.RelStartedBy
	case xuYu == 0 && xfYf > 0:
		return model.RelFinishes
	case xuYu == 0 && xfYf < 0:
		return model.RelFinishedBy
	case xfYf > 0 && xuYu < 0:
		return model.RelDuring
	case xfYf < 0 && xuYu > 0:
		return model.RelContains
	case xfYf < 0 && xuYu < 0:
		return model.RelOverlaps
	default:
		// xfYf > 0 && xuYu > 0: x starts later but ends later too.
		return model.RelOverlappedBy
	}
}
