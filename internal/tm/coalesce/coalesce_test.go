package coalesce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temporalmerge/tmerge/internal/tm/model"
)

func d(n int) time.Time {
	return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestCoalesce_MergesIdenticalAdjacent(t *testing.T) {
	segs := []model.AtomicSegment{
		{From: d(0), Until: d(5), FinalData: model.Payload{"name": "A"}},
		{From: d(5), Until: d(10), FinalData: model.Payload{"name": "A"}},
	}
	islands := Coalesce(segs, nil)
	require.Len(t, islands, 1)
	require.Equal(t, d(0), islands[0].From)
	require.Equal(t, d(10), islands[0].Until)
}

func TestCoalesce_SplitsOnDataChange(t *testing.T) {
	segs := []model.AtomicSegment{
		{From: d(0), Until: d(5), FinalData: model.Payload{"name": "A"}},
		{From: d(5), Until: d(10), FinalData: model.Payload{"name": "B"}},
	}
	islands := Coalesce(segs, nil)
	require.Len(t, islands, 2)
}

func TestCoalesce_SplitsOnGap(t *testing.T) {
	segs := []model.AtomicSegment{
		{From: d(0), Until: d(5), FinalData: model.Payload{"name": "A"}},
		{From: d(6), Until: d(10), FinalData: model.Payload{"name": "A"}},
	}
	islands := Coalesce(segs, nil)
	require.Len(t, islands, 2, "non-contiguous segments must not merge even with identical data")
}

func TestCoalesce_IgnoresEphemeralDifferences(t *testing.T) {
	segs := []model.AtomicSegment{
		{From: d(0), Until: d(5), FinalData: model.Payload{"name": "A"}, SourceEphem: model.Payload{"sync": "x"}},
		{From: d(5), Until: d(10), FinalData: model.Payload{"name": "A"}, SourceEphem: model.Payload{"sync": "y"}},
	}
	islands := Coalesce(segs, map[string]bool{"sync": true})
	require.Len(t, islands, 1)
	require.Equal(t, "y", islands[0].Ephemeral["sync"], "representative ephemeral is the latest by from")
}

func TestCoalesce_SkipsDeletedSegments(t *testing.T) {
	segs := []model.AtomicSegment{
		{From: d(0), Until: d(5), Deleted: true},
		{From: d(5), Until: d(10), FinalData: model.Payload{"name": "A"}},
	}
	islands := Coalesce(segs, nil)
	require.Len(t, islands, 1)
	require.Equal(t, d(5), islands[0].From)
}

func TestCoalesce_Idempotent(t *testing.T) {
	segs := []model.AtomicSegment{
		{From: d(0), Until: d(5), FinalData: model.Payload{"name": "A"}},
		{From: d(5), Until: d(10), FinalData: model.Payload{"name": "A"}},
		{From: d(10), Until: d(15), FinalData: model.Payload{"name": "B"}},
	}
	first := Coalesce(segs, nil)
	// Re-running the coalescer over islands reinterpreted as segments must
	// be a no-op (spec.md §8).
	asSegs := make([]model.AtomicSegment, len(first))
	for i, is := range first {
		asSegs[i] = model.AtomicSegment{From: is.From, Until: is.Until, FinalData: is.Data}
	}
	second := Coalesce(asSegs, nil)
	require.Equal(t, len(first), len(second))
}
