package interval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temporalmerge/tmerge/internal/tm/model"
)

func day(n int) time.Time {
	return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func iv(a, b int) Interval[time.Time] {
	return Interval[time.Time]{From: day(a), Until: day(b)}
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		name string
		x, y Interval[time.Time]
		want model.AllenRelation
	}{
		{"meets not overlaps", iv(1, 3), iv(3, 5), model.RelMeets},
		{"equals", iv(1, 5), iv(1, 5), model.RelEquals},
		{"contains", iv(1, 5), iv(2, 4), model.RelContains},
		{"during is inverse of contains", iv(2, 4), iv(1, 5), model.RelDuring},
		{"precedes", iv(1, 2), iv(5, 6), model.RelPrecedes},
		{"precededBy", iv(5, 6), iv(1, 2), model.RelPrecededBy},
		{"metBy", iv(3, 5), iv(1, 3), model.RelMetBy},
		{"starts", iv(1, 3), iv(1, 5), model.RelStarts},
		{"startedBy", iv(1, 5), iv(1, 3), model.RelStartedBy},
		{"finishes", iv(3, 5), iv(1, 5), model.RelFinishes},
		{"finishedBy", iv(1, 5), iv(3, 5), model.RelFinishedBy},
		{"overlaps", iv(1, 4), iv(2, 6), model.RelOverlaps},
		{"overlappedBy", iv(2, 6), iv(1, 4), model.RelOverlappedBy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.x, tc.y, Time)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	// Every pair of non-empty intervals over a small point lattice must
	// classify to exactly one of the 13 relations without panicking.
	points := []int{0, 1, 2, 3, 4}
	seen := map[model.AllenRelation]bool{}
	for _, a := range points {
		for _, b := range points {
			if b <= a {
				continue
			}
			for _, c := range points {
				for _, d := range points {
					if d <= c {
						continue
					}
					rel := Classify(iv(a, b), iv(c, d), Time)
					require.NotEmpty(t, rel)
					seen[rel] = true
				}
			}
		}
	}
	require.Len(t, seen, 13, "expected all 13 Allen relations to appear")
}

func TestContainsAndOverlaps(t *testing.T) {
	i := iv(1, 5)
	require.True(t, i.Contains(day(1), Time))
	require.False(t, i.Contains(day(5), Time))
	require.True(t, i.Overlaps(iv(4, 10), Time))
	require.False(t, i.Overlaps(iv(5, 10), Time))
}

func TestValidate(t *testing.T) {
	require.NoError(t, iv(1, 2).Validate(Time))
	require.Error(t, iv(2, 2).Validate(Time))
	require.Error(t, iv(3, 2).Validate(Time))
}

func TestOrderedCmp(t *testing.T) {
	c := Ordered[int64]()
	require.Equal(t, -1, c(1, 2))
	require.Equal(t, 0, c(2, 2))
	require.Equal(t, 1, c(3, 2))
}
