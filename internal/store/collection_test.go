package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesaa/ipslamon/internal/models"
)

func hours(c Collection) []int {
	out := make([]int, len(c))
	for i, r := range c {
		out[i] = r.StartTime.Hour()
	}
	return out
}

func TestCollectionRange(t *testing.T) {
	c := Sorted([]models.Record{rec(14, 1), rec(10, 1), rec(12, 1), rec(11, 1), rec(13, 1)})

	tests := []struct {
		name     string
		from, to time.Time
		want     []int
	}{
		{"inclusive both ends", at(11), at(13), []int{11, 12, 13}},
		{"open start", time.Time{}, at(11), []int{10, 11}},
		{"open end", at(13), time.Time{}, []int{13, 14}},
		{"unbounded", time.Time{}, time.Time{}, []int{10, 11, 12, 13, 14}},
		{"between samples", at(11).Add(time.Minute), at(12).Add(-time.Minute), []int{}},
		{"inverted", at(13), at(11), []int{}},
		{"before all", at(1), at(2), []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hours(c.Range(tt.from, tt.to)))
		})
	}
}

func TestCollectionSpan(t *testing.T) {
	first, last, n := Collection{}.Span()
	assert.True(t, first.IsZero())
	assert.True(t, last.IsZero())
	assert.Zero(t, n)

	first, last, n = Sorted([]models.Record{rec(12, 1), rec(9, 1), rec(15, 1)}).Span()
	assert.Equal(t, at(9), first)
	assert.Equal(t, at(15), last)
	assert.Equal(t, 3, n)
}

func TestSortedDropsRepeatsAndZeroTimes(t *testing.T) {
	c := Sorted([]models.Record{rec(12, 1), {}, rec(12, 2), rec(9, 1)})
	require.Len(t, c, 2)
	assert.Equal(t, []int{9, 12}, hours(c))
	assert.Equal(t, int64(1), c[1].RTTAvgMs)
}

func TestCollectionLookup(t *testing.T) {
	c := Sorted([]models.Record{rec(12, 7), rec(9, 1)})
	r, ok := c.Lookup(at(12))
	require.True(t, ok)
	assert.Equal(t, int64(7), r.RTTAvgMs)

	_, ok = c.Lookup(at(10))
	assert.False(t, ok)
}
