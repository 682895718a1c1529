package store

import (
	"sort"
	"time"

	"github.com/vesaa/ipslamon/internal/models"
)

// Collection is a StartTime-ascending sequence of unique records.
type Collection []models.Record

// Sorted builds a Collection from records in any order. Later records with
// an already seen StartTime are dropped.
func Sorted(records []models.Record) Collection {
	c, _, _ := Merge(nil, filterZero(records))
	return c
}

func filterZero(records []models.Record) []models.Record {
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if !r.StartTime.IsZero() {
			out = append(out, r)
		}
	}
	return out
}

// Range returns the records whose StartTime lies in [from, to]. A zero from
// or to leaves that side unbounded. The result shares c's backing array.
func (c Collection) Range(from, to time.Time) Collection {
	lo := 0
	if !from.IsZero() {
		lo = sort.Search(len(c), func(i int) bool { return !c[i].StartTime.Before(from) })
	}
	hi := len(c)
	if !to.IsZero() {
		hi = sort.Search(len(c), func(i int) bool { return c[i].StartTime.After(to) })
	}
	if lo >= hi {
		return Collection{}
	}
	return c[lo:hi]
}

// Span returns the first and last StartTime and the record count.
// first and last are zero for an empty collection.
func (c Collection) Span() (first, last time.Time, count int) {
	if len(c) == 0 {
		return time.Time{}, time.Time{}, 0
	}
	return c[0].StartTime, c[len(c)-1].StartTime, len(c)
}

// Lookup returns the record stored for t.
func (c Collection) Lookup(t time.Time) (models.Record, bool) {
	i := sort.Search(len(c), func(i int) bool { return !c[i].StartTime.Before(t) })
	if i < len(c) && c[i].StartTime.Equal(t) {
		return c[i], true
	}
	return models.Record{}, false
}
