// Package store merges freshly extracted records into a persisted
// collection. A collection is always sorted by StartTime with no two records
// sharing a StartTime; Merge never mutates its inputs.
package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vesaa/ipslamon/internal/models"
)

// ErrMissingStartTime is returned when a record without a StartTime reaches
// Merge. The parser never produces one, so this indicates a caller bug.
var ErrMissingStartTime = errors.New("record has no start time")

// Policy decides what happens when an incoming record collides with a stored
// one whose data differs.
type Policy string

const (
	// FirstWriteWins keeps the stored record; the incoming one is counted as
	// a duplicate and a conflict.
	FirstWriteWins Policy = "first-write-wins"
	// LastWriteWins replaces the stored record with the incoming one.
	LastWriteWins Policy = "last-write-wins"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case FirstWriteWins, LastWriteWins:
		return p, nil
	case "":
		return FirstWriteWins, nil
	}
	return "", fmt.Errorf("unknown merge policy %q (use %q or %q)", s, FirstWriteWins, LastWriteWins)
}

// MergeReport summarises one Merge call.
type MergeReport struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	// Conflicts counts collisions whose data differed from the stored record.
	// Under FirstWriteWins they are also counted in Duplicates; under
	// LastWriteWins they are counted in Replaced.
	Conflicts          int `json:"conflicts"`
	Replaced           int `json:"replaced"`
	TotalExistingAfter int `json:"total_existing_after"`
}

// Add accumulates o into r. TotalExistingAfter takes o's value.
func (r *MergeReport) Add(o MergeReport) {
	r.Accepted += o.Accepted
	r.Duplicates += o.Duplicates
	r.Conflicts += o.Conflicts
	r.Replaced += o.Replaced
	r.TotalExistingAfter = o.TotalExistingAfter
}

type options struct {
	policy Policy
}

// Option configures Merge.
type Option func(*options)

// WithPolicy selects the collision policy. The default is FirstWriteWins.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// Merge returns a new collection holding existing plus every record of
// incoming whose StartTime was not yet present. Records are processed in
// input order, so a StartTime repeated inside incoming is resolved against
// its own earlier occurrence.
func Merge(existing Collection, incoming []models.Record, opts ...Option) (Collection, MergeReport, error) {
	o := options{policy: FirstWriteWins}
	for _, opt := range opts {
		opt(&o)
	}

	byTime := make(map[time.Time]int, len(existing)+len(incoming))
	out := make(Collection, len(existing), len(existing)+len(incoming))
	copy(out, existing)
	for i, r := range out {
		if r.StartTime.IsZero() {
			return nil, MergeReport{}, fmt.Errorf("existing record %d: %w", i, ErrMissingStartTime)
		}
		byTime[key(r.StartTime)] = i
	}

	var rep MergeReport
	for i, r := range incoming {
		if r.StartTime.IsZero() {
			return nil, MergeReport{}, fmt.Errorf("incoming record %d: %w", i, ErrMissingStartTime)
		}
		k := key(r.StartTime)
		idx, found := byTime[k]
		switch {
		case !found:
			byTime[k] = len(out)
			out = append(out, r)
			rep.Accepted++
		case out[idx].Equal(r):
			rep.Duplicates++
		case o.policy == LastWriteWins:
			out[idx] = r
			rep.Conflicts++
			rep.Replaced++
		default:
			rep.Conflicts++
			rep.Duplicates++
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	rep.TotalExistingAfter = len(out)
	return out, rep, nil
}

// key normalises t so that equal instants map to the same entry regardless
// of location or monotonic reading.
func key(t time.Time) time.Time { return t.UTC().Round(0) }
