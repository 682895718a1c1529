// Package parser extracts measurement records from the text output of the
// Cisco IOS command "show ip sla statistics aggregated" for UDP-jitter
// operations.
//
// Extraction is label-driven: every "Label: Value" pair on every line is
// looked up in a fixed table, so section order, indentation and the number
// of pairs per line do not matter. The package performs no I/O.
package parser

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vesaa/ipslamon/internal/models"
)

// Extract parses raw, the full contents of one report file, into one record
// per "Start Time Index" block, in input order.
//
// Blocks that cannot be parsed are reported as *ParseFailure values joined
// into the returned error; records from the remaining blocks are still
// returned. A text with no start time at all yields no records and a single
// ParseFailure with ReasonNotAReport.
func Extract(raw string) ([]models.Record, error) {
	var (
		blocks  [][]pair
		markers bool
	)
	for _, line := range strings.Split(raw, "\n") {
		for _, p := range scanLine(strings.TrimRight(line, "\r")) {
			if !known(p.label) {
				continue
			}
			markers = true
			if p.label == startTimeLabel {
				blocks = append(blocks, nil)
			}
			if len(blocks) == 0 {
				// Counters before the first start time belong to no interval.
				continue
			}
			blocks[len(blocks)-1] = append(blocks[len(blocks)-1], p)
		}
	}

	if len(blocks) == 0 {
		detail := "no recognisable report markers"
		if markers {
			detail = "no start time found"
		}
		return nil, &ParseFailure{Reason: ReasonNotAReport, Block: -1, Detail: detail}
	}

	var (
		records []models.Record
		errs    []error
	)
	for i, block := range blocks {
		rec, err := buildRecord(block)
		if err != nil {
			err.Block = i
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errors.Join(errs...)
}

type builder struct {
	rec models.Record
	// errs holds the latest failure per required field; a later valid
	// occurrence of the same label clears it.
	errs map[string]error
	seen map[string]bool
}

func (b *builder) ok(fields ...string) {
	for _, f := range fields {
		b.seen[f] = true
		delete(b.errs, f)
	}
}

func (b *builder) fail(field string, err error) {
	b.seen[field] = true
	b.errs[field] = err
}

func (b *builder) requiredFloat(field, v string, dst *float64) {
	tok := leading(v)
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		b.fail(field, fmt.Errorf("not a number: %q", tok))
		return
	}
	*dst = f
	b.ok(field)
}

func buildRecord(block []pair) (models.Record, *ParseFailure) {
	b := &builder{errs: map[string]error{}, seen: map[string]bool{}}
	for _, p := range block {
		if p.label == startTimeLabel {
			t, err := parseStartTime(p.value)
			if err != nil {
				return models.Record{}, &ParseFailure{
					Reason: ReasonMissingRequiredField,
					Field:  fieldStartTime,
					Detail: err.Error(),
				}
			}
			b.rec.StartTime = t
			continue
		}
		labels[p.label](b, p.value)
	}
	for _, f := range requiredFields {
		if err, bad := b.errs[f]; bad {
			return models.Record{}, &ParseFailure{Reason: ReasonMissingRequiredField, Field: f, Detail: err.Error()}
		}
		if !b.seen[f] {
			return models.Record{}, &ParseFailure{Reason: ReasonMissingRequiredField, Field: f, Detail: "label not present"}
		}
	}
	return b.rec, nil
}

// startTimeRE matches "09:28:16 EST Wed Jan 28 2026". The leading "*" or "."
// IOS prints for an unsynchronised clock, fractional seconds and the zone
// token are all optional.
var startTimeRE = regexp.MustCompile(
	`^[*.]?(\d{1,2}:\d{2}:\d{2})(?:\.\d+)?(?:\s+[A-Za-z][A-Za-z0-9+\-]*)?\s+(?:Mon|Tue|Wed|Thu|Fri|Sat|Sun)\s+([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{4})`)

// parseStartTime returns the wall-clock time of value in UTC. The zone token
// is discarded, never converted: the router's local time is kept as-is.
func parseStartTime(value string) (time.Time, error) {
	m := startTimeRE.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return time.Time{}, fmt.Errorf("unrecognised start time %q", value)
	}
	t, err := time.Parse("15:04:05 Jan 2 2006", strings.Join(m[1:], " "))
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised start time %q: %w", value, err)
	}
	return t, nil
}
