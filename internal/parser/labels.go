package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vesaa/ipslamon/internal/models"
)

// Required field names, as reported in ParseFailure.Field.
const (
	fieldStartTime = "start_time"
	fieldMinMOS    = "min_mos"
	fieldMaxMOS    = "max_mos"
	fieldRTTMin    = "rtt_min_ms"
	fieldRTTAvg    = "rtt_avg_ms"
	fieldRTTMax    = "rtt_max_ms"
)

var requiredFields = []string{fieldMinMOS, fieldMaxMOS, fieldRTTMin, fieldRTTAvg, fieldRTTMax}

const startTimeLabel = "start time index"

// setter applies one label's value to the record under construction.
type setter func(b *builder, value string)

// labels maps a normalised label to its setter. Labels not listed here are
// ignored, so extra counters added by newer IOS releases are harmless.
var labels = map[string]setter{
	"minofmos": func(b *builder, v string) {
		b.requiredFloat(fieldMinMOS, v, &b.rec.MinMOS)
	},
	"maxofmos": func(b *builder, v string) {
		b.requiredFloat(fieldMaxMOS, v, &b.rec.MaxMOS)
	},
	"minoficpif": optional(func(r *models.Record) **int64 { return &r.MinICPIF }),
	"maxoficpif": optional(func(r *models.Record) **int64 { return &r.MaxICPIF }),

	"number of rtt": optional(func(r *models.Record) **int64 { return &r.NumRTT }),
	"rtt min/avg/max": func(b *builder, v string) {
		lo, avg, hi, err := triple(v)
		if err != nil {
			for _, f := range []string{fieldRTTMin, fieldRTTAvg, fieldRTTMax} {
				b.fail(f, err)
			}
			return
		}
		b.rec.RTTMinMs, b.rec.RTTAvgMs, b.rec.RTTMaxMs = lo, avg, hi
		b.ok(fieldRTTMin, fieldRTTAvg, fieldRTTMax)
	},
	"number of rtt over threshold": func(b *builder, v string) {
		b.rec.RTTOverThresholdCount = optInt(v)
		b.rec.RTTOverThresholdPct = percent(v)
	},

	"number of latency one-way samples":                 optional(oneWaySamples),
	"source to destination latency one way min/avg/max": avgMax(latencySD),
	"destination to source latency one way min/avg/max": avgMax(latencyDS),

	"source to destination jitter min/avg/max": avgMax(jitterSD),
	"destination to source jitter min/avg/max": avgMax(jitterDS),

	"loss source to destination": optional(func(r *models.Record) **int64 { return &r.LossSD }),
	"loss destination to source": optional(func(r *models.Record) **int64 { return &r.LossDS }),
	"packet late arrival":        optional(func(r *models.Record) **int64 { return &r.PacketLateArrival }),
	"out of sequence":            optional(func(r *models.Record) **int64 { return &r.OutOfSequence }),
	"tail drop":                  optional(func(r *models.Record) **int64 { return &r.TailDrop }),

	"number of successes": optional(func(r *models.Record) **int64 { return &r.Successes }),
	"number of failures":  optional(func(r *models.Record) **int64 { return &r.Failures }),
}

func oneWaySamples(r *models.Record) **int64 { return &r.NumOneWaySamples }

func latencySD(r *models.Record) (**int64, **int64) { return &r.LatencySDAvgMs, &r.LatencySDMaxMs }
func latencyDS(r *models.Record) (**int64, **int64) { return &r.LatencyDSAvgMs, &r.LatencyDSMaxMs }
func jitterSD(r *models.Record) (**int64, **int64) { return &r.JitterSDAvgMs, &r.JitterSDMaxMs }
func jitterDS(r *models.Record) (**int64, **int64) { return &r.JitterDSAvgMs, &r.JitterDSMaxMs }

// labelRE finds "Label:" occurrences. A label starts with a letter and is a
// run of words separated by single spaces, so a wider gap ends it.
var labelRE = regexp.MustCompile(`([A-Za-z][A-Za-z0-9()/_%\-]*(?: [A-Za-z0-9()/_%\-]+)*)[ \t]*:`)

type pair struct {
	label string
	value string
}

// scanLine returns every "Label: Value" pair on line, in order. The value
// runs up to the next label on the same line.
func scanLine(line string) []pair {
	locs := labelRE.FindAllStringSubmatchIndex(line, -1)
	if len(locs) == 0 {
		return nil
	}
	for _, loc := range locs {
		loc[2] = trimToKnown(line, loc[2], loc[3])
	}
	pairs := make([]pair, 0, len(locs))
	for i, loc := range locs {
		end := len(line)
		if i+1 < len(locs) {
			end = locs[i+1][2]
		}
		pairs = append(pairs, pair{
			label: normalise(line[loc[2]:loc[3]]),
			value: strings.TrimSpace(line[loc[1]:end]),
		})
	}
	return pairs
}

// trimToKnown handles a value and the following label separated by a single
// space ("4/5/6 milliseconds MaxOfMOS:"): when the matched label is unknown
// but one of its trailing word runs is, the label start moves forward so the
// leading words stay with the previous value.
func trimToKnown(line string, start, end int) int {
	label := line[start:end]
	if known(normalise(label)) {
		return start
	}
	for i := 0; i < len(label); i++ {
		if label[i] != ' ' {
			continue
		}
		if known(normalise(label[i+1:])) {
			return start + i + 1
		}
	}
	return start
}

func normalise(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

func known(label string) bool {
	if label == startTimeLabel {
		return true
	}
	_, ok := labels[label]
	return ok
}

func optional(field func(*models.Record) **int64) setter {
	return func(b *builder, v string) {
		*field(&b.rec) = optInt(v)
	}
}

// avgMax fills the avg and max slots from an "A/B/C" min/avg/max triple.
func avgMax(fields func(*models.Record) (**int64, **int64)) setter {
	return func(b *builder, v string) {
		avg, hi := fields(&b.rec)
		_, a, h, err := triple(v)
		if err != nil {
			*avg, *hi = nil, nil
			return
		}
		*avg, *hi = &a, &h
	}
}

// leading returns the first whitespace-delimited token of v.
func leading(v string) string {
	if f := strings.Fields(v); len(f) > 0 {
		return f[0]
	}
	return ""
}

func optInt(v string) *int64 {
	n, err := strconv.ParseInt(leading(v), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

var percentRE = regexp.MustCompile(`\(\s*(\d+(?:\.\d+)?)\s*%\s*\)`)

func percent(v string) *float64 {
	m := percentRE.FindStringSubmatch(v)
	if m == nil {
		return nil
	}
	p, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &p
}

// triple splits "8/120/2332 milliseconds" into its three integers.
func triple(v string) (a, b, c int64, err error) {
	tok := leading(v)
	parts := strings.Split(tok, "/")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("expected A/B/C, got %q", tok)
	}
	var n [3]int64
	for i, p := range parts {
		if n[i], err = strconv.ParseInt(p, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("expected A/B/C, got %q", tok)
		}
	}
	return n[0], n[1], n[2], nil
}
