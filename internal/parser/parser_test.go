package parser

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesaa/ipslamon/internal/models"
)

func readFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return string(b)
}

func TestExtractAggregatedReport(t *testing.T) {
	recs, err := Extract(readFixture(t, "aggregated.txt"))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	want := models.Record{
		StartTime:             time.Date(2026, time.January, 28, 9, 28, 16, 0, time.UTC),
		MinMOS:                1.51,
		MaxMOS:                4.34,
		MinICPIF:              models.Int(1),
		MaxICPIF:              models.Int(77),
		NumRTT:                models.Int(59109),
		RTTMinMs:              8,
		RTTAvgMs:              120,
		RTTMaxMs:              2332,
		RTTOverThresholdCount: models.Int(9528),
		RTTOverThresholdPct:   models.Float(16),
		NumOneWaySamples:      models.Int(0),
		LatencySDAvgMs:        models.Int(0),
		LatencySDMaxMs:        models.Int(0),
		LatencyDSAvgMs:        models.Int(0),
		LatencyDSMaxMs:        models.Int(0),
		JitterSDAvgMs:         models.Int(5),
		JitterSDMaxMs:         models.Int(468),
		JitterDSAvgMs:         models.Int(4),
		JitterDSMaxMs:         models.Int(64),
		LossSD:                models.Int(0),
		LossDS:                models.Int(122),
		PacketLateArrival:     models.Int(730),
		OutOfSequence:         models.Int(0),
		TailDrop:              models.Int(39),
		Successes:             models.Int(60),
		Failures:              models.Int(1),
	}
	assert.Equal(t, want, recs[0])

	second := recs[1]
	assert.Equal(t, time.Date(2026, time.January, 28, 10, 28, 16, 0, time.UTC), second.StartTime)
	assert.Equal(t, int64(1800), second.RTTMaxMs)
	assert.Equal(t, 2.80, second.MinMOS)
	assert.Nil(t, second.NumOneWaySamples, "latency section absent")
	assert.Nil(t, second.LatencySDAvgMs)
	assert.Equal(t, int64(0), *second.Failures)
}

func TestExtractMinimalReport(t *testing.T) {
	raw := "Start Time Index: 09:28:16 EST Wed Jan 28 2026\n" +
		"Type of operation: jitter\n" +
		"RTT Min/Avg/Max: 8/120/2332 milliseconds\n" +
		"MinOfMOS: 1.51 MaxOfMOS: 4.34\n"

	recs, err := Extract(raw)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Equal(t, time.Date(2026, time.January, 28, 9, 28, 16, 0, time.UTC), r.StartTime)
	assert.Equal(t, int64(8), r.RTTMinMs)
	assert.Equal(t, int64(120), r.RTTAvgMs)
	assert.Equal(t, int64(2332), r.RTTMaxMs)
	assert.Equal(t, 1.51, r.MinMOS)
	assert.Equal(t, 4.34, r.MaxMOS)

	for name, v := range map[string]*int64{
		"loss_sd":             r.LossSD,
		"loss_ds":             r.LossDS,
		"packet_late_arrival": r.PacketLateArrival,
		"tail_drop":           r.TailDrop,
		"out_of_sequence":     r.OutOfSequence,
	} {
		assert.Nil(t, v, name)
	}
	assert.Nil(t, r.RTTOverThresholdCount)
	assert.Nil(t, r.RTTOverThresholdPct)
}

func TestExtractOrderAndLayoutIndependent(t *testing.T) {
	raw := "MinOfMOS: 3.1\n" + // before the start time: ignored
		"Start Time Index: 23:59:59 UTC Sat Feb 1 2025\n" +
		"   MaxOfMOS:4.0      Loss Destination to Source: 7\n" +
		"rtt min/avg/max: 1/2/3\n" +
		"MinOfMOS:   3.9\n" +
		"Number of successes: 5  Number of failures: 0\n"

	recs, err := Extract(raw)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, 3.9, r.MinMOS)
	assert.Equal(t, 4.0, r.MaxMOS)
	assert.Equal(t, int64(7), *r.LossDS)
	assert.Equal(t, int64(5), *r.Successes)
	assert.Equal(t, int64(0), *r.Failures)
}

func TestExtractDirectionalTriples(t *testing.T) {
	raw := "Start Time Index: 09:00:00 EST Wed Jan 28 2026\n" +
		"RTT Min/Avg/Max: 1/2/3 milliseconds\n" +
		"MinOfMOS: 1.00 MaxOfMOS: 2.00\n" +
		"Number of Latency one-way Samples: 7\n" +
		"Source to Destination Latency one way Min/Avg/Max: 1/11/12 milliseconds\n" +
		"Destination to Source Latency one way Min/Avg/Max: 1/21/22 milliseconds\n" +
		"Source to Destination Jitter Min/Avg/Max: 0/31/32 milliseconds\n" +
		"Destination to Source Jitter Min/Avg/Max: 0/41/42 milliseconds\n"

	recs, err := Extract(raw)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, models.Int(7), r.NumOneWaySamples)
	assert.Equal(t, []*int64{models.Int(11), models.Int(12)}, []*int64{r.LatencySDAvgMs, r.LatencySDMaxMs})
	assert.Equal(t, []*int64{models.Int(21), models.Int(22)}, []*int64{r.LatencyDSAvgMs, r.LatencyDSMaxMs})
	assert.Equal(t, []*int64{models.Int(31), models.Int(32)}, []*int64{r.JitterSDAvgMs, r.JitterSDMaxMs})
	assert.Equal(t, []*int64{models.Int(41), models.Int(42)}, []*int64{r.JitterDSAvgMs, r.JitterDSMaxMs})
}

func TestExtractDuplicateLabelLastWins(t *testing.T) {
	raw := "Start Time Index: 09:00:00 EST Wed Jan 28 2026\n" +
		"RTT Min/Avg/Max: 1/2/3 milliseconds\n" +
		"MinOfMOS: 1.00 MaxOfMOS: 2.00\n" +
		"RTT Min/Avg/Max: 4/5/6 milliseconds\n" +
		"Tail Drop: 1\nTail Drop: 9\n"

	recs, err := Extract(raw)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(4), recs[0].RTTMinMs)
	assert.Equal(t, int64(6), recs[0].RTTMaxMs)
	assert.Equal(t, int64(9), *recs[0].TailDrop)
}

func TestExtractUnorderedRTTAccepted(t *testing.T) {
	raw := "Start Time Index: 09:00:00 EST Wed Jan 28 2026\n" +
		"RTT Min/Avg/Max: 50/20/10 milliseconds\n" +
		"MinOfMOS: 1.00 MaxOfMOS: 2.00\n"

	recs, err := Extract(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(50), recs[0].RTTMinMs)
	assert.Equal(t, int64(10), recs[0].RTTMaxMs)
}

func TestExtractMissingRequiredField(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{
			name: "no MOS",
			raw: "Start Time Index: 09:00:00 EST Wed Jan 28 2026\n" +
				"RTT Min/Avg/Max: 1/2/3 milliseconds\n" +
				"MaxOfMOS: 2.00\n",
			field: "min_mos",
		},
		{
			name: "non numeric MOS",
			raw: "Start Time Index: 09:00:00 EST Wed Jan 28 2026\n" +
				"RTT Min/Avg/Max: 1/2/3 milliseconds\n" +
				"MinOfMOS: n/a MaxOfMOS: 2.00\n",
			field: "min_mos",
		},
		{
			name: "NaN MOS",
			raw: "Start Time Index: 09:00:00 EST Wed Jan 28 2026\n" +
				"RTT Min/Avg/Max: 1/2/3 milliseconds\n" +
				"MinOfMOS: NaN MaxOfMOS: 4.34\n",
			field: "min_mos",
		},
		{
			name: "infinite MOS",
			raw: "Start Time Index: 09:00:00 EST Wed Jan 28 2026\n" +
				"RTT Min/Avg/Max: 1/2/3 milliseconds\n" +
				"MinOfMOS: 1.00 MaxOfMOS: +Inf\n",
			field: "max_mos",
		},
		{
			name: "short RTT triple",
			raw: "Start Time Index: 09:00:00 EST Wed Jan 28 2026\n" +
				"RTT Min/Avg/Max: 1/2 milliseconds\n" +
				"MinOfMOS: 1.00 MaxOfMOS: 2.00\n",
			field: "rtt_min_ms",
		},
		{
			name: "garbled start time",
			raw: "Start Time Index: yesterday\n" +
				"RTT Min/Avg/Max: 1/2/3 milliseconds\n" +
				"MinOfMOS: 1.00 MaxOfMOS: 2.00\n",
			field: "start_time",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := Extract(tt.raw)
			assert.Empty(t, recs)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingRequiredField))
			assert.False(t, errors.Is(err, ErrNotAReport))

			failures := Failures(err)
			require.Len(t, failures, 1)
			assert.Equal(t, tt.field, failures[0].Field)
			assert.Equal(t, 0, failures[0].Block)
		})
	}
}

func TestExtractNotAReport(t *testing.T) {
	tests := map[string]string{
		"empty":         "",
		"prose":         "hello world\nthis is: not a report\n",
		"no start time": "RTT Min/Avg/Max: 1/2/3 milliseconds\nMinOfMOS: 1.00 MaxOfMOS: 2.00\n",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			recs, err := Extract(raw)
			assert.Nil(t, recs)
			require.ErrorIs(t, err, ErrNotAReport)
			failures := Failures(err)
			require.Len(t, failures, 1)
			assert.Equal(t, ReasonNotAReport, failures[0].Reason)
			assert.Equal(t, -1, failures[0].Block)
		})
	}
}

func TestExtractPartialFile(t *testing.T) {
	raw := "Start Time Index: 09:00:00 EST Wed Jan 28 2026\n" +
		"RTT Min/Avg/Max: 1/2/3 milliseconds\n" +
		"MinOfMOS: 1.00 MaxOfMOS: 2.00\n" +
		"Start Time Index: 10:00:00 EST Wed Jan 28 2026\n" +
		"MinOfMOS: 1.00 MaxOfMOS: 2.00\n"

	recs, err := Extract(raw)
	require.Len(t, recs, 1)
	assert.Equal(t, 9, recs[0].StartTime.Hour())

	failures := Failures(err)
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0].Block)
	assert.Equal(t, "rtt_min_ms", failures[0].Field)
	assert.Contains(t, err.Error(), "block 1: missing-required-field rtt_min_ms")
}

func TestExtractMalformedOptionalIsMissing(t *testing.T) {
	raw := "Start Time Index: 09:00:00 EST Wed Jan 28 2026\n" +
		"RTT Min/Avg/Max: 1/2/3 milliseconds\n" +
		"MinOfMOS: 1.00 MaxOfMOS: 2.00\n" +
		"Loss Source to Destination: lots\n" +
		"Source to Destination Jitter Min/Avg/Max: 0/x/4 milliseconds\n"

	recs, err := Extract(raw)
	require.NoError(t, err)
	assert.Nil(t, recs[0].LossSD)
	assert.Nil(t, recs[0].JitterSDAvgMs)
	assert.Nil(t, recs[0].JitterSDMaxMs)
}

func TestParseStartTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"09:28:16 EST Wed Jan 28 2026", time.Date(2026, 1, 28, 9, 28, 16, 0, time.UTC)},
		{"*09:28:16.582 PST Wed Jan 28 2026", time.Date(2026, 1, 28, 9, 28, 16, 0, time.UTC)},
		{".7:05:00 UTC Mon Mar 3 2025", time.Date(2025, 3, 3, 7, 5, 0, 0, time.UTC)},
		{"18:00:00 Tue Dec 31 2024", time.Date(2024, 12, 31, 18, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseStartTime(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := parseStartTime("09:28 EST Wed Jan 28 2026")
	assert.Error(t, err)
}

func TestScanLine(t *testing.T) {
	got := scanLine("\tNumber Of RTT: 59109\t\tRTT Min/Avg/Max: 8/120/2332 milliseconds")
	assert.Equal(t, []pair{
		{label: "number of rtt", value: "59109"},
		{label: "rtt min/avg/max", value: "8/120/2332 milliseconds"},
	}, got)

	got = scanLine("Start Time Index: 09:28:16 EST Wed Jan 28 2026")
	require.Len(t, got, 1)
	assert.Equal(t, "09:28:16 EST Wed Jan 28 2026", got[0].value)

	got = scanLine("RTT Min/Avg/Max: 4/5/6 milliseconds MinOfMOS: 1.5")
	assert.Equal(t, []pair{
		{label: "rtt min/avg/max", value: "4/5/6 milliseconds"},
		{label: "minofmos", value: "1.5"},
	}, got)

	assert.Nil(t, scanLine("Round Trip Time (RTT) for       Index 1"))
}
