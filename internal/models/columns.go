package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Column describes one field of the tabular row schema.
type Column struct {
	Name     string
	Width    float64
	Required bool
	get      func(r *Record) any
	set      func(r *Record, s string) error
}

// Columns is the ordered tabular schema shared by export, import and the API.
var Columns = []Column{
	{Name: "StartTime", Width: 20, Required: true,
		get: func(r *Record) any { return r.StartTime.Format(TimeLayout) },
		set: func(r *Record, s string) error {
			t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
			if err != nil {
				return err
			}
			r.StartTime = t
			return nil
		}},
	floatCol("MinMOS", 10, func(r *Record) *float64 { return &r.MinMOS }),
	floatCol("MaxMOS", 10, func(r *Record) *float64 { return &r.MaxMOS }),
	optIntCol("MinICPIF", 10, func(r *Record) **int64 { return &r.MinICPIF }),
	optIntCol("MaxICPIF", 10, func(r *Record) **int64 { return &r.MaxICPIF }),
	optIntCol("NumRTT", 12, func(r *Record) **int64 { return &r.NumRTT }),
	intCol("RTT_Min_ms", 12, func(r *Record) *int64 { return &r.RTTMinMs }),
	intCol("RTT_Avg_ms", 12, func(r *Record) *int64 { return &r.RTTAvgMs }),
	intCol("RTT_Max_ms", 12, func(r *Record) *int64 { return &r.RTTMaxMs }),
	optIntCol("RTT_Over_Threshold_Count", 22, func(r *Record) **int64 { return &r.RTTOverThresholdCount }),
	optFloatCol("RTT_Over_Threshold_Pct", 20, func(r *Record) **float64 { return &r.RTTOverThresholdPct }),
	optIntCol("Num_OneWay_Samples", 18, func(r *Record) **int64 { return &r.NumOneWaySamples }),
	optIntCol("Latency_SD_Avg_ms", 16, func(r *Record) **int64 { return &r.LatencySDAvgMs }),
	optIntCol("Latency_SD_Max_ms", 16, func(r *Record) **int64 { return &r.LatencySDMaxMs }),
	optIntCol("Latency_DS_Avg_ms", 16, func(r *Record) **int64 { return &r.LatencyDSAvgMs }),
	optIntCol("Latency_DS_Max_ms", 16, func(r *Record) **int64 { return &r.LatencyDSMaxMs }),
	optIntCol("Jitter_SD_Avg_ms", 16, func(r *Record) **int64 { return &r.JitterSDAvgMs }),
	optIntCol("Jitter_SD_Max_ms", 16, func(r *Record) **int64 { return &r.JitterSDMaxMs }),
	optIntCol("Jitter_DS_Avg_ms", 16, func(r *Record) **int64 { return &r.JitterDSAvgMs }),
	optIntCol("Jitter_DS_Max_ms", 16, func(r *Record) **int64 { return &r.JitterDSMaxMs }),
	optIntCol("Loss_SD", 10, func(r *Record) **int64 { return &r.LossSD }),
	optIntCol("Loss_DS", 10, func(r *Record) **int64 { return &r.LossDS }),
	optIntCol("Packet_Late_Arrival", 18, func(r *Record) **int64 { return &r.PacketLateArrival }),
	optIntCol("OutOfSeq", 10, func(r *Record) **int64 { return &r.OutOfSequence }),
	optIntCol("TailDrop", 10, func(r *Record) **int64 { return &r.TailDrop }),
	optIntCol("Successes", 12, func(r *Record) **int64 { return &r.Successes }),
	optIntCol("Failures", 10, func(r *Record) **int64 { return &r.Failures }),
}

// ColumnIndex returns the position of the named column, or -1.
func ColumnIndex(name string) int {
	for i, c := range Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Values returns r as one tabular row in Columns order.
// Missing optional values are nil.
func (r *Record) Values() []any {
	row := make([]any, len(Columns))
	for i, c := range Columns {
		row[i] = c.get(r)
	}
	return row
}

// Value returns the named column of r, or nil when the column is unknown or
// the value is missing.
func (r *Record) Value(name string) any {
	i := ColumnIndex(name)
	if i < 0 {
		return nil
	}
	return Columns[i].get(r)
}

// RecordFromRow parses a tabular row in Columns order. Cells beyond the end
// of a short row are treated as empty.
func RecordFromRow(cells []string) (Record, error) {
	var r Record
	for i, c := range Columns {
		var s string
		if i < len(cells) {
			s = strings.TrimSpace(cells[i])
		}
		if s == "" {
			if c.Required {
				return Record{}, fmt.Errorf("column %s: missing value", c.Name)
			}
			continue
		}
		if err := c.set(&r, s); err != nil {
			return Record{}, fmt.Errorf("column %s: %w", c.Name, err)
		}
	}
	return r, nil
}

func intCol(name string, width float64, field func(*Record) *int64) Column {
	return Column{Name: name, Width: width, Required: true,
		get: func(r *Record) any { return *field(r) },
		set: func(r *Record, s string) error {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return err
			}
			*field(r) = v
			return nil
		}}
}

func floatCol(name string, width float64, field func(*Record) *float64) Column {
	return Column{Name: name, Width: width, Required: true,
		get: func(r *Record) any { return *field(r) },
		set: func(r *Record, s string) error {
			v, err := parseFinite(s)
			if err != nil {
				return err
			}
			*field(r) = v
			return nil
		}}
}

func optIntCol(name string, width float64, field func(*Record) **int64) Column {
	return Column{Name: name, Width: width,
		get: func(r *Record) any {
			if p := *field(r); p != nil {
				return *p
			}
			return nil
		},
		set: func(r *Record, s string) error {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return err
			}
			*field(r) = &v
			return nil
		}}
}

func optFloatCol(name string, width float64, field func(*Record) **float64) Column {
	return Column{Name: name, Width: width,
		get: func(r *Record) any {
			if p := *field(r); p != nil {
				return *p
			}
			return nil
		},
		set: func(r *Record, s string) error {
			v, err := parseFinite(s)
			if err != nil {
				return err
			}
			*field(r) = &v
			return nil
		}}
}

// parseFinite is strconv.ParseFloat without NaN and the infinities, which
// never compare equal to a stored copy of themselves.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	return v, nil
}
