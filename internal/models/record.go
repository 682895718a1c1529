// Package models defines the GORM data model for IP SLA measurements and the
// tabular schema that charting and export consume.
package models

import (
	"time"
)

// TimeLayout is the on-disk representation of StartTime in tabular rows.
const TimeLayout = "2006-01-02 15:04:05"

// Record is one UDP-jitter aggregation interval.
// StartTime is the identity; there is no surrogate key.
// Pointer fields are optional: nil means "not reported", which is distinct
// from a measured zero.
type Record struct {
	StartTime time.Time `gorm:"primaryKey;autoIncrement:false" json:"start_time"`

	// ── Voice scores ─────────────────────────────────────────────────────────
	MinMOS   float64 `json:"min_mos"`
	MaxMOS   float64 `json:"max_mos"`
	MinICPIF *int64  `json:"min_icpif,omitempty"`
	MaxICPIF *int64  `json:"max_icpif,omitempty"`

	// ── RTT ──────────────────────────────────────────────────────────────────
	NumRTT                *int64   `json:"num_rtt,omitempty"`
	RTTMinMs              int64    `json:"rtt_min_ms"`
	RTTAvgMs              int64    `json:"rtt_avg_ms"`
	RTTMaxMs              int64    `json:"rtt_max_ms"`
	RTTOverThresholdCount *int64   `json:"rtt_over_threshold_count,omitempty"`
	RTTOverThresholdPct   *float64 `json:"rtt_over_threshold_pct,omitempty"`

	// ── One-way latency ──────────────────────────────────────────────────────
	NumOneWaySamples *int64 `json:"num_oneway_samples,omitempty"`
	LatencySDAvgMs   *int64 `json:"latency_sd_avg_ms,omitempty"`
	LatencySDMaxMs   *int64 `json:"latency_sd_max_ms,omitempty"`
	LatencyDSAvgMs   *int64 `json:"latency_ds_avg_ms,omitempty"`
	LatencyDSMaxMs   *int64 `json:"latency_ds_max_ms,omitempty"`

	// ── Jitter (SD = source→destination, DS = destination→source) ───────────
	JitterSDAvgMs *int64 `json:"jitter_sd_avg_ms,omitempty"`
	JitterSDMaxMs *int64 `json:"jitter_sd_max_ms,omitempty"`
	JitterDSAvgMs *int64 `json:"jitter_ds_avg_ms,omitempty"`
	JitterDSMaxMs *int64 `json:"jitter_ds_max_ms,omitempty"`

	// ── Packet loss ──────────────────────────────────────────────────────────
	LossSD            *int64 `json:"loss_sd,omitempty"`
	LossDS            *int64 `json:"loss_ds,omitempty"`
	PacketLateArrival *int64 `json:"packet_late_arrival,omitempty"`
	OutOfSequence     *int64 `json:"out_of_sequence,omitempty"`
	TailDrop          *int64 `json:"tail_drop,omitempty"`

	// ── Operation outcome ────────────────────────────────────────────────────
	Successes *int64 `json:"successes,omitempty"`
	Failures  *int64 `json:"failures,omitempty"`
}

// TableName keeps the table name stable regardless of GORM naming strategy.
func (Record) TableName() string { return "ip_sla_records" }

// Equal reports whether r and o carry identical values in every field.
func (r Record) Equal(o Record) bool {
	if !r.StartTime.Equal(o.StartTime) ||
		r.MinMOS != o.MinMOS || r.MaxMOS != o.MaxMOS ||
		r.RTTMinMs != o.RTTMinMs || r.RTTAvgMs != o.RTTAvgMs || r.RTTMaxMs != o.RTTMaxMs {
		return false
	}
	if !eqFloat(r.RTTOverThresholdPct, o.RTTOverThresholdPct) {
		return false
	}
	a, b := r.optionalInts(), o.optionalInts()
	for i := range a {
		if !eqInt(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (r *Record) optionalInts() []*int64 {
	return []*int64{
		r.MinICPIF, r.MaxICPIF, r.NumRTT, r.RTTOverThresholdCount,
		r.NumOneWaySamples, r.LatencySDAvgMs, r.LatencySDMaxMs, r.LatencyDSAvgMs, r.LatencyDSMaxMs,
		r.JitterSDAvgMs, r.JitterSDMaxMs, r.JitterDSAvgMs, r.JitterDSMaxMs,
		r.LossSD, r.LossDS, r.PacketLateArrival, r.OutOfSequence, r.TailDrop,
		r.Successes, r.Failures,
	}
}

func eqInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Int returns a pointer to v, for populating optional fields.
func Int(v int64) *int64 { return &v }

// Float returns a pointer to v, for populating optional fields.
func Float(v float64) *float64 { return &v }
