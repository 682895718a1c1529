// Package metrics exposes ingestion counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the ingestion collectors.
type Metrics struct {
	Files         *prometheus.CounterVec
	Records       *prometheus.CounterVec
	ParseFailures *prometheus.CounterVec
	Stored        prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipsla",
			Name:      "files_total",
			Help:      "Report files processed, by outcome status.",
		}, []string{"status"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipsla",
			Name:      "records_total",
			Help:      "Extracted records, by merge result.",
		}, []string{"result"}),
		ParseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipsla",
			Name:      "parse_failures_total",
			Help:      "Report blocks rejected by the extractor, by reason.",
		}, []string{"reason"}),
		Stored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ipsla",
			Name:      "stored_records",
			Help:      "Records in the persisted collection after the last batch.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Files, m.Records, m.ParseFailures, m.Stored)
	}
	return m
}
