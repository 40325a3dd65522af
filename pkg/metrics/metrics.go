// Copyright 2025 Certen Protocol
//
// Package metrics exports the read-first wrapper's counters (spec.md
// §4.7) to Prometheus (reads, writes and violations as counters, the
// read/write ratio as a gauge) — the one place the spec calls out
// observable metrics (metrics()/reset-metrics()). Grounded on the
// teacher's go.mod declaring prometheus/client_golang; the teacher itself
// barely exercises it, so this is where the core gives that dependency a
// real home.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/btc-identity-core/pkg/datanode"
)

// ReadFirstCollector is a prometheus.Collector reporting a ReadFirst
// wrapper's live counters under a given node label.
type ReadFirstCollector struct {
	wrapper *datanode.ReadFirst
	node    string

	reads      *prometheus.Desc
	writes     *prometheus.Desc
	violations *prometheus.Desc
	ratio      *prometheus.Desc
}

// NewReadFirstCollector builds a collector for wrapper, labeled with node
// (typically an owner-id or node instance name).
func NewReadFirstCollector(node string, wrapper *datanode.ReadFirst) *ReadFirstCollector {
	labels := prometheus.Labels{"node": node}
	return &ReadFirstCollector{
		wrapper: wrapper,
		node:    node,
		reads: prometheus.NewDesc("datanode_readfirst_reads_total",
			"Total reads observed by the read-first wrapper.", nil, labels),
		writes: prometheus.NewDesc("datanode_readfirst_writes_total",
			"Total writes observed by the read-first wrapper.", nil, labels),
		violations: prometheus.NewDesc("datanode_readfirst_violations_total",
			"Total read-first invariant violations observed.", nil, labels),
		ratio: prometheus.NewDesc("datanode_readfirst_read_write_ratio",
			"reads / max(1, writes).", nil, labels),
	}
}

func (c *ReadFirstCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reads
	ch <- c.writes
	ch <- c.violations
	ch <- c.ratio
}

func (c *ReadFirstCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.wrapper.Metrics()
	ch <- prometheus.MustNewConstMetric(c.reads, prometheus.CounterValue, float64(m.Reads))
	ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(m.Writes))
	ch <- prometheus.MustNewConstMetric(c.violations, prometheus.CounterValue, float64(m.Violations))
	ch <- prometheus.MustNewConstMetric(c.ratio, prometheus.GaugeValue, m.ReadWriteRatio())
}

var _ prometheus.Collector = (*ReadFirstCollector)(nil)
