package store

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

type engineMetric struct {
	desc *prometheus.Desc
	typ  prometheus.ValueType
	read func(*pebble.Metrics) float64
}

// Collector exposes the pebble engine internals of a Store as
// prometheus metrics: compactions, memtables and the WAL.
type Collector struct {
	db      *pebble.DB
	metrics []engineMetric
}

var _ prometheus.Collector = (*Collector)(nil)

func engineDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc("rethinkengine_store_"+name, help, nil, nil)
}

func NewCollector(db *pebble.DB) *Collector {
	const (
		counter = prometheus.CounterValue
		gauge   = prometheus.GaugeValue
	)
	return &Collector{
		db: db,
		metrics: []engineMetric{
			{engineDesc("compaction_count_total", "Compactions performed."),
				counter, func(m *pebble.Metrics) float64 { return float64(m.Compact.Count) }},
			{engineDesc("compaction_default_count_total", "Default compactions performed."),
				counter, func(m *pebble.Metrics) float64 { return float64(m.Compact.DefaultCount) }},
			{engineDesc("compaction_elision_only_total", "Elision-only compactions performed."),
				counter, func(m *pebble.Metrics) float64 { return float64(m.Compact.ElisionOnlyCount) }},
			{engineDesc("compaction_move_total", "Move compactions performed."),
				counter, func(m *pebble.Metrics) float64 { return float64(m.Compact.MoveCount) }},
			{engineDesc("compaction_read_total", "Read compactions performed."),
				counter, func(m *pebble.Metrics) float64 { return float64(m.Compact.ReadCount) }},
			{engineDesc("compaction_rewrite_total", "Rewrite compactions performed."),
				counter, func(m *pebble.Metrics) float64 { return float64(m.Compact.RewriteCount) }},
			{engineDesc("compaction_multilevel_total", "Multi-level compactions performed."),
				counter, func(m *pebble.Metrics) float64 { return float64(m.Compact.MultiLevelCount) }},
			{engineDesc("compaction_estimated_debt_bytes", "Bytes left to compact to reach a stable state."),
				gauge, func(m *pebble.Metrics) float64 { return float64(m.Compact.EstimatedDebt) }},
			{engineDesc("compaction_in_progress_bytes", "Bytes being compacted right now."),
				gauge, func(m *pebble.Metrics) float64 { return float64(m.Compact.InProgressBytes) }},
			{engineDesc("compaction_marked_files_total", "Files marked for compaction."),
				gauge, func(m *pebble.Metrics) float64 { return float64(m.Compact.MarkedFiles) }},

			{engineDesc("memtable_size_bytes", "Memtable size."),
				gauge, func(m *pebble.Metrics) float64 { return float64(m.MemTable.Size) }},
			{engineDesc("memtable_count_total", "Memtables alive."),
				gauge, func(m *pebble.Metrics) float64 { return float64(m.MemTable.Count) }},
			{engineDesc("memtable_zombie_size_bytes", "Zombie memtable size."),
				gauge, func(m *pebble.Metrics) float64 { return float64(m.MemTable.ZombieSize) }},
			{engineDesc("memtable_zombie_count_total", "Zombie memtables."),
				gauge, func(m *pebble.Metrics) float64 { return float64(m.MemTable.ZombieCount) }},

			{engineDesc("wal_files_total", "Live WAL files."),
				gauge, func(m *pebble.Metrics) float64 { return float64(m.WAL.Files) }},
			{engineDesc("wal_obsolete_files_total", "Obsolete WAL files."),
				gauge, func(m *pebble.Metrics) float64 { return float64(m.WAL.ObsoleteFiles) }},
			{engineDesc("wal_size_bytes", "Live WAL data size."),
				gauge, func(m *pebble.Metrics) float64 { return float64(m.WAL.Size) }},
			{engineDesc("wal_bytes_in_total", "Logical bytes written to the WAL."),
				counter, func(m *pebble.Metrics) float64 { return float64(m.WAL.BytesIn) }},
			{engineDesc("wal_bytes_written_total", "Physical bytes written to the WAL."),
				counter, func(m *pebble.Metrics) float64 { return float64(m.WAL.BytesWritten) }},
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.db.Metrics()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.typ, m.read(snap))
	}
}
