package bolt

import (
	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
)

var _ prometheus.Collector = (*Manifest)(nil)

var (
	recordsDesc = prometheus.NewDesc(
		"ranking_manifest_tables",
		"Number of tables with a completely persisted generation",
		nil, nil)

	boltWritesDesc = prometheus.NewDesc(
		"boltdb_writes_total",
		"Total number of boltdb writes",
		nil, nil)

	boltReadsDesc = prometheus.NewDesc(
		"boltdb_reads_total",
		"Total number of boltdb reads",
		nil, nil)
)

// Describe returns all descriptions of the collector.
func (m *Manifest) Describe(ch chan<- *prometheus.Desc) {
	ch <- recordsDesc
	ch <- boltWritesDesc
	ch <- boltReadsDesc
}

// Collect returns the current state of all metrics of the collector.
func (m *Manifest) Collect(ch chan<- prometheus.Metric) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return
	}

	stats := m.db.Stats()
	ch <- prometheus.MustNewConstMetric(
		boltReadsDesc,
		prometheus.CounterValue,
		float64(stats.TxN),
	)
	ch <- prometheus.MustNewConstMetric(
		boltWritesDesc,
		prometheus.CounterValue,
		float64(stats.TxStats.Write),
	)

	records := 0
	_ = m.db.View(func(tx *bolt.Tx) error {
		records = tx.Bucket(manifestBucket).Stats().KeyN
		return nil
	})
	ch <- prometheus.MustNewConstMetric(
		recordsDesc,
		prometheus.GaugeValue,
		float64(records),
	)
}
