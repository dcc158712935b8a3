package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// =============================================================================
// Connection Pool Monitor
// =============================================================================

// PoolSnapshot is a point-in-time view of a connection pool.
type PoolSnapshot struct {
	Total    int32
	Acquired int32
	Idle     int32
	Max      int32
}

var (
	poolTotalDesc = prometheus.NewDesc(
		"mailsort_pool_connections_total", "Open connections in the pool.", []string{"pool"}, nil)
	poolAcquiredDesc = prometheus.NewDesc(
		"mailsort_pool_connections_acquired", "Connections currently in use.", []string{"pool"}, nil)
	poolIdleDesc = prometheus.NewDesc(
		"mailsort_pool_connections_idle", "Idle connections.", []string{"pool"}, nil)
	poolMaxDesc = prometheus.NewDesc(
		"mailsort_pool_connections_max", "Configured pool size.", []string{"pool"}, nil)
)

// poolCollector reads the snapshot on every scrape.
type poolCollector struct {
	name     string
	snapshot func() PoolSnapshot
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolTotalDesc
	ch <- poolAcquiredDesc
	ch <- poolIdleDesc
	ch <- poolMaxDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()
	ch <- prometheus.MustNewConstMetric(poolTotalDesc, prometheus.GaugeValue, float64(s.Total), c.name)
	ch <- prometheus.MustNewConstMetric(poolAcquiredDesc, prometheus.GaugeValue, float64(s.Acquired), c.name)
	ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(s.Idle), c.name)
	ch <- prometheus.MustNewConstMetric(poolMaxDesc, prometheus.GaugeValue, float64(s.Max), c.name)
}

// RegisterPool exports gauges for a pool that is not a database/sql handle.
func RegisterPool(reg prometheus.Registerer, name string, snapshot func() PoolSnapshot) error {
	return reg.Register(&poolCollector{name: name, snapshot: snapshot})
}

// RegisterSQLPool exports the standard database/sql pool statistics.
func RegisterSQLPool(reg prometheus.Registerer, name string, db *sql.DB) error {
	return reg.Register(collectors.NewDBStatsCollector(db, name))
}
