package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPoolMetrics exposes pgxpool statistics as prometheus gauges labeled
// with the service name. Safe to call once per pool at startup.
func RegisterPoolMetrics(pool *pgxpool.Pool, service string) {
	labels := prometheus.Labels{"service": service}

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "pgxpool_total_conns",
			Help:        "Total number of connections in the pool",
			ConstLabels: labels,
		},
		func() float64 { return float64(pool.Stat().TotalConns()) },
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "pgxpool_acquired_conns",
			Help:        "Number of currently acquired connections",
			ConstLabels: labels,
		},
		func() float64 { return float64(pool.Stat().AcquiredConns()) },
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "pgxpool_idle_conns",
			Help:        "Number of currently idle connections",
			ConstLabels: labels,
		},
		func() float64 { return float64(pool.Stat().IdleConns()) },
	))
}
