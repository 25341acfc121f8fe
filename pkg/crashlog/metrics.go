// metrics.go exposes Prometheus counters for the crash pipeline.

package crashlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reportsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashlog_reports_written_total",
			Help: "Total number of report files written, by kind",
		},
		[]string{"kind"},
	)

	writeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crashlog_write_failures_total",
			Help: "Total number of report files that could not be written",
		},
	)

	notificationsShown = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crashlog_notifications_total",
			Help: "Total number of crash notifications dispatched after throttling",
		},
	)

	chainedCrashes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crashlog_chained_total",
			Help: "Total number of unhandled errors deferred to the previous handler",
		},
	)
)
