package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	retentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_export_retention_runs_total",
			Help: "Total number of export retention runs by status.",
		},
		[]string{"status"},
	)
	exportsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbchat_exports_deleted_total",
			Help: "Total number of expired export files deleted.",
		},
	)
	exportBytesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbchat_export_bytes_deleted_total",
			Help: "Total bytes of expired export files deleted.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		retentionRunsTotal,
		exportsDeletedTotal,
		exportBytesDeletedTotal,
	)
}
