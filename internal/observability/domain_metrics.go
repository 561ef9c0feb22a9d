package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK           = "ok"
	OutcomeError        = "error"
	OutcomeParseFailure = "parse_failure"
)

var pipelineLatencyBuckets = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var (
	schemaIntrospectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_schema_introspections_total",
			Help: "Total number of schema introspections by outcome.",
		},
		[]string{"outcome"},
	)
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_generations_total",
			Help: "Total number of SQL generation requests by outcome.",
		},
		[]string{"outcome"},
	)
	generationLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbchat_generation_latency_ms",
			Help:    "Chat-completion latency for SQL generation in milliseconds.",
			Buckets: pipelineLatencyBuckets,
		},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_query_executions_total",
			Help: "Total number of query executions by outcome.",
		},
		[]string{"outcome"},
	)
	queryLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbchat_query_latency_ms",
			Help:    "Query execution and tabulation latency in milliseconds.",
			Buckets: pipelineLatencyBuckets,
		},
	)
	cellConversionFaultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbchat_cell_conversion_faults_total",
			Help: "Total number of result cells replaced by the conversion sentinel.",
		},
	)
	chatRelaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_chat_relays_total",
			Help: "Total number of chat relay calls by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		schemaIntrospectionsTotal,
		generationsTotal,
		generationLatencyMs,
		queryExecutionsTotal,
		queryLatencyMs,
		cellConversionFaultsTotal,
		chatRelaysTotal,
	)
}

func ObserveSchemaIntrospection(err error) {
	schemaIntrospectionsTotal.WithLabelValues(outcomeOf(err)).Inc()
}

func ObserveGeneration(outcome string, elapsed time.Duration) {
	generationsTotal.WithLabelValues(outcome).Inc()
	generationLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveQueryExecution(err error, faultedCells int, elapsed time.Duration) {
	queryExecutionsTotal.WithLabelValues(outcomeOf(err)).Inc()
	if err != nil {
		return
	}
	queryLatencyMs.Observe(float64(elapsed.Milliseconds()))
	if faultedCells > 0 {
		cellConversionFaultsTotal.Add(float64(faultedCells))
	}
}

func ObserveChatRelay(err error) {
	chatRelaysTotal.WithLabelValues(outcomeOf(err)).Inc()
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
