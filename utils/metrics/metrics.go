package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a registry with the Go runtime and process collectors installed.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

type PricingMetrics struct {
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheExpired prometheus.Counter
	QuoteErrors  *prometheus.CounterVec
	QuoteLatency prometheus.Histogram
	BatchSize    prometheus.Histogram
}

func NewPricingMetrics(reg prometheus.Registerer, namespace string) *PricingMetrics {
	factory := promauto.With(reg)
	return &PricingMetrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "cache_hits_total",
			Help:      "Quotes served from the cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "cache_misses_total",
			Help:      "Quotes fetched from a venue",
		}),
		CacheExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "cache_expired_total",
			Help:      "Cached quotes discarded after their TTL",
		}),
		QuoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "quote_errors_total",
			Help:      "Venue quotes that produced no price",
		}, []string{"venue"}),
		QuoteLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "quote_latency_seconds",
			Help:      "Latency of upstream venue quotes",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "batch_quotes",
			Help:      "Quotes requested per batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

type ScanMetrics struct {
	Cycles            *prometheus.CounterVec
	PathsScanned      prometheus.Counter
	Opportunities     prometheus.Counter
	Rejections        *prometheus.CounterVec
	CycleErrors       prometheus.Counter
	ConsecutiveErrors prometheus.Gauge
	CycleDuration     prometheus.Histogram
	ScanDelay         prometheus.Gauge
	PathSetSize       prometheus.Gauge
	State             prometheus.Gauge
}

func NewScanMetrics(reg prometheus.Registerer, namespace string) *ScanMetrics {
	factory := promauto.With(reg)
	return &ScanMetrics{
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "cycles_total",
			Help:      "Completed scan cycles per flash-loan asset",
		}, []string{"asset"}),
		PathsScanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "paths_total",
			Help:      "Paths evaluated by the scanner",
		}),
		Opportunities: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "opportunities_total",
			Help:      "Profitable opportunities found",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "rejections_total",
			Help:      "Paths rejected by the scanner, by reason",
		}, []string{"reason"}),
		CycleErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "cycle_errors_total",
			Help:      "Scan cycles that failed",
		}),
		ConsecutiveErrors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "consecutive_errors",
			Help:      "Current run of failed cycles",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a scan cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		ScanDelay: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "delay_seconds",
			Help:      "Current delay between scan cycles",
		}),
		PathSetSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "path_set_size",
			Help:      "Paths in the active path set",
		}),
		State: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "state",
			Help:      "Orchestrator state (0 idle, 1 scanning, 2 stopped)",
		}),
	}
}

type ExecutionMetrics struct {
	GateRejections *prometheus.CounterVec
	Attempts       prometheus.Counter
	Successes      prometheus.Counter
	Failures       *prometheus.CounterVec
	DryRuns        prometheus.Counter
	RealizedProfit *prometheus.GaugeVec
	GasUsed        prometheus.Histogram
	ExecutionTime  prometheus.Histogram
	GasPrice       prometheus.Gauge
}

func NewExecutionMetrics(reg prometheus.Registerer, namespace string) *ExecutionMetrics {
	factory := promauto.With(reg)
	return &ExecutionMetrics{
		GateRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "gate_rejections_total",
			Help:      "Opportunities stopped by the execution gate, by check",
		}, []string{"check"}),
		Attempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "attempts_total",
			Help:      "Settlement transactions attempted",
		}),
		Successes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "successes_total",
			Help:      "Settlement transactions confirmed successfully",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "failures_total",
			Help:      "Failed settlements, by classified reason",
		}, []string{"reason"}),
		DryRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "dry_runs_total",
			Help:      "Opportunities that passed the gate in dry-run mode",
		}),
		RealizedProfit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "realized_profit",
			Help:      "Cumulative realized profit per asset, in whole tokens",
		}, []string{"asset"}),
		GasUsed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "gas_used",
			Help:      "Gas used per settlement",
			Buckets:   prometheus.ExponentialBuckets(100000, 1.5, 10),
		}),
		ExecutionTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "time_seconds",
			Help:      "Time from submission to confirmation",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		GasPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "gas_price_gwei",
			Help:      "Last observed gas price plus priority fee",
		}),
	}
}
