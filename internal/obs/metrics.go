package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScraperRuns counts scheduler-triggered runs by terminal outcome.
	ScraperRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_runs_total",
		Help: "Total scraper runs by platform and outcome",
	}, []string{"platform", "outcome"})

	// ScraperErrors counts classified errors raised during runs.
	ScraperErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_errors_total",
		Help: "Total classified errors by platform, kind and severity",
	}, []string{"platform", "kind", "severity"})

	// ScrapeAttemptDuration tracks per-attempt scrape latency.
	ScrapeAttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scrape_attempt_duration_ms",
		Help:    "Duration of individual scrape attempts in milliseconds",
		Buckets: prometheus.ExponentialBuckets(100, 2, 12), // 100ms to ~400s
	}, []string{"platform", "proxy_used"})

	// ProxySelections counts pool acquisitions per proxy.
	ProxySelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_selections_total",
		Help: "Total proxy pool selections by proxy key",
	}, []string{"proxy_key"})

	// ProxySuccesses counts successful operations recorded on the pool.
	ProxySuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_successes_total",
		Help: "Total successful proxied operations",
	})

	// ProxyFailures counts failed operations recorded on the pool by kind.
	ProxyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_failures_total",
		Help: "Total failed proxied operations by error kind",
	}, []string{"kind"})

	// ProxyCircuitOpens counts closed-to-open circuit transitions.
	ProxyCircuitOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_circuit_breaker_opens_total",
		Help: "Total proxy circuit breaker open transitions",
	})

	// ProxyPoolAvailable gauges the number of currently acquirable entries.
	ProxyPoolAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proxy_pool_available",
		Help: "Number of proxy entries currently eligible for acquisition",
	})

	// DBUploadDuration tracks ETL batch upload latency.
	DBUploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "db_upload_duration_ms",
		Help:    "Duration of database batch uploads in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1ms to ~16s
	})

	// RecordsScraped counts raw records produced by adapters.
	RecordsScraped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "records_scraped",
		Help: "Total records scraped by platform",
	}, []string{"platform"})

	// RecordsUploaded counts records persisted by the ETL load stage.
	RecordsUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "records_uploaded",
		Help: "Total records uploaded by platform",
	}, []string{"platform"})

	// RecordsInvalid counts records dropped by ETL validation.
	RecordsInvalid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "records_invalid_total",
		Help: "Total records rejected by validation",
	}, []string{"platform"})

	// RetryQueueDepth gauges the number of items waiting in the offline queue.
	RetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retry_queue_depth",
		Help: "Current number of items in the offline retry queue",
	})

	// RetryQueuePermanentFailures counts items abandoned after max attempts.
	RetryQueuePermanentFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_queue_permanent_failures_total",
		Help: "Items dropped from the retry queue after exhausting attempts",
	})

	// ActiveRuns gauges runs currently executing, per platform.
	ActiveRuns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scraper_active_runs",
		Help: "Runs currently executing (0 or 1 per platform)",
	}, []string{"platform"})
)
