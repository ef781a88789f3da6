package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Threat engine metrics. All collectors register with the default registry.
var (
	// RuleEvaluationsTotal counts rule conditions evaluated against elements.
	// Labels:
	//   - result: "match", "no_match" or "error"
	RuleEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatgate",
			Name:      "rule_evaluations_total",
			Help:      "Total number of rule conditions evaluated against model elements",
		},
		[]string{"result"},
	)

	ThreatsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatgate",
			Name:      "threats_generated_total",
			Help:      "Total number of threats generated",
		},
		[]string{"risk"},
	)

	ThreatsMitigated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatgate",
			Name:      "threats_mitigated_total",
			Help:      "Total number of threats whose status was changed by a mitigation",
		},
		[]string{"status"},
	)

	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "threatgate",
			Name:      "generation_duration_seconds",
			Help:      "Time taken to generate threats for one threat model",
			Buckets:   prometheus.DefBuckets,
		},
	)

	QualityGateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "threatgate",
			Name:      "quality_gate_failures_total",
			Help:      "Total number of threat models that failed the quality gate",
		},
	)

	// ResourceFetchesTotal counts library/model/mitigation fetches.
	// Labels:
	//   - scheme: "classpath", "file", "http", "s3"
	//   - cache: "hit" or "miss"
	ResourceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threatgate",
			Name:      "resource_fetches_total",
			Help:      "Total number of resource fetches by scheme and cache outcome",
		},
		[]string{"scheme", "cache"},
	)

	// RegexTimeouts counts mitigation patterns that exceeded their match timeout.
	RegexTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "threatgate",
			Name:      "regex_timeouts_total",
			Help:      "Total number of regex mitigation patterns aborted by the match timeout",
		},
	)
)
