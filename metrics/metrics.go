package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the custom prometheus registry for this service's metrics.
	Registry = prometheus.NewRegistry()

	// mu guards the composite Update* helpers below from racing on
	// multi-label set/inc sequences.
	mu sync.RWMutex

	// ============================================
	// Recommendation Lifecycle Metrics
	// ============================================

	// RecommendationsActive tracks currently active recommendations by
	// symbol and direction.
	RecommendationsActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeops",
			Subsystem: "recommendation",
			Name:      "active",
			Help:      "Number of active recommendations",
		},
		[]string{"symbol", "direction"},
	)

	// RecommendationsCreatedTotal counts recommendations admitted through
	// the tracker's ingest path.
	RecommendationsCreatedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "recommendation",
			Name:      "created_total",
			Help:      "Total recommendations created",
		},
		[]string{"symbol", "direction"},
	)

	// RecommendationsClosedTotal counts resolved recommendations by result
	// and exit reason.
	RecommendationsClosedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "recommendation",
			Name:      "closed_total",
			Help:      "Total recommendations closed",
		},
		[]string{"result", "exit_reason"},
	)

	// RecommendationsRejectedTotal counts ingest rejections by gate.
	RecommendationsRejectedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "recommendation",
			Name:      "rejected_total",
			Help:      "Total candidate signals rejected at ingest",
		},
		[]string{"gate"},
	)

	// WinRate tracks the tracker's running win rate.
	WinRate = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeops",
			Subsystem: "recommendation",
			Name:      "win_rate",
			Help:      "Win rate across resolved recommendations",
		},
	)

	// CumulativePnLPercent tracks the sum of resolved pnl_percent.
	CumulativePnLPercent = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeops",
			Subsystem: "recommendation",
			Name:      "cumulative_pnl_percent",
			Help:      "Cumulative P&L percent across resolved recommendations",
		},
	)

	// MaxDrawdownPercent tracks the largest running-peak drawdown observed.
	MaxDrawdownPercent = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeops",
			Subsystem: "recommendation",
			Name:      "max_drawdown_percent",
			Help:      "Maximum drawdown percent observed across resolved recommendations",
		},
	)

	// ============================================
	// Strategy Trigger Metrics
	// ============================================

	// StrategyInvocationsTotal counts controller invocations by trigger
	// kind (scheduled/manual) and outcome.
	StrategyInvocationsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "strategy",
			Name:      "invocations_total",
			Help:      "Total strategy engine invocations",
		},
		[]string{"trigger", "outcome"},
	)

	// StrategyInvocationDuration tracks invocation latency as a histogram.
	StrategyInvocationDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tradeops",
			Subsystem: "strategy",
			Name:      "invocation_duration_seconds",
			Help:      "Strategy engine invocation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	// StrategyCandidatesTotal counts candidate signals produced per
	// invocation.
	StrategyCandidatesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "strategy",
			Name:      "candidates_total",
			Help:      "Total candidate signals produced by the strategy engine",
		},
	)

	// CooldownDeniedTotal counts admission denials by reason.
	CooldownDeniedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "cooldown",
			Name:      "denied_total",
			Help:      "Total cooldown gate denials",
		},
		[]string{"reason"},
	)

	// ============================================
	// Market Data Gateway Metrics
	// ============================================

	// GatewayCacheHitsTotal and GatewayCacheMissesTotal track the C2 cache
	// hit ratio by endpoint class.
	GatewayCacheHitsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "gateway",
			Name:      "cache_hits_total",
			Help:      "Total market data cache hits",
		},
		[]string{"endpoint"},
	)
	GatewayCacheMissesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "gateway",
			Name:      "cache_misses_total",
			Help:      "Total market data cache misses",
		},
		[]string{"endpoint"},
	)

	// GatewayUpstreamErrorsTotal counts upstream call failures by endpoint
	// and error kind.
	GatewayUpstreamErrorsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "gateway",
			Name:      "upstream_errors_total",
			Help:      "Total upstream call failures",
		},
		[]string{"endpoint", "kind"},
	)

	// GatewayCircuitState reports the circuit breaker state per endpoint:
	// 0 closed, 1 half-open, 2 open.
	GatewayCircuitState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeops",
			Subsystem: "gateway",
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	// ============================================
	// Event Broadcaster Metrics
	// ============================================

	// BroadcastDedupedTotal counts events dropped by the dedupe window.
	BroadcastDedupedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "broadcaster",
			Name:      "deduped_total",
			Help:      "Total events dropped by the dedupe window",
		},
		[]string{"event"},
	)

	// BroadcastDroppedTotal counts events dropped due to a full subscriber
	// buffer.
	BroadcastDroppedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeops",
			Subsystem: "broadcaster",
			Name:      "dropped_total",
			Help:      "Total per-subscriber event drops from a full buffer",
		},
		[]string{"event"},
	)

	// BroadcastSubscribersConnected tracks the current subscriber count.
	BroadcastSubscribersConnected = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeops",
			Subsystem: "broadcaster",
			Name:      "subscribers_connected",
			Help:      "Number of currently connected websocket subscribers",
		},
	)

	// ============================================
	// System Metrics
	// ============================================

	// SystemUptime tracks process uptime in seconds.
	SystemUptime = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeops",
			Subsystem: "system",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
)

// UpdateRecommendationStats updates the aggregate recommendation gauges
// from a tracker.Stats-shaped snapshot; called each time the tracker
// computes its overall Stats, which includes every recommendation close.
func UpdateRecommendationStats(winRate, cumulativePnLPercent, maxDrawdownPercent float64) {
	mu.Lock()
	defer mu.Unlock()

	WinRate.Set(winRate)
	CumulativePnLPercent.Set(cumulativePnLPercent)
	MaxDrawdownPercent.Set(maxDrawdownPercent)
}

// SetActiveCount sets the active-recommendation gauge for one
// (symbol, direction) pair.
func SetActiveCount(symbol, direction string, count int) {
	RecommendationsActive.WithLabelValues(symbol, direction).Set(float64(count))
}

// RecordRecommendationCreated increments the created counter.
func RecordRecommendationCreated(symbol, direction string) {
	RecommendationsCreatedTotal.WithLabelValues(symbol, direction).Inc()
}

// RecordRecommendationClosed increments the closed counter.
func RecordRecommendationClosed(result, exitReason string) {
	RecommendationsClosedTotal.WithLabelValues(result, exitReason).Inc()
}

// RecordRecommendationRejected increments the rejection counter for the
// gate that denied the candidate (entry-strength, cooldown, dedupe, ...).
func RecordRecommendationRejected(gate string) {
	RecommendationsRejectedTotal.WithLabelValues(gate).Inc()
}

// RecordStrategyInvocation records one controller invocation's outcome and
// duration, and the candidate count it produced.
func RecordStrategyInvocation(trigger, outcome string, durationSeconds float64, candidateCount int) {
	StrategyInvocationsTotal.WithLabelValues(trigger, outcome).Inc()
	StrategyInvocationDuration.Observe(durationSeconds)
	StrategyCandidatesTotal.Add(float64(candidateCount))
}

// RecordCooldownDenied increments the denial counter for a reason string.
func RecordCooldownDenied(reason string) {
	CooldownDeniedTotal.WithLabelValues(reason).Inc()
}

// RecordCacheHit and RecordCacheMiss track C2's cache hit ratio.
func RecordCacheHit(endpoint string)  { GatewayCacheHitsTotal.WithLabelValues(endpoint).Inc() }
func RecordCacheMiss(endpoint string) { GatewayCacheMissesTotal.WithLabelValues(endpoint).Inc() }

// RecordUpstreamError increments the upstream error counter.
func RecordUpstreamError(endpoint, kind string) {
	GatewayUpstreamErrorsTotal.WithLabelValues(endpoint, kind).Inc()
}

// SetCircuitState sets the breaker-state gauge (0 closed, 1 half-open, 2 open).
func SetCircuitState(endpoint string, state float64) {
	GatewayCircuitState.WithLabelValues(endpoint).Set(state)
}

// RecordBroadcastDeduped and RecordBroadcastDropped track C6's drop paths.
func RecordBroadcastDeduped(event string) { BroadcastDedupedTotal.WithLabelValues(event).Inc() }
func RecordBroadcastDropped(event string) { BroadcastDroppedTotal.WithLabelValues(event).Inc() }

// SetSubscribersConnected sets the current websocket subscriber count.
func SetSubscribersConnected(n int) {
	BroadcastSubscribersConnected.Set(float64(n))
}

// Init registers the standard Go runtime/process collectors alongside the
// application metrics above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
