package broadcaster

import (
	"github.com/synapsestrike/tradeops/strategy"
	"github.com/synapsestrike/tradeops/tracker"
)

// recommendationPayload is the wire shape for recommendation-* events,
// independent of tracker.Recommendation's internal field layout.
type recommendationPayload struct {
	ID              string  `json:"id"`
	Symbol          string  `json:"symbol"`
	Direction       string  `json:"direction"`
	Status          string  `json:"status"`
	EntryPrice      string  `json:"entry_price"`
	CurrentPrice    string  `json:"current_price"`
	ConfidenceScore float64 `json:"confidence_score"`
	Detail          string  `json:"detail,omitempty"`
}

func toPayload(r *tracker.Recommendation, detail string) recommendationPayload {
	return recommendationPayload{
		ID:              r.ID,
		Symbol:          r.Symbol,
		Direction:       string(r.Direction),
		Status:          string(r.Status),
		EntryPrice:      r.EntryPrice.String(),
		CurrentPrice:    r.CurrentPrice.String(),
		ConfidenceScore: r.ConfidenceScore,
		Detail:          detail,
	}
}

func dedupeKeyFor(r *tracker.Recommendation) string {
	return r.Symbol + "|" + string(r.Direction)
}

// RecommendationCreated implements tracker.EventSink, fanning out on the
// recommendations topic per spec §6's server->client event list. Ordering
// with RecommendationTriggered/RecommendationResult for the same id is the
// caller's responsibility (tracker emits these sequentially per id under
// its own per-id lock), satisfying spec §5's FIFO-per-id guarantee.
func (h *Hub) RecommendationCreated(r *tracker.Recommendation) {
	h.Publish(TopicRecommendations, Event{
		Name: "recommendation-created",
		Key:  dedupeKeyFor(r),
		Data: toPayload(r, ""),
	})
}

// AutoRecommendationCreated implements tracker.EventSink, fanning out the
// auto-recommendation-created event (spec §6) for a recommendation admitted
// through the automatic strategy pipeline rather than a direct
// POST /api/recommendations call.
func (h *Hub) AutoRecommendationCreated(r *tracker.Recommendation) {
	h.Publish(TopicRecommendations, Event{
		Name: "auto-recommendation-created",
		Key:  dedupeKeyFor(r),
		Data: toPayload(r, ""),
	})
}

// RecommendationTriggered implements tracker.EventSink.
func (h *Hub) RecommendationTriggered(r *tracker.Recommendation, detail string) {
	h.Publish(TopicRecommendations, Event{
		Name: "recommendation-triggered",
		Key:  dedupeKeyFor(r),
		Data: toPayload(r, detail),
	})
}

// RecommendationResult implements tracker.EventSink.
func (h *Hub) RecommendationResult(r *tracker.Recommendation) {
	h.Publish(TopicRecommendations, Event{
		Name: "recommendation-result",
		Key:  dedupeKeyFor(r),
		Data: toPayload(r, ""),
	})
}

var _ tracker.EventSink = (*Hub)(nil)

// Progress implements strategy.ProgressSink, fanning out analysis-progress
// events on the strategy-updates topic, which only opted-in subscribers
// receive.
func (h *Hub) Progress(ev strategy.ProgressEvent) {
	h.Publish(TopicStrategyUpdates, Event{
		Name: "analysis-progress",
		Key:  ev.Symbol,
		Data: ev,
	})
}

var _ strategy.ProgressSink = (*Hub)(nil)

// strategyUpdatePayload is emitted once a strategy invocation finishes,
// summarizing what the controller produced.
type strategyUpdatePayload struct {
	CandidateCount int    `json:"candidate_count"`
	Err            string `json:"error,omitempty"`
}

// StrategyUpdate fans out the strategy-update event after one controller
// invocation completes (spec §6's strategy-update topic).
func (h *Hub) StrategyUpdate(result *strategy.Result) {
	payload := strategyUpdatePayload{CandidateCount: len(result.Candidates)}
	if result.Err != nil {
		payload.Err = result.Err.Error()
	}
	h.Publish(TopicStrategyUpdates, Event{Name: "strategy-update", Data: payload})
}

// statisticsPayload mirrors tracker.Stats for the wire.
type statisticsPayload struct {
	ActiveCount    int     `json:"active_count"`
	WinCount       int     `json:"win_count"`
	LossCount      int     `json:"loss_count"`
	BreakevenCount int     `json:"breakeven_count"`
	WinRate        float64 `json:"win_rate"`
	CumulativePnL  string  `json:"cumulative_pnl"`
	MaxDrawdown    string  `json:"max_drawdown"`
}

// StatisticsUpdated fans out the statistics-updated event; the tracker
// calls it after each recommendation resolution.
func (h *Hub) StatisticsUpdated(stats tracker.Stats) {
	h.Publish(TopicDefault, Event{
		Name: "statistics-updated",
		Data: statisticsPayload{
			ActiveCount:    stats.ActiveCount,
			WinCount:       stats.WinCount,
			LossCount:      stats.LossCount,
			BreakevenCount: stats.BreakevenCount,
			WinRate:        stats.WinRate,
			CumulativePnL:  stats.CumulativePnL.String(),
			MaxDrawdown:    stats.MaxDrawdown.String(),
		},
	})
}

type alertPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Alert fans out an operator-facing alert{level, message} event (spec §6).
func (h *Hub) Alert(level, message string) {
	h.Publish(TopicDefault, Event{Name: "alert", Data: alertPayload{Level: level, Message: message}})
}
