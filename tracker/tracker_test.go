package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsestrike/tradeops/clock"
	"github.com/synapsestrike/tradeops/config"
	"github.com/synapsestrike/tradeops/gateway"
	"github.com/synapsestrike/tradeops/strategy"
)

type stubPriceSource struct {
	prices map[string]float64
}

func (s *stubPriceSource) GetTicker(ctx context.Context, symbol string) (gateway.Ticker, error) {
	return gateway.Ticker{Symbol: symbol, Price: s.prices[symbol]}, nil
}

type recordingEventSink struct {
	created    []*Recommendation
	autoCreated []*Recommendation
	triggered  []string
	resolved   []*Recommendation
	stats      []Stats
	alerts     []string
}

func (s *recordingEventSink) RecommendationCreated(r *Recommendation)     { s.created = append(s.created, r) }
func (s *recordingEventSink) AutoRecommendationCreated(r *Recommendation) { s.autoCreated = append(s.autoCreated, r) }
func (s *recordingEventSink) RecommendationTriggered(r *Recommendation, d string) {
	s.triggered = append(s.triggered, d)
}
func (s *recordingEventSink) RecommendationResult(r *Recommendation) { s.resolved = append(s.resolved, r) }
func (s *recordingEventSink) StatisticsUpdated(st Stats)             { s.stats = append(s.stats, st) }
func (s *recordingEventSink) Alert(level, message string)           { s.alerts = append(s.alerts, level+": "+message) }

func newTestTracker(t *testing.T, prices map[string]float64, cfg config.Config, clk clock.Clock) (*Tracker, *recordingEventSink) {
	t.Helper()
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sink := &recordingEventSink{}
	tr, err := New(store, nil, &stubPriceSource{prices: prices}, sink, cfg, clk, zerolog.Nop())
	require.NoError(t, err)
	return tr, sink
}

func candidateAt(symbol, dir string, entry, tp, sl float64) CandidateSignal {
	return CandidateSignal{
		Symbol: symbol, Direction: dir, EntryPrice: entry,
		TakeProfitPrice: tp, StopLossPrice: sl, Confidence: 0.9, Leverage: 1,
	}
}

// TestTracker_TPHit_LiteralScenario reproduces spec §8 scenario 2: LONG
// ETHUSDT entry=3000 tp=3060 sl=2970, price stream 3010/3055/3061 closes
// WIN at 3061 with pnl_percent ~= +2.033%.
func TestTracker_TPHit_LiteralScenario(t *testing.T) {
	prices := map[string]float64{"ETHUSDT": 3010}
	cfg := config.Default()
	clk := clock.NewFake(time.Now())
	tr, sink := newTestTracker(t, prices, cfg, clk)

	require.NoError(t, tr.Ingest(context.Background(), candidateAt("ETHUSDT", "LONG", 3000, 3060, 2970)))
	require.Len(t, sink.created, 1)

	tr.EvaluateOnce(context.Background())
	prices["ETHUSDT"] = 3055
	tr.EvaluateOnce(context.Background())
	prices["ETHUSDT"] = 3061
	tr.EvaluateOnce(context.Background())

	require.Len(t, sink.resolved, 1)
	r := sink.resolved[0]
	assert.Equal(t, Closed, r.Status)
	assert.Equal(t, Win, *r.Result)
	assert.Equal(t, ExitTP, *r.ExitReason)
	assert.True(t, r.ExitPrice.Equal(decimal.NewFromInt(3061)))
	pnl, _ := r.PnLPercent.Float64()
	assert.InDelta(t, 2.033, pnl, 0.01)
}

// TestTracker_SLHitAtEquality_LiteralScenario reproduces spec §8 scenario
// 3: SHORT ETHUSDT entry=3000 tp=2940 sl=3030, tick exactly 3030.0 closes
// LOSS/SL (equality triggers).
func TestTracker_SLHitAtEquality_LiteralScenario(t *testing.T) {
	prices := map[string]float64{"ETHUSDT": 3030.0}
	cfg := config.Default()
	clk := clock.NewFake(time.Now())
	tr, sink := newTestTracker(t, prices, cfg, clk)

	require.NoError(t, tr.Ingest(context.Background(), candidateAt("ETHUSDT", "SHORT", 3000, 2940, 3030)))
	tr.EvaluateOnce(context.Background())

	require.Len(t, sink.resolved, 1)
	r := sink.resolved[0]
	assert.Equal(t, Loss, *r.Result)
	assert.Equal(t, ExitSL, *r.ExitReason)
}

// TestTracker_Timeout_LiteralScenario reproduces spec §8 scenario 6:
// maxHoldingHours=1, no TP/SL hit, closes TIMEOUT at the next tick after
// t=3600s with result from pnl sign.
func TestTracker_Timeout_LiteralScenario(t *testing.T) {
	prices := map[string]float64{"BTCUSDT": 50000}
	cfg := config.Default()
	cfg.Recommendation.MaxHoldingHours = 1
	clk := clock.NewFake(time.Now())
	tr, sink := newTestTracker(t, prices, cfg, clk)

	require.NoError(t, tr.Ingest(context.Background(), candidateAt("BTCUSDT", "LONG", 50000, 0, 0)))

	clk.Advance(3600 * time.Second)
	tr.EvaluateOnce(context.Background())

	require.Len(t, sink.resolved, 1)
	r := sink.resolved[0]
	assert.Equal(t, ExitTimeout, *r.ExitReason)
	assert.Equal(t, Breakeven, *r.Result)
}

func TestTracker_EntryStrengthGate_RejectsLowConfidence(t *testing.T) {
	cfg := config.Default()
	cfg.Strategy.EntryFilters.MinCombinedStrengthLong = 0.8
	clk := clock.NewFake(time.Now())
	tr, sink := newTestTracker(t, map[string]float64{"BTCUSDT": 50000}, cfg, clk)

	weak := candidateAt("BTCUSDT", "LONG", 50000, 51000, 49000)
	weak.Confidence = 0.3
	err := tr.Ingest(context.Background(), weak)
	assert.Error(t, err)
	assert.Empty(t, sink.created)
}

func TestTracker_InvariantViolation_RejectsBadPriceOrdering(t *testing.T) {
	cfg := config.Default()
	clk := clock.NewFake(time.Now())
	tr, _ := newTestTracker(t, map[string]float64{"BTCUSDT": 50000}, cfg, clk)

	// LONG requires stop_loss < entry < take_profit; this has tp below entry.
	bad := candidateAt("BTCUSDT", "LONG", 50000, 49000, 48000)
	err := tr.Ingest(context.Background(), bad)
	assert.Error(t, err)
}

func TestTracker_Rehydration_RestoresActiveRecommendations(t *testing.T) {
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	cfg := config.Default()
	clk := clock.NewFake(time.Now())
	tr1, err := New(store, nil, &stubPriceSource{prices: map[string]float64{"BTCUSDT": 50000}}, nil, cfg, clk, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, tr1.Ingest(context.Background(), candidateAt("BTCUSDT", "LONG", 50000, 51000, 49000)))

	tr2, err := New(store, nil, &stubPriceSource{prices: map[string]float64{"BTCUSDT": 50000}}, nil, cfg, clk, zerolog.Nop())
	require.NoError(t, err)
	stats := tr2.Stats()
	assert.Equal(t, 1, stats.ActiveCount)
}

func TestTracker_ActiveRecommendations_ReturnsOnlyActiveSnapshot(t *testing.T) {
	cfg := config.Default()
	clk := clock.NewFake(time.Now())
	tr, _ := newTestTracker(t, map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 3000}, cfg, clk)

	require.NoError(t, tr.Ingest(context.Background(), candidateAt("BTCUSDT", "LONG", 50000, 51000, 49000)))
	require.NoError(t, tr.Ingest(context.Background(), candidateAt("ETHUSDT", "LONG", 3000, 3060, 2970)))

	active := tr.ActiveRecommendations()
	assert.Len(t, active, 2)
}

func TestTracker_ByID_FindsAndMissesCorrectly(t *testing.T) {
	cfg := config.Default()
	clk := clock.NewFake(time.Now())
	tr, sink := newTestTracker(t, map[string]float64{"BTCUSDT": 50000}, cfg, clk)

	require.NoError(t, tr.Ingest(context.Background(), candidateAt("BTCUSDT", "LONG", 50000, 51000, 49000)))
	require.Len(t, sink.created, 1)

	r, ok := tr.ByID(sink.created[0].ID)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", r.Symbol)

	_, ok = tr.ByID("does-not-exist")
	assert.False(t, ok)
}

func TestTracker_CloseByID_ClosesAtCurrentPriceWithManualExit(t *testing.T) {
	prices := map[string]float64{"BTCUSDT": 50000}
	cfg := config.Default()
	clk := clock.NewFake(time.Now())
	tr, sink := newTestTracker(t, prices, cfg, clk)

	require.NoError(t, tr.Ingest(context.Background(), candidateAt("BTCUSDT", "LONG", 50000, 51000, 49000)))
	require.Len(t, sink.created, 1)
	id := sink.created[0].ID

	prices["BTCUSDT"] = 50500
	closed, err := tr.CloseByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, Closed, closed.Status)
	assert.Equal(t, ExitManual, *closed.ExitReason)
	assert.True(t, closed.ExitPrice.Equal(decimal.NewFromInt(50500)))

	_, err = tr.CloseByID(context.Background(), id)
	assert.Error(t, err, "closing an already-closed id must fail")

	_, err = tr.CloseByID(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestTracker_History_RespectsLimit(t *testing.T) {
	cfg := config.Default()
	clk := clock.NewFake(time.Now())
	tr, _ := newTestTracker(t, map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 3000, "SOLUSDT": 100}, cfg, clk)

	require.NoError(t, tr.Ingest(context.Background(), candidateAt("BTCUSDT", "LONG", 50000, 51000, 49000)))
	require.NoError(t, tr.Ingest(context.Background(), candidateAt("ETHUSDT", "LONG", 3000, 3060, 2970)))
	require.NoError(t, tr.Ingest(context.Background(), candidateAt("SOLUSDT", "LONG", 100, 102, 98)))

	all, err := tr.History(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := tr.History(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTracker_StatsForSymbol_FiltersToOneSymbol(t *testing.T) {
	prices := map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 3000}
	cfg := config.Default()
	clk := clock.NewFake(time.Now())
	tr, _ := newTestTracker(t, prices, cfg, clk)

	require.NoError(t, tr.Ingest(context.Background(), candidateAt("BTCUSDT", "LONG", 50000, 51000, 49000)))
	require.NoError(t, tr.Ingest(context.Background(), candidateAt("ETHUSDT", "LONG", 3000, 3060, 2970)))

	prices["BTCUSDT"] = 51000
	tr.EvaluateOnce(context.Background())

	btcStats := tr.StatsForSymbol("BTCUSDT")
	assert.Equal(t, 0, btcStats.ActiveCount)
	assert.Equal(t, 1, btcStats.WinCount)

	ethStats := tr.StatsForSymbol("ETHUSDT")
	assert.Equal(t, 1, ethStats.ActiveCount)
	assert.Equal(t, 0, ethStats.WinCount)
}

// TestTracker_IngestCandidate_AutoPathEmitsAutoRecommendationCreated pins
// the distinction between a direct Ingest (manual, recommendation-created)
// and the strategy-controller path (auto, auto-recommendation-created).
func TestTracker_IngestCandidate_AutoPathEmitsAutoRecommendationCreated(t *testing.T) {
	prices := map[string]float64{"BTCUSDT": 50000}
	cfg := config.Default()
	clk := clock.NewFake(time.Now())
	tr, sink := newTestTracker(t, prices, cfg, clk)

	cand := strategy.CandidateSignal{
		Symbol: "BTCUSDT", Direction: strategy.Direction("LONG"),
		EntryPrice: 50000, TakeProfitPrice: 51000, StopLossPrice: 49000, Confidence: 0.9, Leverage: 1,
	}

	require.NoError(t, tr.IngestCandidate(context.Background(), cand, strategy.MarketContext{Valid: false}))
	assert.Empty(t, sink.created)
	require.Len(t, sink.autoCreated, 1)

	require.Error(t, tr.IngestCandidate(context.Background(), cand, strategy.MarketContext{Sentiment: 50, FundingRate: 0.0001, Valid: true}))
	require.Len(t, sink.autoCreated, 1, "second candidate collides on dedupe key and must be rejected, not counted")
}

// TestTracker_IngestWithContext_MarketRegimeGateRejectsExtremeSentiment
// exercises the regime gate now that it is reachable via IngestCandidate.
func TestTracker_IngestWithContext_MarketRegimeGateRejectsExtremeSentiment(t *testing.T) {
	prices := map[string]float64{"BTCUSDT": 50000}
	cfg := config.Default()
	cfg.Strategy.MarketRegime.AvoidExtremeSentiment = true
	cfg.Strategy.MarketRegime.ExtremeSentimentHigh = 90
	clk := clock.NewFake(time.Now())
	tr, sink := newTestTracker(t, prices, cfg, clk)

	err := tr.IngestWithContext(context.Background(), candidateAt("BTCUSDT", "LONG", 50000, 51000, 49000), MarketContext{Sentiment: 95})
	require.Error(t, err)
	assert.Empty(t, sink.autoCreated)
}

// TestTracker_TrailArming_EmitsRecommendationTriggered pins spec §4.5 step
// 4: the trailing stop newly activating must emit recommendation_triggered
// so subscribers see arming progress, not just the eventual close.
func TestTracker_TrailArming_EmitsRecommendationTriggered(t *testing.T) {
	prices := map[string]float64{"ETHUSDT": 3000}
	cfg := config.Default()
	cfg.Recommendation.Trailing = config.TrailingConfig{
		Enabled:             true,
		ActivateOnBreakeven: true,
		Percent:             0.01,
	}
	clk := clock.NewFake(time.Now())
	tr, sink := newTestTracker(t, prices, cfg, clk)

	require.NoError(t, tr.Ingest(context.Background(), candidateAt("ETHUSDT", "LONG", 3000, 0, 0)))

	prices["ETHUSDT"] = 3010
	tr.EvaluateOnce(context.Background())

	require.Len(t, sink.triggered, 1)
	assert.Equal(t, "trailing stop armed", sink.triggered[0])
}

// TestTracker_CloseRecommendation_EmitsStatisticsUpdated pins the
// statistics-updated fan-out: every resolution recomputes and publishes
// the stats surface rather than leaving it to be pulled only on demand.
func TestTracker_CloseRecommendation_EmitsStatisticsUpdated(t *testing.T) {
	prices := map[string]float64{"ETHUSDT": 3010}
	cfg := config.Default()
	clk := clock.NewFake(time.Now())
	tr, sink := newTestTracker(t, prices, cfg, clk)

	require.NoError(t, tr.Ingest(context.Background(), candidateAt("ETHUSDT", "LONG", 3000, 3060, 2970)))
	prices["ETHUSDT"] = 3061
	tr.EvaluateOnce(context.Background())

	require.Len(t, sink.stats, 1)
	assert.Equal(t, 1, sink.stats[0].WinCount)
}
