package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/synapsestrike/tradeops/clock"
	"github.com/synapsestrike/tradeops/config"
	"github.com/synapsestrike/tradeops/cooldown"
	"github.com/synapsestrike/tradeops/gateway"
	"github.com/synapsestrike/tradeops/logging"
	"github.com/synapsestrike/tradeops/metrics"
	"github.com/synapsestrike/tradeops/strategy"
)

// PriceSource is the subset of the gateway's contract the tracker needs to
// evaluate open recommendations.
type PriceSource interface {
	GetTicker(ctx context.Context, symbol string) (gateway.Ticker, error)
}

// EventSink receives lifecycle events for C6 fan-out. Defined locally
// (rather than importing the broadcaster package) to avoid a C5→C6 import
// cycle; the broadcaster's hub implements this interface.
type EventSink interface {
	RecommendationCreated(r *Recommendation)
	AutoRecommendationCreated(r *Recommendation)
	RecommendationTriggered(r *Recommendation, detail string)
	RecommendationResult(r *Recommendation)
	StatisticsUpdated(stats Stats)
	Alert(level, message string)
}

type noopSink struct{}

func (noopSink) RecommendationCreated(*Recommendation)           {}
func (noopSink) AutoRecommendationCreated(*Recommendation)       {}
func (noopSink) RecommendationTriggered(*Recommendation, string) {}
func (noopSink) RecommendationResult(*Recommendation)            {}
func (noopSink) StatisticsUpdated(Stats)                         {}
func (noopSink) Alert(string, string)                            {}

// Tracker is the Recommendation Tracker (C5).
type Tracker struct {
	store  *Store
	gate   *cooldown.Gate
	prices PriceSource
	sink   EventSink
	clk    clock.Clock
	log    zerolog.Logger

	cfg config.Config

	idLocksMu sync.Mutex
	idLocks   map[string]*sync.Mutex

	activeMu   sync.RWMutex
	active     map[string]*Recommendation // id -> recommendation, mirrors store for the duplicate-window lookup and fast stats
	dedupeKeys map[string]string          // dedupe_key -> recommendation id currently holding it
}

// New constructs a Tracker and rehydrates active recommendations from
// store, per spec §4.5's "on startup, active recommendations are
// rehydrated and their evaluation resumes".
func New(store *Store, gate *cooldown.Gate, prices PriceSource, sink EventSink, cfg config.Config, clk clock.Clock, base zerolog.Logger) (*Tracker, error) {
	if clk == nil {
		clk = clock.System
	}
	if sink == nil {
		sink = noopSink{}
	}

	t := &Tracker{
		store:   store,
		gate:    gate,
		prices:  prices,
		sink:    sink,
		clk:     clk,
		log:     logging.Component(base, "tracker"),
		cfg:     cfg,
		idLocks:    make(map[string]*sync.Mutex),
		active:     make(map[string]*Recommendation),
		dedupeKeys: make(map[string]string),
	}

	existing, err := store.ListActive()
	if err != nil {
		return nil, fmt.Errorf("rehydrate active recommendations: %w", err)
	}
	for _, r := range existing {
		t.active[r.ID] = r
		key := dedupeKey(r.CreatedAt, r.Symbol, r.Direction, r.EntryPrice, tpOrZero(r.TakeProfitPrice), tpOrZero(r.StopLossPrice))
		t.dedupeKeys[key] = r.ID
	}
	t.log.Info().Int("count", len(existing)).Msg("rehydrated active recommendations")

	return t, nil
}

func (t *Tracker) lockFor(id string) *sync.Mutex {
	t.idLocksMu.Lock()
	defer t.idLocksMu.Unlock()
	l, ok := t.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		t.idLocks[id] = l
	}
	return l
}

// ActiveLookup adapts the tracker's active set into the cooldown.Gate's
// duplicate-window query shape.
func (t *Tracker) ActiveLookup(symbol string, dir cooldown.Direction) []cooldown.ActiveRecommendation {
	t.activeMu.RLock()
	defer t.activeMu.RUnlock()

	var out []cooldown.ActiveRecommendation
	for _, r := range t.active {
		if r.Symbol == symbol && string(r.Direction) == string(dir) && r.Status == Active {
			out = append(out, cooldown.ActiveRecommendation{EntryPrice: r.EntryPrice, CreatedAt: r.CreatedAt})
		}
	}
	return out
}

// ActiveRecommendations returns a snapshot of every currently active
// recommendation, for C7's list-active endpoint.
func (t *Tracker) ActiveRecommendations() []*Recommendation {
	t.activeMu.RLock()
	defer t.activeMu.RUnlock()

	out := make([]*Recommendation, 0, len(t.active))
	for _, r := range t.active {
		if r.Status == Active {
			out = append(out, r)
		}
	}
	return out
}

// History returns every recommendation the store holds (active and
// resolved), for C7's list-history endpoint. limit <= 0 means unbounded.
func (t *Tracker) History(limit int) ([]*Recommendation, error) {
	all, err := t.store.ListAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ByID returns one recommendation by id, for C7's close-by-id endpoint.
func (t *Tracker) ByID(id string) (*Recommendation, bool) {
	t.activeMu.RLock()
	defer t.activeMu.RUnlock()
	r, ok := t.active[id]
	return r, ok
}

// CloseByID force-closes an active recommendation at its current market
// price with ExitManual, for C7's operator-initiated close endpoint. It
// takes the same per-id lock the evaluation loop uses so a concurrent
// EvaluateOnce pass can never race a manual close.
func (t *Tracker) CloseByID(ctx context.Context, id string) (*Recommendation, error) {
	lock := t.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	t.activeMu.RLock()
	r, ok := t.active[id]
	t.activeMu.RUnlock()
	if !ok || r.Status != Active {
		return nil, fmt.Errorf("recommendation %q not found or not active", id)
	}

	price := r.CurrentPrice
	if t.prices != nil {
		if tk, err := t.prices.GetTicker(ctx, r.Symbol); err == nil {
			price = decimal.NewFromFloat(tk.Price)
		}
	}

	pnl := pnlPercent(r, price)
	t.closeRecommendation(r, price, resultFromPnLSign(pnl), ExitManual, pnl)

	return r, nil
}

// StatsForSymbol computes the same statistics surface as Stats, filtered
// to one symbol, for C7's per-symbol stats endpoint.
func (t *Tracker) StatsForSymbol(symbol string) Stats {
	all, err := t.store.ListAll()
	if err != nil {
		t.log.Error().Err(err).Msg("failed to compute per-symbol statistics")
		return Stats{}
	}

	filtered := all[:0]
	for _, r := range all {
		if r.Symbol == symbol {
			filtered = append(filtered, r)
		}
	}
	return computeStats(filtered)
}

// Ingest runs one candidate signal through normalization, the §4.5 step 3
// gates in order, and persists + emits on admission. IngestCandidate, not
// Ingest, is the strategy.Sink method the trigger controller calls. Emits
// recommendation-created (spec §6), the manual/direct-API event.
func (t *Tracker) Ingest(ctx context.Context, c CandidateSignal) error {
	return t.ingest(ctx, c, false)
}

// ingest is the shared admission pipeline behind Ingest and the
// strategy-controller path (IngestWithContext / IngestCandidate's regime-
// unknown fallback). auto selects which creation event fires:
// recommendation-created for a directly-submitted signal (spec §6, the
// manual POST /api/recommendations path) vs. auto-recommendation-created
// for one admitted through the automatic strategy pipeline.
func (t *Tracker) ingest(ctx context.Context, c CandidateSignal, auto bool) error {
	rec, err := t.normalize(c)
	if err != nil {
		metrics.RecordRecommendationRejected("normalize")
		return fmt.Errorf("normalize: %w", err)
	}

	if err := t.applyGates(rec); err != nil {
		metrics.RecordRecommendationRejected(rejectionGate(err))
		return err
	}

	key := dedupeKey(rec.CreatedAt, rec.Symbol, rec.Direction, rec.EntryPrice, tpOrZero(rec.TakeProfitPrice), tpOrZero(rec.StopLossPrice))
	if err := t.checkDedupeKey(key); err != nil {
		metrics.RecordRecommendationRejected("dedupe")
		return err
	}

	rec.ID = uuid.NewString()
	rec.Status = Active
	rec.CurrentPrice = rec.EntryPrice

	// Hold the per-id lock until the creation event is out, so an
	// evaluation pass cannot emit this id's result first.
	lock := t.lockFor(rec.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := t.store.Create(rec); err != nil {
		return fmt.Errorf("persist recommendation: %w", err)
	}

	t.activeMu.Lock()
	t.active[rec.ID] = rec
	t.dedupeKeys[key] = rec.ID
	t.activeMu.Unlock()

	if auto {
		t.sink.AutoRecommendationCreated(rec)
	} else {
		t.sink.RecommendationCreated(rec)
	}
	metrics.RecordRecommendationCreated(rec.Symbol, string(rec.Direction))
	t.log.Info().Str("id", rec.ID).Str("symbol", rec.Symbol).Str("direction", string(rec.Direction)).Bool("auto", auto).Msg("recommendation created")
	return nil
}

// rejectionGate classifies an applyGates error into a short metric label;
// it inspects the error's own prefix rather than adding a parallel
// error-kind enum, since applyGates' errors are already named by gate.
func rejectionGate(err error) string {
	switch {
	case strings.HasPrefix(err.Error(), "entry-strength gate"):
		return "entry_strength"
	case strings.HasPrefix(err.Error(), "cooldown gate"):
		return "cooldown"
	default:
		return "invariant"
	}
}

// IngestCandidate adapts a strategy-engine candidate signal into Ingest,
// satisfying strategy.Sink so the trigger controller can feed C5 directly.
// When mctx was fetched successfully it runs the market-regime gate via
// IngestWithContext; otherwise it skips that gate, the same way an
// unresolved multi-timeframe signal does, and runs the rest of the
// admission pipeline, still emitting auto-recommendation-created.
func (t *Tracker) IngestCandidate(ctx context.Context, c strategy.CandidateSignal, mctx strategy.MarketContext) error {
	signal := CandidateSignal{
		Symbol:          c.Symbol,
		Direction:       string(c.Direction),
		EntryPrice:      c.EntryPrice,
		TakeProfitPrice: c.TakeProfitPrice,
		StopLossPrice:   c.StopLossPrice,
		Confidence:      c.Confidence,
		Leverage:        c.Leverage,
		StrategyType:    c.StrategyType,
		Source:          c.Source,
	}
	if mctx.Valid {
		return t.IngestWithContext(ctx, signal, MarketContext{Sentiment: mctx.Sentiment, FundingRate: mctx.FundingRate})
	}
	return t.ingest(ctx, signal, true)
}

var _ strategy.Sink = (*Tracker)(nil)

func (t *Tracker) normalize(c CandidateSignal) (*Recommendation, error) {
	dir, err := normalizeDirection(c.Direction)
	if err != nil {
		return nil, err
	}

	now := t.clk.Now()
	r := &Recommendation{
		CreatedAt:       now,
		UpdatedAt:       now,
		Symbol:          c.Symbol,
		Direction:       dir,
		EntryPrice:      decimal.NewFromFloat(c.EntryPrice),
		Leverage:        decimal.NewFromFloat(orDefault(c.Leverage, 1)),
		ConfidenceScore: c.Confidence,
		StrategyType:    c.StrategyType,
		Source:          c.Source,
		Status:          Pending,
	}
	if c.TakeProfitPrice > 0 {
		v := decimal.NewFromFloat(c.TakeProfitPrice)
		r.TakeProfitPrice = &v
	}
	if c.StopLossPrice > 0 {
		v := decimal.NewFromFloat(c.StopLossPrice)
		r.StopLossPrice = &v
	}
	if c.PositionSize > 0 {
		v := decimal.NewFromFloat(c.PositionSize)
		r.PositionSize = &v
	}

	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// checkDedupeKey enforces spec §3's "exactly one active recommendation per
// dedupe key" invariant: a key already held by another active
// recommendation is rejected at ingest.
func (t *Tracker) checkDedupeKey(key string) error {
	t.activeMu.RLock()
	defer t.activeMu.RUnlock()
	if existingID, ok := t.dedupeKeys[key]; ok {
		if existing, ok := t.active[existingID]; ok && existing.Status == Active {
			return fmt.Errorf("dedupe gate: an active recommendation already holds key %q", key)
		}
	}
	return nil
}

func tpOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// MarketContext supplies the inputs the market-regime gate needs. The
// ingest caller (C4/C7) is responsible for sourcing these from C2.
type MarketContext struct {
	Sentiment   float64
	FundingRate float64
}

// applyGates runs the entry-strength, cooldown/rate, and duplicate gates
// from spec §4.5 step 3. The market-regime gate is evaluated separately by
// IngestWithContext before this runs, since it needs a sentiment/funding
// snapshot that only the ingest caller (the strategy controller) has.
// Multi-timeframe alignment is honored when configured but, absent a
// concrete MTF signal input on CandidateSignal, always passes
// (SPEC_FULL.md C5 notes this as an Open Question decision: treat
// "alignment unknown" as "aligned" rather than blocking every candidate).
func (t *Tracker) applyGates(r *Recommendation) error {
	ef := t.cfg.Strategy.EntryFilters
	minStrength := ef.MinCombinedStrengthLong
	if r.Direction == Short {
		minStrength = ef.MinCombinedStrengthShort
	}
	if r.ConfidenceScore < minStrength {
		return fmt.Errorf("entry-strength gate: confidence %.3f below minimum %.3f", r.ConfidenceScore, minStrength)
	}

	if t.gate != nil {
		decision := t.gate.Admit(cooldown.SignalRequest{
			Symbol:     r.Symbol,
			Direction:  cooldown.Direction(r.Direction),
			Confidence: r.ConfidenceScore,
			EntryPrice: r.EntryPrice,
		})
		if !decision.Admitted {
			return fmt.Errorf("cooldown gate: %s (retry after %s)", decision.Reason, decision.RetryAfter)
		}
	}

	return nil
}

// IngestWithContext is Ingest extended with the market-regime gate, for
// callers (the strategy controller) that have current sentiment/funding
// on hand. Ingest alone skips the regime gate, matching §4.5's listed
// order where regime is evaluated from data the ingest caller supplies.
func (t *Tracker) IngestWithContext(ctx context.Context, c CandidateSignal, mctx MarketContext) error {
	mr := t.cfg.Strategy.MarketRegime
	if mr.AvoidExtremeSentiment && (mctx.Sentiment <= mr.ExtremeSentimentLow || mctx.Sentiment >= mr.ExtremeSentimentHigh) {
		return fmt.Errorf("market-regime gate: sentiment %.1f in extreme band", mctx.Sentiment)
	}
	if mr.AvoidHighFunding && absFloat(mctx.FundingRate) >= mr.HighFundingAbs {
		return fmt.Errorf("market-regime gate: funding rate %.5f exceeds threshold", mctx.FundingRate)
	}
	return t.ingest(ctx, c, true)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// EvaluateOnce iterates every active recommendation once, applying the
// §4.5 evaluation-loop closing rules in priority order: SL, TP, trailing
// stop, timeout. Mutation per recommendation id is serialized; different
// ids evaluate concurrently.
func (t *Tracker) EvaluateOnce(ctx context.Context) {
	t.activeMu.RLock()
	ids := make([]string, 0, len(t.active))
	for id, r := range t.active {
		if r.Status == Active {
			ids = append(ids, id)
		}
	}
	t.activeMu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			t.evaluateOne(ctx, id)
		}(id)
	}
	wg.Wait()
}

func (t *Tracker) evaluateOne(ctx context.Context, id string) {
	lock := t.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	t.activeMu.RLock()
	r, ok := t.active[id]
	t.activeMu.RUnlock()
	if !ok || r.Status != Active {
		return
	}

	ticker, err := t.prices.GetTicker(ctx, r.Symbol)
	if err != nil {
		t.log.Warn().Str("id", id).Err(err).Msg("evaluation skipped: ticker unavailable")
		return
	}
	price := decimal.NewFromFloat(ticker.Price)
	r.CurrentPrice = price
	r.UpdatedAt = t.clk.Now()

	pnlPercent := pnlPercent(r, price)

	if closed := t.checkStopLoss(r, price); closed {
		t.closeRecommendation(r, price, Loss, ExitSL, pnlPercent)
		return
	}
	if closed := t.checkTakeProfit(r, price); closed {
		t.closeRecommendation(r, price, Win, ExitTP, pnlPercent)
		return
	}

	wasTrailActive := r.TrailActive
	trailBreached := updateTrail(r, t.cfg.Recommendation.Trailing, pnlPercent)
	if !wasTrailActive && r.TrailActive {
		t.sink.RecommendationTriggered(r, "trailing stop armed")
	}
	if trailBreached {
		result := Win
		if pnlPercent.IsNegative() {
			result = Loss
		}
		t.closeRecommendation(r, price, result, ExitTrail, pnlPercent)
		return
	}
	if t.checkTimeout(r) {
		result := resultFromPnLSign(pnlPercent)
		t.closeRecommendation(r, price, result, ExitTimeout, pnlPercent)
		return
	}

	if err := t.store.Update(r); err != nil {
		t.log.Error().Str("id", id).Err(err).Msg("failed to persist evaluation tick")
		t.sink.Alert("error", fmt.Sprintf("failed to persist evaluation tick for %s: %v", id, err))
	}
}

func (t *Tracker) checkStopLoss(r *Recommendation, price decimal.Decimal) bool {
	if r.StopLossPrice == nil {
		return false
	}
	if r.Direction == Long {
		return price.LessThanOrEqual(*r.StopLossPrice)
	}
	return price.GreaterThanOrEqual(*r.StopLossPrice)
}

func (t *Tracker) checkTakeProfit(r *Recommendation, price decimal.Decimal) bool {
	if r.TakeProfitPrice == nil {
		return false
	}
	if r.Direction == Long {
		return price.GreaterThanOrEqual(*r.TakeProfitPrice)
	}
	return price.LessThanOrEqual(*r.TakeProfitPrice)
}

func (t *Tracker) checkTimeout(r *Recommendation) bool {
	maxHold := t.cfg.Recommendation.MaxHoldingHours
	if maxHold <= 0 {
		return false
	}
	age := t.clk.Now().Sub(r.CreatedAt)
	return age >= time.Duration(maxHold*float64(time.Hour))
}

// pnlPercent computes unrealized PnL in price-percent terms, positive for
// favorable movement regardless of direction.
func pnlPercent(r *Recommendation, price decimal.Decimal) decimal.Decimal {
	if r.EntryPrice.IsZero() {
		return decimal.Zero
	}
	diff := price.Sub(r.EntryPrice)
	if r.Direction == Short {
		diff = diff.Neg()
	}
	return diff.Div(r.EntryPrice).Mul(decimal.NewFromInt(100))
}

// resultFromPnLSign classifies a timeout close, per spec §4.5 step 3:
// BREAKEVEN within ±0.01%, else the sign of pnl_percent.
func resultFromPnLSign(pnlPercent decimal.Decimal) Result {
	epsilon := decimal.NewFromFloat(0.01)
	if pnlPercent.Abs().LessThanOrEqual(epsilon) {
		return Breakeven
	}
	if pnlPercent.IsPositive() {
		return Win
	}
	return Loss
}

func (t *Tracker) closeRecommendation(r *Recommendation, exitPrice decimal.Decimal, result Result, reason ExitReason, pnlPercent decimal.Decimal) {
	now := t.clk.Now()
	r.Status = Closed
	r.Result = &result
	r.ExitPrice = &exitPrice
	r.ExitTime = &now
	r.ExitReason = &reason
	r.UpdatedAt = now
	r.PnLPercent = &pnlPercent

	if r.PositionSize != nil {
		amount := r.PositionSize.Mul(pnlPercent).Div(decimal.NewFromInt(100)).Mul(r.Leverage)
		r.PnLAmount = &amount
	}

	if err := t.store.Update(r); err != nil {
		t.log.Error().Str("id", r.ID).Err(err).Msg("failed to persist recommendation close")
		t.sink.Alert("error", fmt.Sprintf("failed to persist recommendation close for %s: %v", r.ID, err))
	}

	t.sink.RecommendationResult(r)
	metrics.RecordRecommendationClosed(string(result), string(reason))
	t.log.Info().Str("id", r.ID).Str("result", string(result)).Str("exit_reason", string(reason)).Msg("recommendation closed")

	t.sink.StatisticsUpdated(t.Stats())
}

// PruneClosed removes CLOSED/EXPIRED recommendations older than maxAge
// from the store, per spec §3's age-based retention policy, and drops
// every CLOSED/EXPIRED entry, whatever its age, from the in-memory
// active set.
func (t *Tracker) PruneClosed(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := t.store.PruneClosed(t.clk.Now(), maxAge)
	if err != nil {
		return 0, err
	}

	t.activeMu.Lock()
	for id, r := range t.active {
		if r.Status == Closed || r.Status == Expired {
			delete(t.active, id)
		}
	}
	t.activeMu.Unlock()

	return n, nil
}

// Stats computes the point-in-time statistics surface for C7.
func (t *Tracker) Stats() Stats {
	all, err := t.store.ListAll()
	if err != nil {
		t.log.Error().Err(err).Msg("failed to compute statistics")
		return Stats{}
	}

	s := computeStats(all)

	cumulativePnL, _ := s.CumulativePnL.Float64()
	maxDrawdown, _ := s.MaxDrawdown.Float64()
	metrics.UpdateRecommendationStats(s.WinRate, cumulativePnL, maxDrawdown)

	return s
}

// computeStats is the pure aggregation behind Stats and StatsForSymbol.
func computeStats(all []*Recommendation) Stats {
	s := Stats{ActiveByDirection: map[Direction]int{Long: 0, Short: 0}, CumulativePnL: decimal.Zero}
	var runningPnL, peak, troughDelta decimal.Decimal

	for _, r := range all {
		switch r.Status {
		case Active, Pending:
			s.ActiveCount++
			s.ActiveByDirection[r.Direction]++
		case Closed, Expired:
			if r.Result == nil {
				continue
			}
			switch *r.Result {
			case Win:
				s.WinCount++
			case Loss:
				s.LossCount++
			case Breakeven:
				s.BreakevenCount++
			}
			if r.PnLAmount != nil {
				s.CumulativePnL = s.CumulativePnL.Add(*r.PnLAmount)
				runningPnL = runningPnL.Add(*r.PnLAmount)
				if runningPnL.GreaterThan(peak) {
					peak = runningPnL
				}
				drawdown := peak.Sub(runningPnL)
				if drawdown.GreaterThan(troughDelta) {
					troughDelta = drawdown
				}
			}
		}
	}

	s.MaxDrawdown = troughDelta
	closedTotal := s.WinCount + s.LossCount + s.BreakevenCount
	if closedTotal > 0 {
		s.WinRate = float64(s.WinCount) / float64(closedTotal)
	}

	return s
}
