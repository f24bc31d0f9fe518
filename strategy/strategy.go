// Package strategy implements the Strategy Trigger Controller (C4):
// scheduled and manually invocable dispatch of the external strategy
// engine, with single-flight enforcement, progress reporting, and
// cancellation bound to a clock.Scope.
package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/synapsestrike/tradeops/clock"
	"github.com/synapsestrike/tradeops/cooldown"
	"github.com/synapsestrike/tradeops/logging"
	"github.com/synapsestrike/tradeops/metrics"
)

// Direction mirrors cooldown.Direction for candidate signals produced by
// the strategy engine.
type Direction = cooldown.Direction

// CandidateSignal is one proposed recommendation emitted by a strategy
// engine invocation, handed to C5's ingest path.
type CandidateSignal struct {
	Symbol          string
	Direction       Direction
	EntryPrice      float64
	TakeProfitPrice float64
	StopLossPrice   float64
	Confidence      float64
	Leverage        float64
	StrategyType    string
	Source          string

	// Metadata carries engine-specific diagnostic fields, e.g. "kronos",
	// projected out of GET /api/strategy/analysis when that gate is
	// disabled (spec §6).
	Metadata map[string]any
}

// MarketContext carries the sentiment/funding-rate snapshot the
// market-regime admission gate (spec §4.5 step 3) evaluates just before a
// candidate is ingested. Valid is false when the snapshot could not be
// fetched from C2; Sink implementations treat that the same as "regime
// unknown" and skip the gate rather than guess at a value.
type MarketContext struct {
	Sentiment   float64
	FundingRate float64
	Valid       bool
}

// ProgressEvent is emitted to the broadcaster while an invocation runs.
type ProgressEvent struct {
	Symbol string
	Stage  string
	Detail string
}

// Result is produced by one strategy engine invocation.
type Result struct {
	Candidates []CandidateSignal
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Engine is the external strategy engine the controller dispatches to.
// Indicator mathematics are assumed externally provided (spec §1); the
// controller only guards concurrency, rate, and cooldown invariants around
// whatever Engine implementation is wired in.
type Engine interface {
	Evaluate(ctx context.Context, symbols []string, progress func(ProgressEvent)) ([]CandidateSignal, error)
}

// Sink receives candidate signals for C5 ingest, alongside the market
// context the regime gate needs. The progress stream for C6 fan-out goes
// through ProgressSink instead.
type Sink interface {
	IngestCandidate(ctx context.Context, c CandidateSignal, mctx MarketContext) error
}

type ProgressSink interface {
	Progress(ProgressEvent)
}

// MarketSource supplies the sentiment index and per-symbol funding rate
// the market-regime gate evaluates, sourced from C2 once per candidate
// just before ingest. The concrete implementation is the gateway.
type MarketSource interface {
	GetSentimentIndex(ctx context.Context) (float64, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
}

// Controller drives Engine on a schedule and on manual request.
type Controller struct {
	engine  Engine
	sink    Sink
	gate    *cooldown.Gate
	market  MarketSource
	clk     clock.Clock
	log     zerolog.Logger
	symbols []string

	progress ProgressSink
	onResult func(*Result)

	period       time.Duration
	scheduleCron string

	runningMu sync.Mutex
	running   bool
}

// Config configures a Controller, per spec §4.4/§6. ScheduleCron, when
// set, takes priority over Period: the scheduled invocation cadence comes
// from a standard 5-field cron expression instead of a flat interval, for
// deployments that need a schedule a single duration can't express (e.g.
// only during exchange trading hours).
type Config struct {
	Period       time.Duration
	Symbols      []string
	ScheduleCron string
}

// New constructs a Controller. progress may be nil to disable progress
// emission (e.g. in tests); market may be nil, in which case every
// candidate ingests with an invalid MarketContext and the regime gate is
// skipped (the same "unknown means unblocked" treatment as the
// multi-timeframe gate).
func New(cfg Config, engine Engine, sink Sink, gate *cooldown.Gate, market MarketSource, progress ProgressSink, clk clock.Clock, base zerolog.Logger) *Controller {
	if clk == nil {
		clk = clock.System
	}
	return &Controller{
		engine:       engine,
		sink:         sink,
		gate:         gate,
		market:       market,
		clk:          clk,
		log:          logging.Component(base, "strategy"),
		symbols:      cfg.Symbols,
		progress:     progress,
		period:       cfg.Period,
		scheduleCron: cfg.ScheduleCron,
	}
}

// Run drives the scheduled invocation loop until scope is cancelled. A
// tick is skipped (not queued) if the previous invocation is still
// running, per spec §4.4's "ticker pauses itself" rule. ScheduleCron, if
// set, takes priority over the flat Period ticker.
func (c *Controller) Run(scope *clock.Scope) {
	if c.scheduleCron != "" {
		c.runCronSchedule(scope)
		return
	}

	if c.period <= 0 {
		return
	}
	ticker := c.clk.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-scope.Done():
			return
		case <-ticker.C():
			if !c.tryAcquire() {
				c.log.Debug().Msg("scheduled tick skipped; previous invocation still running")
				continue
			}
			go func() {
				defer c.release()
				c.invoke(scope.Context(), false)
			}()
		}
	}
}

// runCronSchedule drives the scheduled invocation from a standard 5-field
// cron expression instead of Run's flat ticker, for a cadence a single
// duration can't express. Single-flight and the tick-pauses-itself rule
// still apply, same as the ticker path.
func (c *Controller) runCronSchedule(scope *clock.Scope) {
	sched := cron.New()
	if _, err := sched.AddFunc(c.scheduleCron, func() {
		if !c.tryAcquire() {
			c.log.Debug().Msg("cron tick skipped; previous invocation still running")
			return
		}
		go func() {
			defer c.release()
			c.invoke(scope.Context(), false)
		}()
	}); err != nil {
		c.log.Error().Err(err).Str("cron", c.scheduleCron).Msg("invalid scheduleCron expression; scheduled invocation disabled")
		return
	}

	sched.Start()
	<-scope.Done()
	<-sched.Stop().Done()
}

// TriggerManual runs one invocation outside the schedule, subject to C3's
// manual single-flight and rate-window checks.
func (c *Controller) TriggerManual(ctx context.Context) (*Result, cooldown.Decision) {
	if c.gate != nil {
		d := c.gate.Admit(cooldown.SignalRequest{Manual: true})
		if !d.Admitted {
			return nil, d
		}

		if !c.gate.BeginManual() {
			return nil, cooldown.Decision{Admitted: false, Reason: "manual trigger already in progress", RetryAfter: time.Second}
		}
		defer c.gate.ReleaseManual()
	}

	if !c.tryAcquire() {
		return nil, cooldown.Decision{Admitted: false, Reason: "scheduled invocation already running", RetryAfter: time.Second}
	}
	defer c.release()

	result := c.invoke(ctx, true)
	return result, cooldown.Decision{Admitted: true}
}

// SetOnResult registers a callback invoked after every invocation
// (scheduled or manual) finishes, used to fan out the strategy-update
// event (spec §6) regardless of which path triggered the run.
func (c *Controller) SetOnResult(fn func(*Result)) {
	c.onResult = fn
}

// Running reports whether an invocation (scheduled or manual) is
// currently in flight, for the status endpoint.
func (c *Controller) Running() bool {
	c.runningMu.Lock()
	defer c.runningMu.Unlock()
	return c.running
}

// Symbols returns the configured symbol universe, for the status endpoint.
func (c *Controller) Symbols() []string { return c.symbols }

// Period returns the configured scheduled-invocation interval.
func (c *Controller) Period() time.Duration { return c.period }

func (c *Controller) tryAcquire() bool {
	c.runningMu.Lock()
	defer c.runningMu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	return true
}

func (c *Controller) release() {
	c.runningMu.Lock()
	c.running = false
	c.runningMu.Unlock()
}

// marketContextFor fetches the sentiment/funding snapshot the
// market-regime gate evaluates for one candidate's symbol. A fetch error
// leaves Valid false rather than a zero-valued sentiment/funding reading,
// since a fabricated 0 could itself trip an "extreme sentiment" or "high
// funding" threshold.
func (c *Controller) marketContextFor(ctx context.Context, symbol string) MarketContext {
	if c.market == nil {
		return MarketContext{}
	}
	sentiment, err := c.market.GetSentimentIndex(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to fetch sentiment for market-regime gate")
		return MarketContext{}
	}
	funding, err := c.market.GetFundingRate(ctx, symbol)
	if err != nil {
		c.log.Warn().Str("symbol", symbol).Err(err).Msg("failed to fetch funding rate for market-regime gate")
		return MarketContext{}
	}
	return MarketContext{Sentiment: sentiment, FundingRate: funding, Valid: true}
}

func (c *Controller) invoke(ctx context.Context, manual bool) *Result {
	started := c.clk.Now()
	c.log.Info().Bool("manual", manual).Strs("symbols", c.symbols).Msg("strategy invocation starting")

	candidates, err := c.engine.Evaluate(ctx, c.symbols, func(ev ProgressEvent) {
		if c.progress != nil {
			c.progress.Progress(ev)
		}
	})
	finished := c.clk.Now()

	trigger := "scheduled"
	if manual {
		trigger = "manual"
	}

	result := &Result{Candidates: candidates, StartedAt: started, FinishedAt: finished, Err: err}
	if err != nil {
		c.log.Error().Err(err).Msg("strategy invocation failed")
		metrics.RecordStrategyInvocation(trigger, "error", finished.Sub(started).Seconds(), 0)
		if c.onResult != nil {
			c.onResult(result)
		}
		return result
	}

	for _, cand := range candidates {
		mctx := c.marketContextFor(ctx, cand.Symbol)
		if ingestErr := c.sink.IngestCandidate(ctx, cand, mctx); ingestErr != nil {
			c.log.Warn().Str("symbol", cand.Symbol).Err(ingestErr).Msg("candidate rejected at ingest")
		}
	}

	c.log.Info().Int("candidates", len(candidates)).Dur("elapsed", finished.Sub(started)).Msg("strategy invocation finished")
	metrics.RecordStrategyInvocation(trigger, "success", finished.Sub(started).Seconds(), len(candidates))
	if c.onResult != nil {
		c.onResult(result)
	}
	return result
}
