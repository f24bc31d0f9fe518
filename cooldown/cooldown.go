// Package cooldown implements the admission gate (C3) guarding
// recommendation creation and manual strategy triggers: global min
// interval, per-direction same/opposite cooldowns, manual trigger rate
// limiting, single-flight for in-flight manual triggers, and the
// duplicate-recommendation window check.
package cooldown

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synapsestrike/tradeops/clock"
	"github.com/synapsestrike/tradeops/metrics"
)

// Direction mirrors the Recommendation direction in the tracker package,
// duplicated here to avoid an import cycle between cooldown and tracker.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Config carries the admission parameters normally sourced from
// config.StrategyConfig, copied in rather than imported directly so
// cooldown has no dependency on the config package's JSON-tag concerns.
type Config struct {
	GlobalMinInterval       time.Duration
	SameDirCooldown         map[Direction]time.Duration
	OppositeCooldown        map[Direction]time.Duration
	OppositeMinConfidence   map[Direction]float64
	MaxManualTriggersPerMin int64
	DuplicateWindow         time.Duration
	DuplicatePriceBps       decimal.Decimal
}

// ActiveRecommendation is the minimal view of an existing active
// recommendation the duplicate-window check needs, supplied by the
// tracker via ActiveLookup.
type ActiveRecommendation struct {
	EntryPrice decimal.Decimal
	CreatedAt  time.Time
}

// ActiveLookup returns currently-active recommendations for (symbol,
// direction), used only for the duplicate-window check.
type ActiveLookup func(symbol string, dir Direction) []ActiveRecommendation

// SignalRequest is one proposed recommendation-creation event presented to
// Admit.
type SignalRequest struct {
	Symbol     string
	Direction  Direction
	Confidence float64
	EntryPrice decimal.Decimal
	Manual     bool
}

// Decision is the outcome of Admit: either Admit or Deny with a reason and
// a suggested retry-after duration.
type Decision struct {
	Admitted   bool
	Reason     string
	RetryAfter time.Duration
}

func deny(retryAfter time.Duration, reason string) Decision {
	return Decision{Admitted: false, Reason: reason, RetryAfter: retryAfter}
}

var okDecision = Decision{Admitted: true}

// key identifies one (symbol, direction) row in the cooldown table.
type key struct {
	symbol    string
	direction Direction
}

type cooldownRow struct {
	lastSameDir  time.Time
	hasSameDir   bool
	lastFire     map[Direction]time.Time
}

// Gate is the stateful C3 admission decision function. Per-(symbol,
// direction) state is serialized by a single mutex guarding the row map;
// spec §5 calls for a linearizable exclusive scope per key, and a process
// with this few keys and this low a call rate does not benefit from finer
// sharding.
type Gate struct {
	cfg Config
	clk clock.Clock
	lookup ActiveLookup

	mu   sync.Mutex
	rows map[key]*cooldownRow

	hasGlobalFire  bool
	lastGlobalFire time.Time

	manualInFlight bool
	manualFires    []time.Time
}

// New constructs a Gate bound to clk (spec: cooldown timestamps use the
// monotonic clock from C1) and lookup, the tracker's active-recommendation
// query used for the duplicate-window gate.
func New(cfg Config, clk clock.Clock, lookup ActiveLookup) *Gate {
	if clk == nil {
		clk = clock.System
	}
	return &Gate{cfg: cfg, clk: clk, lookup: lookup, rows: make(map[key]*cooldownRow)}
}

func (g *Gate) row(k key) *cooldownRow {
	r, ok := g.rows[k]
	if !ok {
		r = &cooldownRow{lastFire: make(map[Direction]time.Time)}
		g.rows[k] = r
	}
	return r
}

// Admit evaluates req against every input in spec §4.3: manual single-
// flight and rate window first, then the global minimum interval, then
// same/opposite direction cooldowns, then the duplicate window. All state
// is held under one lock for the duration of the call so admission and
// timestamp commit are atomic; timestamps advance only on admission, never
// on denial.
// Admit runs the admission pipeline and records a denial metric before
// returning, so callers never have to remember to instrument it themselves.
func (g *Gate) Admit(req SignalRequest) Decision {
	d := g.admit(req)
	if !d.Admitted {
		metrics.RecordCooldownDenied(d.Reason)
	}
	return d
}

func (g *Gate) admit(req SignalRequest) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now()

	if req.Manual {
		if g.manualInFlight {
			return deny(1*time.Second, "manual trigger already in progress")
		}
	}

	if d := g.checkManualRate(req, now); !d.Admitted {
		return d
	}
	if d := g.checkGlobalInterval(now); !d.Admitted {
		return d
	}

	k := key{symbol: req.Symbol, direction: req.Direction}
	row := g.row(k)

	if d := g.checkSameDirection(row, req, now); !d.Admitted {
		return d
	}

	oppK := key{symbol: req.Symbol, direction: req.Direction.Opposite()}
	oppRow := g.row(oppK)
	if d := g.checkOppositeDirection(oppRow, req, now); !d.Admitted {
		return d
	}

	if d := g.checkDuplicate(req); !d.Admitted {
		return d
	}

	// Commit: timestamps update only on successful admission (spec §4.3).
	row.lastSameDir = now
	row.hasSameDir = true
	row.lastFire[req.Direction] = now

	g.hasGlobalFire = true
	g.lastGlobalFire = now

	if req.Manual {
		g.manualFires = append(g.manualFires, now)
	}

	return okDecision
}

// SetLookup wires the duplicate-window query after construction, for
// callers that must build the Gate before the component providing the
// lookup (the tracker) exists yet, since the tracker itself is
// constructed with a reference to this Gate.
func (g *Gate) SetLookup(lookup ActiveLookup) {
	g.mu.Lock()
	g.lookup = lookup
	g.mu.Unlock()
}

// UpdateConfig replaces the admission parameters in effect, for C7's
// POST /api/config. Existing per-(symbol,direction) timestamps are left
// untouched; only the thresholds evaluated against them change.
func (g *Gate) UpdateConfig(cfg Config) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

// BeginManual marks a manual trigger in flight, for callers that need to
// hold the single-flight slot across a longer-running strategy invocation
// than Admit's own bookkeeping covers. Release must always be called.
func (g *Gate) BeginManual() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.manualInFlight {
		return false
	}
	g.manualInFlight = true
	return true
}

// ReleaseManual clears the manual single-flight slot.
func (g *Gate) ReleaseManual() {
	g.mu.Lock()
	g.manualInFlight = false
	g.mu.Unlock()
}

func (g *Gate) checkManualRate(req SignalRequest, now time.Time) Decision {
	if !req.Manual {
		return okDecision
	}

	limit := g.cfg.MaxManualTriggersPerMin
	if limit <= 0 {
		limit = 1
	}

	window := now.Add(-60 * time.Second)
	kept := g.manualFires[:0]
	for _, t := range g.manualFires {
		if t.After(window) {
			kept = append(kept, t)
		}
	}
	g.manualFires = kept

	if int64(len(g.manualFires)) >= limit {
		oldest := g.manualFires[0]
		retryAfter := oldest.Add(60 * time.Second).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return deny(retryAfter, "manual trigger rate exceeded")
	}
	return okDecision
}

func (g *Gate) checkGlobalInterval(now time.Time) Decision {
	if !g.hasGlobalFire || g.cfg.GlobalMinInterval <= 0 {
		return okDecision
	}
	elapsed := now.Sub(g.lastGlobalFire)
	if elapsed >= g.cfg.GlobalMinInterval {
		return okDecision
	}
	return deny(g.cfg.GlobalMinInterval-elapsed, "global minimum interval not elapsed")
}

func (g *Gate) checkSameDirection(row *cooldownRow, req SignalRequest, now time.Time) Decision {
	if !row.hasSameDir {
		return okDecision
	}
	cd := g.cfg.SameDirCooldown[req.Direction]
	if cd <= 0 {
		return okDecision
	}
	elapsed := now.Sub(row.lastSameDir)
	if elapsed >= cd {
		return okDecision
	}
	return deny(cd-elapsed, "same-direction cooldown active")
}

func (g *Gate) checkOppositeDirection(oppRow *cooldownRow, req SignalRequest, now time.Time) Decision {
	lastOpp, ok := oppRow.lastFire[req.Direction.Opposite()]
	if !ok {
		return okDecision
	}
	cd := g.cfg.OppositeCooldown[req.Direction.Opposite()]
	if cd <= 0 {
		return okDecision
	}
	elapsed := now.Sub(lastOpp)
	if elapsed >= cd {
		return okDecision
	}
	if minConf, ok := g.cfg.OppositeMinConfidence[req.Direction]; ok && req.Confidence > minConf {
		return okDecision
	}
	return deny(cd-elapsed, "opposite-direction cooldown active")
}

func (g *Gate) checkDuplicate(req SignalRequest) Decision {
	if g.lookup == nil || g.cfg.DuplicateWindow <= 0 {
		return okDecision
	}

	active := g.lookup(req.Symbol, req.Direction)
	now := g.clk.Now()
	bps := g.cfg.DuplicatePriceBps

	for _, a := range active {
		if now.Sub(a.CreatedAt) > g.cfg.DuplicateWindow {
			continue
		}
		if priceWithinBps(req.EntryPrice, a.EntryPrice, bps) {
			return deny(0, "duplicate recommendation within price proximity window")
		}
	}
	return okDecision
}

// priceWithinBps reports whether a and b differ by no more than bps basis
// points of b, using exact decimal arithmetic to avoid the float drift the
// spec's boundary-condition tests exercise directly (e.g. a price exactly
// at the bps threshold).
func priceWithinBps(a, b, bps decimal.Decimal) bool {
	if b.IsZero() {
		return a.IsZero()
	}
	diff := a.Sub(b).Abs()
	threshold := b.Abs().Mul(bps).Div(decimal.NewFromInt(10000))
	return diff.LessThanOrEqual(threshold)
}
