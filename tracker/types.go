// Package tracker implements the Recommendation Tracker (C5): ingest
// normalization and admission gates, sqlite-backed persistence, the
// periodic evaluation loop that closes recommendations on SL/TP/trailing-
// stop/timeout, and point-in-time statistics.
package tracker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the recommendation side, per spec §3.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// normalizeDirection coerces the BUY/SELL aliases spec §4.5 step 1 calls
// for into the canonical LONG/SHORT values.
func normalizeDirection(raw string) (Direction, error) {
	switch raw {
	case "LONG", "BUY":
		return Long, nil
	case "SHORT", "SELL":
		return Short, nil
	default:
		return "", fmt.Errorf("unrecognized direction %q", raw)
	}
}

// Status is the recommendation lifecycle state, per spec §3.
type Status string

const (
	Pending Status = "PENDING"
	Active  Status = "ACTIVE"
	Closed  Status = "CLOSED"
	Expired Status = "EXPIRED"
)

// Result is the terminal win/loss classification.
type Result string

const (
	Win       Result = "WIN"
	Loss      Result = "LOSS"
	Breakeven Result = "BREAKEVEN"
)

// ExitReason records why a recommendation closed.
type ExitReason string

const (
	ExitSL      ExitReason = "SL"
	ExitTP      ExitReason = "TP"
	ExitTrail   ExitReason = "TRAIL"
	ExitTimeout ExitReason = "TIMEOUT"
	ExitManual  ExitReason = "MANUAL"
)

// Recommendation is the central C5 entity, per spec §3.
type Recommendation struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Symbol    string
	Direction Direction

	EntryPrice      decimal.Decimal
	Leverage        decimal.Decimal
	TakeProfitPrice *decimal.Decimal
	StopLossPrice   *decimal.Decimal
	ConfidenceScore float64
	PositionSize    *decimal.Decimal
	StrategyType    string
	Source          string

	Status       Status
	CurrentPrice decimal.Decimal

	Result     *Result
	ExitPrice  *decimal.Decimal
	ExitTime   *time.Time
	ExitReason *ExitReason
	PnLAmount  *decimal.Decimal
	PnLPercent *decimal.Decimal

	// Trailing stop runtime state, not part of the §3 field list but
	// required to implement §4.5 step 3's ratcheting trail.
	TrailActive bool
	TrailPrice  *decimal.Decimal
}

// validate enforces spec §3's invariants that must hold before a
// recommendation is admitted.
func (r *Recommendation) validate() error {
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return fmt.Errorf("confidence_score %v out of [0,1]", r.ConfidenceScore)
	}
	if !r.EntryPrice.IsPositive() {
		return fmt.Errorf("entry_price must be finite and positive")
	}
	if r.TakeProfitPrice != nil && r.StopLossPrice != nil {
		tp, sl, entry := *r.TakeProfitPrice, *r.StopLossPrice, r.EntryPrice
		switch r.Direction {
		case Long:
			if !(sl.LessThan(entry) && entry.LessThan(tp)) {
				return fmt.Errorf("LONG requires stop_loss < entry < take_profit")
			}
		case Short:
			if !(tp.LessThan(entry) && entry.LessThan(sl)) {
				return fmt.Errorf("SHORT requires take_profit < entry < stop_loss")
			}
		}
	}
	return nil
}

// CandidateSignal is the input to Ingest: a proposed recommendation before
// normalization, gating, and persistence.
type CandidateSignal struct {
	Symbol          string
	Direction       string // accepts LONG/SHORT or BUY/SELL aliases
	EntryPrice      float64
	TakeProfitPrice float64
	StopLossPrice   float64
	Confidence      float64
	Leverage        float64
	PositionSize    float64
	StrategyType    string
	Source          string
}

// Stats is the point-in-time statistics surface exposed to C7.
type Stats struct {
	ActiveCount       int
	ActiveByDirection map[Direction]int
	WinCount          int
	LossCount         int
	BreakevenCount    int
	WinRate           float64
	CumulativePnL     decimal.Decimal
	MaxDrawdown       decimal.Decimal
}
