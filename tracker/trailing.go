package tracker

import (
	"github.com/shopspring/decimal"

	"github.com/synapsestrike/tradeops/config"
)

// updateTrail advances the recommendation's trailing-stop state given the
// current price and unrealized profit percent, per spec §4.5 step 3: once
// activated (by breakeven or cumulative profit ≥ activateProfitPct), the
// trail ratchets to track the favorable extreme minus percent, optionally
// loosened/tightened by profit band via the flex parameters. It returns
// true if the trail has now been breached (current price crossed back
// through trail_price) and should close the recommendation.
func updateTrail(r *Recommendation, cfg config.TrailingConfig, pnlPercent decimal.Decimal) bool {
	if !cfg.Enabled {
		return false
	}

	if !r.TrailActive {
		profitGate := decimal.NewFromFloat(cfg.ActivateProfitPct)
		breakevenGate := cfg.ActivateOnBreakeven && pnlPercent.GreaterThanOrEqual(decimal.Zero)
		if breakevenGate || pnlPercent.GreaterThanOrEqual(profitGate) {
			r.TrailActive = true
		} else {
			return false
		}
	}

	trailPct := decimal.NewFromFloat(effectiveTrailPercent(cfg, pnlPercent))

	switch r.Direction {
	case Long:
		candidate := r.CurrentPrice.Mul(decimal.NewFromInt(1).Sub(trailPct))
		if r.TrailPrice == nil || candidate.GreaterThan(*r.TrailPrice) {
			r.TrailPrice = &candidate
		}
		if r.TrailPrice != nil && r.CurrentPrice.LessThanOrEqual(*r.TrailPrice) {
			return true
		}
	case Short:
		candidate := r.CurrentPrice.Mul(decimal.NewFromInt(1).Add(trailPct))
		if r.TrailPrice == nil || candidate.LessThan(*r.TrailPrice) {
			r.TrailPrice = &candidate
		}
		if r.TrailPrice != nil && r.CurrentPrice.GreaterThanOrEqual(*r.TrailPrice) {
			return true
		}
	}
	return false
}

// effectiveTrailPercent applies the flex loosening/tightening band: deep
// in profit, the trail may tighten (lock in more gain); shallow profit
// loosens it (avoid premature stop-out from ordinary noise).
func effectiveTrailPercent(cfg config.TrailingConfig, pnlPercent decimal.Decimal) float64 {
	base := cfg.Percent
	profit, _ := pnlPercent.Float64()

	switch {
	case cfg.FlexTighteningPct > 0 && profit >= cfg.ActivateProfitPct*2:
		base -= cfg.FlexTighteningPct
	case cfg.FlexLooseningPct > 0 && profit < cfg.ActivateProfitPct*2:
		base += cfg.FlexLooseningPct
	}
	if base < 0.0001 {
		base = 0.0001
	}
	return base
}
