// Package talibengine is one concrete strategy.Engine implementation:
// RSI, MACD and Bollinger Band position combined into a single directional
// strength score per symbol, computed from github.com/markcheno/go-talib
// over klines sourced from the market data gateway. Spec §1 treats
// indicator mathematics as externally supplied; this package is that
// external supplier, kept swappable behind strategy.Engine.
package talibengine

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/synapsestrike/tradeops/gateway"
	"github.com/synapsestrike/tradeops/strategy"
)

// Config tunes indicator periods and the combined-strength admission
// thresholds, per SPEC_FULL.md's minCombinedStrength{Long,Short} gate.
type Config struct {
	Interval           string
	KlineLookback      int
	RSIPeriod          int
	MACDFast           int
	MACDSlow           int
	MACDSignal         int
	BollingerPeriod    int
	BollingerStdDev    float64
	MinCombinedLong    float64
	MinCombinedShort   float64
	DefaultLeverage    float64
	TakeProfitPct      float64
	StopLossPct        float64
}

// DefaultConfig matches the teacher's indicator periods (14/12-26-9/20,2).
func DefaultConfig() Config {
	return Config{
		Interval:         "5m",
		KlineLookback:    100,
		RSIPeriod:        14,
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignal:       9,
		BollingerPeriod:  20,
		BollingerStdDev:  2.0,
		MinCombinedLong:  0.6,
		MinCombinedShort: 0.6,
		DefaultLeverage:  1.0,
		TakeProfitPct:    0.02,
		StopLossPct:      0.01,
	}
}

// Engine evaluates symbols against RSI/MACD/Bollinger confluence.
type Engine struct {
	cfg Config
	gw  *gateway.Gateway
}

// New constructs a talibengine Engine reading klines through gw.
func New(cfg Config, gw *gateway.Gateway) *Engine {
	return &Engine{cfg: cfg, gw: gw}
}

var _ strategy.Engine = (*Engine)(nil)

// Evaluate computes a candidate signal per symbol where combined indicator
// strength clears the configured threshold in either direction.
func (e *Engine) Evaluate(ctx context.Context, symbols []string, progress func(strategy.ProgressEvent)) ([]strategy.CandidateSignal, error) {
	var candidates []strategy.CandidateSignal

	for _, symbol := range symbols {
		if progress != nil {
			progress(strategy.ProgressEvent{Symbol: symbol, Stage: "fetching_klines"})
		}

		klines, err := e.gw.GetKlines(ctx, symbol, e.cfg.Interval, e.cfg.KlineLookback)
		if err != nil {
			if progress != nil {
				progress(strategy.ProgressEvent{Symbol: symbol, Stage: "error", Detail: err.Error()})
			}
			continue
		}
		if len(klines) < e.cfg.BollingerPeriod+1 {
			continue
		}

		closes := make([]float64, len(klines))
		for i, k := range klines {
			closes[i] = k.Close
		}

		if progress != nil {
			progress(strategy.ProgressEvent{Symbol: symbol, Stage: "computing_indicators"})
		}

		longScore, shortScore, err := e.score(closes)
		if err != nil {
			continue
		}

		currentPrice := closes[len(closes)-1]

		switch {
		case longScore >= e.cfg.MinCombinedLong && longScore > shortScore:
			candidates = append(candidates, e.buildSignal(symbol, strategy.Direction("LONG"), currentPrice, longScore))
		case shortScore >= e.cfg.MinCombinedShort && shortScore > longScore:
			candidates = append(candidates, e.buildSignal(symbol, strategy.Direction("SHORT"), currentPrice, shortScore))
		}

		if progress != nil {
			progress(strategy.ProgressEvent{Symbol: symbol, Stage: "evaluated", Detail: fmt.Sprintf("long=%.3f short=%.3f", longScore, shortScore)})
		}
	}

	return candidates, nil
}

// score returns a [0,1] long-bias and short-bias strength derived from the
// last RSI reading, MACD histogram sign/magnitude, and Bollinger band
// position, averaged with equal weight.
func (e *Engine) score(closes []float64) (long float64, short float64, err error) {
	rsi := talib.Rsi(closes, e.cfg.RSIPeriod)
	if len(rsi) == 0 || math.IsNaN(rsi[len(rsi)-1]) {
		return 0, 0, fmt.Errorf("insufficient data for rsi")
	}
	lastRSI := rsi[len(rsi)-1]

	_, _, hist := talib.Macd(closes, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)
	if len(hist) == 0 || math.IsNaN(hist[len(hist)-1]) {
		return 0, 0, fmt.Errorf("insufficient data for macd")
	}
	lastHist := hist[len(hist)-1]

	upper, _, lower := talib.BBands(closes, e.cfg.BollingerPeriod, e.cfg.BollingerStdDev, e.cfg.BollingerStdDev, 0)
	if len(upper) == 0 || math.IsNaN(upper[len(upper)-1]) {
		return 0, 0, fmt.Errorf("insufficient data for bollinger bands")
	}
	price := closes[len(closes)-1]
	bandWidth := upper[len(upper)-1] - lower[len(lower)-1]
	bollPosition := 0.5
	if bandWidth > 0 {
		bollPosition = clamp((price-lower[len(lower)-1])/bandWidth, 0, 1)
	}

	// RSI below 50 favors long, above 50 favors short, scaled linearly to a
	// [0,1] strength that is full at RSI 0 (long) or 100 (short).
	rsiLong := clamp((50-lastRSI)/50, 0, 1)
	rsiShort := clamp((lastRSI-50)/50, 0, 1)

	macdLong := clamp(lastHist/price*1000, 0, 1)
	macdShort := clamp(-lastHist/price*1000, 0, 1)

	bollLong := clamp(1-bollPosition, 0, 1) // near lower band favors long
	bollShort := clamp(bollPosition, 0, 1)  // near upper band favors short

	long = (rsiLong + macdLong + bollLong) / 3
	short = (rsiShort + macdShort + bollShort) / 3
	return long, short, nil
}

func (e *Engine) buildSignal(symbol string, dir strategy.Direction, price, strength float64) strategy.CandidateSignal {
	tp, sl := price*(1+e.cfg.TakeProfitPct), price*(1-e.cfg.StopLossPct)
	if dir == strategy.Direction("SHORT") {
		tp, sl = price*(1-e.cfg.TakeProfitPct), price*(1+e.cfg.StopLossPct)
	}
	return strategy.CandidateSignal{
		Symbol:          symbol,
		Direction:       dir,
		EntryPrice:      price,
		TakeProfitPrice: tp,
		StopLossPrice:   sl,
		Confidence:      strength,
		Leverage:        e.cfg.DefaultLeverage,
		StrategyType:    "rsi_macd_bollinger_confluence",
		Source:          "talibengine",
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
