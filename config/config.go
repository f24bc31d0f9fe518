// Package config defines the versioned, typed configuration struct for the
// orchestration service and its partial-update validator. It follows the
// teacher's StrategyConfig/RiskControlConfig JSON-tagged nested-struct
// idiom (store/strategy.go) rather than runtime `(config as any)` lookups.
package config

import (
	"encoding/json"
	"fmt"
)

// Config is the full, non-secret-bearing configuration projection exposed
// by GET /api/config (§6). Every nested struct matches one config key
// family from spec §6.
type Config struct {
	Strategy       StrategyConfig       `json:"strategy"`
	Risk           RiskConfig           `json:"risk"`
	Recommendation RecommendationConfig `json:"recommendation"`
	Realtime       RealtimeConfig       `json:"realtime"`
	Testing        TestingConfig        `json:"testing"`
	Commission     float64              `json:"commission"`
	Slippage       float64              `json:"slippage"`
}

// PerDirection holds a value keyed by trade direction.
type PerDirection struct {
	Long  int64 `json:"LONG"`
	Short int64 `json:"SHORT"`
}

// PerDirectionFloat holds a fractional value keyed by trade direction.
type PerDirectionFloat struct {
	Long  float64 `json:"LONG"`
	Short float64 `json:"SHORT"`
}

// CooldownConfig is strategy.cooldown.{sameDir,opposite}.{LONG,SHORT}.
type CooldownConfig struct {
	SameDir  PerDirection `json:"sameDir"`
	Opposite PerDirection `json:"opposite"`
}

// EntryFiltersConfig is strategy.entryFilters.*.
type EntryFiltersConfig struct {
	MinCombinedStrengthLong  float64 `json:"minCombinedStrengthLong"`
	MinCombinedStrengthShort float64 `json:"minCombinedStrengthShort"`
	RequireMTFAlignment      bool    `json:"requireMTFAlignment"`
	MTFTimeframes            []string `json:"mtfTimeframes,omitempty"`
}

// MarketRegimeConfig is strategy.marketRegime.*.
type MarketRegimeConfig struct {
	AvoidExtremeSentiment bool    `json:"avoidExtremeSentiment"`
	ExtremeSentimentLow   float64 `json:"extremeSentimentLow"`
	ExtremeSentimentHigh  float64 `json:"extremeSentimentHigh"`
	AvoidHighFunding      bool    `json:"avoidHighFunding"`
	HighFundingAbs        float64 `json:"highFundingAbs"`
}

// StrategyConfig is the strategy.* key family (§6).
type StrategyConfig struct {
	SignalThreshold             float64            `json:"signalThreshold"`
	SignalCooldownMs            int64              `json:"signalCooldownMs"`
	OppositeCooldownMs          int64              `json:"oppositeCooldownMs"`
	GlobalMinIntervalMs         int64              `json:"globalMinIntervalMs"`
	MaxManualTriggersPerMin     int                `json:"maxManualTriggersPerMin"`
	DuplicateWindowMinutes      int                `json:"duplicateWindowMinutes"`
	DuplicatePriceBps           float64            `json:"duplicatePriceBps"`
	Cooldown                    CooldownConfig     `json:"cooldown"`
	EntryFilters                EntryFiltersConfig `json:"entryFilters"`
	MarketRegime                MarketRegimeConfig `json:"marketRegime"`
	OppositeMinConfidence       float64            `json:"oppositeMinConfidence"`
	OppositeMinConfidenceByDir  PerDirectionFloat  `json:"oppositeMinConfidenceByDirection"`
	ScanInterval                string             `json:"scanInterval"`
	ScheduleCron                string             `json:"scheduleCron,omitempty"`

	// KronosGateEnabled controls whether data.signal.metadata.kronos is
	// included in GET /api/strategy/analysis responses (§6). Defaults to
	// false: the field is elided unless explicitly turned on.
	KronosGateEnabled bool `json:"kronosGateEnabled"`
}

// RiskConfig is the risk.* key family.
type RiskConfig struct {
	MaxPositionSize        float64 `json:"maxPositionSize"`
	StopLossPercent        float64 `json:"stopLossPercent"`
	MaxSameDirectionActive int     `json:"maxSameDirectionActives"`
	NetExposureCap         float64 `json:"netExposureCaps"`
	HourlyOrderCap         int     `json:"hourlyOrderCaps"`
}

// TrailingConfig is recommendation.trailing.*.
type TrailingConfig struct {
	Enabled              bool    `json:"enabled"`
	ActivateOnBreakeven  bool    `json:"activateOnBreakeven"`
	ActivateProfitPct    float64 `json:"activateProfitPct"`
	Percent              float64 `json:"percent"`
	FlexLooseningPct     float64 `json:"flexLooseningPct"`
	FlexTighteningPct    float64 `json:"flexTighteningPct"`
}

// RecommendationConfig is the recommendation.* key family.
type RecommendationConfig struct {
	MaxHoldingHours        float64        `json:"maxHoldingHours"`
	ConcurrencyCountAgeHrs float64        `json:"concurrencyCountAgeHours"`
	Trailing               TrailingConfig `json:"trailing"`
	EvaluationPeriodMs     int64          `json:"evaluationPeriodMs"`
	PruneAfterHours        float64        `json:"pruneAfterHours"`
}

// RealtimeConfig is the realtime.* key family.
type RealtimeConfig struct {
	DedupeEnabled  bool   `json:"dedupeEnabled"`
	DedupeWindowMs int64  `json:"dedupeWindowMs"`
	JitterEnabled  bool   `json:"jitterEnabled"`
	JitterMaxMs    int64  `json:"jitterMaxMs"`
	SnapshotEnabled bool  `json:"snapshotEnabled"`
	SnapshotDir    string `json:"snapshotDir"`
}

// TestingConfig is the testing.* key family.
type TestingConfig struct {
	AllowPriceOverride     bool  `json:"allowPriceOverride"`
	AllowFGIOverride       bool  `json:"allowFGIOverride"`
	AllowFundingOverride   bool  `json:"allowFundingOverride"`
	PriceDefaultTtlMs      int64 `json:"priceDefaultTtlMs"`
	FGIDefaultTtlMs        int64 `json:"fgiDefaultTtlMs"`
	FundingDefaultTtlMs    int64 `json:"fundingDefaultTtlMs"`
}

// Default returns a complete, internally-consistent configuration, the
// template every partial update is validated and merged against —
// analogous to the teacher's GetDefaultStrategyConfig.
func Default() Config {
	return Config{
		Strategy: StrategyConfig{
			SignalThreshold:         0.6,
			SignalCooldownMs:        30_000,
			OppositeCooldownMs:      60_000,
			GlobalMinIntervalMs:     5_000,
			MaxManualTriggersPerMin: 2,
			DuplicateWindowMinutes:  5,
			DuplicatePriceBps:       25,
			Cooldown: CooldownConfig{
				SameDir:  PerDirection{Long: 30_000, Short: 30_000},
				Opposite: PerDirection{Long: 60_000, Short: 60_000},
			},
			EntryFilters: EntryFiltersConfig{
				MinCombinedStrengthLong:  0.5,
				MinCombinedStrengthShort: 0.5,
			},
			MarketRegime: MarketRegimeConfig{
				ExtremeSentimentLow:  10,
				ExtremeSentimentHigh: 90,
				HighFundingAbs:       0.001,
			},
			OppositeMinConfidence:     0.8,
			OppositeMinConfidenceByDir: PerDirectionFloat{Long: 0.8, Short: 0.8},
			ScanInterval:              "1m",
		},
		Risk: RiskConfig{
			MaxPositionSize:        1000,
			StopLossPercent:        0.02,
			MaxSameDirectionActive: 3,
		},
		Recommendation: RecommendationConfig{
			MaxHoldingHours:        24,
			ConcurrencyCountAgeHrs: 72,
			EvaluationPeriodMs:     5_000,
			PruneAfterHours:        24 * 30,
			Trailing: TrailingConfig{
				Enabled:           false,
				ActivateProfitPct: 0.01,
				Percent:           0.01,
			},
		},
		Realtime: RealtimeConfig{
			DedupeEnabled:   true,
			DedupeWindowMs:  2_000,
			JitterEnabled:   false,
			JitterMaxMs:     500,
			SnapshotEnabled: false,
			SnapshotDir:     "./snapshots",
		},
		Testing: TestingConfig{
			PriceDefaultTtlMs:   60_000,
			FGIDefaultTtlMs:     60_000,
			FundingDefaultTtlMs: 60_000,
		},
		Commission: 0.0004,
		Slippage:   0.0005,
	}
}

// allowedKeys is the §6 allowlist for POST /api/config: top-level keys
// accepted from a partial-update JSON body. Keys outside this set are
// skipped with a warning, never erroring the request.
var allowedKeys = map[string]bool{
	"strategy": true, "risk": true, "recommendation": true,
	"realtime": true, "testing": true, "commission": true, "slippage": true,
}

// ApplyPartial merges a raw JSON partial update into cfg, ignoring
// unknown top-level keys and returning human-readable warnings for any
// value it had to coerce or reject. It never returns an error for a
// malformed-but-parseable key; see §7 "Config update validation".
func ApplyPartial(cfg *Config, raw json.RawMessage) ([]string, error) {
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("invalid config payload: %w", err)
	}

	var warnings []string
	merged := *cfg

	for key, value := range asMap {
		if !allowedKeys[key] {
			warnings = append(warnings, fmt.Sprintf("ignored unknown config key %q", key))
			continue
		}
		switch key {
		case "strategy":
			if err := json.Unmarshal(value, &merged.Strategy); err != nil {
				warnings = append(warnings, fmt.Sprintf("rejected strategy: %v", err))
			}
		case "risk":
			if err := json.Unmarshal(value, &merged.Risk); err != nil {
				warnings = append(warnings, fmt.Sprintf("rejected risk: %v", err))
			}
		case "recommendation":
			if err := json.Unmarshal(value, &merged.Recommendation); err != nil {
				warnings = append(warnings, fmt.Sprintf("rejected recommendation: %v", err))
			}
		case "realtime":
			if err := json.Unmarshal(value, &merged.Realtime); err != nil {
				warnings = append(warnings, fmt.Sprintf("rejected realtime: %v", err))
			}
		case "testing":
			if err := json.Unmarshal(value, &merged.Testing); err != nil {
				warnings = append(warnings, fmt.Sprintf("rejected testing: %v", err))
			}
		case "commission":
			var v float64
			if err := json.Unmarshal(value, &v); err == nil {
				merged.Commission, warnings = normalizeFraction(v, "commission", warnings)
			}
		case "slippage":
			var v float64
			if err := json.Unmarshal(value, &v); err == nil {
				merged.Slippage, warnings = normalizeFraction(v, "slippage", warnings)
			}
		}
	}

	validationWarnings := validate(&merged)
	warnings = append(warnings, validationWarnings...)

	*cfg = merged
	return warnings, nil
}

// normalizeFraction coerces a commission/slippage value ≥1 (interpreted as
// a percent, e.g. 5 meaning 5%) down to a [0,1) fraction, per §6.
func normalizeFraction(v float64, name string, warnings []string) (float64, []string) {
	if v >= 1 {
		normalized := v / 100
		warnings = append(warnings, fmt.Sprintf("%s=%.4g treated as percent, normalized to %.4g", name, v, normalized))
		return normalized, warnings
	}
	return v, warnings
}

// validate runs invariant checks that don't fit a single field's coercion
// and returns warnings for values that were clamped to a safe default.
func validate(cfg *Config) []string {
	var warnings []string

	if cfg.Strategy.MaxManualTriggersPerMin <= 0 {
		warnings = append(warnings, "strategy.maxManualTriggersPerMin must be positive, reset to 1")
		cfg.Strategy.MaxManualTriggersPerMin = 1
	}
	if cfg.Strategy.GlobalMinIntervalMs < 0 {
		warnings = append(warnings, "strategy.globalMinIntervalMs cannot be negative, reset to 0")
		cfg.Strategy.GlobalMinIntervalMs = 0
	}
	if cfg.Strategy.DuplicatePriceBps < 0 {
		warnings = append(warnings, "strategy.duplicatePriceBps cannot be negative, reset to 0")
		cfg.Strategy.DuplicatePriceBps = 0
	}
	if cfg.Recommendation.MaxHoldingHours <= 0 {
		warnings = append(warnings, "recommendation.maxHoldingHours must be positive, reset to 24")
		cfg.Recommendation.MaxHoldingHours = 24
	}
	if cfg.Realtime.DedupeWindowMs < 0 {
		warnings = append(warnings, "realtime.dedupeWindowMs cannot be negative, reset to 0")
		cfg.Realtime.DedupeWindowMs = 0
	}

	return warnings
}
