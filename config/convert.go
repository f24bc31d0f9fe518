package config

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/synapsestrike/tradeops/cooldown"
)

// CooldownConfig translates the strategy.* admission parameters into
// cooldown.Config, the shape C3 actually consumes. Kept here rather than
// in cooldown itself so cooldown has no dependency on config's JSON-tag
// concerns (mirrors the comment on cooldown.Config).
func (c Config) CooldownConfig() cooldown.Config {
	return cooldown.Config{
		GlobalMinInterval: time.Duration(c.Strategy.GlobalMinIntervalMs) * time.Millisecond,
		SameDirCooldown: map[cooldown.Direction]time.Duration{
			cooldown.Long:  time.Duration(c.Strategy.Cooldown.SameDir.Long) * time.Millisecond,
			cooldown.Short: time.Duration(c.Strategy.Cooldown.SameDir.Short) * time.Millisecond,
		},
		OppositeCooldown: map[cooldown.Direction]time.Duration{
			cooldown.Long:  time.Duration(c.Strategy.Cooldown.Opposite.Long) * time.Millisecond,
			cooldown.Short: time.Duration(c.Strategy.Cooldown.Opposite.Short) * time.Millisecond,
		},
		OppositeMinConfidence: map[cooldown.Direction]float64{
			cooldown.Long:  c.Strategy.OppositeMinConfidenceByDir.Long,
			cooldown.Short: c.Strategy.OppositeMinConfidenceByDir.Short,
		},
		MaxManualTriggersPerMin: int64(c.Strategy.MaxManualTriggersPerMin),
		DuplicateWindow:         time.Duration(c.Strategy.DuplicateWindowMinutes) * time.Minute,
		DuplicatePriceBps:       decimal.NewFromFloat(c.Strategy.DuplicatePriceBps),
	}
}

// ScanPeriod parses strategy.scanInterval (e.g. "1m") into a Duration,
// falling back to 1 minute on an empty or malformed value.
func (c Config) ScanPeriod() time.Duration {
	d, err := time.ParseDuration(c.Strategy.ScanInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// EvaluationPeriod parses recommendation.evaluationPeriodMs into a
// Duration, falling back to 5s.
func (c Config) EvaluationPeriod() time.Duration {
	if c.Recommendation.EvaluationPeriodMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Recommendation.EvaluationPeriodMs) * time.Millisecond
}

// PruneAfter parses recommendation.pruneAfterHours into a Duration.
func (c Config) PruneAfter() time.Duration {
	if c.Recommendation.PruneAfterHours <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.Recommendation.PruneAfterHours * float64(time.Hour))
}

// RealtimeHubConfig translates realtime.* into broadcaster.Config.
// Returned as a plain struct (not broadcaster.Config directly) so config
// never imports broadcaster; cmd/server assembles the two by field name.
type RealtimeHubConfig struct {
	DedupeEnabled   bool
	DedupeWindow    time.Duration
	JitterEnabled   bool
	JitterMax       time.Duration
	SnapshotEnabled bool
	SnapshotDir     string
}

func (c Config) RealtimeHub() RealtimeHubConfig {
	return RealtimeHubConfig{
		DedupeEnabled:   c.Realtime.DedupeEnabled,
		DedupeWindow:    time.Duration(c.Realtime.DedupeWindowMs) * time.Millisecond,
		JitterEnabled:   c.Realtime.JitterEnabled,
		JitterMax:       time.Duration(c.Realtime.JitterMaxMs) * time.Millisecond,
		SnapshotEnabled: c.Realtime.SnapshotEnabled,
		SnapshotDir:     c.Realtime.SnapshotDir,
	}
}
