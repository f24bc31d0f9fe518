package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/synapsestrike/tradeops/clock"
	"github.com/synapsestrike/tradeops/logging"
	"github.com/synapsestrike/tradeops/metrics"
)

// Config configures a Gateway instance, per spec §4.2.
type Config struct {
	TickerTTL    time.Duration
	KlineTTL     time.Duration
	FundingTTL   time.Duration
	SentimentTTL time.Duration

	OverridePriceTTL     time.Duration
	OverrideFundingTTL   time.Duration
	OverrideSentimentTTL time.Duration

	CacheCapacity int
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
}

// DefaultConfig returns sane defaults per spec §5/§6.
func DefaultConfig() Config {
	return Config{
		TickerTTL:            2 * time.Second,
		KlineTTL:             5 * time.Second,
		FundingTTL:           30 * time.Second,
		SentimentTTL:         5 * time.Minute,
		OverridePriceTTL:     5 * time.Minute,
		OverrideFundingTTL:   5 * time.Minute,
		OverrideSentimentTTL: 5 * time.Minute,
		CacheCapacity:        2048,
		RequestsPerSecond:    5,
		Burst:                10,
		MaxRetries:           2,
	}
}

// Gateway is the Market Data Gateway (C2): a read-through cache with
// single-flight coalescing, per-endpoint rate limiting and circuit
// breaking, and process-wide test overrides, in front of an exchange
// UpstreamClient and a SentimentProvider.
type Gateway struct {
	cfg Config

	upstream  UpstreamClient
	sentiment SentimentProvider

	cache     *ttlLRUCache
	overrides *overrideStore
	guards    *guardSet

	clk clock.Clock
	log zerolog.Logger
}

// New constructs a Gateway. Pass nil for sentiment to disable the
// sentiment index endpoint (it returns KindServerError on every call).
func New(cfg Config, upstream UpstreamClient, sentiment SentimentProvider, clk clock.Clock, base zerolog.Logger) *Gateway {
	if clk == nil {
		clk = clock.System
	}
	return &Gateway{
		cfg:       cfg,
		upstream:  upstream,
		sentiment: sentiment,
		cache:     newTTLLRUCache(cfg.CacheCapacity, clk),
		overrides: newOverrideStore(clk),
		guards:    newGuardSet(cfg.RequestsPerSecond, cfg.Burst),
		clk:       clk,
		log:       logging.Component(base, "gateway"),
	}
}

// syntheticTickerInterval is the kline interval GetTicker's degraded path
// derives a synthetic ticker from (spec §4.2: "if the upstream call fails
// and a fresh kline cache exists, a synthetic ticker is constructed from
// the most recent close").
const syntheticTickerInterval = "1m"

// GetTicker returns the latest ticker for symbol, serving from cache when
// fresh, coalescing concurrent misses, and preferring any active price
// override. On upstream failure it degrades in two tiers: first a
// synthetic ticker built from the most recent fresh kline close, then a
// stale ticker cache entry, per spec §4.2.
func (g *Gateway) GetTicker(ctx context.Context, symbol string) (Ticker, error) {
	if price, ok := g.overrides.getPrice(symbol); ok {
		t, _, found := g.cache.getStale(tickerKey(symbol))
		tk := Ticker{Symbol: symbol, Timestamp: g.clk.Now()}
		if found {
			tk = t.(Ticker)
		}
		tk.Price = price
		tk.Symbol = symbol
		tk.Timestamp = g.clk.Now()
		return tk, nil
	}

	key := tickerKey(symbol)
	if cached, ok := g.cache.get(key); ok {
		metrics.RecordCacheHit("ticker")
		return cached.(Ticker), nil
	}
	metrics.RecordCacheMiss("ticker")

	result, err := g.cache.singleFlight(key, func() (any, error) {
		v, err := callWithGuard(ctx, g.guards.guard("ticker"), g.cfg.MaxRetries, func() (any, error) {
			return g.upstream.FetchTicker(symbol)
		})
		if err != nil {
			metrics.RecordUpstreamError("ticker", classifyErrKind(err))
			if synthetic, ok := g.syntheticTickerFromKlineClose(symbol); ok {
				g.log.Warn().Str("symbol", symbol).Err(err).Msg("serving kline-close synthetic ticker after upstream failure")
				return synthetic, nil
			}
			if stale, fresh, found := g.cache.getStale(key); found && !fresh {
				g.log.Warn().Str("symbol", symbol).Err(err).Msg("serving stale ticker after upstream failure")
				return stale, nil
			}
			return nil, err
		}
		g.cache.set(key, v, g.cfg.TickerTTL)
		return v, nil
	})
	if err != nil {
		return Ticker{}, err
	}
	return result.(Ticker), nil
}

// syntheticTickerFromKlineClose builds a Ticker from the most recent
// fresh kline close cached for symbol, the first of GetTicker's two
// degradation tiers (spec §4.2). ok is false when no fresh kline close is
// cached, in which case the caller falls through to the stale-ticker tier.
func (g *Gateway) syntheticTickerFromKlineClose(symbol string) (Ticker, bool) {
	cached, ok := g.cache.get(lastCloseKey(symbol, syntheticTickerInterval))
	if !ok {
		return Ticker{}, false
	}
	k := cached.(Kline)
	return Ticker{
		Symbol:    symbol,
		Price:     k.Close,
		Timestamp: g.clk.Now(),
	}, true
}

// GetKlines returns the most recent limit klines for (symbol, interval).
// Every successful return also refreshes the (symbol, interval) last-close
// entry GetTicker's synthetic-ticker fallback reads, independent of the
// requested limit.
func (g *Gateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	key := klineKey(symbol, interval, limit)
	if cached, ok := g.cache.get(key); ok {
		metrics.RecordCacheHit("klines")
		klines := cached.([]Kline)
		g.rememberLastClose(symbol, interval, klines)
		return klines, nil
	}
	metrics.RecordCacheMiss("klines")

	result, err := g.cache.singleFlight(key, func() (any, error) {
		v, err := callWithGuard(ctx, g.guards.guard("klines"), g.cfg.MaxRetries, func() (any, error) {
			return g.upstream.FetchKlines(symbol, interval, limit)
		})
		if err != nil {
			metrics.RecordUpstreamError("klines", classifyErrKind(err))
			if stale, fresh, found := g.cache.getStale(key); found && !fresh {
				g.log.Warn().Str("symbol", symbol).Err(err).Msg("serving stale klines after upstream failure")
				return stale, nil
			}
			return nil, err
		}
		g.cache.set(key, v, g.cfg.KlineTTL)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	klines := result.([]Kline)
	g.rememberLastClose(symbol, interval, klines)
	return klines, nil
}

// rememberLastClose caches the most recent kline's close under a
// limit-independent key, so GetTicker's synthetic fallback can find it
// regardless of what limit the original GetKlines call used.
func (g *Gateway) rememberLastClose(symbol, interval string, klines []Kline) {
	if len(klines) == 0 {
		return
	}
	g.cache.set(lastCloseKey(symbol, interval), klines[len(klines)-1], g.cfg.KlineTTL)
}

// GetFundingRate returns the current funding rate for symbol, preferring an
// active override.
func (g *Gateway) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	if rate, ok := g.overrides.getFunding(symbol); ok {
		return rate, nil
	}

	key := fundingKey(symbol)
	if cached, ok := g.cache.get(key); ok {
		metrics.RecordCacheHit("funding")
		return cached.(float64), nil
	}
	metrics.RecordCacheMiss("funding")

	result, err := g.cache.singleFlight(key, func() (any, error) {
		v, err := callWithGuard(ctx, g.guards.guard("funding"), g.cfg.MaxRetries, func() (any, error) {
			return g.upstream.FetchFundingRate(symbol)
		})
		if err != nil {
			metrics.RecordUpstreamError("funding", classifyErrKind(err))
			if stale, fresh, found := g.cache.getStale(key); found && !fresh {
				g.log.Warn().Str("symbol", symbol).Err(err).Msg("serving stale funding rate after upstream failure")
				return stale, nil
			}
			return nil, err
		}
		g.cache.set(key, v, g.cfg.FundingTTL)
		return v, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}

// GetSentimentIndex returns the current Fear & Greed style sentiment
// reading, preferring an active override.
func (g *Gateway) GetSentimentIndex(ctx context.Context) (Sentiment, error) {
	if value, ok := g.overrides.getSentiment(); ok {
		return Sentiment{Value: value, Classification: classify(value), Source: "override"}, nil
	}
	if g.sentiment == nil {
		return Sentiment{}, &UpstreamError{Kind: KindServerError, Err: fmt.Errorf("no sentiment provider configured")}
	}

	key := "sentiment"
	if cached, ok := g.cache.get(key); ok {
		metrics.RecordCacheHit("sentiment")
		return cached.(Sentiment), nil
	}
	metrics.RecordCacheMiss("sentiment")

	result, err := g.cache.singleFlight(key, func() (any, error) {
		v, err := callWithGuard(ctx, g.guards.guard("sentiment"), g.cfg.MaxRetries, func() (any, error) {
			return g.sentiment.FetchSentiment()
		})
		if err != nil {
			metrics.RecordUpstreamError("sentiment", classifyErrKind(err))
			if stale, fresh, found := g.cache.getStale(key); found && !fresh {
				g.log.Warn().Err(err).Msg("serving stale sentiment after upstream failure")
				return stale, nil
			}
			return nil, err
		}
		g.cache.set(key, v, g.cfg.SentimentTTL)
		return v, nil
	})
	if err != nil {
		return Sentiment{}, err
	}
	return result.(Sentiment), nil
}

// SetPriceOverride injects a test price for symbol, superseding live ticker
// data until it expires. A non-positive ttl falls back to the configured
// default (spec §4.2).
func (g *Gateway) SetPriceOverride(symbol string, price float64, ttl time.Duration) {
	if ttl <= 0 {
		ttl = g.cfg.OverridePriceTTL
	}
	g.overrides.setPrice(symbol, price, ttl)
}

// ClearPriceOverride removes a price override. An empty symbol clears all.
func (g *Gateway) ClearPriceOverride(symbol string) { g.overrides.clearPrice(symbol) }

// SetFundingOverride injects a test funding rate for symbol. A non-positive
// ttl falls back to the configured default.
func (g *Gateway) SetFundingOverride(symbol string, rate float64, ttl time.Duration) {
	if ttl <= 0 {
		ttl = g.cfg.OverrideFundingTTL
	}
	g.overrides.setFunding(symbol, rate, ttl)
}

// ClearFundingOverride removes a funding override. An empty symbol clears all.
func (g *Gateway) ClearFundingOverride(symbol string) { g.overrides.clearFunding(symbol) }

// SetSentimentOverride injects a test sentiment value. A non-positive ttl
// falls back to the configured default.
func (g *Gateway) SetSentimentOverride(value float64, ttl time.Duration) {
	if ttl <= 0 {
		ttl = g.cfg.OverrideSentimentTTL
	}
	g.overrides.setSentiment(value, ttl)
}

// ClearSentimentOverride removes the sentiment override.
func (g *Gateway) ClearSentimentOverride() { g.overrides.clearSentiment() }

func classifyErrKind(err error) string {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind.String()
	}
	return KindUnknown.String()
}

func tickerKey(symbol string) string                    { return "ticker:" + symbol }
func fundingKey(symbol string) string                   { return "funding:" + symbol }
func klineKey(symbol, interval string, limit int) string { return fmt.Sprintf("klines:%s:%s:%d", symbol, interval, limit) }
func lastCloseKey(symbol, interval string) string       { return "lastclose:" + symbol + ":" + interval }

func classify(value float64) string {
	switch {
	case value < 25:
		return "Extreme Fear"
	case value < 45:
		return "Fear"
	case value < 55:
		return "Neutral"
	case value < 75:
		return "Greed"
	default:
		return "Extreme Greed"
	}
}
