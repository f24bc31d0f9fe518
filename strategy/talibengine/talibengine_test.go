package talibengine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsestrike/tradeops/clock"
	"github.com/synapsestrike/tradeops/gateway"
)

type syntheticUpstream struct {
	closes []float64
}

func (u *syntheticUpstream) FetchTicker(symbol string) (gateway.Ticker, error) {
	return gateway.Ticker{Symbol: symbol, Price: u.closes[len(u.closes)-1]}, nil
}

func (u *syntheticUpstream) FetchKlines(symbol, interval string, limit int) ([]gateway.Kline, error) {
	klines := make([]gateway.Kline, len(u.closes))
	base := time.Now().Add(-time.Duration(len(u.closes)) * time.Minute)
	for i, c := range u.closes {
		klines[i] = gateway.Kline{OpenTime: base.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return klines, nil
}

func (u *syntheticUpstream) FetchFundingRate(symbol string) (float64, error) { return 0, nil }

func descendingCloses(n int, start, step float64) []float64 {
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = start - float64(i)*step
	}
	return closes
}

func ascendingCloses(n int, start, step float64) []float64 {
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = start + float64(i)*step
	}
	return closes
}

func TestEngine_Evaluate_DowntrendYieldsLongBias(t *testing.T) {
	closes := descendingCloses(60, 200, 0.5) // steadily falling -> oversold RSI, near lower band
	upstream := &syntheticUpstream{closes: closes}
	gw := gateway.New(gateway.DefaultConfig(), upstream, nil, clock.NewFake(time.Now()), zerolog.Nop())

	cfg := DefaultConfig()
	cfg.MinCombinedLong = 0.3
	cfg.MinCombinedShort = 0.3
	engine := New(cfg, gw)

	candidates, err := engine.Evaluate(context.Background(), []string{"BTCUSDT"}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "LONG", string(candidates[0].Direction))
}

func TestEngine_Evaluate_UptrendYieldsShortBias(t *testing.T) {
	closes := ascendingCloses(60, 100, 0.5)
	upstream := &syntheticUpstream{closes: closes}
	gw := gateway.New(gateway.DefaultConfig(), upstream, nil, clock.NewFake(time.Now()), zerolog.Nop())

	cfg := DefaultConfig()
	cfg.MinCombinedLong = 0.3
	cfg.MinCombinedShort = 0.3
	engine := New(cfg, gw)

	candidates, err := engine.Evaluate(context.Background(), []string{"ETHUSDT"}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "SHORT", string(candidates[0].Direction))
}

func TestEngine_Evaluate_InsufficientData_SkipsSymbol(t *testing.T) {
	upstream := &syntheticUpstream{closes: []float64{100, 101, 102}}
	gw := gateway.New(gateway.DefaultConfig(), upstream, nil, clock.NewFake(time.Now()), zerolog.Nop())

	engine := New(DefaultConfig(), gw)
	candidates, err := engine.Evaluate(context.Background(), []string{"BTCUSDT"}, nil)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-5, 0, 1))
	assert.Equal(t, 1.0, clamp(5, 0, 1))
	assert.Equal(t, 0.5, clamp(0.5, 0, 1))
}
