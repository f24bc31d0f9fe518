package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// BinanceClient fetches ticker/kline/funding data from Binance USDⓈ-M
// futures. It is the one concrete UpstreamClient wired for this service
// (spec §1: "ingests market data ... from an exchange" — singular); a
// second exchange implementation would satisfy the same interface without
// touching the Gateway.
type BinanceClient struct {
	client  *futures.Client
	timeout time.Duration
}

// NewBinanceClient builds a client against Binance futures. apiKey/secret
// may be empty; klines/ticker/funding-rate endpoints are public.
func NewBinanceClient(apiKey, secretKey string, timeout time.Duration) *BinanceClient {
	if timeout <= 0 {
		timeout = 12 * time.Second // spec §5: "Timeouts are mandatory on all upstream calls (default 12s)"
	}
	return &BinanceClient{
		client:  futures.NewClient(apiKey, secretKey),
		timeout: timeout,
	}
}

func (b *BinanceClient) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

// FetchTicker retrieves the live 24h ticker statistics for symbol.
func (b *BinanceClient) FetchTicker(symbol string) (Ticker, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	stats, err := b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return Ticker{}, classifyAndWrap(err)
	}
	if len(stats) == 0 {
		return Ticker{}, &UpstreamError{Kind: KindServerError, Err: fmt.Errorf("no ticker stats for %s", symbol)}
	}

	s := stats[0]
	price, _ := strconv.ParseFloat(s.LastPrice, 64)
	volume, _ := strconv.ParseFloat(s.Volume, 64)
	high, _ := strconv.ParseFloat(s.HighPrice, 64)
	low, _ := strconv.ParseFloat(s.LowPrice, 64)
	change, _ := strconv.ParseFloat(s.PriceChangePercent, 64)

	return Ticker{
		Symbol:    symbol,
		Price:     price,
		Volume24h: volume,
		High24h:   high,
		Low24h:    low,
		Change24h: change,
		Timestamp: time.Now(),
	}, nil
}

// FetchKlines retrieves the most recent limit klines for (symbol, interval).
func (b *BinanceClient) FetchKlines(symbol, interval string, limit int) ([]Kline, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	raw, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classifyAndWrap(err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, k := range raw {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		close_, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		klines = append(klines, Kline{
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close_,
			Volume:    volume,
			CloseTime: time.UnixMilli(k.CloseTime),
		})
	}
	return klines, nil
}

// FetchFundingRate retrieves the current premium-index funding rate.
func (b *BinanceClient) FetchFundingRate(symbol string) (float64, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	idx, err := b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, classifyAndWrap(err)
	}
	if len(idx) == 0 {
		return 0, &UpstreamError{Kind: KindServerError, Err: fmt.Errorf("no premium index for %s", symbol)}
	}

	rate, _ := strconv.ParseFloat(idx[0].LastFundingRate, 64)
	return rate, nil
}

// classifyAndWrap buckets a go-binance APIError (or plain transport error)
// into the gateway's ErrorKind taxonomy.
func classifyAndWrap(err error) error {
	if apiErr, ok := err.(*futures.APIError); ok {
		kind := ClassifyHTTP(int(apiErr.Code), nil)
		if apiErr.Code == -1021 || apiErr.Code == -1003 {
			kind = KindRateLimit
		}
		return &UpstreamError{Kind: kind, Err: apiErr}
	}
	return &UpstreamError{Kind: ClassifyHTTP(0, err), Err: err}
}
