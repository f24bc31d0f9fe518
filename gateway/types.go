package gateway

import "time"

// Kline is an immutable OHLCV bar, per spec §3. Sequences returned by
// FetchKlines are ordered and monotonically increasing in OpenTime.
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Ticker is a mutable latest-wins snapshot, per spec §3.
type Ticker struct {
	Symbol    string
	Price     float64
	Volume24h float64
	High24h   float64
	Low24h    float64
	Change24h float64
	Timestamp time.Time
}

// Sentiment is the Fear & Greed style market sentiment index.
type Sentiment struct {
	Value          float64
	Classification string
	Source         string
}

// UpstreamClient is the exchange data source the Gateway fetches through.
// A concrete implementation wraps go-binance/v2's futures REST client;
// tests substitute a stub.
type UpstreamClient interface {
	FetchTicker(symbol string) (Ticker, error)
	FetchKlines(symbol, interval string, limit int) ([]Kline, error)
	FetchFundingRate(symbol string) (float64, error)
}

// SentimentProvider is the external Fear & Greed Index data source.
type SentimentProvider interface {
	FetchSentiment() (Sentiment, error)
}
