package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// fearGreedProvider fetches the crypto Fear & Greed Index, a single
// process-global sentiment reading (spec §3's Sentiment type). There is no
// SDK for this in the example corpus, so it is a small hand-rolled HTTP
// client in the teacher's market/api_client.go style (raw net/http,
// context-bound timeout, explicit status handling) rather than a
// third-party dependency — no example repo imports a Fear & Greed client.
type fearGreedProvider struct {
	httpClient *http.Client
	endpoint   string
}

// NewFearGreedProvider constructs the default SentimentProvider, for
// wiring into Gateway from cmd/server.
func NewFearGreedProvider(endpoint string, timeout time.Duration) SentimentProvider {
	return newFearGreedProvider(endpoint, timeout)
}

func newFearGreedProvider(endpoint string, timeout time.Duration) *fearGreedProvider {
	if endpoint == "" {
		endpoint = "https://api.alternative.me/fng/?limit=1&format=json"
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &fearGreedProvider{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
	}
}

type fngResponse struct {
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
	} `json:"data"`
}

func (p *fearGreedProvider) FetchSentiment() (Sentiment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return Sentiment{}, &UpstreamError{Kind: KindUnknown, Err: err}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Sentiment{}, &UpstreamError{Kind: ClassifyHTTP(0, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Sentiment{}, &UpstreamError{Kind: ClassifyHTTP(resp.StatusCode, nil), Err: fmt.Errorf("fear/greed index returned %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sentiment{}, &UpstreamError{Kind: KindNetwork, Err: err}
	}

	var parsed fngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Sentiment{}, &UpstreamError{Kind: KindServerError, Err: err}
	}
	if len(parsed.Data) == 0 {
		return Sentiment{}, &UpstreamError{Kind: KindServerError, Err: fmt.Errorf("empty fear/greed index response")}
	}

	value, _ := strconv.ParseFloat(parsed.Data[0].Value, 64)
	return Sentiment{
		Value:          value,
		Classification: parsed.Data[0].ValueClassification,
		Source:         "alternative.me",
	}, nil
}
