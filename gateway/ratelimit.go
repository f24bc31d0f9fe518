package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/synapsestrike/tradeops/metrics"
)

// endpointGuard pairs a token-bucket limiter with a circuit breaker for one
// upstream endpoint class (ticker/klines/funding/sentiment), per spec §5:
// each upstream call is independently rate-limited and trips its own
// breaker rather than sharing fate with unrelated endpoints.
type endpointGuard struct {
	name    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// guardSet holds one endpointGuard per upstream call kind.
type guardSet struct {
	mu     sync.Mutex
	guards map[string]*endpointGuard
	rps    float64
	burst  int
}

func newGuardSet(rps float64, burst int) *guardSet {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &guardSet{guards: make(map[string]*endpointGuard), rps: rps, burst: burst}
}

func (g *guardSet) guard(name string) *endpointGuard {
	g.mu.Lock()
	defer g.mu.Unlock()

	if eg, ok := g.guards[name]; ok {
		return eg
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	eg := &endpointGuard{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(g.rps), g.burst),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
	g.guards[name] = eg
	return eg
}

// callWithGuard rate-limits, circuit-breaks, and retries fn with
// exponential backoff + jitter. Only retryable error kinds (per
// ErrorKind.Retryable) are retried; the breaker's own "open" rejection is
// returned immediately without consuming a retry.
func callWithGuard(ctx context.Context, eg *endpointGuard, maxRetries int, fn func() (any, error)) (any, error) {
	if err := eg.limiter.Wait(ctx); err != nil {
		return nil, &UpstreamError{Kind: KindTimeout, Err: err}
	}

	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := eg.breaker.Execute(func() (interface{}, error) {
			return fn()
		})
		metrics.SetCircuitState(eg.name, float64(eg.breaker.State()))
		if err == nil {
			return result, nil
		}

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &UpstreamError{Kind: KindServerError, Err: err}
		}

		lastErr = err
		kind := KindUnknown
		var upErr *UpstreamError
		if asUpstreamError(err, &upErr) {
			kind = upErr.Kind
		}
		if !kind.Retryable() || attempt == maxRetries {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(backoff)))
		sleep := backoff/2 + jitter
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, &UpstreamError{Kind: KindTimeout, Err: ctx.Err()}
		}
		backoff *= 2
	}

	return nil, lastErr
}

func asUpstreamError(err error, target **UpstreamError) bool {
	if ue, ok := err.(*UpstreamError); ok {
		*target = ue
		return true
	}
	return false
}
