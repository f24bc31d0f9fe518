package gateway

import (
	"sync"
	"time"

	"github.com/synapsestrike/tradeops/clock"
)

// override is one process-wide injected test value: read-through wins over
// any live value while it has not expired. Overrides are atomic references
// keyed by symbol (or a fixed key for process-global values like
// sentiment), per spec §5's shared-resource policy.
type override struct {
	value     float64
	expiresAt time.Time
}

// overrideStore holds price/funding overrides (keyed by symbol) and the
// single sentiment override (process-global).
type overrideStore struct {
	mu        sync.RWMutex
	price     map[string]override
	funding   map[string]override
	sentiment *override

	clk clock.Clock
}

func newOverrideStore(clk clock.Clock) *overrideStore {
	return &overrideStore{
		price:   make(map[string]override),
		funding: make(map[string]override),
		clk:     clk,
	}
}

func (s *overrideStore) setPrice(symbol string, price float64, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price[symbol] = override{value: price, expiresAt: s.clk.Now().Add(ttl)}
}

func (s *overrideStore) clearPrice(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if symbol == "" {
		s.price = make(map[string]override)
		return
	}
	delete(s.price, symbol)
}

func (s *overrideStore) getPrice(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.price[symbol]
	if !ok || s.clk.Now().After(o.expiresAt) {
		return 0, false
	}
	return o.value, true
}

func (s *overrideStore) setFunding(symbol string, rate float64, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funding[symbol] = override{value: rate, expiresAt: s.clk.Now().Add(ttl)}
}

func (s *overrideStore) clearFunding(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if symbol == "" {
		s.funding = make(map[string]override)
		return
	}
	delete(s.funding, symbol)
}

func (s *overrideStore) getFunding(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.funding[symbol]
	if !ok || s.clk.Now().After(o.expiresAt) {
		return 0, false
	}
	return o.value, true
}

func (s *overrideStore) setSentiment(value float64, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := override{value: value, expiresAt: s.clk.Now().Add(ttl)}
	s.sentiment = &o
}

func (s *overrideStore) clearSentiment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentiment = nil
}

func (s *overrideStore) getSentiment() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sentiment == nil || s.clk.Now().After(s.sentiment.expiresAt) {
		return 0, false
	}
	return s.sentiment.value, true
}
