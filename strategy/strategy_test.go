package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsestrike/tradeops/clock"
	"github.com/synapsestrike/tradeops/cooldown"
)

type blockingEngine struct {
	calls   int
	mu      sync.Mutex
	release chan struct{}
	result  []CandidateSignal
}

func (e *blockingEngine) Evaluate(ctx context.Context, symbols []string, progress func(ProgressEvent)) ([]CandidateSignal, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.release != nil {
		<-e.release
	}
	return e.result, nil
}

type recordingSink struct {
	mu         sync.Mutex
	candidates []CandidateSignal
	contexts   []MarketContext
}

func (s *recordingSink) IngestCandidate(ctx context.Context, c CandidateSignal, mctx MarketContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, c)
	s.contexts = append(s.contexts, mctx)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candidates)
}

type stubMarketSource struct {
	sentiment    float64
	funding      float64
	sentimentErr error
}

func (m stubMarketSource) GetSentimentIndex(ctx context.Context) (float64, error) {
	return m.sentiment, m.sentimentErr
}

func (m stubMarketSource) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return m.funding, nil
}

func TestController_TriggerManual_DeliversToSink(t *testing.T) {
	engine := &blockingEngine{result: []CandidateSignal{{Symbol: "BTCUSDT", Direction: "LONG"}}}
	sink := &recordingSink{}
	clk := clock.NewFake(time.Now())

	c := New(Config{Period: 0}, engine, sink, nil, nil, nil, clk, zerolog.Nop())

	result, decision := c.TriggerManual(context.Background())
	require.True(t, decision.Admitted)
	require.NotNil(t, result)
	assert.Len(t, result.Candidates, 1)
	assert.Equal(t, 1, sink.count())
}

func TestController_TriggerManual_DeniedWhileScheduledRunning(t *testing.T) {
	release := make(chan struct{})
	engine := &blockingEngine{release: release}
	sink := &recordingSink{}
	clk := clock.NewFake(time.Now())

	c := New(Config{Period: 0}, engine, sink, nil, nil, nil, clk, zerolog.Nop())

	require.True(t, c.tryAcquire())
	defer c.release()

	_, decision := c.TriggerManual(context.Background())
	assert.False(t, decision.Admitted)
	assert.Equal(t, "scheduled invocation already running", decision.Reason)
	close(release)
}

func TestController_ManualSingleFlight_DeniesConcurrentManualTrigger(t *testing.T) {
	engine := &blockingEngine{result: nil}
	sink := &recordingSink{}
	clk := clock.NewFake(time.Now())
	gate := cooldown.New(cooldown.Config{}, clk, nil)

	c := New(Config{Period: 0}, engine, sink, gate, nil, nil, clk, zerolog.Nop())

	require.True(t, gate.BeginManual())
	_, decision := c.TriggerManual(context.Background())
	assert.False(t, decision.Admitted)
	gate.ReleaseManual()

	_, decision = c.TriggerManual(context.Background())
	assert.True(t, decision.Admitted)
}

func TestController_Getters_ReflectConfigAndRunningState(t *testing.T) {
	release := make(chan struct{})
	engine := &blockingEngine{result: nil, release: release}
	sink := &recordingSink{}
	clk := clock.NewFake(time.Now())

	c := New(Config{Period: 5 * time.Minute, Symbols: []string{"BTCUSDT", "ETHUSDT"}}, engine, sink, nil, nil, nil, clk, zerolog.Nop())

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, c.Symbols())
	assert.Equal(t, 5*time.Minute, c.Period())
	assert.False(t, c.Running())

	require.True(t, c.tryAcquire())
	assert.True(t, c.Running())
	c.release()
	assert.False(t, c.Running())
	close(release)
}

func TestController_Run_InvalidScheduleCronDisablesSchedulingRatherThanPanicking(t *testing.T) {
	engine := &blockingEngine{result: nil}
	sink := &recordingSink{}
	clk := clock.NewFake(time.Now())

	c := New(Config{ScheduleCron: "not a cron expression"}, engine, sink, nil, nil, nil, clk, zerolog.Nop())

	scope := clock.NewRootScope()
	done := make(chan struct{})
	go func() {
		c.Run(scope)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after an invalid cron expression")
	}
	assert.Equal(t, 0, engine.calls)
}

func TestController_Run_PrefersScheduleCronOverPeriod(t *testing.T) {
	engine := &blockingEngine{result: nil}
	sink := &recordingSink{}
	clk := clock.NewFake(time.Now())

	// A valid cron expression with Period also set: Run must take the
	// cron branch (and thus block on scope.Done(), never touching the
	// ticker path) rather than racing both schedules.
	c := New(Config{Period: time.Millisecond, ScheduleCron: "0 0 1 1 *"}, engine, sink, nil, nil, nil, clk, zerolog.Nop())

	scope := clock.NewRootScope()
	done := make(chan struct{})
	go func() {
		c.Run(scope)
		close(done)
	}()

	scope.Cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after scope cancellation")
	}
}

func TestController_TriggerManual_FetchesMarketContextPerCandidate(t *testing.T) {
	engine := &blockingEngine{result: []CandidateSignal{{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"}}}
	sink := &recordingSink{}
	clk := clock.NewFake(time.Now())
	market := stubMarketSource{sentiment: 72.5, funding: 0.0004}

	c := New(Config{Period: 0}, engine, sink, nil, market, nil, clk, zerolog.Nop())

	_, decision := c.TriggerManual(context.Background())
	require.True(t, decision.Admitted)

	require.Len(t, sink.contexts, 2)
	for _, mctx := range sink.contexts {
		assert.True(t, mctx.Valid)
		assert.Equal(t, 72.5, mctx.Sentiment)
		assert.Equal(t, 0.0004, mctx.FundingRate)
	}
}

func TestController_TriggerManual_InvalidMarketContextOnFetchError(t *testing.T) {
	engine := &blockingEngine{result: []CandidateSignal{{Symbol: "BTCUSDT"}}}
	sink := &recordingSink{}
	clk := clock.NewFake(time.Now())
	market := stubMarketSource{sentimentErr: assert.AnError}

	c := New(Config{Period: 0}, engine, sink, nil, market, nil, clk, zerolog.Nop())

	_, decision := c.TriggerManual(context.Background())
	require.True(t, decision.Admitted)

	require.Len(t, sink.contexts, 1)
	assert.False(t, sink.contexts[0].Valid)
}

func TestController_TriggerManual_InvalidMarketContextWhenSourceNil(t *testing.T) {
	engine := &blockingEngine{result: []CandidateSignal{{Symbol: "BTCUSDT"}}}
	sink := &recordingSink{}
	clk := clock.NewFake(time.Now())

	c := New(Config{Period: 0}, engine, sink, nil, nil, nil, clk, zerolog.Nop())

	_, decision := c.TriggerManual(context.Background())
	require.True(t, decision.Admitted)

	require.Len(t, sink.contexts, 1)
	assert.False(t, sink.contexts[0].Valid)
}
