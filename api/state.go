package api

import (
	"sync"

	"github.com/synapsestrike/tradeops/strategy"
)

// strategyState holds the latest invocation result and progress snapshot
// for the polling endpoints (spec §6's GET /api/strategy/analysis and
// GET /api/strategy/progress), mirroring what the websocket side already
// gets pushed through the broadcaster. strategy.Controller has no
// "last result" getter of its own; this is the adapter-side cache C7
// needs to serve a GET without re-running an invocation.
type strategyState struct {
	mu           sync.RWMutex
	lastResult   *strategy.Result
	lastProgress strategy.ProgressEvent
	hasProgress  bool
}

func newStrategyState() *strategyState {
	return &strategyState{}
}

// OnResult is wired into strategy.Controller.SetOnResult.
func (s *strategyState) OnResult(r *strategy.Result) {
	s.mu.Lock()
	s.lastResult = r
	s.mu.Unlock()
}

// Progress implements strategy.ProgressSink so it can sit alongside the
// broadcaster in a fan-out wrapper.
func (s *strategyState) Progress(ev strategy.ProgressEvent) {
	s.mu.Lock()
	s.lastProgress = ev
	s.hasProgress = true
	s.mu.Unlock()
}

func (s *strategyState) LastResult() *strategy.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

func (s *strategyState) LastProgress() (strategy.ProgressEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastProgress, s.hasProgress
}

// fanOutProgress broadcasts one ProgressEvent to every registered sink,
// used so the broadcaster and the HTTP polling cache both observe every
// tick without strategy.Controller needing to know about either.
type fanOutProgress []strategy.ProgressSink

func (f fanOutProgress) Progress(ev strategy.ProgressEvent) {
	for _, sink := range f {
		sink.Progress(ev)
	}
}
