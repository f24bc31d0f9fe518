// Package broadcaster implements the Event Broadcaster (C6): dedupe,
// optional jitter delay, topic fan-out to websocket subscribers, and
// async NDJSON snapshot append, per spec §4.6/§5.
package broadcaster

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/synapsestrike/tradeops/clock"
	"github.com/synapsestrike/tradeops/logging"
	"github.com/synapsestrike/tradeops/metrics"
)

// Topic pools, per spec §4.6: default receives every connected subscriber,
// recommendations is implicitly all (kept distinct so a future gate could
// split it from default without touching callers), strategy-updates is
// opt-in via the subscribe-updates control frame.
const (
	TopicDefault         = "default"
	TopicRecommendations = "recommendations"
	TopicStrategyUpdates = "strategy-updates"
)

// Event is one outbound message: name identifies the wire event
// (recommendation-created, strategy-update, ...), key is the dedupe key
// (symbol+direction, or event-specific), data is the JSON-serializable
// payload.
type Event struct {
	Name string
	Key  string
	Data any
}

// Config carries the realtime.* settings from config.RealtimeConfig,
// translated to Go durations at construction.
type Config struct {
	DedupeEnabled   bool
	DedupeWindow    time.Duration
	JitterEnabled   bool
	JitterMax       time.Duration
	SnapshotEnabled bool
	SnapshotDir     string

	// SubscriberBuffer bounds each subscriber's outbound channel; a full
	// channel means that subscriber is slow and its pending item for this
	// event is dropped rather than blocking the others (spec §4.6/§5).
	SubscriberBuffer int
}

// DefaultConfig mirrors config.Default()'s Realtime section.
func DefaultConfig() Config {
	return Config{
		DedupeEnabled:    true,
		DedupeWindow:     2 * time.Second,
		JitterEnabled:    false,
		JitterMax:        500 * time.Millisecond,
		SnapshotEnabled:  false,
		SnapshotDir:      "./snapshots",
		SubscriberBuffer: 32,
	}
}

// Hub is the broadcaster: it owns the subscriber set and the dedupe
// window table, and fans events out to the topic's current subscribers.
type Hub struct {
	cfg Config
	clk clock.Clock
	log zerolog.Logger

	subMu sync.RWMutex
	subs  map[string]*subscriber

	dedupeMu sync.Mutex
	lastSeen map[string]time.Time

	snapshot *snapshotWriter
}

// NewHub constructs a Hub. With cfg.SnapshotEnabled false no snapshot
// writer is created and the NDJSON append is disabled entirely.
func NewHub(cfg Config, clk clock.Clock, base zerolog.Logger) *Hub {
	if clk == nil {
		clk = clock.System
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 32
	}

	h := &Hub{
		cfg:      cfg,
		clk:      clk,
		log:      logging.Component(base, "broadcaster"),
		subs:     make(map[string]*subscriber),
		lastSeen: make(map[string]time.Time),
	}
	if cfg.SnapshotEnabled {
		h.snapshot = newSnapshotWriter(cfg.SnapshotDir, clk, h.log)
	}
	return h
}

// Close drains subscriber connections and stops the snapshot writer.
func (h *Hub) Close() {
	h.subMu.Lock()
	for _, s := range h.subs {
		s.close()
	}
	h.subs = make(map[string]*subscriber)
	h.subMu.Unlock()

	if h.snapshot != nil {
		h.snapshot.close()
	}
}

// Publish runs the full spec §4.6 pipeline for one event on one topic:
// dedupe check, optional jitter delay, fan-out, async snapshot append.
func (h *Hub) Publish(topic string, ev Event) {
	if h.cfg.DedupeEnabled && h.isDuplicate(ev) {
		metrics.RecordBroadcastDeduped(ev.Name)
		h.log.Debug().Str("event", ev.Name).Str("key", ev.Key).Msg("dropped duplicate broadcast")
		return
	}

	emit := func() {
		h.fanOut(topic, ev)
		if h.snapshot != nil {
			h.snapshot.append(ev)
		}
	}

	if h.cfg.JitterEnabled && h.cfg.JitterMax > 0 {
		delay := time.Duration(rand.Int63n(int64(h.cfg.JitterMax) + 1))
		go func() {
			<-h.clk.After(delay)
			emit()
		}()
		return
	}

	emit()
}

// isDuplicate reports whether ev falls within the dedupe window of the
// last *broadcast* event with the same key (spec §8 scenario 4) — a
// dropped duplicate must not itself reset the window, or a burst of
// duplicates arriving faster than DedupeWindow would keep the window
// sliding forever and never let a later, legitimately-spaced event
// through.
func (h *Hub) isDuplicate(ev Event) bool {
	dedupeKey := ev.Name + "|" + ev.Key

	h.dedupeMu.Lock()
	defer h.dedupeMu.Unlock()

	now := h.clk.Now()
	last, ok := h.lastSeen[dedupeKey]
	if ok && now.Sub(last) < h.cfg.DedupeWindow {
		return true
	}
	h.lastSeen[dedupeKey] = now
	return false
}

func (h *Hub) fanOut(topic string, ev Event) {
	h.subMu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		if s.wants(topic) {
			targets = append(targets, s)
		}
	}
	h.subMu.RUnlock()

	for _, s := range targets {
		if !s.deliver(ev) {
			metrics.RecordBroadcastDropped(ev.Name)
			h.log.Warn().Str("subscriber", s.id).Str("event", ev.Name).Msg("slow subscriber, dropped pending item")
		}
	}
}

func (h *Hub) register(s *subscriber) {
	h.subMu.Lock()
	h.subs[s.id] = s
	n := len(h.subs)
	h.subMu.Unlock()
	metrics.SetSubscribersConnected(n)
}

func (h *Hub) unregister(s *subscriber) {
	h.subMu.Lock()
	delete(h.subs, s.id)
	n := len(h.subs)
	h.subMu.Unlock()
	metrics.SetSubscribersConnected(n)
}

// SubscriberCount reports the number of currently connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	return len(h.subs)
}
