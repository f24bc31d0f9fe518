package broadcaster

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsestrike/tradeops/clock"
)

func newTestServer(t *testing.T, cfg Config, clk clock.Clock) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(cfg, clk, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, hub.ServeWS(w, r))
	}))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return hub, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_DefaultTopic_DeliversToEveryConnectedSubscriber(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DedupeEnabled = false
	hub, srv := newTestServer(t, cfg, clock.NewFake(time.Now()))

	conn := dialWS(t, srv)
	waitForSubscriber(t, hub)

	hub.Publish(TopicDefault, Event{Name: "alert", Data: alertPayload{Level: "info", Message: "hello"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"event":"alert"`)
}

func TestHub_StrategyUpdatesTopic_RequiresSubscription(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DedupeEnabled = false
	hub, srv := newTestServer(t, cfg, clock.NewFake(time.Now()))

	conn := dialWS(t, srv)
	waitForSubscriber(t, hub)

	// Not subscribed yet: strategy-updates must not arrive.
	hub.Publish(TopicStrategyUpdates, Event{Name: "analysis-progress", Data: "x"})

	require.NoError(t, conn.WriteJSON(controlMessage{Type: "subscribe-updates"}))
	time.Sleep(20 * time.Millisecond)

	hub.Publish(TopicStrategyUpdates, Event{Name: "analysis-progress", Data: "y"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"data":"y"`)
}

func TestHub_Dedupe_DropsWithinWindow(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cfg := DefaultConfig()
	cfg.DedupeEnabled = true
	cfg.DedupeWindow = time.Second
	hub, srv := newTestServer(t, cfg, clk)

	conn := dialWS(t, srv)
	waitForSubscriber(t, hub)

	hub.Publish(TopicDefault, Event{Name: "alert", Key: "BTCUSDT|LONG", Data: "first"})
	hub.Publish(TopicDefault, Event{Name: "alert", Key: "BTCUSDT|LONG", Data: "second"})

	clk.Advance(2 * time.Second)
	hub.Publish(TopicDefault, Event{Name: "alert", Key: "BTCUSDT|LONG", Data: "third"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(first), `"first"`)

	_, second, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(second), `"third"`)
}

func TestHub_Dedupe_WindowAnchorsToLastBroadcastNotLastAttempt(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cfg := DefaultConfig()
	cfg.DedupeEnabled = true
	cfg.DedupeWindow = time.Second
	hub, srv := newTestServer(t, cfg, clk)

	conn := dialWS(t, srv)
	waitForSubscriber(t, hub)

	hub.Publish(TopicDefault, Event{Name: "alert", Key: "BTCUSDT|LONG", Data: "first"})

	clk.Advance(800 * time.Millisecond)
	hub.Publish(TopicDefault, Event{Name: "alert", Key: "BTCUSDT|LONG", Data: "dropped"})

	clk.Advance(400 * time.Millisecond)
	hub.Publish(TopicDefault, Event{Name: "alert", Key: "BTCUSDT|LONG", Data: "third"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(first), `"first"`)

	_, second, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(second), `"third"`)
}

func TestHub_SlowSubscriber_DropsWithoutBlockingOthers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DedupeEnabled = false
	cfg.SubscriberBuffer = 1
	hub := NewHub(cfg, clock.NewFake(time.Now()), zerolog.Nop())

	slow := newSubscriber(hub, nil)
	hub.register(slow)

	assert.True(t, slow.deliver(Event{Name: "a"}))
	assert.False(t, slow.deliver(Event{Name: "b"}), "buffer is full, second delivery must report dropped")
}

func waitForSubscriber(t *testing.T, hub *Hub) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for subscriber registration")
}
