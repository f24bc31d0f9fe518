package broadcaster

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
)

// wireMessage is the envelope every server->client event is wrapped in,
// matching the HTTP sibling payloads plus an event name per spec §6.
type wireMessage struct {
	Event string `json:"event"`
	Key   string `json:"key,omitempty"`
	Data  any    `json:"data"`
}

// controlMessage is a client->server frame: subscribe-updates or
// unsubscribe-updates (spec §6); any other type is ignored.
type controlMessage struct {
	Type string `json:"type"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Dashboard clients are same-origin in this deployment; a stricter
	// origin check belongs to the reverse proxy in front of this process.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscriber struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu             sync.RWMutex
	strategyUpdate bool

	closeOnce sync.Once
}

func newSubscriber(hub *Hub, conn *websocket.Conn) *subscriber {
	return &subscriber{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.cfg.SubscriberBuffer),
	}
}

// wants reports whether this subscriber currently receives the topic.
// default and recommendations go to every connected subscriber;
// strategy-updates requires an explicit subscribe-updates frame.
func (s *subscriber) wants(topic string) bool {
	switch topic {
	case TopicDefault, TopicRecommendations:
		return true
	case TopicStrategyUpdates:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.strategyUpdate
	default:
		return false
	}
}

// deliver enqueues ev for this subscriber without blocking. It reports
// false (and drops the item) if the subscriber's buffer is full, per
// spec §4.6's "per-subscriber send failures ... drop that subscriber's
// pending item without blocking others".
func (s *subscriber) deliver(ev Event) bool {
	payload, err := json.Marshal(wireMessage{Event: ev.Name, Key: ev.Key, Data: ev.Data})
	if err != nil {
		return false
	}

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.send)
		s.conn.Close()
	})
}

// readPump consumes control frames until the connection closes. It never
// carries business logic (spec §4.7): it only toggles this subscriber's
// strategy-updates membership.
func (s *subscriber) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.close()
	}()

	s.conn.SetReadLimit(4096)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "subscribe-updates":
			s.mu.Lock()
			s.strategyUpdate = true
			s.mu.Unlock()
		case "unsubscribe-updates":
			s.mu.Lock()
			s.strategyUpdate = false
			s.mu.Unlock()
		}
	}
}

const writeWait = 10 * time.Second
const pingPeriod = 30 * time.Second

// writePump drains this subscriber's buffered channel onto the socket, one
// connection-owned goroutine as the only writer, per gorilla/websocket's
// concurrency contract.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades an HTTP request to a websocket connection and registers
// a new subscriber with one read-pump and one write-pump goroutine, per
// spec §5's "one coalescing task per ..." style resource model applied to
// connections instead of upstream keys.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	s := newSubscriber(h, conn)
	h.register(s)

	go s.writePump()
	go s.readPump()

	return nil
}
