package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/culturaltourmate/tourmate/pkg/turn"
)

// Event types pushed to websocket clients.
const (
	EventConnected  = "connected"
	EventState      = "state"
	EventAttachment = "attachment"
	EventReset      = "reset"
	EventLanguage   = "language"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// Event is one message on the session event stream. State events carry
// only the new state; the others carry a session view.
type Event struct {
	Type    string       `json:"type"`
	State   string       `json:"state,omitempty"`
	Session *sessionView `json:"session,omitempty"`
	Time    time.Time    `json:"time"`
}

// Hub fans session events out to websocket clients. Slow clients lose
// events rather than block the publisher.
type Hub struct {
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[*eventConn]struct{}
	closed bool
}

type eventConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (ec *eventConn) close() {
	ec.once.Do(func() {
		close(ec.done)
		_ = ec.conn.Close()
	})
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*eventConn]struct{}),
	}
}

// StateHook returns a controller state hook that publishes every
// transition. It never blocks.
func (h *Hub) StateHook() func(turn.State) {
	return func(s turn.State) {
		h.Publish(Event{Type: EventState, State: s.String()})
	}
}

// Publish sends ev to every connected client. A nil hub drops it.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ec := range h.conns {
		select {
		case ec.send <- data:
		default:
			log.Warn().Str("type", ev.Type).Msg("Event buffer full, dropping event")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeWS upgrades the request, sends hello as the first message and
// streams events until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, hello Event) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	ec := &eventConn{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	if hello.Time.IsZero() {
		hello.Time = time.Now().UTC()
	}
	if data, err := json.Marshal(hello); err == nil {
		ec.send <- data
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ec.close()
		return
	}
	h.conns[ec] = struct{}{}
	h.mu.Unlock()

	log.Debug().Int("clients", h.Clients()).Msg("Event client connected")

	go h.writePump(ec)
	h.readPump(ec)
}

// readPump only watches for close and pong frames; clients send nothing.
func (h *Hub) readPump(ec *eventConn) {
	defer h.remove(ec)

	ec.conn.SetReadLimit(512)
	_ = ec.conn.SetReadDeadline(time.Now().Add(pongWait))
	ec.conn.SetPongHandler(func(string) error {
		return ec.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ec.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Event client read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(ec *eventConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ec.done:
			return
		case msg := <-ec.send:
			_ = ec.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ec.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(ec)
				return
			}
		case <-ticker.C:
			_ = ec.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ec.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(ec)
				return
			}
		}
	}
}

func (h *Hub) remove(ec *eventConn) {
	h.mu.Lock()
	delete(h.conns, ec)
	h.mu.Unlock()
	ec.close()
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ec := range h.conns {
		ec.close()
		delete(h.conns, ec)
	}
}
