package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyntra-dev/cyntra/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream is read-only telemetry fan-out, not a browser form post;
	// any origin that can reach the bind address may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const streamClientSendBuffer = 64

// streamHub fans telemetry events out to every connected /stream client.
// A slow client is dropped rather than allowed to block the broadcaster.
type streamHub struct {
	mu      sync.Mutex
	clients map[chan telemetry.Event]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{clients: make(map[chan telemetry.Event]struct{})}
}

func (h *streamHub) subscribe() chan telemetry.Event {
	ch := make(chan telemetry.Event, streamClientSendBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *streamHub) unsubscribe(ch chan telemetry.Event) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *streamHub) broadcast(event telemetry.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop the event for it rather than stall
			// every other subscriber.
		}
	}
}

func (h *streamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

// GET /stream — upgrades to a websocket and streams telemetry events as
// they're published until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Drain and discard client reads (ping/pong, close frames) on their own
	// goroutine so a silent client doesn't block the send loop below.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
