// Package api pkg/api/stream.go provides the live audit-event stream. The
// Broadcaster fans newly inserted events out to connected websocket clients
// without ever blocking a writer into the store: a slow client drops frames
// rather than applying back-pressure to the poller or webhook path.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bfdwatch/bfdmon/pkg/db"
)

const streamWriteTimeout = 10 * time.Second

// Broadcaster fans audit events out to subscribers. Safe for concurrent use.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[chan []byte]struct{}
	bufSize int
}

// NewBroadcaster creates a Broadcaster with the given per-subscriber buffer
// depth.
func NewBroadcaster(bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}

	return &Broadcaster{
		subs:    make(map[chan []byte]struct{}),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber channel. The returned cancel function
// must be called when the subscriber disconnects.
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, b.bufSize)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}

	return ch, cancel
}

// Publish delivers an event to every subscriber. Non-blocking: a subscriber
// with a full buffer misses the frame.
func (b *Broadcaster) Publish(event db.Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to encode event %d for stream: %v", event.ID, err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamEvents upgrades the connection and pumps audit events until the
// client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	defer func() {
		_ = conn.Close()
	}()

	events, cancel := s.broadcaster.Subscribe()
	defer cancel()

	// Reader goroutine: detects client disconnect and control frames.
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case frame, ok := <-events:
			if !ok {
				return
			}

			if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}
