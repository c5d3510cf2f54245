package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfdwatch/bfdmon/pkg/db"
)

func TestBroadcasterDeliversToSubscribers(t *testing.T) {
	b := NewBroadcaster(4)

	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()

	defer cancel1()
	defer cancel2()

	b.Publish(db.Event{ID: 1, Device: "edge-router", EventType: db.EventBFDFailure})

	for _, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case frame := <-ch:
			var event db.Event
			require.NoError(t, json.Unmarshal(frame, &event))
			assert.Equal(t, int64(1), event.ID)
			assert.Equal(t, "edge-router", event.Device)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBroadcasterSlowSubscriberDropsFrames(t *testing.T) {
	b := NewBroadcaster(1)

	ch, cancel := b.Subscribe()
	defer cancel()

	// Publish never blocks, even with a full subscriber buffer.
	for i := 0; i < 10; i++ {
		b.Publish(db.Event{ID: int64(i)})
	}

	assert.Len(t, ch, 1)
}

func TestBroadcasterCancelIdempotent(t *testing.T) {
	b := NewBroadcaster(1)

	_, cancel := b.Subscribe()
	cancel()
	cancel()

	// Publishing after cancellation must not panic on the closed channel.
	b.Publish(db.Event{ID: 1})
}

func TestStreamEventsOverWebsocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Router())

	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/stream"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
		_ = conn.Close()
	}()

	// Wait for the subscription to register before publishing.
	require.Eventually(t, func() bool {
		env.server.broadcaster.mu.Lock()
		defer env.server.broadcaster.mu.Unlock()

		return len(env.server.broadcaster.subs) == 1
	}, time.Second, 5*time.Millisecond)

	env.server.EventListener()(db.Event{ID: 7, Device: "edge-router", EventType: db.EventSNMPPoll})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var event db.Event
	require.NoError(t, json.Unmarshal(frame, &event))
	assert.Equal(t, int64(7), event.ID)
	assert.Equal(t, "edge-router", event.Device)
}
