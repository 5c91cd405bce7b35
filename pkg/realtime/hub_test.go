package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, buffer int) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(buffer, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	hub, _ := startHub(t, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "teacher-1", r.URL.Query().Get("course_id"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?course_id=c1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	assert.True(t, hub.Publish(Event{Type: EventSessionOpened, CourseID: "other", SessionID: "s0"}))
	assert.True(t, hub.Publish(Event{Type: EventMarkRecorded, CourseID: "c1", SessionID: "s1", Count: 3}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, EventMarkRecorded, evt.Type)
	assert.Equal(t, "s1", evt.SessionID)
	assert.Equal(t, 3, evt.Count)
	assert.False(t, evt.At.IsZero())
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(1, nil)

	accepted := 0
	for i := 0; i < 10; i++ {
		if hub.Publish(Event{Type: EventSessionClosed, SessionID: "s1"}) {
			accepted++
		}
	}

	assert.Equal(t, 4, accepted)
	assert.Equal(t, uint64(6), hub.Dropped())
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub, _ := startHub(t, 1)

	slow := &Client{hub: hub, send: make(chan []byte, 1), id: "slow"}
	require.True(t, hub.attach(slow))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(Event{Type: EventMarkRecorded, SessionID: "s1", Count: 1})
	hub.Publish(Event{Type: EventMarkRecorded, SessionID: "s1", Count: 2})

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	msg, ok := <-slow.send
	assert.True(t, ok)
	assert.Contains(t, string(msg), `"count":1`)
	_, ok = <-slow.send
	assert.False(t, ok)
}
