package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelight/crunch/internal/shared/types"
)

func newHubServer(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(nil, nil)
	router := gin.New()
	router.GET("/stream", hub.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	hub.Publish(&types.LogEvent{
		TraceID:   "abc",
		Timestamp: types.TimestampPtr(100),
		Category:  "api",
		Clock:     []int{1},
		Text:      "hello",
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev types.LogEvent
	require.NoError(t, sonic.Unmarshal(data, &ev))
	assert.Equal(t, "abc", ev.TraceID)
	assert.Equal(t, "hello", ev.Text)
}

func TestHubFansOutToAllSubscribers(t *testing.T) {
	hub, url := newHubServer(t)
	a := dial(t, url)
	b := dial(t, url)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 2
	}, time.Second, 5*time.Millisecond)

	hub.Publish(&types.LogEvent{TraceID: "t1", Timestamp: types.TimestampPtr(1), Clock: []int{1}})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev types.LogEvent
		require.NoError(t, sonic.Unmarshal(data, &ev))
		assert.Equal(t, "t1", ev.TraceID)
	}
}

func TestHubAcceptsAcks(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	data, err := sonic.Marshal(types.NewAck())
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	// The ack keeps the subscription alive; the client still gets events.
	hub.Publish(&types.LogEvent{TraceID: "t1", Timestamp: types.TimestampPtr(1), Clock: []int{1}})
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.NoError(t, err)
}

func TestHubDropsDisconnectedSubscriber(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool {
		return hub.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHubShutdownDisconnects(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	hub.Shutdown()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	assert.Eventually(t, func() bool {
		return hub.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)
}
