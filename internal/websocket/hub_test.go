package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, state func() any) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(state)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubSendsInitialStateAndBroadcasts(t *testing.T) {
	hub, url, _ := startHub(t, func() any { return map[string]string{"system": "tower"} })
	conn := dial(t, url, nil)

	msg := readMessage(t, conn)
	assert.Equal(t, TypeInitialState, msg["type"])
	assert.Equal(t, map[string]any{"system": "tower"}, msg["data"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(TypeDomainUpdate, map[string]any{"domain": "disks"})
	msg = readMessage(t, conn)
	assert.Equal(t, TypeDomainUpdate, msg["type"])
}

func TestHubAnswersPingAndRequestData(t *testing.T) {
	var calls atomic.Int32
	_, url, _ := startHub(t, func() any { return calls.Add(1) })
	conn := dial(t, url, nil)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: TypePing}))
	assert.Equal(t, TypePong, readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(Message{Type: TypeRequestData}))
	msg := readMessage(t, conn)
	assert.Equal(t, TypeInitialState, msg["type"])
	assert.EqualValues(t, 2, msg["data"])
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, url, _ := startHub(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubDisconnectsClientsOnShutdown(t *testing.T) {
	hub, url, cancel := startHub(t, nil)
	conn := dial(t, url, nil)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestSameOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://tower.lan:7655/ws", nil)
	assert.True(t, sameOrigin(r), "no origin header")

	r.Header.Set("Origin", "http://tower.lan:7655")
	assert.True(t, sameOrigin(r))

	r.Header.Set("Origin", "http://other.lan:7655")
	assert.False(t, sameOrigin(r))
}
