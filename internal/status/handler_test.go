// ABOUTME: Tests for the websocket status endpoint
// ABOUTME: Dials an httptest server and reads snapshot and emitted frames

package status

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/botfleet/internal/agent"
)

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f wireFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHandler_StreamsFrames(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()
	b.PublishStatus(map[string]agent.Record{"bot1": online("bot1")})

	srv := httptest.NewServer(NewHandler(b, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	f := readFrame(t, conn)
	assert.Equal(t, EventBotStatus, f.Event)
	var snap map[string]agent.Record
	require.NoError(t, json.Unmarshal(f.Data, &snap))
	assert.Equal(t, agent.StatusOnline, snap["bot1"].Status)
	assert.Equal(t, "mc.example.com", snap["bot1"].Server)

	b.Emit("pluginNotice", map[string]string{"msg": "hi"})
	f = readFrame(t, conn)
	assert.Equal(t, "pluginNotice", f.Event)
	assert.JSONEq(t, `{"msg":"hi"}`, string(f.Data))
}

func TestHandler_ClientDisconnectUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()

	srv := httptest.NewServer(NewHandler(b, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	readFrame(t, conn)
	require.Eventually(t, func() bool { return b.Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return b.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()

	rec := httptest.NewRecorder()
	NewHandler(b, nil).ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 400, rec.Code)
	assert.Zero(t, b.Count())
}
