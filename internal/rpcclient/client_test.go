package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEchoServer upgrades every connection and runs handle against it,
// closing the socket when handle returns.
func newEchoServer(t *testing.T, handle func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func TestCallReturnsMatchingResult(t *testing.T) {
	_, wsURL := newEchoServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		require.NoError(t, json.Unmarshal(data, &req))
		reply := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]string{"thread": "t1"},
		}
		data, _ = json.Marshal(reply)
		_ = conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL)
	require.NoError(t, err)
	defer c.Close()

	result, err := c.Call(ctx, "thread/start", nil)
	require.NoError(t, err)

	var parsed struct {
		Thread string `json:"thread"`
	}
	require.NoError(t, json.Unmarshal(result, &parsed))
	assert.Equal(t, "t1", parsed.Thread)
}

func TestCallSurfacesRPCError(t *testing.T) {
	_, wsURL := newEchoServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		require.NoError(t, json.Unmarshal(data, &req))
		reply := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32000, "message": "thread not found"},
		}
		data, _ = json.Marshal(reply)
		_ = conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(ctx, "thread/read", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thread not found")
}

func TestWaitForTurnCompletionMatchesThreadAndTurn(t *testing.T) {
	_, wsURL := newEchoServer(t, func(conn *websocket.Conn) {
		time.Sleep(20 * time.Millisecond)
		notify := func(threadID, turnID, text string) {
			frame := map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "turn/completed",
				"params": map[string]interface{}{
					"threadId": threadID,
					"turn":     map[string]string{"id": turnID, "status": "completed"},
					"text":     text,
				},
			}
			data, _ := json.Marshal(frame)
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		notify("other-thread", "turn-1", "wrong turn")
		notify("thread-1", "turn-1", "the real answer")
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL)
	require.NoError(t, err)
	defer c.Close()

	result, err := c.WaitForTurnCompletion(ctx, "thread-1", "turn-1")
	require.NoError(t, err)
	assert.Equal(t, "the real answer", result.Text)
	assert.Equal(t, "completed", result.Status)
}

func TestWaitForTurnCompletionFindsCompletionThatArrivedFirst(t *testing.T) {
	// The completion notification is written the instant the connection is
	// upgraded, with no delay and no read from the client required first —
	// it will always reach the read loop well before the test goroutine
	// below gets around to calling WaitForTurnCompletion. A correct client
	// must still return it rather than block until the context deadline.
	_, wsURL := newEchoServer(t, func(conn *websocket.Conn) {
		frame := map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "turn/completed",
			"params": map[string]interface{}{
				"threadId": "thread-1",
				"turn":     map[string]string{"id": "turn-1", "status": "completed"},
				"text":     "already here",
			},
		}
		data, _ := json.Marshal(frame)
		_ = conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL)
	require.NoError(t, err)
	defer c.Close()

	// Give the read loop a moment to process the notification before the
	// waiter ever registers, so this exercises the cache path, not a lucky
	// scheduling order.
	time.Sleep(20 * time.Millisecond)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer waitCancel()
	result, err := c.WaitForTurnCompletion(waitCtx, "thread-1", "turn-1")
	require.NoError(t, err)
	assert.Equal(t, "already here", result.Text)
	assert.Equal(t, "completed", result.Status)
}

func TestWaitForTurnCompletionTimesOutOnContextDeadline(t *testing.T) {
	_, wsURL := newEchoServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	c, err := Dial(dialCtx, wsURL)
	require.NoError(t, err)
	defer c.Close()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer waitCancel()
	_, err = c.WaitForTurnCompletion(waitCtx, "thread-1", "turn-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseIsIdempotent(t *testing.T) {
	_, wsURL := newEchoServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL)
	require.NoError(t, err)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
