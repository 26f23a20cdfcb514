// Package rpcclient speaks JSON-RPC 2.0 over a single WebSocket connection
// to the agent daemon. One Client owns exactly one connection and exactly
// one correlation domain: every in-flight request gets a monotonic id, and
// every reply or notification gets routed back by matching that id (or, for
// turn-completion notifications, by thread/turn). The dial is a single
// attempt with no reconnect, modelled on the teacher's Watcher
// (internal/coop/watcher.go); the
// correlation/timeout bookkeeping generalizes the teacher's *rpc.Client
// request/response pairing (internal/rpc/client.go) to a connection that can
// have many requests outstanding at once.
package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devsessions/devsessions/internal/debug"
)

const defaultRequestTimeout = 60 * time.Second

// Request is a JSON-RPC 2.0 request frame.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 request frame without an id.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcError mirrors the JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// inboundFrame covers replies and notifications; ID is a pointer so it can
// distinguish "no id" (a notification) from "id 0".
type inboundFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type pendingRequest struct {
	result chan json.RawMessage
	err    chan error
}

// TurnCompletion is the payload a turn/completed notification delivers to a
// matching waiter.
type TurnCompletion struct {
	ThreadID     string
	TurnID       string
	Status       string // "completed" | "failed" | "interrupted"
	ErrorMessage string
	Text         string
}

// turnWaiter is one entry in the ordered waiter list for turn/completed
// notifications. A waiter with an empty expectedThreadID/expectedTurnID
// matches the next completion seen, regardless of which thread it belongs
// to; an explicit expectation is matched strictly and silently ignores
// completions for any other thread/turn.
type turnWaiter struct {
	startedAt        time.Time
	expectedThreadID string
	expectedTurnID   string
	result           chan TurnCompletion
	err              chan error
}

// Client is a single WebSocket connection carrying JSON-RPC 2.0 traffic to
// the agent daemon.
type Client struct {
	conn *websocket.Conn

	nextID int64

	mu        sync.Mutex
	pending   map[int64]*pendingRequest
	waiters   []*turnWaiter
	closed    bool
	closing   bool
	turnText  map[string]*struct{ text string }
	completed map[string]TurnCompletion // threadID+"/"+turnID -> last unconsumed completion

	readErr chan error
}

// Dial opens a WebSocket connection to url and starts the read loop.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[int64]*pendingRequest),
		readErr: make(chan error, 1),
	}
	go c.readLoop()
	return c, nil
}

// Call sends a request and blocks until its matching reply arrives, the
// context is cancelled, or defaultRequestTimeout elapses.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	pr := &pendingRequest{result: make(chan json.RawMessage, 1), err: make(chan error, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("rpcclient: connection closed")
	}
	c.pending[id] = pr
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: marshal request: %w", err)
	}

	c.mu.Lock()
	writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()
	if writeErr != nil {
		return nil, fmt.Errorf("rpcclient: write: %w", writeErr)
	}

	timeout := time.NewTimer(defaultRequestTimeout)
	defer timeout.Stop()

	select {
	case result := <-pr.result:
		return result, nil
	case err := <-pr.err:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, fmt.Errorf("rpcclient: request %q timed out after %s", method, defaultRequestTimeout)
	}
}

// Notify sends a request frame with no id, for fire-and-forget methods like
// "initialized".
func (c *Client) Notify(method string, params interface{}) error {
	n := Notification{JSONRPC: "2.0", Method: method, Params: params}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("rpcclient: marshal notification: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("rpcclient: connection closed")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WaitForTurnCompletion registers a waiter for the next turn/completed
// notification matching expectedThreadID/expectedTurnID (empty strings
// match anything) and blocks until it arrives, times out, or ctx is done.
//
// A turn/completed notification can reach the read loop before the caller
// gets around to calling WaitForTurnCompletion for that same turn — the
// caller typically sends the turn/start request, gets its reply, and only
// then registers a wait, leaving a window where a fast-completing turn's
// notification has nowhere to land. For an explicit (threadID, turnID)
// expectation, the already-arrived completion is cached by resolveWaiters
// and is consulted here first so that race can't cause an indefinite (or
// timed-out) block. Wildcard waiters (empty thread/turn) have no specific
// notification to look up, so they always register and wait.
func (c *Client) WaitForTurnCompletion(ctx context.Context, expectedThreadID, expectedTurnID string) (TurnCompletion, error) {
	if expectedThreadID != "" && expectedTurnID != "" {
		key := expectedThreadID + "/" + expectedTurnID
		c.mu.Lock()
		if result, ok := c.completed[key]; ok {
			delete(c.completed, key)
			c.mu.Unlock()
			return result, nil
		}
		c.mu.Unlock()
	}

	w := &turnWaiter{
		startedAt:        time.Now(),
		expectedThreadID: expectedThreadID,
		expectedTurnID:   expectedTurnID,
		result:           make(chan TurnCompletion, 1),
		err:              make(chan error, 1),
	}

	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	defer c.removeWaiter(w)

	select {
	case result := <-w.result:
		return result, nil
	case err := <-w.err:
		return TurnCompletion{}, err
	case <-ctx.Done():
		return TurnCompletion{}, ctx.Err()
	}
}

func (c *Client) removeWaiter(target *turnWaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// Close shuts the connection down gracefully: a close frame is sent and the
// read loop is given 500ms to exit on its own before the connection is
// forced closed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()

	select {
	case <-c.readErr:
	case <-time.After(500 * time.Millisecond):
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.closed = true
			pending := c.pending
			c.pending = nil
			waiters := c.waiters
			c.waiters = nil
			c.mu.Unlock()

			for _, pr := range pending {
				pr.err <- fmt.Errorf("rpcclient: connection lost: %w", err)
			}
			for _, w := range waiters {
				w.err <- fmt.Errorf("rpcclient: connection lost: %w", err)
			}
			if !closing {
				debug.Logf("rpcclient: read loop ended: %v\n", err)
			}
			c.readErr <- err
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			debug.Logf("rpcclient: malformed frame: %v\n", err)
			continue
		}

		if frame.ID != nil {
			c.routeReply(*frame.ID, frame)
			continue
		}
		c.routeNotification(frame)
	}
}

func (c *Client) routeReply(id int64, frame inboundFrame) {
	c.mu.Lock()
	pr, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	if frame.Error != nil {
		pr.err <- frame.Error
		return
	}
	pr.result <- frame.Result
}

type turnStartedParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
}

type turnCompletedParams struct {
	ThreadID string `json:"threadId"`
	Turn     struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"turn"`
	Text string `json:"text"`
}

type agentMessageDeltaParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	Delta    string `json:"delta"`
}

func (c *Client) routeNotification(frame inboundFrame) {
	switch frame.Method {
	case "turn/started":
		var p turnStartedParams
		_ = json.Unmarshal(frame.Params, &p)
	case "item/agentMessage/delta":
		var p agentMessageDeltaParams
		if err := json.Unmarshal(frame.Params, &p); err == nil {
			c.accumulateDelta(p.ThreadID, p.TurnID, p.Delta)
		}
	case "turn/completed":
		var p turnCompletedParams
		if err := json.Unmarshal(frame.Params, &p); err != nil {
			return
		}
		errMsg := ""
		if p.Turn.Error != nil {
			errMsg = p.Turn.Error.Message
		}
		c.resolveWaiters(p.ThreadID, p.Turn.ID, p.Turn.Status, errMsg, p.Text)
	default:
		debug.Logf("rpcclient: unhandled notification %q\n", frame.Method)
	}
}

func (c *Client) accumulateDelta(threadID, turnID, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turnText == nil {
		c.turnText = make(map[string]*struct{ text string })
	}
	key := threadID + "/" + turnID
	acc, ok := c.turnText[key]
	if !ok {
		acc = &struct{ text string }{}
		c.turnText[key] = acc
	}
	acc.text += delta
}

// resolveWaiters delivers the completed turn to every waiter whose
// expectation matches, oldest-registered first. A waiter with an explicit
// expectation silently ignores completions for any other thread/turn. If
// the notification's own text is empty, the accumulated delta text for
// (threadId, turnId) is used instead.
func (c *Client) resolveWaiters(threadID, turnID, status, errMsg, text string) {
	c.mu.Lock()
	key := threadID + "/" + turnID
	if text == "" {
		if acc, ok := c.turnText[key]; ok {
			text = acc.text
		}
	}
	var matched []*turnWaiter
	var remaining []*turnWaiter
	for _, w := range c.waiters {
		if (w.expectedThreadID == "" || w.expectedThreadID == threadID) &&
			(w.expectedTurnID == "" || w.expectedTurnID == turnID) {
			matched = append(matched, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	delete(c.turnText, key)

	result := TurnCompletion{ThreadID: threadID, TurnID: turnID, Status: status, ErrorMessage: errMsg, Text: text}

	// No waiter was registered yet for this specific turn: cache the
	// completion so a WaitForTurnCompletion call that hasn't happened yet
	// finds it immediately instead of blocking on a notification that
	// already arrived.
	if len(matched) == 0 && threadID != "" && turnID != "" {
		if c.completed == nil {
			c.completed = make(map[string]TurnCompletion)
		}
		c.completed[key] = result
	}
	c.mu.Unlock()

	for _, w := range matched {
		w.result <- result
	}
}
