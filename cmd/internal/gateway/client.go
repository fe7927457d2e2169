package gateway

import (
	"sync"

	"github.com/coder/websocket"

	v1 "bestiary/shared/contracts/wire/v1"
)

// Client is one connected websocket peer.
//
// Send is never closed by the server; broadcasters may hold a pointer
// while the connection tears down, and an open channel keeps that
// race harmless. done signals the connection goroutines to stop.
type Client struct {
	ID   string
	Send chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	// Drain-close request: the writer closes the connection with the
	// recorded status once the send queue has emptied.
	mu        sync.Mutex
	drainSet  bool
	drainCode websocket.StatusCode
	drainWhy  string
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueue
	}
	return &Client{
		ID:   id,
		Send: make(chan v1.Envelope, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Done returns a channel closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// RequestClose asks the writer to close the connection once the send
// queue has drained, so a last reply still reaches the peer. The first
// request wins.
func (c *Client) RequestClose(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drainSet {
		return
	}
	c.drainSet = true
	c.drainCode = code
	c.drainWhy = reason
}

// PendingClose reports the drain-close request, if any.
func (c *Client) PendingClose() (websocket.StatusCode, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drainCode, c.drainWhy, c.drainSet
}

// Close signals the client goroutines to stop. Idempotent; does not
// close Send.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
