package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultSendBuffer is the outbound queue length used when none is given.
const DefaultSendBuffer = 32

// Client is the core's view of one live connection. The transport owns it:
// it drains Events and calls Close when the socket goes away. The core only
// ever queues events onto it.
type Client struct {
	ID string

	events    chan *Event
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	reason string
}

// NewClient constructs a client with an outbound queue of the given size.
func NewClient(buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		ID:     uuid.NewString(),
		events: make(chan *Event, buffer),
		done:   make(chan struct{}),
	}
}

// Events returns the outbound event queue.
func (c *Client) Events() <-chan *Event {
	return c.events
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Deliver queues an event without blocking. It reports false when the client
// is closed or its queue is full; the event is dropped in that case.
func (c *Client) Deliver(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// DeliverWait queues an event, waiting for room in the queue until the client
// is closed or ctx is done. It reports whether the event was queued.
func (c *Client) DeliverWait(ctx context.Context, ev *Event) bool {
	if c.Deliver(ev) {
		return true
	}

	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close marks the client closed. Only the first reason is kept.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

// CloseReason returns the reason passed to the first Close call.
func (c *Client) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}
