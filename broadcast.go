package goswcache

import (
	"context"
	"sync"
)

// UpdateAvailable is the message tag posted to clients when a stale document
// has been replaced in the cache.
const UpdateAvailable = "UPDATE"

// Broadcaster delivers messages to page clients. Delivery is best-effort and
// fire-and-forget: there is no acknowledgment, and a client that is not
// listening simply never learns of the update.
type Broadcaster interface {
	Post(ctx context.Context, msg string) error
}

// Channel is a named in-process broadcast channel. Every subscriber receives
// each posted message; a subscriber whose buffer is full misses the message
// rather than blocking the poster.
type Channel struct {
	name string

	mu   sync.RWMutex
	subs map[int]chan string
	next int
}

func NewChannel(name string) *Channel {
	return &Channel{
		name: name,
		subs: make(map[int]chan string),
	}
}

// Name returns the channel's name.
func (c *Channel) Name() string { return c.name }

// Subscribe registers a listener. The returned cancel func removes the
// listener and closes its channel.
func (c *Channel) Subscribe() (<-chan string, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.next
	c.next++
	ch := make(chan string, 8)
	c.subs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Post delivers msg to every current subscriber without blocking. Posting on
// a nil Channel is a no-op, so an optional channel can be handed to New
// without a guard at the call site.
func (c *Channel) Post(_ context.Context, msg string) error {
	if c == nil {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, sub := range c.subs {
		select {
		case sub <- msg:
		default:
		}
	}
	return nil
}

type nopBroadcaster struct{}

func (nopBroadcaster) Post(context.Context, string) error { return nil }
