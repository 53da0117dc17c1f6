package treadmill

import (
	"context"
	"log"
	"sync"
)

// Bus carries commands from UIs to a Treadmill and events back. Multiple
// UIs may send commands concurrently; Close must be called once, by the
// owner, when no more commands will be sent.
type Bus struct {
	Commands chan Command
	Events   chan Event

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a Bus with the given channel buffer sizes.
func NewBus(commandBuffer, eventBuffer int) *Bus {
	return &Bus{
		Commands: make(chan Command, commandBuffer),
		Events:   make(chan Event, eventBuffer),
	}
}

// Send delivers a command, blocking until it is queued or ctx is done.
// Returns ErrChannelClosed after Close.
func (b *Bus) Send(ctx context.Context, cmd Command) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrChannelClosed
	}
	select {
	case b.Commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the command channel. The Treadmill treats this as Shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.Commands)
	}
}

// Hub fans a single event stream out to any number of subscribers. A slow
// subscriber loses events rather than stalling the stream.
type Hub struct {
	mu      sync.Mutex
	subs    []chan Event
	dropped map[int]int
	done    bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{dropped: make(map[int]int)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// channel is closed when the source stream ends.
func (h *Hub) Subscribe(buffer int) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, buffer)
	if h.done {
		close(ch)
		return ch
	}
	h.subs = append(h.subs, ch)
	return ch
}

// Run forwards events from src to every subscriber until src is closed or
// ctx is done, then closes all subscriber channels.
func (h *Hub) Run(ctx context.Context, src <-chan Event) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-src:
			if !ok {
				return
			}
			log.Printf("event: %s", e)
			h.publish(e)
		}
	}
}

func (h *Hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, ch := range h.subs {
		select {
		case ch <- e:
		default:
			if h.dropped[i] == 0 {
				log.Printf("hub: subscriber %d full, dropping events", i)
			}
			h.dropped[i]++
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		close(ch)
	}
	h.subs = nil
	h.done = true
}
