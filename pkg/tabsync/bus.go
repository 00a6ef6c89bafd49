package tabsync

import (
	"context"
	"sync"
)

// DefaultChannel is the bus channel used when the caller does not name one.
const DefaultChannel = "stash_sync"

// Bus is a broadcast-channel-style pub/sub primitive scoped to named
// channels. Publish is fire-and-forget; delivery is at-most-once.
type Bus interface {
	Publish(ctx context.Context, channel string, msg *Message) error
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
}

// Subscription is an active listener on a bus channel. Callers must Close
// it when done; Close is safe to call more than once.
type Subscription struct {
	msgs   <-chan *Message
	cancel func()
	once   sync.Once
}

// Messages returns the inbound message channel. It is closed when the
// subscription closes or its context is cancelled.
func (s *Subscription) Messages() <-chan *Message {
	return s.msgs
}

// Close stops the subscription and releases its resources. Implements
// io.Closer. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// MemoryBus delivers messages between subscribers within one process.
// It serves tests and single-process multi-context setups; separate
// processes need RedisBus.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]chan *Message
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan *Message)}
}

// Publish delivers msg to every current subscriber of channel. Slow
// subscribers drop messages rather than blocking the publisher.
func (b *MemoryBus) Publish(_ context.Context, channel string, msg *Message) error {
	b.mu.Lock()
	chans := make([]chan *Message, len(b.subs[channel]))
	copy(chans, b.subs[channel])
	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener on channel.
func (b *MemoryBus) Subscribe(_ context.Context, channel string) (*Subscription, error) {
	ch := make(chan *Message, 16)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}

	return &Subscription{msgs: ch, cancel: cancel}, nil
}
