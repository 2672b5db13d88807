// Package framebus fans histogram frames out to multiple consumers without
// ever blocking the acquisition loop.
//
// Two delivery policies are available per subscriber:
//   - Subscribe: caller-owned buffered channel, the newest frame is dropped when full
//   - SubscribeLatest: single-slot mailbox, the older frame is overwritten
//
// Bus implements eventcapture.FrameSink, so it can be handed directly to
// NewEventCamera.
package framebus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
)

var (
	ErrBusClosed          = errors.New("framebus: bus is closed")
	ErrSubscriberExists   = errors.New("framebus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("framebus: subscriber not found")
	ErrNilChannel         = errors.New("framebus: nil channel provided")
)

// Policy defines how a subscriber that cannot keep up loses frames.
type Policy int

const (
	// DropNew discards the incoming frame when the channel is full
	DropNew Policy = iota
	// DropOld replaces the pending frame with the incoming one
	DropOld
)

// SubscriberStats tracks delivery for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Stats is a snapshot of the whole bus.
type Stats struct {
	TotalPublished uint64
	Subscribers    map[string]SubscriberStats
}

type subscriber struct {
	policy  Policy
	ch      chan<- eventcapture.Frame
	latest  *Latest
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes frames to registered subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch with the DropNew policy. The bus never closes ch.
func (b *Bus) Subscribe(id string, ch chan<- eventcapture.Frame) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber{policy: DropNew, ch: ch}
	return nil
}

// SubscribeLatest registers a DropOld subscriber and returns its mailbox.
func (b *Bus) SubscribeLatest(id string) (*Latest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	l := newLatest()
	b.subscribers[id] = &subscriber{policy: DropOld, latest: l}
	return l, nil
}

// Publish delivers frame to every subscriber without blocking.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(frame eventcapture.Frame) {
	_ = b.publish(frame)
}

// Emit implements eventcapture.FrameSink.
func (b *Bus) Emit(_ context.Context, frame eventcapture.Frame) error {
	return b.publish(frame)
}

func (b *Bus) publish(frame eventcapture.Frame) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	b.published.Add(1)

	for _, s := range b.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- frame:
				s.sent.Add(1)
			default:
				s.dropped.Add(1)
			}
		case DropOld:
			if s.latest.set(frame) {
				s.dropped.Add(1)
			}
			s.sent.Add(1)
		}
	}
	return nil
}

// Unsubscribe removes a subscriber and closes its mailbox if it has one.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns delivery counters for every subscriber.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		TotalPublished: b.published.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		st.Subscribers[id] = SubscriberStats{
			Sent:    s.sent.Load(),
			Dropped: s.dropped.Load(),
		}
	}
	return st
}

// Close shuts down the bus. Mailboxes are closed, channels are left to their owners.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	b.subscribers = nil
}

// Latest is a single-slot frame mailbox.
type Latest struct {
	mu      sync.Mutex
	cond    *sync.Cond
	frame   eventcapture.Frame
	pending bool
	closed  bool
}

func newLatest() *Latest {
	l := &Latest{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// set stores frame and reports whether an unread frame was overwritten.
func (l *Latest) set(frame eventcapture.Frame) (overwrote bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	overwrote = l.pending
	l.frame = frame
	l.pending = true
	l.cond.Broadcast()
	return overwrote
}

// Receive blocks until a new frame arrives or ctx is done. It returns false
// when the mailbox is closed or ctx is cancelled.
func (l *Latest) Receive(ctx context.Context) (eventcapture.Frame, bool) {
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()

	for !l.pending && !l.closed && ctx.Err() == nil {
		l.cond.Wait()
	}
	if !l.pending {
		return eventcapture.Frame{}, false
	}
	l.pending = false
	return l.frame, true
}

// TryReceive returns the pending frame without blocking.
func (l *Latest) TryReceive() (eventcapture.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.pending {
		return eventcapture.Frame{}, false
	}
	l.pending = false
	return l.frame, true
}

// Close wakes every blocked receiver.
func (l *Latest) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.cond.Broadcast()
}
