// Package framebus fans values out to subscribers without ever blocking the
// publisher. A subscriber whose channel is full misses that value, and the
// miss is counted.
package framebus

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Errors returned by Bus methods.
var (
	ErrSubscriberExists   = errors.New("subscriber id already exists")
	ErrSubscriberNotFound = errors.New("subscriber id not found")
	ErrBusClosed          = errors.New("bus is closed")
)

// Stats counts what the bus has delivered.
type Stats struct {
	Published   uint64
	Sent        uint64
	Dropped     uint64
	Subscribers map[string]SubscriberStats
}

// SubscriberStats counts deliveries to one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber[T any] struct {
	ch      chan<- T
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus is a non-blocking one-to-many broadcaster of T.
type Bus[T any] struct {
	lock        sync.RWMutex
	subscribers map[string]*subscriber[T]
	closed      bool
	published   atomic.Uint64
}

// New creates an empty Bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subscribers: make(map[string]*subscriber[T])}
}

// Subscribe registers ch under id. The subscriber owns ch; the bus never closes it.
func (b *Bus[T]) Subscribe(id string, ch chan<- T) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.subscribers[id]; ok {
		return ErrSubscriberExists
	}
	b.subscribers[id] = &subscriber[T]{ch: ch}
	return nil
}

// Unsubscribe removes the subscriber id.
func (b *Bus[T]) Unsubscribe(id string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.subscribers[id]; !ok {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Publish offers v to every subscriber and returns at once.
func (b *Bus[T]) Publish(v T) error {
	b.lock.RLock()
	defer b.lock.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	b.published.Add(1)
	for _, s := range b.subscribers {
		select {
		case s.ch <- v:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

// Stats returns a copy of the delivery counters.
func (b *Bus[T]) Stats() Stats {
	b.lock.RLock()
	defer b.lock.RUnlock()
	st := Stats{
		Published:   b.published.Load(),
		Subscribers: make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		ss := SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
		st.Sent += ss.Sent
		st.Dropped += ss.Dropped
		st.Subscribers[id] = ss
	}
	return st
}

// Close stops all further publishing. It is safe to call more than once.
func (b *Bus[T]) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.closed = true
	clear(b.subscribers)
	return nil
}
