// Package stream fans ledger events out to live subscribers (SSE and
// WebSocket clients) and follows a registry's event log to feed them.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"certledger.org/internal/ledger"
)

// Stream fan-outs ledger events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan ledger.Event
	next int
	last uint64
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan ledger.Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ledger.Event {
	ch := make(chan ledger.Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt ledger.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt.Sequence > s.last {
		s.last = evt.Sequence
	}
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscribers miss events; they can catch up via /v1/events.
		}
	}
}

// Subscribers reports the number of attached clients.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// LastSequence is the highest sequence published so far.
func (s *Stream) LastSequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// EventSource is the read side of a registry.
type EventSource interface {
	Events(ctx context.Context, afterSeq uint64, limit int) ([]ledger.Event, uint64, error)
}

// Follow polls src every interval and publishes events newer than from until
// ctx ends. Poll errors are logged and retried on the next tick.
func (s *Stream) Follow(ctx context.Context, src EventSource, from uint64, interval time.Duration, log logrus.FieldLogger) {
	if interval <= 0 {
		interval = time.Second
	}
	cursor := from
	poll := func() {
		for {
			events, next, err := src.Events(ctx, cursor, 0)
			if err != nil {
				if ctx.Err() == nil && log != nil {
					log.WithError(err).WithField("after", cursor).Warn("event poll failed")
				}
				return
			}
			for _, evt := range events {
				s.Publish(evt)
			}
			cursor = next
			if len(events) < ledger.NormalizeLimit(0) {
				return
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

// StartFollow runs Follow in the background and returns a stop function
// that waits for it to exit.
func (s *Stream) StartFollow(src EventSource, from uint64, interval time.Duration, log logrus.FieldLogger) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Follow(ctx, src, from, interval, log)
	}()
	return func() {
		cancel()
		<-done
	}
}
