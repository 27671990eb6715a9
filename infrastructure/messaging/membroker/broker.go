// Package membroker is an in-process topic broker for single-process mode and
// tests. Messages live in memory only; durability comes from the outbox table.
package membroker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"library/infrastructure/messaging"
	"library/pkg/logger"

	"go.uber.org/zap"
)

var (
	ErrClosed    = errors.New("membroker: closed")
	ErrQueueFull = errors.New("membroker: queue full")
)

const defaultQueueSize = 1024

type message struct {
	id         string
	routingKey string
	body       []byte
}

// DeadLetter is a message a subscription gave up on.
type DeadLetter struct {
	ID         string
	RoutingKey string
	Body       []byte
	Reason     string
}

// Broker fans published messages out to every subscription whose patterns match.
type Broker struct {
	mu      sync.RWMutex
	subs    []*Subscription
	closed  bool
	seq     atomic.Uint64
	failure atomic.Pointer[error]
}

func New() *Broker {
	return &Broker{}
}

// FailWith makes every Publish return err until called again with nil.
// Used to simulate an unreachable broker.
func (b *Broker) FailWith(err error) {
	if err == nil {
		b.failure.Store(nil)
		return
	}
	b.failure.Store(&err)
}

func (b *Broker) Publish(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p := b.failure.Load(); p != nil {
		return *p
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := message{
		id:         strconv.FormatUint(b.seq.Add(1), 10),
		routingKey: routingKey,
		body:       append([]byte(nil), body...),
	}
	for _, s := range b.subs {
		if !messaging.MatchAny(s.patterns, routingKey) {
			continue
		}
		select {
		case s.queue <- msg:
		default:
			return fmt.Errorf("%w: subscription %s", ErrQueueFull, s.name)
		}
	}
	return nil
}

// Ping reports whether the broker accepts messages.
func (b *Broker) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// SubscribeOptions mirror the redis stream consumer settings.
type SubscribeOptions struct {
	MaxDeliveries int
	RetryDelay    time.Duration
	QueueSize     int
}

// Subscription is a durable-for-the-process queue bound to topic patterns.
// Messages are handled one at a time (prefetch 1).
type Subscription struct {
	name     string
	patterns []string
	opts     SubscribeOptions
	queue    chan message

	mu   sync.Mutex
	dead []DeadLetter
}

// Subscribe binds a named queue to patterns. Only messages published after the
// call are delivered.
func (b *Broker) Subscribe(name string, patterns []string, opts SubscribeOptions) *Subscription {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	s := &Subscription{
		name:     name,
		patterns: append([]string(nil), patterns...),
		opts:     opts,
		queue:    make(chan message, opts.QueueSize),
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// Run consumes until ctx is cancelled.
func (s *Subscription) Run(ctx context.Context, handler messaging.Handler) error {
	logger.Info("In-memory subscription started",
		zap.String("subscription", s.name),
		zap.Strings("patterns", s.patterns),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.queue:
			s.deliver(ctx, handler, msg)
		}
	}
}

// Drain handles every queued message and returns how many were taken off the queue.
func (s *Subscription) Drain(ctx context.Context, handler messaging.Handler) int {
	n := 0
	for {
		select {
		case msg := <-s.queue:
			s.deliver(ctx, handler, msg)
			n++
		default:
			return n
		}
	}
}

// Pending returns the number of queued messages.
func (s *Subscription) Pending() int {
	return len(s.queue)
}

func (s *Subscription) DeadLetters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.dead...)
}

// deliver keeps retrying the same message on Requeue so per-queue order holds.
func (s *Subscription) deliver(ctx context.Context, handler messaging.Handler, msg message) {
	for attempt := 1; ; attempt++ {
		d := messaging.Delivery{ID: msg.id, RoutingKey: msg.routingKey, Body: msg.body, Attempt: attempt}
		switch handler.Handle(ctx, d) {
		case messaging.Ack:
			return
		case messaging.Reject:
			s.deadLetter(msg, "rejected")
			return
		}

		if attempt >= s.opts.MaxDeliveries {
			s.deadLetter(msg, "max deliveries exceeded")
			return
		}
		if s.opts.RetryDelay > 0 {
			timer := time.NewTimer(s.opts.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				// put it back so the next Run sees it first
				select {
				case s.queue <- msg:
				default:
				}
				return
			case <-timer.C:
			}
		}
	}
}

func (s *Subscription) deadLetter(msg message, reason string) {
	logger.Warn("Message dead-lettered",
		zap.String("subscription", s.name),
		zap.String("message_id", msg.id),
		zap.String("routing_key", msg.routingKey),
		zap.String("reason", reason),
	)
	s.mu.Lock()
	s.dead = append(s.dead, DeadLetter{ID: msg.id, RoutingKey: msg.routingKey, Body: msg.body, Reason: reason})
	s.mu.Unlock()
}

var _ messaging.Transport = (*Broker)(nil)
