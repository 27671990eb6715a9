package redisstream

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"library/infrastructure/messaging"
	"library/pkg/logger"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// SubscriberConfig consumer group settings
type SubscriberConfig struct {
	Stream        string
	Group         string
	Consumer      string
	Patterns      []string
	Block         time.Duration
	MinIdle       time.Duration // pending entries of dead consumers idle longer than this are claimed
	MaxDeliveries int
	RetryDelay    time.Duration
}

// Subscriber reads one entry at a time from a consumer group. An entry is only
// XACKed after the handler acked it or after it was copied to the dead-letter stream.
type Subscriber struct {
	client   rueidis.Client
	cfg      SubscriberConfig
	attempts map[string]int
}

func NewSubscriber(client rueidis.Client, cfg SubscriberConfig) *Subscriber {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	return &Subscriber{client: client, cfg: cfg, attempts: make(map[string]int)}
}

// DeadLetterStream returns the key dead-lettered entries are copied to.
func (s *Subscriber) DeadLetterStream() string {
	return s.cfg.Stream + deadLetterSuffix
}

// EnsureGroup creates the stream and group if missing.
func (s *Subscriber) EnsureGroup(ctx context.Context) error {
	cmd := s.client.B().XgroupCreate().Key(s.cfg.Stream).Group(s.cfg.Group).Id("0").Mkstream().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context, handler messaging.Handler) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}
	logger.Info("Stream subscriber started",
		zap.String("stream", s.cfg.Stream),
		zap.String("group", s.cfg.Group),
		zap.String("consumer", s.cfg.Consumer),
		zap.Strings("patterns", s.cfg.Patterns),
	)

	for {
		if ctx.Err() != nil {
			logger.Info("Stream subscriber stopped")
			return ctx.Err()
		}
		if _, err := s.PollOnce(ctx, handler); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("Stream poll failed", zap.Error(err))
			if !sleep(ctx, time.Second) {
				continue
			}
		}
	}
}

// PollOnce handles at most one entry. Own pending entries (requeued ones) come
// first, then entries abandoned by other consumers, then new entries.
func (s *Subscriber) PollOnce(ctx context.Context, handler messaging.Handler) (bool, error) {
	entry, err := s.readGroup(ctx, "0", 0)
	if err != nil {
		return false, err
	}
	if entry == nil && s.cfg.MinIdle > 0 {
		if entry, err = s.claimIdle(ctx); err != nil {
			logger.Warn("Claiming idle entries failed", zap.Error(err))
			entry = nil
		}
	}
	if entry == nil {
		if entry, err = s.readGroup(ctx, ">", s.cfg.Block); err != nil {
			return false, err
		}
	}
	if entry == nil {
		return false, nil
	}

	s.handle(ctx, handler, *entry)
	return true, nil
}

func (s *Subscriber) readGroup(ctx context.Context, id string, block time.Duration) (*rueidis.XRangeEntry, error) {
	var cmd rueidis.Completed
	if id == ">" {
		cmd = s.client.B().Xreadgroup().Group(s.cfg.Group, s.cfg.Consumer).
			Count(1).
			Block(block.Milliseconds()).
			Streams().
			Key(s.cfg.Stream).
			Id(id).
			Build()
	} else {
		cmd = s.client.B().Xreadgroup().Group(s.cfg.Group, s.cfg.Consumer).
			Count(1).
			Streams().
			Key(s.cfg.Stream).
			Id(id).
			Build()
	}

	streams, err := s.client.Do(ctx, cmd).AsXRead()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil // 超时，没有新消息
		}
		return nil, err
	}
	for _, entries := range streams {
		for i := range entries {
			// a pending entry trimmed from the stream comes back without fields
			if entries[i].FieldValues == nil {
				s.ack(ctx, entries[i].ID)
				continue
			}
			return &entries[i], nil
		}
	}
	return nil, nil
}

func (s *Subscriber) claimIdle(ctx context.Context) (*rueidis.XRangeEntry, error) {
	pending, err := s.client.Do(ctx, s.client.B().Xpending().Key(s.cfg.Stream).Group(s.cfg.Group).
		Idle(s.cfg.MinIdle.Milliseconds()).Start("-").End("+").Count(1).Build()).ToArray()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	info, err := pending[0].ToArray()
	if err != nil || len(info) < 4 {
		return nil, err
	}
	id, err := info[0].ToString()
	if err != nil {
		return nil, err
	}
	if deliveries, err := info[3].AsInt64(); err == nil && int(deliveries) > s.attempts[id] {
		s.attempts[id] = int(deliveries)
	}

	claimed, err := s.client.Do(ctx, s.client.B().Xclaim().Key(s.cfg.Stream).Group(s.cfg.Group).
		Consumer(s.cfg.Consumer).MinIdleTime(strconv.FormatInt(s.cfg.MinIdle.Milliseconds(), 10)).
		Id(id).Build()).AsXRange()
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	logger.Info("Claimed idle stream entry", zap.String("message_id", id), zap.Int("previous_deliveries", s.attempts[id]))
	return &claimed[0], nil
}

func (s *Subscriber) handle(ctx context.Context, handler messaging.Handler, entry rueidis.XRangeEntry) {
	routingKey := entry.FieldValues[fieldRoutingKey]
	body, ok := entry.FieldValues[fieldEvent]
	if !ok || routingKey == "" {
		s.deadLetter(ctx, entry, "malformed stream entry")
		return
	}
	if !messaging.MatchAny(s.cfg.Patterns, routingKey) {
		s.ack(ctx, entry.ID)
		return
	}

	s.attempts[entry.ID]++
	attempt := s.attempts[entry.ID]
	if attempt > s.cfg.MaxDeliveries {
		s.deadLetter(ctx, entry, "max deliveries exceeded")
		return
	}

	switch handler.Handle(ctx, messaging.Delivery{ID: entry.ID, RoutingKey: routingKey, Body: []byte(body), Attempt: attempt}) {
	case messaging.Ack:
		s.ack(ctx, entry.ID)
	case messaging.Reject:
		s.deadLetter(ctx, entry, "rejected")
	default:
		// stays pending for this consumer, read again with id 0
		if attempt >= s.cfg.MaxDeliveries {
			s.deadLetter(ctx, entry, "max deliveries exceeded")
			return
		}
		sleep(ctx, s.cfg.RetryDelay)
	}
}

func (s *Subscriber) ack(ctx context.Context, id string) {
	delete(s.attempts, id)
	if err := s.client.Do(ctx, s.client.B().Xack().Key(s.cfg.Stream).Group(s.cfg.Group).Id(id).Build()).Error(); err != nil {
		logger.Error("Failed to ACK stream entry", zap.String("message_id", id), zap.Error(err))
	}
}

func (s *Subscriber) deadLetter(ctx context.Context, entry rueidis.XRangeEntry, reason string) {
	logger.Warn("Stream entry dead-lettered",
		zap.String("message_id", entry.ID),
		zap.String("routing_key", entry.FieldValues[fieldRoutingKey]),
		zap.String("reason", reason),
	)
	cmd := s.client.B().Xadd().Key(s.DeadLetterStream()).Id("*").
		FieldValue().
		FieldValue(fieldReason, reason).
		FieldValue(fieldSourceID, entry.ID).
		FieldValue(fieldRoutingKey, entry.FieldValues[fieldRoutingKey]).
		FieldValue(fieldEvent, entry.FieldValues[fieldEvent]).
		Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		// leave it pending; it is retried and dead-lettered again later
		logger.Error("Failed to dead-letter stream entry", zap.String("message_id", entry.ID), zap.Error(err))
		return
	}
	s.ack(ctx, entry.ID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
