package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"library/infrastructure/persistence/gormstore/po"
	"library/infrastructure/persistence/retry"
	"library/pkg/logger"

	"go.uber.org/zap"
)

// OutboxPublisher sends a stored envelope to the broker. The broker transports
// (redis streams, in-memory) satisfy it directly.
type OutboxPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// RelayConfig Outbox relay settings
type RelayConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxRetries        int
	GracePeriod       time.Duration
	ProcessingTimeout time.Duration
	Backoff           retry.Config
}

// OutboxRelay republishes events whose in-process publish failed or never ran
// (crash between commit and publish). Delivery is at least once; consumers
// deduplicate by event id. Rows of one aggregate go out in version order.
type OutboxRelay struct {
	repository *OutboxRepository
	publisher  OutboxPublisher
	cfg        RelayConfig
}

func NewOutboxRelay(repository *OutboxRepository, publisher OutboxPublisher, cfg RelayConfig) (*OutboxRelay, error) {
	if repository == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("max retries must be positive")
	}
	if cfg.GracePeriod < 0 {
		return nil, fmt.Errorf("grace period cannot be negative")
	}

	return &OutboxRelay{
		repository: repository,
		publisher:  publisher,
		cfg:        cfg,
	}, nil
}

func (w *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	logger.Info("Outbox relay started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Duration("grace_period", w.cfg.GracePeriod),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Outbox batch processing failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch publishes one batch of due rows and returns how many were published.
func (w *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	if w.cfg.ProcessingTimeout > 0 {
		released, err := w.repository.ReleaseStale(ctx, time.Now().UTC().Add(-w.cfg.ProcessingTimeout))
		if err != nil {
			return 0, err
		}
		if released > 0 {
			logger.Warn("Released stale outbox claims", zap.Int64("count", released))
		}
	}

	events, err := w.repository.GetPendingEvents(ctx, w.cfg.BatchSize, time.Now().UTC().Add(-w.cfg.GracePeriod))
	if err != nil {
		return 0, err
	}

	// an aggregate whose row failed keeps its later rows for the next batch
	stalled := make(map[string]bool)
	published := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if stalled[event.AggregateID] {
			continue
		}
		if w.publishOne(ctx, event) {
			published++
		} else {
			stalled[event.AggregateID] = true
		}
	}
	return published, nil
}

func (w *OutboxRelay) publishOne(ctx context.Context, event *po.OutboxEventPO) bool {
	log := logger.With(
		zap.String("event_id", event.ID),
		zap.String("event_name", event.EventType),
		zap.String("aggregate_id", event.AggregateID),
	)

	if err := w.repository.MarkEventProcessing(ctx, event.ID); err != nil {
		log.Debug("Skip outbox event due to lock contention", zap.Error(err))
		return false
	}

	if err := w.publisher.Publish(ctx, event.EventType, []byte(event.Payload)); err != nil {
		attempt := event.RetryCount + 1
		backoff := retry.ExponentialBackoffWithJitter(attempt, w.cfg.Backoff)
		if failErr := w.repository.MarkEventFailed(ctx, event.ID, w.cfg.MaxRetries, backoff, err); failErr != nil {
			log.Error("Failed to mark outbox event as failed", zap.Error(failErr))
		}
		if attempt >= w.cfg.MaxRetries {
			log.Error("Outbox event gave up after max retries", zap.Int("attempts", attempt), zap.Error(err))
		} else {
			log.Warn("Outbox publish failed, will retry", zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		}
		return false
	}

	if err := w.repository.MarkEventsPublished(ctx, []string{event.ID}); err != nil {
		// the broker has it; a duplicate later is absorbed by consumer markers
		log.Error("Failed to mark outbox event as published", zap.Error(err))
	}
	log.Debug("Outbox event relayed")
	return true
}
