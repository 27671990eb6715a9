package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"library/domain/shared"
	"library/infrastructure/persistence"
	"library/infrastructure/persistence/gormstore/po"

	"gorm.io/gorm"
)

// ErrEventClaimed is returned by MarkEventProcessing when another relay (or the
// command pipeline) already moved the row out of PENDING.
var ErrEventClaimed = errors.New("outbox event already claimed")

const maxLastErrorLength = 1000

// OutboxRepository GORM implementation of the transactional outbox
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// getDB returns the transaction from context if available, otherwise the default db
func (r *OutboxRepository) getDB(ctx context.Context) *gorm.DB {
	if tx := persistence.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// SaveEvents writes one PENDING row per event.
// Uses transaction from context when called within UoW.Execute().
// Creates its own transaction when called standalone.
func (r *OutboxRepository) SaveEvents(ctx context.Context, aggregateType string, events []shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]*po.OutboxEventPO, 0, len(events))
	for _, event := range events {
		row, err := po.FromDomainEvent(event, aggregateType)
		if err != nil {
			return fmt.Errorf("failed to convert domain event: %w", err)
		}
		rows = append(rows, row)
	}

	if tx := persistence.TxFromContext(ctx); tx != nil {
		return r.saveRowsWithTx(tx, rows)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.saveRowsWithTx(tx, rows)
	})
}

func (r *OutboxRepository) saveRowsWithTx(tx *gorm.DB, rows []*po.OutboxEventPO) error {
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to save events to outbox: %w", err)
	}
	return nil
}

// GetPendingEvents returns PENDING rows that are due and were created before
// createdBefore, oldest first. The grace period keeps the relay away from rows the
// command pipeline is still publishing.
//
// A row is only returned when every older unpublished row of its aggregate is
// returned too, so the relay never sends version n+1 ahead of version n that is
// backing off, in flight or FAILED.
func (r *OutboxRepository) GetPendingEvents(ctx context.Context, limit int, createdBefore time.Time) ([]*po.OutboxEventPO, error) {
	now := time.Now().UTC()
	// older rows of the same aggregate that this query will not hand out
	blocked := r.db.Table("outbox_events AS earlier").
		Select("1").
		Where("earlier.aggregate_id = outbox_events.aggregate_id AND earlier.aggregate_version < outbox_events.aggregate_version").
		Where("earlier.status <> ?", string(po.EventStatusPublished)).
		Where("NOT (earlier.status = ? AND earlier.next_attempt_at <= ? AND earlier.created_at <= ?)",
			string(po.EventStatusPending), now, createdBefore)

	var events []*po.OutboxEventPO
	err := r.getDB(ctx).
		Where("status = ? AND next_attempt_at <= ? AND created_at <= ?",
			string(po.EventStatusPending), now, createdBefore).
		Where("NOT EXISTS (?)", blocked).
		Order("created_at ASC, aggregate_version ASC, id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	return events, nil
}

// HasUnpublishedBefore reports whether an older event of the aggregate has not
// reached the broker yet (PENDING, PROCESSING or FAILED).
func (r *OutboxRepository) HasUnpublishedBefore(ctx context.Context, aggregateID string, version int) (bool, error) {
	var count int64
	err := r.getDB(ctx).Model(&po.OutboxEventPO{}).
		Where("aggregate_id = ? AND aggregate_version < ? AND status <> ?",
			aggregateID, version, string(po.EventStatusPublished)).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check outbox order: %w", err)
	}
	return count > 0, nil
}

// MarkEventProcessing claims a row (PENDING -> PROCESSING) with a conditional update.
func (r *OutboxRepository) MarkEventProcessing(ctx context.Context, eventID string) error {
	result := r.getDB(ctx).Model(&po.OutboxEventPO{}).
		Where("id = ? AND status = ?", eventID, string(po.EventStatusPending)).
		Updates(map[string]interface{}{
			"status":     string(po.EventStatusProcessing),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrEventClaimed, eventID)
	}
	return nil
}

// MarkEventsPublished marks rows PUBLISHED. Rows already published by someone
// else are left alone.
func (r *OutboxRepository) MarkEventsPublished(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	err := r.getDB(ctx).Model(&po.OutboxEventPO{}).
		Where("id IN ? AND status IN ?", eventIDs,
			[]string{string(po.EventStatusPending), string(po.EventStatusProcessing)}).
		Updates(map[string]interface{}{
			"status":       string(po.EventStatusPublished),
			"published_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark events published: %w", err)
	}
	return nil
}

// MarkEventFailed records a failed attempt. The row goes back to PENDING with
// next_attempt_at pushed by backoff, or to FAILED once maxRetries is reached.
func (r *OutboxRepository) MarkEventFailed(ctx context.Context, eventID string, maxRetries int, backoff time.Duration, cause error) error {
	db := r.getDB(ctx)

	var event po.OutboxEventPO
	if err := db.First(&event, "id = ?", eventID).Error; err != nil {
		return fmt.Errorf("failed to find event: %w", err)
	}

	newRetryCount := event.RetryCount + 1
	newStatus := string(po.EventStatusFailed)
	if newRetryCount < maxRetries {
		newStatus = string(po.EventStatusPending) // Retry later
	}

	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
		if len(lastErr) > maxLastErrorLength {
			lastErr = lastErr[:maxLastErrorLength]
		}
	}

	now := time.Now().UTC()
	return db.Model(&po.OutboxEventPO{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"status":          newStatus,
			"retry_count":     newRetryCount,
			"next_attempt_at": now.Add(backoff),
			"last_error":      lastErr,
			"updated_at":      now,
		}).Error
}

// ReleaseStale returns PROCESSING rows whose claim is older than claimedBefore
// to PENDING (the relay that claimed them crashed).
func (r *OutboxRepository) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	result := r.getDB(ctx).Model(&po.OutboxEventPO{}).
		Where("status = ? AND updated_at < ?", string(po.EventStatusProcessing), claimedBefore).
		Updates(map[string]interface{}{
			"status":     string(po.EventStatusPending),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to release stale events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountByStatus is used by health checks and tests.
func (r *OutboxRepository) CountByStatus(ctx context.Context, status po.EventStatus) (int64, error) {
	var count int64
	err := r.getDB(ctx).Model(&po.OutboxEventPO{}).Where("status = ?", string(status)).Count(&count).Error
	return count, err
}

// Compile-time interface implementation check
var _ shared.OutboxRepository = (*OutboxRepository)(nil)
