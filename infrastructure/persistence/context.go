package persistence

import (
	"context"

	"library/domain/shared"

	"gorm.io/gorm"
)

type (
	txKey        struct{}
	requestIDKey struct{}
	userIDKey    struct{}
)

// TxFromContext retrieves the GORM transaction from context
// Returns nil if no transaction is present
func TxFromContext(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return nil
}

// ContextWithTx returns a new context with the GORM transaction attached
func ContextWithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// ContextWithRequestID attaches the request id. It becomes the correlationId of
// every event the request produces.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithUserID attaches the acting user, copied into event metadata.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// StampEvent returns a copy of evt carrying the version it produced and the
// request trace from ctx. Outbox rows and the in-process publisher both go through
// here so the two copies of an event carry the same metadata.
func StampEvent(ctx context.Context, evt shared.DomainEvent, version int) shared.DomainEvent {
	out := evt.WithAggregateVersion(version)
	md := out.Metadata()
	if md.CorrelationID == "" {
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			out = out.WithCorrelation(requestID, md.CausationID)
		}
	}
	if md.UserID == "" {
		if userID := UserIDFromContext(ctx); userID != "" {
			out = out.WithUser(userID)
		}
	}
	return out
}
