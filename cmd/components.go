package cmd

import (
	"context"
	"fmt"
	"time"

	"library/config"
	"library/infrastructure/messaging"
	"library/infrastructure/messaging/membroker"
	"library/infrastructure/messaging/redisstream"
	"library/infrastructure/persistence/gormstore"
	"library/infrastructure/persistence/retry"
	"library/infrastructure/readstore"
	"library/pkg/logger"
	"library/projection"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Broker 一个进程只持有一个 broker 连接，由 main 创建并在退出时关闭
type Broker struct {
	Transport messaging.Transport
	Memory    *membroker.Broker // broker.driver=memory
	Redis     rueidis.Client    // broker.driver=redis
}

func OpenBroker(ctx context.Context, cfg *config.Config) (*Broker, error) {
	switch cfg.Broker.Driver {
	case "memory":
		b := membroker.New()
		logger.Info("Using in-memory broker, events stay inside this process")
		return &Broker{Transport: b, Memory: b}, nil
	case "redis":
		client, err := redisstream.NewClient(redisstream.Config{
			Addrs:    cfg.Broker.Addrs,
			Username: cfg.Broker.Username,
			Password: cfg.Broker.Password,
			DB:       cfg.Broker.DB,
		})
		if err != nil {
			return nil, err
		}
		if err := redisstream.Ping(ctx, client); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info("Connected to redis broker",
			zap.Strings("addrs", cfg.Broker.Addrs),
			zap.String("stream", cfg.Broker.Stream))
		return &Broker{
			Transport: redisstream.NewPublisher(client, cfg.Broker.Stream, cfg.Broker.MaxLen),
			Redis:     client,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported broker driver %q", cfg.Broker.Driver)
	}
}

func (b *Broker) Ping(ctx context.Context) error {
	if b.Redis != nil {
		return redisstream.Ping(ctx, b.Redis)
	}
	return b.Memory.Ping(ctx)
}

func (b *Broker) Close() {
	if b.Redis != nil {
		b.Redis.Close()
	}
	if b.Memory != nil {
		b.Memory.Close()
	}
}

// Publisher wraps the transport with the event codec.
func (b *Broker) Publisher(cfg *config.Config) *messaging.EventPublisher {
	return messaging.NewEventPublisher(b.Transport, cfg.Broker.PublishTimeout)
}

func OpenReadStore(ctx context.Context, cfg *config.Config) (readstore.Store, error) {
	switch cfg.ReadStore.Driver {
	case "memory":
		logger.Info("Using in-memory read store")
		return readstore.NewMemoryStore(), nil
	case "mongo":
		store, err := readstore.ConnectMongo(ctx, readstore.MongoConfig{
			URI:      cfg.ReadStore.URI,
			Database: cfg.ReadStore.Database,
			Timeout:  cfg.ReadStore.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported read store driver %q", cfg.ReadStore.Driver)
	}
}

// NewProjectionDispatcher registers both projectors on one dispatcher.
func NewProjectionDispatcher(store readstore.Store) *projection.Dispatcher {
	d := projection.NewDispatcher(store)
	projection.NewBookProjector(store, store).Register(d)
	projection.NewAuthorProjector(store, store).Register(d)
	return d
}

func NewRedisSubscriber(cfg *config.Config, client rueidis.Client) *redisstream.Subscriber {
	return redisstream.NewSubscriber(client, redisstream.SubscriberConfig{
		Stream:        cfg.Broker.Stream,
		Group:         cfg.Projector.Group,
		Consumer:      cfg.Projector.Consumer,
		Patterns:      cfg.Projector.Patterns,
		Block:         cfg.Projector.Block,
		MinIdle:       cfg.Projector.MinIdle,
		MaxDeliveries: cfg.Projector.MaxDeliveries,
		RetryDelay:    cfg.Projector.RetryDelay,
	})
}

func NewMemorySubscription(cfg *config.Config, b *membroker.Broker) *membroker.Subscription {
	return b.Subscribe(cfg.Projector.Group, cfg.Projector.Patterns, membroker.SubscribeOptions{
		MaxDeliveries: cfg.Projector.MaxDeliveries,
		RetryDelay:    cfg.Projector.RetryDelay,
	})
}

// NewOutboxRelay builds the relay from outbox.* settings. The backoff reuses the
// retry policy type; only delays and jitter matter for it.
func NewOutboxRelay(cfg *config.Config, db *gorm.DB, transport messaging.Transport) (*gormstore.OutboxRelay, error) {
	backoff := retry.DefaultConfig
	backoff.InitialDelay = cfg.Outbox.InitialBackoff
	backoff.MaxDelay = cfg.Outbox.MaxBackoff
	if backoff.MaxDelay <= 0 {
		backoff.MaxDelay = 5 * time.Minute
	}

	return gormstore.NewOutboxRelay(gormstore.NewOutboxRepository(db), transport, gormstore.RelayConfig{
		PollInterval:      cfg.Outbox.PollInterval,
		BatchSize:         cfg.Outbox.BatchSize,
		MaxRetries:        cfg.Outbox.MaxRetries,
		GracePeriod:       cfg.Outbox.GracePeriod,
		ProcessingTimeout: cfg.Outbox.ProcessingTimeout,
		Backoff:           backoff,
	})
}
