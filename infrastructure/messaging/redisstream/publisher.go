// Package redisstream implements the topic transport on Redis Streams.
//
// All events go to one stream. Each entry carries the routing key next to the
// encoded envelope; a consumer group reads with COUNT 1 and filters by pattern,
// which gives the same semantics as a topic exchange with a durable queue.
package redisstream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"
)

const (
	fieldRoutingKey = "routing_key"
	fieldEvent      = "event"
	fieldReason     = "reason"
	fieldSourceID   = "source_id"

	deadLetterSuffix = ".dead"
)

// Config Redis connection and stream settings
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// NewClient creates the process-wide client handle.
func NewClient(cfg Config) (rueidis.Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: cfg.Addrs,
		Username:    cfg.Username,
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Ping checks the connection, used by the health endpoint.
func Ping(ctx context.Context, client rueidis.Client) error {
	return client.Do(ctx, client.B().Ping().Build()).Error()
}

// Publisher appends events to the stream. XADD returns only after redis has the
// entry, which is the broker acknowledgement the pipeline waits for.
type Publisher struct {
	client rueidis.Client
	stream string
	maxLen int64
}

func NewPublisher(client rueidis.Client, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	var cmd rueidis.Completed
	if p.maxLen > 0 {
		cmd = p.client.B().Xadd().Key(p.stream).
			Maxlen().Almost().Threshold(strconv.FormatInt(p.maxLen, 10)).
			Id("*").
			FieldValue().
			FieldValue(fieldRoutingKey, routingKey).
			FieldValue(fieldEvent, string(body)).
			Build()
	} else {
		cmd = p.client.B().Xadd().Key(p.stream).Id("*").
			FieldValue().
			FieldValue(fieldRoutingKey, routingKey).
			FieldValue(fieldEvent, string(body)).
			Build()
	}

	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Stream returns the stream key.
func (p *Publisher) Stream() string {
	return p.stream
}
