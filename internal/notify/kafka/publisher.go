// Package kafka publishes notifications to a Kafka topic consumed by the
// delivery pipeline (mailer, push gateway). The engine treats this as
// fire-and-forget: produce errors surface to notify.Dispatch, which logs and
// drops them.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"entitle/internal/notify"
	pstrings "entitle/pkg/platform/strings"
)

const defaultTopic = "entitle.notifications"

// Publisher produces notification messages with franz-go.
type Publisher struct {
	client *kgo.Client
	topic  string
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithTopic overrides the destination topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		if topic != "" {
			p.topic = topic
		}
	}
}

// New connects to the given brokers (comma-separated).
func New(brokers string, opts ...Option) (*Publisher, error) {
	seeds := pstrings.DedupeAndTrim(strings.Split(brokers, ","))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	p := &Publisher{client: client, topic: defaultTopic}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type payload struct {
	UserID int64  `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Link   string `json:"link,omitempty"`
}

// Notify produces one record, keyed by user id so one user's notifications
// stay ordered.
func (p *Publisher) Notify(ctx context.Context, msg notify.Message) error {
	value, err := json.Marshal(payload{
		UserID: int64(msg.UserID),
		Title:  msg.Title,
		Body:   msg.Body,
		Link:   msg.Link,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(msg.UserID.String()),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}

// Close flushes and shuts down the producer.
func (p *Publisher) Close() {
	p.client.Close()
}
