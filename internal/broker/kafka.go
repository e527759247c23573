package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// sessionBackoff is the pause between consumer sessions that ended with an
// error, so a poisoned handler does not spin against the broker.
const sessionBackoff = time.Second

// Client wraps a shared Kafka connection from which producers and group
// consumers are derived.
type Client struct {
	client sarama.Client
	logger *slog.Logger
}

// config holds optional configuration for the client.
type config struct {
	clientID string
	logger   *slog.Logger
}

// Option is a functional option for Client.
type Option func(*config)

// WithClientID overrides the client id reported to the broker.
func WithClientID(id string) Option {
	return func(c *config) {
		c.clientID = id
	}
}

// WithLogger sets the logger used for session lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// NewClient connects to the given bootstrap brokers.
//
// Producers derived from the client wait for acknowledgement from all
// in-sync replicas. Consumers start from the oldest available offset and
// never auto-commit; offsets move only through [Partition.Mark] and
// [Partition.Commit].
func NewClient(brokers []string, opts ...Option) (*Client, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("broker: no bootstrap brokers configured")
	}

	cfg := &config{
		clientID: "lingopack",
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(cfg)
	}

	sc := sarama.NewConfig()
	sc.ClientID = cfg.clientID
	sc.Version = sarama.V2_6_0_0
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = false

	client, err := sarama.NewClient(brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("broker: connect %v: %w", brokers, err)
	}
	return &Client{client: client, logger: cfg.logger}, nil
}

// Ping refreshes cluster metadata to verify the brokers are reachable.
func (c *Client) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- c.client.RefreshMetadata()
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("broker: refresh metadata: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the underlying connection. Producers and consumers
// derived from the client must be closed first.
func (c *Client) Close() error {
	if err := c.client.Close(); err != nil && !errors.Is(err, sarama.ErrClosedClient) {
		return fmt.Errorf("broker: close client: %w", err)
	}
	return nil
}

// SyncProducer returns a producer that blocks until the broker acknowledges
// each message.
func (c *Client) SyncProducer() (*SyncProducer, error) {
	sp, err := sarama.NewSyncProducerFromClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("broker: new sync producer: %w", err)
	}
	return &SyncProducer{sp: sp}, nil
}

// GroupConsumer returns a consumer that joins group and consumes topic.
func (c *Client) GroupConsumer(group, topic string) (*GroupConsumer, error) {
	cg, err := sarama.NewConsumerGroupFromClient(group, c.client)
	if err != nil {
		return nil, fmt.Errorf("broker: join group %q: %w", group, err)
	}
	return &GroupConsumer{
		group:   cg,
		groupID: group,
		topic:   topic,
		logger:  c.logger,
	}, nil
}

// SyncProducer implements [Producer] on a Kafka sync producer.
type SyncProducer struct {
	sp sarama.SyncProducer
}

var _ Producer = (*SyncProducer)(nil)

// Publish implements [Producer.Publish].
func (p *SyncProducer) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	if _, _, err := p.sp.SendMessage(msg); err != nil {
		return fmt.Errorf("broker: publish to %s: %w", topic, err)
	}
	return nil
}

// Close implements [Producer.Close].
func (p *SyncProducer) Close() error {
	if err := p.sp.Close(); err != nil {
		return fmt.Errorf("broker: close producer: %w", err)
	}
	return nil
}

// GroupConsumer implements [Consumer] on a Kafka consumer group.
type GroupConsumer struct {
	group   sarama.ConsumerGroup
	groupID string
	topic   string
	logger  *slog.Logger
}

var _ Consumer = (*GroupConsumer)(nil)

// Run implements [Consumer.Run]. Each session ends on rebalance or on the
// first handler error; unmarked offsets carry over into the next session.
func (c *GroupConsumer) Run(ctx context.Context, h Handler) error {
	gh := &groupHandler{handler: h}
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := c.group.Consume(ctx, []string{c.topic}, gh)
		switch {
		case err == nil:
			// Rebalance; rejoin immediately.
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		default:
			c.logger.Warn("consumer session failed",
				"group", c.groupID,
				"topic", c.topic,
				"error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sessionBackoff):
			}
		}
	}
}

// Close implements [Consumer.Close].
func (c *GroupConsumer) Close() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("broker: leave group %q: %w", c.groupID, err)
	}
	return nil
}

// groupHandler adapts a [Handler] to sarama's consumer group callbacks.
type groupHandler struct {
	handler Handler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim runs the handler over one assigned partition. Sarama calls it
// on its own goroutine per claim, so partitions are handled concurrently.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	p := &groupPartition{
		sess:     sess,
		claim:    claim,
		messages: make(chan Message),
	}
	go func() {
		defer close(p.messages)
		for msg := range claim.Messages() {
			select {
			case p.messages <- fromConsumerMessage(msg):
			case <-sess.Context().Done():
				return
			}
		}
	}()
	return h.handler(sess.Context(), p)
}

// groupPartition implements [Partition] over one consumer group claim.
type groupPartition struct {
	sess     sarama.ConsumerGroupSession
	claim    sarama.ConsumerGroupClaim
	messages chan Message
}

var _ Partition = (*groupPartition)(nil)

func (p *groupPartition) Topic() string { return p.claim.Topic() }

func (p *groupPartition) ID() int32 { return p.claim.Partition() }

func (p *groupPartition) Messages() <-chan Message { return p.messages }

// Mark implements [Partition.Mark]. The broker stores the offset of the next
// message to deliver, hence offset+1.
func (p *groupPartition) Mark(offset int64) {
	p.sess.MarkOffset(p.claim.Topic(), p.claim.Partition(), offset+1, "")
}

// Commit implements [Partition.Commit].
func (p *groupPartition) Commit() {
	p.sess.Commit()
}

func fromConsumerMessage(msg *sarama.ConsumerMessage) Message {
	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
	}
}
