// Package broker provides the message-broker client used by the pipeline:
// typed JSON publishing keyed by task id, and consumer-group consumption
// with manual offset commits.
//
// Delivery is at-least-once. A message's offset is marked and committed only
// after the consuming stage either advanced the task or decided the message
// is undeliverable; anything else leaves the offset unmarked so the broker
// redelivers it in a later session.
package broker

import "context"

// Message is one consumed broker record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// Producer publishes messages to topics. Implementations must be safe for
// concurrent use.
type Producer interface {
	// Publish sends value to topic, keyed so all messages of one task land
	// in one partition. It returns once the broker has acknowledged the
	// write.
	Publish(ctx context.Context, topic, key string, value []byte) error

	// Close releases the producer.
	Close() error
}

// Partition is one partition's message stream within a consumer session.
// Offsets in a partition arrive in increasing order.
type Partition interface {
	// Topic returns the topic this partition belongs to.
	Topic() string

	// ID returns the partition number.
	ID() int32

	// Messages returns the stream. The channel closes when the session
	// ends or the partition is revoked.
	Messages() <-chan Message

	// Mark records offset as processed, so the next session resumes after
	// it. Marking does not commit; call Commit to flush marks.
	Mark(offset int64)

	// Commit flushes all marked offsets to the broker.
	Commit()
}

// Handler processes one partition's stream. Returning an error tears down
// the consumer session; unmarked offsets are redelivered when the group
// rejoins.
type Handler func(ctx context.Context, p Partition) error

// Consumer runs a handler over every assigned partition of one topic.
type Consumer interface {
	// Run consumes until ctx is cancelled, re-entering the group session
	// after rebalances and handler failures. It only returns early on a
	// fatal consumer error.
	Run(ctx context.Context, h Handler) error

	// Close leaves the consumer group.
	Close() error
}
