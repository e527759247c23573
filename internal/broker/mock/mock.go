// Package mock provides test doubles for the broker interfaces.
//
// Use Producer to verify what a stage publishes and to inject acknowledgement
// failures, and Partition/Consumer to feed scripted message streams to worker
// handlers without a live broker. All fields are safe to set before calling
// any method; mutating them during a concurrent call is the caller's
// responsibility.
package mock

import (
	"context"
	"sync"

	"github.com/lingopack/lingopack/internal/broker"
)

// PublishCall records a single invocation of Publish.
type PublishCall struct {
	// Topic is the topic passed to Publish.
	Topic string
	// Key is the message key passed to Publish.
	Key string
	// Value is a copy of the payload passed to Publish.
	Value []byte
}

// Producer is a mock implementation of broker.Producer.
// The zero value acknowledges every publish.
type Producer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// PublishErrs is consumed one entry per Publish call, in order. A nil
	// entry acknowledges that call. Once drained, PublishErr applies.
	PublishErrs []error

	// PublishErr, if non-nil, is returned by every Publish call not covered
	// by PublishErrs.
	PublishErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records (read after test) ---

	// PublishCalls records every acknowledged Publish in order. Failed
	// publishes are not recorded, mirroring a broker that never stored the
	// message.
	PublishCalls []PublishCall

	// CloseCount is the number of times Close was called.
	CloseCount int
}

// Publish records the call and returns the next configured error, if any.
func (p *Producer) Publish(_ context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if len(p.PublishErrs) > 0 {
		err = p.PublishErrs[0]
		p.PublishErrs = p.PublishErrs[1:]
	} else {
		err = p.PublishErr
	}
	if err != nil {
		return err
	}

	v := make([]byte, len(value))
	copy(v, value)
	p.PublishCalls = append(p.PublishCalls, PublishCall{Topic: topic, Key: key, Value: v})
	return nil
}

// Close records the call and returns CloseErr.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCount++
	return p.CloseErr
}

// Published returns the payloads of all acknowledged publishes to topic, in
// order.
func (p *Producer) Published(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, c := range p.PublishCalls {
		if c.Topic == topic {
			out = append(out, c.Value)
		}
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Producer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PublishCalls = nil
	p.CloseCount = 0
}

// Partition is a mock implementation of broker.Partition fed from an
// in-memory channel. Create it with NewPartition, queue messages with Send,
// and close the stream with CloseSend so range-based handlers terminate.
type Partition struct {
	mu sync.Mutex

	topic      string
	id         int32
	ch         chan broker.Message
	nextOffset int64

	// Marked records every Mark call as the offset the broker would resume
	// from, i.e. the marked offset plus one.
	Marked []int64

	// CommitCount is the number of times Commit was called.
	CommitCount int
}

// NewPartition returns a partition stream for topic with the given id.
func NewPartition(topic string, id int32) *Partition {
	return &Partition{
		topic: topic,
		id:    id,
		ch:    make(chan broker.Message, 64),
	}
}

// Send queues messages on the stream, assigning consecutive offsets starting
// after the last queued message.
func (p *Partition) Send(msgs ...broker.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		m.Topic = p.topic
		m.Partition = p.id
		m.Offset = p.nextOffset
		p.nextOffset++
		p.ch <- m
	}
}

// CloseSend ends the stream. Handlers ranging over Messages return once all
// queued messages are drained.
func (p *Partition) CloseSend() {
	close(p.ch)
}

// Topic implements [broker.Partition.Topic].
func (p *Partition) Topic() string { return p.topic }

// ID implements [broker.Partition.ID].
func (p *Partition) ID() int32 { return p.id }

// Messages implements [broker.Partition.Messages].
func (p *Partition) Messages() <-chan broker.Message { return p.ch }

// Mark implements [broker.Partition.Mark].
func (p *Partition) Mark(offset int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Marked = append(p.Marked, offset+1)
}

// Commit implements [broker.Partition.Commit].
func (p *Partition) Commit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CommitCount++
}

// Committed returns the resume offset as of the last Commit, or -1 when
// nothing was marked. With in-order marking this is the highest mark.
func (p *Partition) Committed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CommitCount == 0 || len(p.Marked) == 0 {
		return -1
	}
	resume := p.Marked[0]
	for _, m := range p.Marked[1:] {
		if m > resume {
			resume = m
		}
	}
	return resume
}

// Consumer is a mock implementation of broker.Consumer that runs the handler
// once over each configured partition, sequentially, then returns.
type Consumer struct {
	mu sync.Mutex

	// Partitions are handed to the handler in order.
	Partitions []*Partition

	// RunErr, if non-nil, is returned by Run before any handler call.
	RunErr error

	// CloseCount is the number of times Close was called.
	CloseCount int
}

// Run implements [broker.Consumer.Run]. Unlike a live consumer it does not
// re-enter sessions; it returns the first handler error so tests can assert
// on failures directly.
func (c *Consumer) Run(ctx context.Context, h broker.Handler) error {
	if c.RunErr != nil {
		return c.RunErr
	}
	for _, p := range c.Partitions {
		if err := h(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close records the call.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	return nil
}

// Ensure the mocks implement the broker interfaces at compile time.
var (
	_ broker.Producer  = (*Producer)(nil)
	_ broker.Partition = (*Partition)(nil)
	_ broker.Consumer  = (*Consumer)(nil)
)
