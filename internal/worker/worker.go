// Package worker implements the pipeline's three consumer roles: the audio
// worker (transcribe, then score and translate concurrently), the translation
// worker (translate only), and the packaging worker (batch, write package
// files, complete tasks).
//
// All three follow the same outcome discipline: every consumed message is
// resolved to OK (the task advanced), Drop (the message can never succeed and
// is committed away), or Retry (a transient failure; the consumer session
// ends without committing so the broker redelivers). Reloading the task and
// checking its status before acting makes redelivered messages idempotent.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lingopack/lingopack/internal/broker"
	"github.com/lingopack/lingopack/internal/observe"
	"github.com/lingopack/lingopack/internal/resilience"
	"github.com/lingopack/lingopack/internal/task"
	"github.com/lingopack/lingopack/internal/taskstore"
)

// Role names used in logs and stage metrics. The worker launcher accepts
// these as its positional argument.
const (
	RoleAudio       = "audio"
	RoleTranslation = "translation"
	RolePackaging   = "packaging"
)

// Outcome is the verdict a worker reaches for one consumed message.
type Outcome int

const (
	// OutcomeOK means the task advanced; the offset is marked and committed.
	OutcomeOK Outcome = iota

	// OutcomeDrop means the message can never succeed (malformed, unknown
	// task, or the task is no longer in the expected status); the offset is
	// committed so the message is not seen again.
	OutcomeDrop

	// OutcomeRetry means a transient failure survived the attempt budget;
	// the offset stays uncommitted and the consumer session ends so the
	// broker redelivers the message.
	OutcomeRetry
)

// String returns the lower-case outcome label used in logs and metric
// attributes.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeDrop:
		return "drop"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

const (
	// defaultAttempts is the attempt budget for each external interaction:
	// an engine call, a task reload, or the persist-and-publish transaction.
	defaultAttempts = 3

	// defaultBatchWindow is how long the packaging worker waits for a batch
	// to fill before processing what it has.
	defaultBatchWindow = time.Second

	// defaultIdleSleep is how long the packaging worker sleeps after an
	// empty poll.
	defaultIdleSleep = 100 * time.Millisecond
)

// ProviderNames are the configured backend names recorded on engine-call
// metrics, so one dashboard can tell a whisper deployment from an OpenAI one.
type ProviderNames struct {
	STT        string
	Translator string
	Scorer     string
}

// settings are the tunables shared by all worker constructors.
type settings struct {
	attempts    int
	metrics     *observe.Metrics
	providers   ProviderNames
	batchWindow time.Duration
	idleSleep   time.Duration
	sizer       *Sizer
}

func defaultSettings() settings {
	return settings{
		attempts:    defaultAttempts,
		metrics:     observe.DefaultMetrics(),
		batchWindow: defaultBatchWindow,
		idleSleep:   defaultIdleSleep,
	}
}

// Option adjusts a worker during construction. Options that do not apply to
// the worker being built are ignored.
type Option func(*settings)

// WithAttempts sets the attempt budget for each external interaction.
// Values below 1 are treated as 1. The default is 3.
func WithAttempts(n int) Option {
	return func(s *settings) {
		if n >= 1 {
			s.attempts = n
		}
	}
}

// WithMetrics records stage and engine metrics on m instead of the
// process-default instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithProviderNames labels engine-call metrics with the configured backend
// names.
func WithProviderNames(names ProviderNames) Option {
	return func(s *settings) { s.providers = names }
}

// WithBatchWindow sets how long the packaging worker waits for a batch to
// fill. The default is 1 second.
func WithBatchWindow(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.batchWindow = d
		}
	}
}

// WithIdleSleep sets how long the packaging worker sleeps after an empty
// poll. The default is 100 milliseconds.
func WithIdleSleep(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.idleSleep = d
		}
	}
}

// WithSizer replaces the packaging worker's adaptive batch sizer.
func WithSizer(sz *Sizer) Option {
	return func(s *settings) {
		if sz != nil {
			s.sizer = sz
		}
	}
}

// runSequential consumes p one message at a time: resolved messages (OK or
// Drop) are marked and committed immediately; a Retry outcome stops the
// session so the broker redelivers everything from the first unmarked
// offset. The audio and translation workers share this loop.
func runSequential(ctx context.Context, p broker.Partition, role string, m *observe.Metrics, process func(context.Context, broker.Message) Outcome) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.Messages():
			if !ok {
				return nil
			}
			start := time.Now()
			out := process(ctx, msg)
			m.RecordStage(ctx, role, out.String(), time.Since(start))
			m.RecordConsumed(ctx, msg.Topic, out.String())
			if out == OutcomeRetry {
				return fmt.Errorf("worker: %s: message %s/%d@%d unresolved, awaiting redelivery",
					role, msg.Topic, msg.Partition, msg.Offset)
			}
			p.Mark(msg.Offset)
			p.Commit()
		}
	}
}

// decodeQueuedTask unmarshals and validates the wire message. A malformed
// message can never succeed, so failures are logged and reported as not ok
// for the caller to drop.
func decodeQueuedTask(ctx context.Context, msg broker.Message) (task.QueuedTask, bool) {
	var queued task.QueuedTask
	if err := json.Unmarshal(msg.Value, &queued); err != nil {
		observe.Logger(ctx).Warn("dropping undecodable message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return task.QueuedTask{}, false
	}
	if err := queued.Validate(); err != nil {
		observe.Logger(ctx).Warn("dropping invalid message",
			"topic", msg.Topic, "task_id", queued.TaskID, "err", err)
		return task.QueuedTask{}, false
	}
	return queued, true
}

// reloadTask fetches the task record within the attempt budget. Workers act
// on the stored record, not the wire message, so a cancellation that raced
// the message is always observed here or at the status transition.
func reloadTask(ctx context.Context, s taskstore.Store, attempts int, log *slog.Logger, taskID string) (*task.TranslationTask, Outcome) {
	t, err := resilience.DoWithResult(ctx, attempts, func() (*task.TranslationTask, error) {
		return s.Get(ctx, taskID)
	})
	if err != nil {
		log.Error("reloading task failed after retries", "err", err)
		return nil, OutcomeRetry
	}
	if t == nil {
		log.Warn("dropping message for unknown task")
		return nil, OutcomeDrop
	}
	return t, OutcomeOK
}

// advanceToPacking moves t from PENDING to TO_PACKING with the stage outputs
// already set on it, republishing wire to the package topic within the same
// transaction so a failed publish rolls the status write back. It reports
// whether the task advanced; losing the status race (false, nil) means the
// task was cancelled or already advanced and the message must be dropped.
func advanceToPacking(ctx context.Context, s taskstore.Store, prod broker.Producer, m *observe.Metrics, attempts int, topic string, t *task.TranslationTask, wire []byte) (bool, error) {
	t.Status = task.StatusToPacking

	var advanced bool
	err := resilience.Do(ctx, attempts, func() error {
		return s.InTx(ctx, func(txs taskstore.Store) error {
			ok, err := txs.Transition(ctx, t, task.StatusPending)
			if err != nil {
				return fmt.Errorf("transition to %s: %w", task.StatusToPacking, err)
			}
			advanced = ok
			if !ok {
				return nil
			}
			if err := prod.Publish(ctx, topic, t.ID, wire); err != nil {
				return fmt.Errorf("publish to %s: %w", topic, err)
			}
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	if advanced {
		m.RecordPublished(ctx, topic)
	}
	return advanced, nil
}
