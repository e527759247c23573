package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lingopack/lingopack/internal/broker"
	"github.com/lingopack/lingopack/internal/observe"
	"github.com/lingopack/lingopack/internal/resilience"
	"github.com/lingopack/lingopack/internal/task"
	"github.com/lingopack/lingopack/internal/taskstore"
	"github.com/lingopack/lingopack/pkg/pack"
)

// PackagingWorker consumes the package topic in batches sized by memory
// pressure. Each task in a batch is packaged concurrently: its outputs are
// written to a package file and the task moves from TO_PACKING to COMPLETED,
// with the package record inserted in the same transaction. Offsets are
// committed for the longest contiguous prefix of resolved messages, so a
// retryable failure mid-batch holds back everything behind it for
// redelivery.
type PackagingWorker struct {
	store taskstore.Store
	dir   string
	set   settings
}

// NewPackagingWorker wires a packaging worker writing package files under
// dir. Without [WithSizer] batches are sized from real system memory.
func NewPackagingWorker(store taskstore.Store, dir string, opts ...Option) (*PackagingWorker, error) {
	if store == nil {
		return nil, errors.New("worker: packaging worker needs a store")
	}
	if dir == "" {
		return nil, errors.New("worker: packaging worker needs a package directory")
	}
	set := defaultSettings()
	for _, opt := range opts {
		opt(&set)
	}
	if set.sizer == nil {
		set.sizer = NewSizer()
	}
	return &PackagingWorker{store: store, dir: dir, set: set}, nil
}

// Run consumes with c until ctx is cancelled or the consumer fails fatally.
func (w *PackagingWorker) Run(ctx context.Context, c broker.Consumer) error {
	return c.Run(ctx, w.Handler())
}

// Handler returns the partition handler implementing the packaging stage.
func (w *PackagingWorker) Handler() broker.Handler {
	return func(ctx context.Context, p broker.Partition) error {
		return w.consumePartition(ctx, p)
	}
}

// consumePartition alternates between collecting a batch and packaging it.
// The batch size is re-read from the sizer on every poll so a host under
// memory pressure shrinks its batches without restarting the worker.
func (w *PackagingWorker) consumePartition(ctx context.Context, p broker.Partition) error {
	for {
		size := w.set.sizer.Size(ctx)
		batch, open := collectBatch(ctx, p, size, w.set.batchWindow)
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(batch) == 0 {
			if !open {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.set.idleSleep):
			}
			continue
		}

		w.set.metrics.RecordBatchSize(ctx, len(batch))
		if err := w.processBatch(ctx, p, batch); err != nil {
			return err
		}
		if !open {
			return nil
		}
	}
}

// collectBatch reads up to size messages from p, giving up after window so a
// trickle of traffic is not held hostage to a full batch. The second result
// is false once the stream has ended.
func collectBatch(ctx context.Context, p broker.Partition, size int, window time.Duration) ([]broker.Message, bool) {
	timer := time.NewTimer(window)
	defer timer.Stop()

	var batch []broker.Message
	for len(batch) < size {
		select {
		case <-ctx.Done():
			return batch, false
		case <-timer.C:
			return batch, true
		case msg, ok := <-p.Messages():
			if !ok {
				return batch, false
			}
			batch = append(batch, msg)
		}
	}
	return batch, true
}

// processBatch packages every message in the batch concurrently, then
// commits the longest contiguous prefix of resolved outcomes. Later resolved
// messages behind an unresolved one stay uncommitted; the broker redelivers
// them and the status checks drop them as duplicates.
func (w *PackagingWorker) processBatch(ctx context.Context, p broker.Partition, batch []broker.Message) error {
	outcomes := make([]Outcome, len(batch))

	var wg sync.WaitGroup
	for i, msg := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			out := w.process(ctx, msg)
			outcomes[i] = out
			w.set.metrics.RecordStage(ctx, RolePackaging, out.String(), time.Since(start))
			w.set.metrics.RecordConsumed(ctx, msg.Topic, out.String())
		}()
	}
	wg.Wait()

	resolved := 0
	for resolved < len(batch) && outcomes[resolved] != OutcomeRetry {
		resolved++
	}
	if resolved > 0 {
		p.Mark(batch[resolved-1].Offset)
		p.Commit()
	}
	if resolved < len(batch) {
		msg := batch[resolved]
		return fmt.Errorf("worker: %s: message %s/%d@%d unresolved, awaiting redelivery",
			RolePackaging, msg.Topic, msg.Partition, msg.Offset)
	}
	return nil
}

func (w *PackagingWorker) process(ctx context.Context, msg broker.Message) Outcome {
	queued, ok := decodeQueuedTask(ctx, msg)
	if !ok {
		return OutcomeDrop
	}
	log := observe.Logger(ctx).With("role", RolePackaging, "task_id", queued.TaskID)

	t, out := reloadTask(ctx, w.store, w.set.attempts, log, queued.TaskID)
	if out != OutcomeOK {
		return out
	}
	switch t.Status {
	case task.StatusToPacking:
	case task.StatusCompleted:
		log.Info("task already packaged, dropping duplicate")
		return OutcomeDrop
	default:
		log.Warn("dropping message for task not awaiting packaging", "status", t.Status)
		return OutcomeDrop
	}

	var advanced bool
	err := resilience.Do(ctx, w.set.attempts, func() error {
		var err error
		advanced, err = w.packageTask(ctx, t)
		return err
	})
	if err != nil {
		log.Error("packaging failed", "err", err)
		return OutcomeRetry
	}
	if !advanced {
		log.Warn("task left packaging phase while writing, dropping message")
		return OutcomeDrop
	}
	log.Info("task packaged", "file", t.PackedFile)
	return OutcomeOK
}

// packageTask writes the task's package file and completes the task. The
// writer only renames a fully written file into place, so the permanent path
// never holds a partial package. It reports whether this delivery won the
// completing transition.
func (w *PackagingWorker) packageTask(ctx context.Context, t *task.TranslationTask) (bool, error) {
	ctx, span := observe.StartSpan(ctx, "pack.write")
	defer span.End()

	data := pack.NewTaskData(t.ID)
	for lang, text := range t.Translations {
		data.Add(pack.SourceText, string(lang), text)
	}
	if t.Type == task.TypeAudio && t.STTResult != "" {
		for _, lang := range t.TargetLanguages {
			data.Add(pack.SourceAudio, string(lang), t.STTResult)
		}
	}

	path := filepath.Join(w.dir, t.ID+".bin")
	if err := pack.Write(path, []*pack.TaskData{data}); err != nil {
		return false, fmt.Errorf("write package: %w", err)
	}
	if info, err := os.Stat(path); err == nil {
		w.set.metrics.RecordPackageBytes(ctx, info.Size())
	}

	now := time.Now().UTC()
	t.Status = task.StatusCompleted
	t.PackedFile = path
	t.CompletedAt = &now

	var advanced bool
	err := w.store.InTx(ctx, func(txs taskstore.Store) error {
		ok, err := txs.Transition(ctx, t, task.StatusToPacking)
		if err != nil {
			return fmt.Errorf("transition to %s: %w", task.StatusCompleted, err)
		}
		advanced = ok
		if !ok {
			return nil
		}
		return txs.RecordPackage(ctx, &taskstore.PackageRecord{
			PackageID: uuid.NewString(),
			TaskID:    t.ID,
			FilePath:  path,
			Languages: t.TargetLanguages,
		})
	})
	if err != nil {
		return false, err
	}
	if !advanced {
		w.cleanupLoser(ctx, t.ID, path)
		return false, nil
	}
	return true, nil
}

// cleanupLoser handles a lost completing race. When the task was cancelled
// the freshly written file is an orphan and is removed; when a concurrent
// duplicate delivery completed the task, the file at this path is the
// winner's package and must stay.
func (w *PackagingWorker) cleanupLoser(ctx context.Context, taskID, path string) {
	t, err := w.store.Get(ctx, taskID)
	if err == nil && t != nil && t.Status == task.StatusCompleted && t.PackedFile == path {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		observe.Logger(ctx).Warn("removing orphaned package file failed", "path", path, "err", err)
	}
}
