package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lingopack/lingopack/internal/broker"
	brokermock "github.com/lingopack/lingopack/internal/broker/mock"
	"github.com/lingopack/lingopack/internal/task"
	"github.com/lingopack/lingopack/internal/taskstore"
	"github.com/lingopack/lingopack/internal/worker"
	"github.com/lingopack/lingopack/pkg/pack"
)

// calmSizer returns a sizer that always sees an idle host, so tests get the
// maximum batch size without touching real system memory.
func calmSizer() *worker.Sizer {
	return worker.NewSizer(worker.WithSampler(func() float64 { return 0.10 }))
}

func newPackagingFixture(t *testing.T) (*taskstore.MemStore, string, *worker.PackagingWorker) {
	t.Helper()

	store := taskstore.NewMemStore()
	dir := t.TempDir()
	w, err := worker.NewPackagingWorker(store, dir,
		worker.WithSizer(calmSizer()),
		worker.WithBatchWindow(20*time.Millisecond),
		worker.WithIdleSleep(5*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewPackagingWorker: unexpected error: %v", err)
	}
	return store, dir, w
}

// toPacking flips a helper task into the state the packaging stage consumes.
func toPacking(tk *task.TranslationTask) *task.TranslationTask {
	tk.Status = task.StatusToPacking
	tk.Translations = map[task.LanguageCode]string{
		task.LangEnUS: "Please close the door.",
		task.LangJaJP: "ドアを閉めてください。",
	}
	if tk.Type == task.TypeAudio {
		tk.STTResult = "请把门关上"
	}
	return tk
}

func TestPackagingWorkerPackagesBatch(t *testing.T) {
	t.Parallel()

	store, dir, w := newPackagingFixture(t)
	ctx := context.Background()

	textTask := toPacking(newTextTask())
	audioTask := toPacking(newAudioTask())
	mustCreate(t, store, textTask)
	mustCreate(t, store, audioTask)

	p := brokermock.NewPartition("text_packaging", 0)
	p.Send(
		broker.Message{Key: []byte(textTask.ID), Value: wire(t, textTask)},
		broker.Message{Key: []byte(audioTask.ID), Value: wire(t, audioTask)},
	)
	p.CloseSend()

	c := &brokermock.Consumer{Partitions: []*brokermock.Partition{p}}
	if err := w.Run(ctx, c); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	for _, tk := range []*task.TranslationTask{textTask, audioTask} {
		got, err := store.Get(ctx, tk.ID)
		if err != nil || got == nil {
			t.Fatalf("Get(%s): got %+v, %v", tk.ID, got, err)
		}
		if got.Status != task.StatusCompleted {
			t.Fatalf("status = %q, want %q", got.Status, task.StatusCompleted)
		}
		if got.CompletedAt == nil {
			t.Error("completed_at not set")
		}
		if want := filepath.Join(dir, tk.ID+".bin"); got.PackedFile != want {
			t.Fatalf("packed_file = %q, want %q", got.PackedFile, want)
		}

		rec, err := store.GetPackage(ctx, tk.ID)
		if err != nil || rec == nil {
			t.Fatalf("GetPackage(%s): got %+v, %v", tk.ID, rec, err)
		}
		if rec.FilePath != got.PackedFile || rec.PackageID == "" {
			t.Errorf("package record = %+v", rec)
		}

		r, err := pack.Open(got.PackedFile)
		if err != nil {
			t.Fatalf("Open(%s): unexpected error: %v", got.PackedFile, err)
		}
		text, ok, err := r.Query(tk.ID, pack.SourceText, string(task.LangEnUS))
		if err != nil || !ok || text != "Please close the door." {
			t.Errorf("Query(TEXT, en-US) = %q, %v, %v", text, ok, err)
		}
		transcript, ok, err := r.Query(tk.ID, pack.SourceAudio, string(task.LangEnUS))
		if tk.Type == task.TypeAudio {
			if err != nil || !ok || transcript != "请把门关上" {
				t.Errorf("Query(AUDIO, en-US) = %q, %v, %v", transcript, ok, err)
			}
		} else if ok {
			t.Error("text task must not carry an AUDIO section")
		}
		if err := r.Close(); err != nil {
			t.Errorf("Close: unexpected error: %v", err)
		}
	}

	if p.Committed() != 2 {
		t.Errorf("committed resume offset = %d, want 2", p.Committed())
	}
}

func TestPackagingWorkerDropsCompletedDuplicate(t *testing.T) {
	t.Parallel()

	store, _, w := newPackagingFixture(t)
	ctx := context.Background()

	tk := toPacking(newTextTask())
	mustCreate(t, store, tk)
	msg := broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)}

	first := brokermock.NewPartition("text_packaging", 0)
	first.Send(msg)
	first.CloseSend()
	if err := w.Run(ctx, &brokermock.Consumer{Partitions: []*brokermock.Partition{first}}); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	before, err := store.GetPackage(ctx, tk.ID)
	if err != nil || before == nil {
		t.Fatalf("GetPackage: got %+v, %v", before, err)
	}

	// The broker redelivers the same message in a later session. The task is
	// already COMPLETED, so the duplicate is dropped without side effects.
	second := brokermock.NewPartition("text_packaging", 0)
	second.Send(msg)
	second.CloseSend()
	if err := w.Run(ctx, &brokermock.Consumer{Partitions: []*brokermock.Partition{second}}); err != nil {
		t.Fatalf("Run (redelivery): unexpected error: %v", err)
	}

	after, err := store.GetPackage(ctx, tk.ID)
	if err != nil || after == nil {
		t.Fatalf("GetPackage: got %+v, %v", after, err)
	}
	if after.PackageID != before.PackageID {
		t.Error("redelivery must not produce a second package record")
	}
	got, _ := store.Get(ctx, tk.ID)
	if _, err := os.Stat(got.PackedFile); err != nil {
		t.Errorf("package file missing after redelivery: %v", err)
	}
	if second.Committed() != 1 {
		t.Errorf("committed resume offset = %d, want 1", second.Committed())
	}
}

func TestPackagingWorkerConcurrentDuplicatesConverge(t *testing.T) {
	t.Parallel()

	store, _, w := newPackagingFixture(t)
	ctx := context.Background()

	tk := toPacking(newTextTask())
	mustCreate(t, store, tk)

	// Both copies land in one batch and are packaged concurrently. Exactly
	// one delivery wins the completing transition; the loser must leave the
	// winner's file in place.
	p := brokermock.NewPartition("text_packaging", 0)
	p.Send(
		broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)},
		broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)},
	)
	p.CloseSend()

	c := &brokermock.Consumer{Partitions: []*brokermock.Partition{p}}
	if err := w.Run(ctx, c); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	got, err := store.Get(ctx, tk.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: got %+v, %v", got, err)
	}
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusCompleted)
	}

	r, err := pack.Open(got.PackedFile)
	if err != nil {
		t.Fatalf("Open: package unreadable after duplicate deliveries: %v", err)
	}
	defer r.Close()
	if text, ok, err := r.Query(tk.ID, pack.SourceText, string(task.LangJaJP)); err != nil || !ok || text == "" {
		t.Errorf("Query(TEXT, ja-JP) = %q, %v, %v", text, ok, err)
	}

	if p.Committed() != 2 {
		t.Errorf("committed resume offset = %d, want 2", p.Committed())
	}
}

func TestPackagingWorkerHoldsBackUnresolvedSuffix(t *testing.T) {
	t.Parallel()

	store, dir, w := newPackagingFixture(t)
	ctx := context.Background()

	good1 := toPacking(newTextTask())
	good2 := toPacking(newTextTask())
	// The codec requires canonical 36-byte task ids; this one can never be
	// written and exhausts the packaging attempts.
	bad := toPacking(newTextTask())
	bad.ID = "short-id"
	mustCreate(t, store, good1)
	mustCreate(t, store, good2)
	mustCreate(t, store, bad)

	p := brokermock.NewPartition("text_packaging", 0)
	p.Send(
		broker.Message{Key: []byte(good1.ID), Value: wire(t, good1)},
		broker.Message{Key: []byte(bad.ID), Value: wire(t, bad)},
		broker.Message{Key: []byte(good2.ID), Value: wire(t, good2)},
	)
	p.CloseSend()

	c := &brokermock.Consumer{Partitions: []*brokermock.Partition{p}}
	if err := w.Run(ctx, c); err == nil {
		t.Fatal("Run: want session error while a message stays unresolved")
	}

	// Only the prefix before the unresolved message commits; the resolved
	// message behind it is redelivered and dropped as a duplicate next time.
	if p.Committed() != 1 {
		t.Errorf("committed resume offset = %d, want 1", p.Committed())
	}
	for _, tk := range []*task.TranslationTask{good1, good2} {
		got, _ := store.Get(ctx, tk.ID)
		if got.Status != task.StatusCompleted {
			t.Errorf("task %s status = %q, want %q", tk.ID, got.Status, task.StatusCompleted)
		}
	}
	badTask, _ := store.Get(ctx, bad.ID)
	if badTask.Status != task.StatusToPacking {
		t.Errorf("unpackageable task status = %q, want %q", badTask.Status, task.StatusToPacking)
	}
	if _, err := os.Stat(filepath.Join(dir, bad.ID+".bin")); !os.IsNotExist(err) {
		t.Errorf("unexpected package file for unpackageable task: %v", err)
	}
}

func TestPackagingWorkerDropsCancelledTask(t *testing.T) {
	t.Parallel()

	store, dir, w := newPackagingFixture(t)
	ctx := context.Background()

	tk := toPacking(newTextTask())
	mustCreate(t, store, tk)
	if ok, err := store.Cancel(ctx, tk.ID); err != nil || !ok {
		t.Fatalf("Cancel: got %v, %v", ok, err)
	}

	p := brokermock.NewPartition("text_packaging", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	c := &brokermock.Consumer{Partitions: []*brokermock.Partition{p}}
	if err := w.Run(ctx, c); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	got, _ := store.Get(ctx, tk.ID)
	if got.Status != task.StatusCancelled {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusCancelled)
	}
	if _, err := os.Stat(filepath.Join(dir, tk.ID+".bin")); !os.IsNotExist(err) {
		t.Errorf("cancelled task must not leave a package file: %v", err)
	}
	if p.Committed() != 1 {
		t.Errorf("committed resume offset = %d, want 1", p.Committed())
	}
}

func TestPackagingWorkerFlushesPartialBatchOnWindow(t *testing.T) {
	t.Parallel()

	store, _, w := newPackagingFixture(t)
	ctx := context.Background()

	tk := toPacking(newTextTask())
	mustCreate(t, store, tk)

	// The stream stays open: the batch window, not the batch size, must
	// flush the single queued message.
	p := brokermock.NewPartition("text_packaging", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})

	c := &brokermock.Consumer{Partitions: []*brokermock.Partition{p}}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, c) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := store.Get(ctx, tk.ID)
		if err != nil {
			t.Fatalf("Get: unexpected error: %v", err)
		}
		if got.Status == task.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task not packaged before deadline, status = %q", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.CloseSend()
	if err := <-done; err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}
	if p.Committed() != 1 {
		t.Errorf("committed resume offset = %d, want 1", p.Committed())
	}
}
