package worker_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/lingopack/lingopack/internal/broker"
	brokermock "github.com/lingopack/lingopack/internal/broker/mock"
	"github.com/lingopack/lingopack/internal/task"
	"github.com/lingopack/lingopack/internal/taskstore"
	translatemock "github.com/lingopack/lingopack/internal/translate/mock"
	"github.com/lingopack/lingopack/internal/worker"
)

func newTranslationFixture(t *testing.T) (*taskstore.MemStore, *brokermock.Producer, *translatemock.Translator, *worker.TranslationWorker) {
	t.Helper()

	store := taskstore.NewMemStore()
	producer := &brokermock.Producer{}
	translator := &translatemock.Translator{Result: stdTranslations()}

	w, err := worker.NewTranslationWorker(store, producer, translator, packageTopic)
	if err != nil {
		t.Fatalf("NewTranslationWorker: unexpected error: %v", err)
	}
	return store, producer, translator, w
}

func TestTranslationWorkerProcessesTask(t *testing.T) {
	t.Parallel()

	store, producer, translator, w := newTranslationFixture(t)
	tk := newTextTask()
	mustCreate(t, store, tk)

	p := brokermock.NewPartition("text_translation", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	c := &brokermock.Consumer{Partitions: []*brokermock.Partition{p}}
	if err := w.Run(context.Background(), c); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	got, err := store.Get(context.Background(), tk.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: got %+v, %v", got, err)
	}
	if got.Status != task.StatusToPacking {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusToPacking)
	}
	if got.Translations[task.LangEnUS] != "Please close the door." {
		t.Errorf("en-US translation = %q", got.Translations[task.LangEnUS])
	}
	if got.STTResult != "" || got.STTScore != nil {
		t.Errorf("text task must not carry STT outputs, got %+v", got)
	}

	calls := translator.Calls()
	if len(calls) != 1 {
		t.Fatalf("translate calls = %d, want 1", len(calls))
	}
	if calls[0].Text != tk.Text {
		t.Errorf("translated text = %q, want %q", calls[0].Text, tk.Text)
	}

	published := producer.Published(packageTopic)
	if len(published) != 1 {
		t.Fatalf("published = %d messages, want 1", len(published))
	}
	if !bytes.Equal(published[0], wire(t, tk)) {
		t.Error("republished message differs from the consumed one")
	}
	if p.Committed() != 1 {
		t.Errorf("committed resume offset = %d, want 1", p.Committed())
	}
}

func TestTranslationWorkerDropsWhenNotPending(t *testing.T) {
	t.Parallel()

	store, producer, _, w := newTranslationFixture(t)
	tk := newTextTask()
	mustCreate(t, store, tk)
	if ok, err := store.Cancel(context.Background(), tk.ID); err != nil || !ok {
		t.Fatalf("Cancel: got %v, %v", ok, err)
	}

	p := brokermock.NewPartition("text_translation", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	c := &brokermock.Consumer{Partitions: []*brokermock.Partition{p}}
	if err := w.Run(context.Background(), c); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	got, _ := store.Get(context.Background(), tk.ID)
	if got.Status != task.StatusCancelled {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusCancelled)
	}
	if len(producer.PublishCalls) != 0 {
		t.Error("cancelled task must not be republished")
	}
	if p.Committed() != 1 {
		t.Errorf("committed resume offset = %d, want 1", p.Committed())
	}
}

func TestTranslationWorkerRetriesWithinBudget(t *testing.T) {
	t.Parallel()

	store, _, translator, w := newTranslationFixture(t)
	translator.Errs = []error{errors.New("llm overloaded")}

	tk := newTextTask()
	mustCreate(t, store, tk)

	p := brokermock.NewPartition("text_translation", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	c := &brokermock.Consumer{Partitions: []*brokermock.Partition{p}}
	if err := w.Run(context.Background(), c); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}
	if calls := translator.Calls(); len(calls) != 2 {
		t.Errorf("translate calls = %d, want 2", len(calls))
	}
	got, _ := store.Get(context.Background(), tk.ID)
	if got.Status != task.StatusToPacking {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusToPacking)
	}
}

func TestTranslationWorkerLeavesTaskForRedelivery(t *testing.T) {
	t.Parallel()

	store, producer, translator, w := newTranslationFixture(t)
	translator.Result = nil
	translator.Err = errors.New("llm unavailable")

	tk := newTextTask()
	mustCreate(t, store, tk)

	p := brokermock.NewPartition("text_translation", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	c := &brokermock.Consumer{Partitions: []*brokermock.Partition{p}}
	if err := w.Run(context.Background(), c); err == nil {
		t.Fatal("Run: want session error after retry exhaustion")
	}

	got, _ := store.Get(context.Background(), tk.ID)
	if got.Status != task.StatusPending {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusPending)
	}
	if got.Translations != nil {
		t.Errorf("partial translations persisted: %+v", got.Translations)
	}
	if len(producer.PublishCalls) != 0 {
		t.Error("failed task must not be republished")
	}
	if p.Committed() != -1 {
		t.Errorf("committed resume offset = %d, want -1", p.Committed())
	}
}
