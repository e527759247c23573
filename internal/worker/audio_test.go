package worker_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lingopack/lingopack/internal/broker"
	brokermock "github.com/lingopack/lingopack/internal/broker/mock"
	scoremock "github.com/lingopack/lingopack/internal/sttscore/mock"
	"github.com/lingopack/lingopack/internal/task"
	"github.com/lingopack/lingopack/internal/taskstore"
	translatemock "github.com/lingopack/lingopack/internal/translate/mock"
	"github.com/lingopack/lingopack/internal/worker"
	"github.com/lingopack/lingopack/pkg/provider/stt"
	sttmock "github.com/lingopack/lingopack/pkg/provider/stt/mock"
)

const packageTopic = "text_packaging"

// audioFixture bundles the audio worker with its collaborators so each test
// can reach into any of them.
type audioFixture struct {
	store       *taskstore.MemStore
	producer    *brokermock.Producer
	transcriber *sttmock.Transcriber
	scorer      *scoremock.Scorer
	translator  *translatemock.Translator
	worker      *worker.AudioWorker
}

func newAudioFixture(t *testing.T) *audioFixture {
	t.Helper()

	f := &audioFixture{
		store:    taskstore.NewMemStore(),
		producer: &brokermock.Producer{},
		transcriber: &sttmock.Transcriber{
			Result: &stt.Result{Text: "请把门关上", Language: "zh"},
		},
		scorer: &scoremock.Scorer{
			Result: &task.STTScore{
				SemanticAccuracy: 0.93,
				Completeness:     0.90,
				Grammar:          0.95,
				TotalScore:       0.923,
				Acceptable:       true,
			},
		},
		translator: &translatemock.Translator{Result: stdTranslations()},
	}

	w, err := worker.NewAudioWorker(f.store, f.producer, f.transcriber, f.scorer, f.translator,
		packageTopic, "uploads")
	if err != nil {
		t.Fatalf("NewAudioWorker: unexpected error: %v", err)
	}
	f.worker = w
	return f
}

// run consumes a single already-closed partition and returns the session
// error.
func (f *audioFixture) run(p *brokermock.Partition) error {
	c := &brokermock.Consumer{Partitions: []*brokermock.Partition{p}}
	return f.worker.Run(context.Background(), c)
}

func TestAudioWorkerProcessesTask(t *testing.T) {
	t.Parallel()

	f := newAudioFixture(t)
	tk := newAudioTask()
	mustCreate(t, f.store, tk)

	p := brokermock.NewPartition("audio_processing", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	if err := f.run(p); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	got, err := f.store.Get(context.Background(), tk.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: got %+v, %v", got, err)
	}
	if got.Status != task.StatusToPacking {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusToPacking)
	}
	if got.STTResult != "请把门关上" {
		t.Errorf("stt_result = %q", got.STTResult)
	}
	if got.STTScore == nil || !got.STTScore.Acceptable {
		t.Errorf("stt score = %+v, want acceptable score", got.STTScore)
	}
	if got.Translations[task.LangEnUS] != "Please close the door." {
		t.Errorf("en-US translation = %q", got.Translations[task.LangEnUS])
	}
	if got.Translations[task.LangJaJP] == "" {
		t.Error("ja-JP translation missing")
	}

	calls := f.transcriber.TranscribeCalls
	if len(calls) != 1 {
		t.Fatalf("transcribe calls = %d, want 1", len(calls))
	}
	if want := filepath.Join("uploads", "lesson-01.wav"); calls[0].Path != want {
		t.Errorf("transcribe path = %q, want %q", calls[0].Path, want)
	}

	published := f.producer.Published(packageTopic)
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

func TestAudioWorkerSkipsScoringWithoutReference(t *testing.T) {
	t.Parallel()

	f := newAudioFixture(t)
	tk := newAudioTask()
	tk.ReferenceText = ""
	mustCreate(t, f.store, tk)

	p := brokermock.NewPartition("audio_processing", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	if err := f.run(p); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	if calls := f.scorer.Calls(); len(calls) != 0 {
		t.Errorf("scorer called %d times, want 0", len(calls))
	}
	got, _ := f.store.Get(context.Background(), tk.ID)
	if got.Status != task.StatusToPacking {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusToPacking)
	}
	if got.STTScore != nil {
		t.Errorf("stt score = %+v, want nil", got.STTScore)
	}
	if got.STTResult == "" {
		t.Error("stt result missing")
	}
}

func TestAudioWorkerDropsWhenNotPending(t *testing.T) {
	t.Parallel()

	f := newAudioFixture(t)
	tk := newAudioTask()
	mustCreate(t, f.store, tk)
	if ok, err := f.store.Cancel(context.Background(), tk.ID); err != nil || !ok {
		t.Fatalf("Cancel: got %v, %v", ok, err)
	}

	p := brokermock.NewPartition("audio_processing", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	if err := f.run(p); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	got, _ := f.store.Get(context.Background(), tk.ID)
	if got.Status != task.StatusCancelled {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusCancelled)
	}
	if len(f.producer.PublishCalls) != 0 {
		t.Error("cancelled task must not be republished")
	}
	// Dropped messages still commit so they are not redelivered.
	if p.Committed() != 1 {
		t.Errorf("committed resume offset = %d, want 1", p.Committed())
	}
}

func TestAudioWorkerDropsUnknownTaskAndMalformedMessage(t *testing.T) {
	t.Parallel()

	f := newAudioFixture(t)
	unknown := newAudioTask() // never created in the store

	p := brokermock.NewPartition("audio_processing", 0)
	p.Send(
		broker.Message{Value: []byte("{not json")},
		broker.Message{Key: []byte(unknown.ID), Value: wire(t, unknown)},
	)
	p.CloseSend()

	if err := f.run(p); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}
	if len(f.transcriber.TranscribeCalls) != 0 {
		t.Error("undeliverable messages must not reach the engines")
	}
	if p.Committed() != 2 {
		t.Errorf("committed resume offset = %d, want 2", p.Committed())
	}
}

func TestAudioWorkerRetriesEngineWithinBudget(t *testing.T) {
	t.Parallel()

	f := newAudioFixture(t)
	// Two transient failures, then the persistent Result applies.
	f.transcriber.Errs = []error{errors.New("stt overloaded"), errors.New("stt overloaded")}

	tk := newAudioTask()
	mustCreate(t, f.store, tk)

	p := brokermock.NewPartition("audio_processing", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	if err := f.run(p); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}
	if len(f.transcriber.TranscribeCalls) != 3 {
		t.Errorf("transcribe calls = %d, want 3", len(f.transcriber.TranscribeCalls))
	}
	got, _ := f.store.Get(context.Background(), tk.ID)
	if got.Status != task.StatusToPacking {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusToPacking)
	}
	if p.Committed() != 1 {
		t.Errorf("committed resume offset = %d, want 1", p.Committed())
	}
}

func TestAudioWorkerLeavesTaskForRedelivery(t *testing.T) {
	t.Parallel()

	f := newAudioFixture(t)
	f.translator.Result = nil
	f.translator.Err = errors.New("llm unavailable")

	tk := newAudioTask()
	mustCreate(t, f.store, tk)

	p := brokermock.NewPartition("audio_processing", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	if err := f.run(p); err == nil {
		t.Fatal("Run: want session error after retry exhaustion")
	}

	// Exhausting the budget must leave no trace: the task stays PENDING for
	// redelivery and the offset is never committed.
	got, _ := f.store.Get(context.Background(), tk.ID)
	if got.Status != task.StatusPending {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusPending)
	}
	if got.STTResult != "" || got.Translations != nil {
		t.Errorf("partial outputs persisted: %+v", got)
	}
	if len(f.producer.PublishCalls) != 0 {
		t.Error("failed task must not be republished")
	}
	if p.Committed() != -1 {
		t.Errorf("committed resume offset = %d, want -1", p.Committed())
	}
}

func TestAudioWorkerRetriesWhenLanguagesMissing(t *testing.T) {
	t.Parallel()

	f := newAudioFixture(t)
	// The engine answers, but skips ja-JP.
	f.translator.Result = []task.Translation{{Lang: task.LangEnUS, Text: "Please close the door."}}

	tk := newAudioTask()
	mustCreate(t, f.store, tk)

	p := brokermock.NewPartition("audio_processing", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	if err := f.run(p); err == nil {
		t.Fatal("Run: want session error when coverage is incomplete")
	}
	got, _ := f.store.Get(context.Background(), tk.ID)
	if got.Status != task.StatusPending {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusPending)
	}
	if p.Committed() != -1 {
		t.Errorf("committed resume offset = %d, want -1", p.Committed())
	}
}

func TestAudioWorkerRollsBackWhenPublishFails(t *testing.T) {
	t.Parallel()

	f := newAudioFixture(t)
	f.producer.PublishErr = errors.New("broker down")

	tk := newAudioTask()
	mustCreate(t, f.store, tk)

	p := brokermock.NewPartition("audio_processing", 0)
	p.Send(broker.Message{Key: []byte(tk.ID), Value: wire(t, tk)})
	p.CloseSend()

	if err := f.run(p); err == nil {
		t.Fatal("Run: want session error when the republish fails")
	}

	// The status transition and the publish share a transaction: a failed
	// publish rolls the TO_PACKING write back.
	got, _ := f.store.Get(context.Background(), tk.ID)
	if got.Status != task.StatusPending {
		t.Fatalf("status = %q, want %q", got.Status, task.StatusPending)
	}
	if p.Committed() != -1 {
		t.Errorf("committed resume offset = %d, want -1", p.Committed())
	}
}
