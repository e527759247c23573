package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lingopack/lingopack/internal/broker"
	"github.com/lingopack/lingopack/internal/observe"
	"github.com/lingopack/lingopack/internal/resilience"
	"github.com/lingopack/lingopack/internal/sttscore"
	"github.com/lingopack/lingopack/internal/task"
	"github.com/lingopack/lingopack/internal/taskstore"
	"github.com/lingopack/lingopack/internal/translate"
	"github.com/lingopack/lingopack/pkg/provider/stt"
)

// AudioWorker consumes the audio topic. For each task it transcribes the
// source file, then scores the transcript against the reference text and
// translates it concurrently, persists every output in the PENDING to
// TO_PACKING transition, and republishes the task to the package topic.
type AudioWorker struct {
	store        taskstore.Store
	producer     broker.Producer
	transcriber  stt.Transcriber
	scorer       sttscore.Scorer
	translator   translate.Translator
	packageTopic string
	uploadDir    string
	set          settings
}

// NewAudioWorker wires an audio worker. scorer may be nil; transcripts are
// then stored unscored, the same as for tasks without reference text.
// Relative source paths are resolved against uploadDir.
func NewAudioWorker(store taskstore.Store, producer broker.Producer, transcriber stt.Transcriber, scorer sttscore.Scorer, translator translate.Translator, packageTopic, uploadDir string, opts ...Option) (*AudioWorker, error) {
	if store == nil || producer == nil || transcriber == nil || translator == nil {
		return nil, errors.New("worker: audio worker needs a store, producer, transcriber, and translator")
	}
	if packageTopic == "" {
		return nil, errors.New("worker: audio worker needs a package topic")
	}
	set := defaultSettings()
	for _, opt := range opts {
		opt(&set)
	}
	return &AudioWorker{
		store:        store,
		producer:     producer,
		transcriber:  transcriber,
		scorer:       scorer,
		translator:   translator,
		packageTopic: packageTopic,
		uploadDir:    uploadDir,
		set:          set,
	}, nil
}

// Run consumes with c until ctx is cancelled or the consumer fails fatally.
func (w *AudioWorker) Run(ctx context.Context, c broker.Consumer) error {
	return c.Run(ctx, w.Handler())
}

// Handler returns the partition handler implementing the audio stage.
func (w *AudioWorker) Handler() broker.Handler {
	return func(ctx context.Context, p broker.Partition) error {
		return runSequential(ctx, p, RoleAudio, w.set.metrics, w.process)
	}
}

func (w *AudioWorker) process(ctx context.Context, msg broker.Message) Outcome {
	queued, ok := decodeQueuedTask(ctx, msg)
	if !ok {
		return OutcomeDrop
	}
	log := observe.Logger(ctx).With("role", RoleAudio, "task_id", queued.TaskID)

	t, out := reloadTask(ctx, w.store, w.set.attempts, log, queued.TaskID)
	if out != OutcomeOK {
		return out
	}
	if t.Status != task.StatusPending {
		log.Warn("dropping message for task no longer pending", "status", t.Status)
		return OutcomeDrop
	}

	transcript, err := w.transcribe(ctx, t.SourceFile)
	if err != nil {
		log.Error("transcription failed", "err", err)
		return OutcomeRetry
	}

	score, translations, err := w.scoreAndTranslate(ctx, t, transcript)
	if err != nil {
		log.Error("scoring or translation failed", "err", err)
		return OutcomeRetry
	}
	if missing := task.MissingLanguages(t.TargetLanguages, translations); len(missing) > 0 {
		log.Error("translation engine skipped requested languages", "missing", missing)
		return OutcomeRetry
	}

	t.STTResult = transcript
	t.STTScore = score
	t.Translations = translations

	advanced, err := advanceToPacking(ctx, w.store, w.producer, w.set.metrics, w.set.attempts, w.packageTopic, t, msg.Value)
	if err != nil {
		log.Error("persisting audio results failed", "err", err)
		return OutcomeRetry
	}
	if !advanced {
		log.Warn("task left pending while processing, dropping message")
		return OutcomeDrop
	}
	log.Info("audio task ready for packaging", "languages", len(translations))
	return OutcomeOK
}

// transcribe runs speech-to-text on the task's source file within the
// attempt budget. Relative paths are joined with the upload directory.
func (w *AudioWorker) transcribe(ctx context.Context, sourceFile string) (string, error) {
	path := sourceFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.uploadDir, path)
	}

	ctx, span := observe.StartSpan(ctx, "stt.transcribe")
	defer span.End()

	start := time.Now()
	res, err := resilience.DoWithResult(ctx, w.set.attempts, func() (*stt.Result, error) {
		return w.transcriber.Transcribe(ctx, path)
	})
	w.set.metrics.RecordEngineCall(ctx, "stt", w.set.providers.STT, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", path, err)
	}
	return res.Text, nil
}

// scoreAndTranslate runs the scoring and translation engines concurrently
// and joins both before the caller persists anything, so a failure on either
// side leaves the task untouched for redelivery. Scoring is skipped when the
// task carries no reference text or no scorer is configured.
func (w *AudioWorker) scoreAndTranslate(ctx context.Context, t *task.TranslationTask, transcript string) (*task.STTScore, map[task.LanguageCode]string, error) {
	var (
		score        *task.STTScore
		translations map[task.LanguageCode]string
	)

	g, gctx := errgroup.WithContext(ctx)

	if w.scorer != nil && t.ReferenceText != "" {
		g.Go(func() error {
			sctx, span := observe.StartSpan(gctx, "sttscore.score")
			defer span.End()

			start := time.Now()
			s, err := resilience.DoWithResult(sctx, w.set.attempts, func() (*task.STTScore, error) {
				return w.scorer.Score(sctx, t.ReferenceText, transcript)
			})
			w.set.metrics.RecordEngineCall(sctx, "score", w.set.providers.Scorer, time.Since(start))
			if err != nil {
				return fmt.Errorf("score transcript: %w", err)
			}
			score = s
			return nil
		})
	}

	g.Go(func() error {
		m, err := translateTargets(gctx, w.translator, w.set, transcript, t.TargetLanguages)
		if err != nil {
			return err
		}
		translations = m
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return score, translations, nil
}
