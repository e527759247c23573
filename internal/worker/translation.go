package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lingopack/lingopack/internal/broker"
	"github.com/lingopack/lingopack/internal/observe"
	"github.com/lingopack/lingopack/internal/resilience"
	"github.com/lingopack/lingopack/internal/task"
	"github.com/lingopack/lingopack/internal/taskstore"
	"github.com/lingopack/lingopack/internal/translate"
)

// TranslationWorker consumes the translation topic. For each text task it
// translates the source text into every requested language, persists the
// translations in the PENDING to TO_PACKING transition, and republishes the
// task to the package topic.
type TranslationWorker struct {
	store        taskstore.Store
	producer     broker.Producer
	translator   translate.Translator
	packageTopic string
	set          settings
}

// NewTranslationWorker wires a translation worker.
func NewTranslationWorker(store taskstore.Store, producer broker.Producer, translator translate.Translator, packageTopic string, opts ...Option) (*TranslationWorker, error) {
	if store == nil || producer == nil || translator == nil {
		return nil, errors.New("worker: translation worker needs a store, producer, and translator")
	}
	if packageTopic == "" {
		return nil, errors.New("worker: translation worker needs a package topic")
	}
	set := defaultSettings()
	for _, opt := range opts {
		opt(&set)
	}
	return &TranslationWorker{
		store:        store,
		producer:     producer,
		translator:   translator,
		packageTopic: packageTopic,
		set:          set,
	}, nil
}

// Run consumes with c until ctx is cancelled or the consumer fails fatally.
func (w *TranslationWorker) Run(ctx context.Context, c broker.Consumer) error {
	return c.Run(ctx, w.Handler())
}

// Handler returns the partition handler implementing the translation stage.
func (w *TranslationWorker) Handler() broker.Handler {
	return func(ctx context.Context, p broker.Partition) error {
		return runSequential(ctx, p, RoleTranslation, w.set.metrics, w.process)
	}
}

func (w *TranslationWorker) process(ctx context.Context, msg broker.Message) Outcome {
	queued, ok := decodeQueuedTask(ctx, msg)
	if !ok {
		return OutcomeDrop
	}
	log := observe.Logger(ctx).With("role", RoleTranslation, "task_id", queued.TaskID)

	t, out := reloadTask(ctx, w.store, w.set.attempts, log, queued.TaskID)
	if out != OutcomeOK {
		return out
	}
	if t.Status != task.StatusPending {
		log.Warn("dropping message for task no longer pending", "status", t.Status)
		return OutcomeDrop
	}

	translations, err := translateTargets(ctx, w.translator, w.set, t.Text, t.TargetLanguages)
	if err != nil {
		log.Error("translation failed", "err", err)
		return OutcomeRetry
	}
	if missing := task.MissingLanguages(t.TargetLanguages, translations); len(missing) > 0 {
		log.Error("translation engine skipped requested languages", "missing", missing)
		return OutcomeRetry
	}

	t.Translations = translations

	advanced, err := advanceToPacking(ctx, w.store, w.producer, w.set.metrics, w.set.attempts, w.packageTopic, t, msg.Value)
	if err != nil {
		log.Error("persisting translations failed", "err", err)
		return OutcomeRetry
	}
	if !advanced {
		log.Warn("task left pending while processing, dropping message")
		return OutcomeDrop
	}
	log.Info("text task ready for packaging", "languages", len(translations))
	return OutcomeOK
}

// translateTargets invokes the translation engine within the attempt budget
// and normalizes the result to the canonical per-language map. Both the
// audio and translation stages translate through here.
func translateTargets(ctx context.Context, tr translate.Translator, set settings, text string, targets []task.LanguageCode) (map[task.LanguageCode]string, error) {
	ctx, span := observe.StartSpan(ctx, "translate")
	defer span.End()

	start := time.Now()
	list, err := resilience.DoWithResult(ctx, set.attempts, func() ([]task.Translation, error) {
		return tr.Translate(ctx, text, targets)
	})
	set.metrics.RecordEngineCall(ctx, "translate", set.providers.Translator, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}

	translations, err := task.NormalizeTranslations(list)
	if err != nil {
		return nil, fmt.Errorf("normalize translations: %w", err)
	}
	return translations, nil
}
