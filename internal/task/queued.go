package task

import (
	"errors"
	"fmt"
)

// QueuedTask is the wire message published to every pipeline topic. It
// carries enough data to process the stage without re-reading the task
// record for inputs; workers still reload the record to check status before
// acting.
type QueuedTask struct {
	TaskID          string         `json:"task_id"`
	Type            TaskType       `json:"task_type"`
	SourceFile      string         `json:"source_file,omitempty"`
	ReferenceText   string         `json:"reference_text,omitempty"`
	Text            string         `json:"text,omitempty"`
	TargetLanguages []LanguageCode `json:"target_languages"`
}

// NewQueuedTask builds the wire message for a task record.
func NewQueuedTask(t *TranslationTask) QueuedTask {
	return QueuedTask{
		TaskID:          t.ID,
		Type:            t.Type,
		SourceFile:      t.SourceFile,
		ReferenceText:   t.ReferenceText,
		Text:            t.Text,
		TargetLanguages: append([]LanguageCode(nil), t.TargetLanguages...),
	}
}

// Validate checks that a decoded wire message is well-formed enough to act
// on. Malformed messages are dropped by the consuming worker.
func (q QueuedTask) Validate() error {
	var errs []error

	if q.TaskID == "" {
		errs = append(errs, errors.New("task_id must not be empty"))
	}
	if !q.Type.IsValid() {
		errs = append(errs, fmt.Errorf("task_type %q is not recognised", q.Type))
	}
	if len(q.TargetLanguages) == 0 {
		errs = append(errs, errors.New("target_languages must not be empty"))
	}
	for _, lang := range q.TargetLanguages {
		if !lang.IsValid() {
			errs = append(errs, fmt.Errorf("language %q is not supported", lang))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Translation is the wire shape produced by the translation engine: one
// element per target language.
type Translation struct {
	Lang LanguageCode `json:"lang"`
	Text string       `json:"text"`
}

// NormalizeTranslations collapses the engine's list shape into the canonical
// language → text mapping. It rejects unknown languages and duplicate
// entries so a misbehaving engine cannot silently drop or shadow a target.
func NormalizeTranslations(list []Translation) (map[LanguageCode]string, error) {
	out := make(map[LanguageCode]string, len(list))
	for i, tr := range list {
		if !tr.Lang.IsValid() {
			return nil, fmt.Errorf("translation[%d]: language %q is not supported", i, tr.Lang)
		}
		if _, dup := out[tr.Lang]; dup {
			return nil, fmt.Errorf("translation[%d]: duplicate language %q", i, tr.Lang)
		}
		out[tr.Lang] = tr.Text
	}
	return out, nil
}

// MissingLanguages returns the requested languages absent from translations,
// in request order. An empty result means full coverage.
func MissingLanguages(requested []LanguageCode, translations map[LanguageCode]string) []LanguageCode {
	var missing []LanguageCode
	for _, lang := range requested {
		if _, ok := translations[lang]; !ok {
			missing = append(missing, lang)
		}
	}
	return missing
}
