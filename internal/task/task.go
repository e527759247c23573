// Package task defines the translation task domain model: the supported
// language codes, the task state machine, the persisted task record, and the
// wire message exchanged between pipeline stages.
package task

import (
	"errors"
	"fmt"
	"time"
)

// LanguageCode is a BCP-47-like tag identifying a supported target language.
// The set is closed; unknown tags are rejected at ingress.
type LanguageCode string

const (
	LangZhCN LanguageCode = "zh-CN"
	LangZhTW LanguageCode = "zh-TW"
	LangEnUS LanguageCode = "en-US"
	LangJaJP LanguageCode = "ja-JP"
	LangKoKR LanguageCode = "ko-KR"
	LangFrFR LanguageCode = "fr-FR"
	LangDeDE LanguageCode = "de-DE"
	LangEsES LanguageCode = "es-ES"
	LangRuRU LanguageCode = "ru-RU"
	LangViVN LanguageCode = "vi-VN"
)

// LanguageCodes returns every supported language code in declaration order.
func LanguageCodes() []LanguageCode {
	return []LanguageCode{
		LangZhCN, LangZhTW, LangEnUS, LangJaJP, LangKoKR,
		LangFrFR, LangDeDE, LangEsES, LangRuRU, LangViVN,
	}
}

// IsValid reports whether l is a supported language code.
func (l LanguageCode) IsValid() bool {
	switch l {
	case LangZhCN, LangZhTW, LangEnUS, LangJaJP, LangKoKR,
		LangFrFR, LangDeDE, LangEsES, LangRuRU, LangViVN:
		return true
	}
	return false
}

// TaskType distinguishes what kind of source material a task carries.
type TaskType string

const (
	// TypeAudio tasks carry an audio file to transcribe, score, and translate.
	TypeAudio TaskType = "audio"

	// TypeText tasks carry plain text to translate.
	TypeText TaskType = "text"
)

// IsValid reports whether t is a recognised task type.
func (t TaskType) IsValid() bool {
	return t == TypeAudio || t == TypeText
}

// TaskStatus is the lifecycle state of a task. Values match the wire and
// database representation.
type TaskStatus string

const (
	// StatusPending is the initial state after ingress.
	StatusPending TaskStatus = "pending"

	// StatusToPacking means all translations are produced but the package
	// file has not yet been written.
	StatusToPacking TaskStatus = "to_packing"

	// StatusCompleted means the package file exists on disk. Terminal.
	StatusCompleted TaskStatus = "completed"

	// StatusFailed is a terminal failure state.
	StatusFailed TaskStatus = "failed"

	// StatusCancelled means the client cancelled the task. Terminal.
	StatusCancelled TaskStatus = "cancelled"
)

// IsValid reports whether s is a recognised task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusToPacking, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Terminal states never transition.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusToPacking || next == StatusFailed || next == StatusCancelled
	case StatusToPacking:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	}
	return false
}

// STTScore is the structured quality assessment of a transcription against
// its reference text, produced by the scoring engine.
type STTScore struct {
	// SemanticAccuracy measures preserved meaning, in [0, 1].
	SemanticAccuracy float64 `json:"semantic_accuracy"`

	// Completeness measures how much of the reference is covered, in [0, 1].
	Completeness float64 `json:"completeness"`

	// Grammar measures well-formedness of the transcript, in [0, 1].
	Grammar float64 `json:"grammar"`

	// TotalScore is the weighted aggregate:
	// 0.6*semantic + 0.3*completeness + 0.1*grammar.
	TotalScore float64 `json:"total_score"`

	// Acceptable is true when TotalScore >= 0.80.
	Acceptable bool `json:"acceptable"`

	// Comments is the engine's free-text rationale.
	Comments string `json:"comments,omitempty"`
}

// Component weights and acceptance threshold for the aggregate score.
const (
	weightSemantic     = 0.6
	weightCompleteness = 0.3
	weightGrammar      = 0.1

	// AcceptableThreshold is the minimum total score for an acceptable
	// transcription.
	AcceptableThreshold = 0.80
)

// ComputeTotal fills TotalScore and Acceptable from the component scores.
// Engines report components; the aggregate is always recomputed locally so a
// misbehaving engine cannot report an inconsistent total.
func (s *STTScore) ComputeTotal() {
	s.TotalScore = weightSemantic*s.SemanticAccuracy +
		weightCompleteness*s.Completeness +
		weightGrammar*s.Grammar
	s.Acceptable = s.TotalScore >= AcceptableThreshold
}

// TranslationTask is the persisted task record, keyed by ID (a UUID v4
// string). It is the single writable state shared across pipeline stages.
type TranslationTask struct {
	// ID is the unique, immutable task identifier.
	ID string `json:"task_id"`

	// Type selects the processing path (audio or text).
	Type TaskType `json:"task_type"`

	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`

	// SourceFile is the audio path. Set for audio tasks only.
	SourceFile string `json:"source_file,omitempty"`

	// ReferenceText is the expected transcript used for STT scoring.
	// Optional; audio tasks without it skip scoring.
	ReferenceText string `json:"reference_text,omitempty"`

	// Text is the source text. Set for text tasks only.
	Text string `json:"text,omitempty"`

	// TargetLanguages is the ordered, duplicate-free set of requested
	// languages. Never empty.
	TargetLanguages []LanguageCode `json:"target_languages"`

	// STTResult is the transcript produced by the audio worker.
	STTResult string `json:"stt_result,omitempty"`

	// STTScore is the transcription quality assessment, when scored.
	STTScore *STTScore `json:"stt_accuracy,omitempty"`

	// Translations maps each target language to its translation. This is
	// the canonical representation; the list shape produced by the
	// translation engine is wire-only (see [NormalizeTranslations]).
	Translations map[LanguageCode]string `json:"translations,omitempty"`

	// PackedFile is the package file path, set when packaging completes.
	PackedFile string `json:"packed_file,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of t.
func (t *TranslationTask) Clone() *TranslationTask {
	if t == nil {
		return nil
	}
	out := *t
	if t.TargetLanguages != nil {
		out.TargetLanguages = append([]LanguageCode(nil), t.TargetLanguages...)
	}
	if t.STTScore != nil {
		score := *t.STTScore
		out.STTScore = &score
	}
	if t.Translations != nil {
		out.Translations = make(map[LanguageCode]string, len(t.Translations))
		for lang, text := range t.Translations {
			out.Translations[lang] = text
		}
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		out.CompletedAt = &ts
	}
	return &out
}

// Validate checks the per-type field invariants of a task record.
//
// Rules:
//   - ID must be non-empty.
//   - Type and Status must be recognised values.
//   - Audio tasks require SourceFile and must not carry Text.
//   - Text tasks require Text and must not carry SourceFile or ReferenceText.
//   - TargetLanguages must be non-empty, known, and duplicate-free.
func (t *TranslationTask) Validate() error {
	var errs []error

	if t.ID == "" {
		errs = append(errs, errors.New("task id must not be empty"))
	}
	if !t.Type.IsValid() {
		errs = append(errs, fmt.Errorf("task type %q is not recognised", t.Type))
	}
	if !t.Status.IsValid() {
		errs = append(errs, fmt.Errorf("status %q is not recognised", t.Status))
	}

	switch t.Type {
	case TypeAudio:
		if t.SourceFile == "" {
			errs = append(errs, errors.New("audio task requires source_file"))
		}
		if t.Text != "" {
			errs = append(errs, errors.New("audio task must not carry text"))
		}
	case TypeText:
		if t.Text == "" {
			errs = append(errs, errors.New("text task requires text"))
		}
		if t.SourceFile != "" {
			errs = append(errs, errors.New("text task must not carry source_file"))
		}
		if t.ReferenceText != "" {
			errs = append(errs, errors.New("text task must not carry reference_text"))
		}
	}

	if len(t.TargetLanguages) == 0 {
		errs = append(errs, errors.New("target_languages must not be empty"))
	}
	seen := make(map[LanguageCode]struct{}, len(t.TargetLanguages))
	for _, lang := range t.TargetLanguages {
		if !lang.IsValid() {
			errs = append(errs, fmt.Errorf("language %q is not supported", lang))
			continue
		}
		if _, dup := seen[lang]; dup {
			errs = append(errs, fmt.Errorf("language %q requested twice", lang))
		}
		seen[lang] = struct{}{}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
