package task_test

import (
	"math"
	"testing"

	"github.com/lingopack/lingopack/internal/task"
)

func TestLanguageCodeIsValid(t *testing.T) {
	t.Parallel()

	for _, lang := range task.LanguageCodes() {
		if !lang.IsValid() {
			t.Errorf("LanguageCodes returned invalid code %q", lang)
		}
	}

	for _, bad := range []task.LanguageCode{"", "en", "en-GB", "fr", "zh_CN", "EN-US"} {
		if bad.IsValid() {
			t.Errorf("IsValid(%q): expected false", bad)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	allowed := map[task.TaskStatus][]task.TaskStatus{
		task.StatusPending:   {task.StatusToPacking, task.StatusFailed, task.StatusCancelled},
		task.StatusToPacking: {task.StatusCompleted, task.StatusFailed, task.StatusCancelled},
	}

	all := []task.TaskStatus{
		task.StatusPending, task.StatusToPacking,
		task.StatusCompleted, task.StatusFailed, task.StatusCancelled,
	}

	for _, from := range all {
		want := map[task.TaskStatus]bool{}
		for _, to := range allowed[from] {
			want[to] = true
		}
		for _, to := range all {
			if got := from.CanTransitionTo(to); got != want[to] {
				t.Errorf("CanTransitionTo(%s -> %s): got %v, want %v", from, to, got, want[to])
			}
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[task.TaskStatus]bool{
		task.StatusPending:   false,
		task.StatusToPacking: false,
		task.StatusCompleted: true,
		task.StatusFailed:    true,
		task.StatusCancelled: true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("Terminal(%s): got %v, want %v", status, got, want)
		}
	}
}

func TestSTTScoreComputeTotal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		score      task.STTScore
		wantTotal  float64
		acceptable bool
	}{
		{
			name:       "perfect",
			score:      task.STTScore{SemanticAccuracy: 1, Completeness: 1, Grammar: 1},
			wantTotal:  1.0,
			acceptable: true,
		},
		{
			name:       "weighted mix",
			score:      task.STTScore{SemanticAccuracy: 0.9, Completeness: 0.8, Grammar: 0.5},
			wantTotal:  0.6*0.9 + 0.3*0.8 + 0.1*0.5,
			acceptable: true,
		},
		{
			name:       "just below threshold",
			score:      task.STTScore{SemanticAccuracy: 0.79, Completeness: 0.79, Grammar: 0.79},
			wantTotal:  0.79,
			acceptable: false,
		},
		{
			name:       "zero",
			score:      task.STTScore{},
			wantTotal:  0,
			acceptable: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := tc.score
			s.ComputeTotal()
			if math.Abs(s.TotalScore-tc.wantTotal) > 1e-9 {
				t.Errorf("TotalScore: got %v, want %v", s.TotalScore, tc.wantTotal)
			}
			if s.Acceptable != tc.acceptable {
				t.Errorf("Acceptable: got %v, want %v", s.Acceptable, tc.acceptable)
			}
		})
	}
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	valid := func() *task.TranslationTask {
		return &task.TranslationTask{
			ID:              "550e8400-e29b-41d4-a716-446655440000",
			Type:            task.TypeText,
			Status:          task.StatusPending,
			Text:            "hello",
			TargetLanguages: []task.LanguageCode{task.LangZhCN, task.LangJaJP},
		}
	}

	t.Run("valid text task", func(t *testing.T) {
		t.Parallel()
		if err := valid().Validate(); err != nil {
			t.Fatalf("Validate: unexpected error: %v", err)
		}
	})

	t.Run("valid audio task", func(t *testing.T) {
		t.Parallel()
		tk := &task.TranslationTask{
			ID:              "550e8400-e29b-41d4-a716-446655440001",
			Type:            task.TypeAudio,
			Status:          task.StatusPending,
			SourceFile:      "1.mp3",
			ReferenceText:   "Hello world",
			TargetLanguages: []task.LanguageCode{task.LangEnUS},
		}
		if err := tk.Validate(); err != nil {
			t.Fatalf("Validate: unexpected error: %v", err)
		}
	})

	t.Run("audio task without reference text is valid", func(t *testing.T) {
		t.Parallel()
		tk := &task.TranslationTask{
			ID:              "550e8400-e29b-41d4-a716-446655440002",
			Type:            task.TypeAudio,
			Status:          task.StatusPending,
			SourceFile:      "1.mp3",
			TargetLanguages: []task.LanguageCode{task.LangEnUS},
		}
		if err := tk.Validate(); err != nil {
			t.Fatalf("Validate: unexpected error: %v", err)
		}
	})

	mutations := []struct {
		name   string
		mutate func(*task.TranslationTask)
	}{
		{"empty id", func(tk *task.TranslationTask) { tk.ID = "" }},
		{"unknown type", func(tk *task.TranslationTask) { tk.Type = "video" }},
		{"unknown status", func(tk *task.TranslationTask) { tk.Status = "queued" }},
		{"text task missing text", func(tk *task.TranslationTask) { tk.Text = "" }},
		{"text task with source_file", func(tk *task.TranslationTask) { tk.SourceFile = "1.mp3" }},
		{"text task with reference_text", func(tk *task.TranslationTask) { tk.ReferenceText = "hi" }},
		{"empty target languages", func(tk *task.TranslationTask) { tk.TargetLanguages = nil }},
		{"unknown language", func(tk *task.TranslationTask) {
			tk.TargetLanguages = []task.LanguageCode{"xx-XX"}
		}},
		{"duplicate language", func(tk *task.TranslationTask) {
			tk.TargetLanguages = []task.LanguageCode{task.LangZhCN, task.LangZhCN}
		}},
	}

	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tk := valid()
			tc.mutate(tk)
			if err := tk.Validate(); err == nil {
				t.Fatal("Validate: expected error, got nil")
			}
		})
	}

	t.Run("audio task with text rejected", func(t *testing.T) {
		t.Parallel()
		tk := valid()
		tk.Type = task.TypeAudio
		tk.SourceFile = "1.mp3"
		if err := tk.Validate(); err == nil {
			t.Fatal("Validate: expected error for audio task carrying text")
		}
	})
}

func TestClone(t *testing.T) {
	t.Parallel()

	score := &task.STTScore{SemanticAccuracy: 0.9, TotalScore: 0.9, Acceptable: true}
	orig := &task.TranslationTask{
		ID:              "id-1",
		Type:            task.TypeAudio,
		Status:          task.StatusToPacking,
		SourceFile:      "a.mp3",
		TargetLanguages: []task.LanguageCode{task.LangEnUS, task.LangJaJP},
		STTScore:        score,
		Translations:    map[task.LanguageCode]string{task.LangEnUS: "hello"},
	}

	clone := orig.Clone()
	clone.TargetLanguages[0] = task.LangFrFR
	clone.Translations[task.LangJaJP] = "こんにちは"
	clone.STTScore.TotalScore = 0.1

	if orig.TargetLanguages[0] != task.LangEnUS {
		t.Error("Clone: target languages share backing array")
	}
	if _, ok := orig.Translations[task.LangJaJP]; ok {
		t.Error("Clone: translations map is shared")
	}
	if orig.STTScore.TotalScore != 0.9 {
		t.Error("Clone: score pointer is shared")
	}
}
