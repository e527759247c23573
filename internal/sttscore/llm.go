package sttscore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lingopack/lingopack/internal/task"
	"github.com/lingopack/lingopack/pkg/provider/llm"
)

// completionTemperature keeps scoring runs close to repeatable.
const completionTemperature = 0.1

const scoringSystemPrompt = `You are an expert evaluator of STT (speech-to-text) quality. Score the STT output against the original text along three dimensions.

Scoring rules:
1. semantic_accuracy (weight 0.6): how well the STT output matches the original meaning.
   - 1.0: identical or pure synonym substitution (e.g. "取钱" vs "拿钱")
   - 0.8-0.9: minor differences that do not affect understanding (e.g. reordered words)
   - 0.6-0.7: noticeable differences but roughly the same meaning
   - <0.6: clear semantic deviation

2. completeness (weight 0.3): how much of the original information survives.
   - 1.0: all core information preserved
   - 0.8-0.9: minor omissions (filler words, modifiers)
   - 0.6-0.7: some important information lost
   - <0.6: core information lost

3. grammar (weight 0.1): basic grammatical structure of the STT output.
   - 1.0: fully formed sentences
   - 0.8-0.9: small errors that do not affect understanding
   - 0.6-0.7: incomplete sentence structure
   - <0.6: severe errors that impede understanding

Respond with a single JSON object of the form
{"semantic_accuracy": <0-1>, "completeness": <0-1>, "grammar": <0-1>, "comments": "<rationale and suggestions>"}
Report the three component scores only; do not compute a total.`

// LLMScorer is an LLM-backed [Scorer].
type LLMScorer struct {
	completer llm.Completer
}

var _ Scorer = (*LLMScorer)(nil)

// NewLLMScorer creates an [LLMScorer] on top of the given completer.
func NewLLMScorer(completer llm.Completer) (*LLMScorer, error) {
	if completer == nil {
		return nil, fmt.Errorf("sttscore: completer must not be nil")
	}
	return &LLMScorer{completer: completer}, nil
}

// Score implements [Scorer]. It issues exactly one completion; retrying is
// the caller's concern.
func (s *LLMScorer) Score(ctx context.Context, reference, transcript string) (*task.STTScore, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, fmt.Errorf("sttscore: reference must not be empty")
	}

	req := llm.Request{
		SystemPrompt: scoringSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf("Score this STT result:\n\nOriginal: %s\nSTT: %s", reference, transcript)},
		},
		Temperature: completionTemperature,
		JSONOnly:    true,
	}

	resp, err := s.completer.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sttscore: complete: %w", err)
	}

	var components struct {
		SemanticAccuracy float64 `json:"semantic_accuracy"`
		Completeness     float64 `json:"completeness"`
		Grammar          float64 `json:"grammar"`
		Comments         string  `json:"comments"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &components); err != nil {
		return nil, fmt.Errorf("sttscore: parse response: %w", err)
	}

	score := &task.STTScore{
		SemanticAccuracy: clamp01(components.SemanticAccuracy),
		Completeness:     clamp01(components.Completeness),
		Grammar:          clamp01(components.Grammar),
		Comments:         components.Comments,
	}
	score.ComputeTotal()
	return score, nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
