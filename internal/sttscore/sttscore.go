// Package sttscore assesses transcription quality against a reference text.
//
// Two implementations are provided: [LLMScorer] asks an [llm.Completer] to
// judge the transcript along the semantic/completeness/grammar dimensions,
// and [LocalScorer] computes a cheap lexical approximation with no external
// calls. Both report component scores only; the weighted total and the
// acceptance verdict are always computed locally by
// [task.STTScore.ComputeTotal] so a misbehaving engine cannot return an
// inconsistent aggregate.
package sttscore

import (
	"context"

	"github.com/lingopack/lingopack/internal/task"
)

// Scorer rates how faithfully a transcript reproduces the reference text.
type Scorer interface {
	Score(ctx context.Context, reference, transcript string) (*task.STTScore, error)
}

// clamp01 bounds a component score to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
