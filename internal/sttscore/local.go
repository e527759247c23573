package sttscore

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/lingopack/lingopack/internal/task"
)

// LocalScorer is a [Scorer] that approximates transcription quality with
// lexical measures, requiring no external calls:
//
//   - semantic accuracy: Jaro-Winkler similarity between the normalized
//     reference and transcript.
//   - completeness: the fraction of reference tokens recalled by the
//     transcript (multiset recall).
//   - grammar: pinned to 1.0; lexical comparison cannot judge grammar, and
//     the component carries only 0.1 weight.
//
// Tokenization treats each CJK rune as its own token so Chinese, Japanese,
// and Korean text score sensibly without a segmenter.
type LocalScorer struct{}

var _ Scorer = (*LocalScorer)(nil)

// NewLocalScorer returns a [LocalScorer].
func NewLocalScorer() *LocalScorer {
	return &LocalScorer{}
}

// Score implements [Scorer]. It is pure and errors only on an empty
// reference.
func (s *LocalScorer) Score(_ context.Context, reference, transcript string) (*task.STTScore, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, fmt.Errorf("sttscore: reference must not be empty")
	}

	refTokens := tokenize(reference)
	sttTokens := tokenize(transcript)

	semantic := similarity(strings.Join(refTokens, " "), strings.Join(sttTokens, " "))
	recall := tokenRecall(refTokens, sttTokens)

	score := &task.STTScore{
		SemanticAccuracy: clamp01(semantic),
		Completeness:     clamp01(recall),
		Grammar:          1.0,
		Comments:         fmt.Sprintf("lexical scoring: jaro-winkler %.2f, token recall %.2f", semantic, recall),
	}
	score.ComputeTotal()
	return score, nil
}

// similarity is Jaro-Winkler over the normalized strings, with the empty
// cases pinned explicitly.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	return matchr.JaroWinkler(a, b, false)
}

// tokenRecall returns the fraction of reference tokens also present in the
// transcript, counting duplicates.
func tokenRecall(ref, stt []string) float64 {
	if len(ref) == 0 {
		return 1.0
	}
	remaining := make(map[string]int, len(stt))
	for _, tok := range stt {
		remaining[tok]++
	}
	matched := 0
	for _, tok := range ref {
		if remaining[tok] > 0 {
			remaining[tok]--
			matched++
		}
	}
	return float64(matched) / float64(len(ref))
}

// tokenize lower-cases s and splits it into comparison units: contiguous
// letter/digit runs for alphabetic scripts, single runes for CJK scripts.
// Punctuation and whitespace are dropped.
func tokenize(s string) []string {
	var tokens []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			tokens = append(tokens, strings.ToLower(string(current)))
			current = current[:0]
		}
	}
	for _, r := range s {
		switch {
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current = append(current, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
