// Package translate turns a source text into translations for a set of
// target languages.
//
// The only production implementation is [LLMTranslator], which prompts an
// [llm.Completer] for a structured JSON result. Retrying is the caller's
// concern; the engine issues exactly one completion per call.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lingopack/lingopack/internal/task"
	"github.com/lingopack/lingopack/pkg/provider/llm"
)

// Translator produces one translation per requested target language. The
// result keeps the engine's list shape; callers normalize it with
// [task.NormalizeTranslations].
type Translator interface {
	Translate(ctx context.Context, text string, targets []task.LanguageCode) ([]task.Translation, error)
}

// completionTemperature keeps the engine nearly deterministic while leaving
// the model a little room for natural phrasing.
const completionTemperature = 0.1

// LLMTranslator is an LLM-backed [Translator].
type LLMTranslator struct {
	completer llm.Completer
}

var _ Translator = (*LLMTranslator)(nil)

// New creates an [LLMTranslator] on top of the given completer.
func New(completer llm.Completer) (*LLMTranslator, error) {
	if completer == nil {
		return nil, fmt.Errorf("translate: completer must not be nil")
	}
	return &LLMTranslator{completer: completer}, nil
}

// Translate implements [Translator].
func (t *LLMTranslator) Translate(ctx context.Context, text string, targets []task.LanguageCode) ([]task.Translation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("translate: text must not be empty")
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("translate: targets must not be empty")
	}

	req := llm.Request{
		SystemPrompt: buildSystemPrompt(targets),
		Messages: []llm.Message{
			{Role: "user", Content: "Translate this text:\n" + text},
		},
		Temperature: completionTemperature,
		JSONOnly:    true,
	}

	resp, err := t.completer.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("translate: complete: %w", err)
	}

	translations, err := parseTranslations(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("translate: parse response: %w", err)
	}
	if len(translations) == 0 {
		return nil, fmt.Errorf("translate: engine returned no translations")
	}
	return translations, nil
}

// buildSystemPrompt renders the translation instructions with a numbered
// target language list and the expected output shape.
func buildSystemPrompt(targets []task.LanguageCode) string {
	var sb strings.Builder

	sb.WriteString(`You are an expert multilingual translator with deep understanding of cultural nuances and language-specific expressions.

Your primary responsibilities:
1. Translate the text accurately into all specified target languages
2. Preserve the original meaning, tone, and intent
3. Maintain appropriate formality level
4. Adapt cultural references when necessary
5. Use natural expressions native to each target language

Translation guidelines:
- Preserve the emotional tone and style of the original text
- Use appropriate idiomatic expressions for each language
- Maintain consistent formality level across translations
- Consider cultural context and sensitivity
- Ensure translations sound natural to native speakers

For Asian languages (Chinese, Japanese, Korean):
- Pay attention to honorifics and politeness levels
- Consider cultural-specific expressions
- Maintain appropriate formality

For European languages:
- Consider formal vs informal pronouns (tu/vous, du/Sie, etc.)
- Adapt idioms appropriately
- Maintain gender agreement where applicable

Target languages:
`)
	for i, lang := range targets {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, languageName(lang), lang)
	}

	sb.WriteString(`
Format specification:
Respond with a single JSON object of the form
{"translations": [{"lang": "<code>", "text": "<translation>"}, ...]}
containing exactly one entry per target language. Use the language codes
exactly as listed above and no others.

Remember: the goal is to produce translations that feel natural and authentic in each target language while preserving the original message's intent.`)

	return sb.String()
}

// languageName maps a language code to the English name used in prompts.
func languageName(lang task.LanguageCode) string {
	switch lang {
	case task.LangZhCN:
		return "Chinese (Simplified)"
	case task.LangZhTW:
		return "Chinese (Traditional)"
	case task.LangEnUS:
		return "English (US)"
	case task.LangJaJP:
		return "Japanese"
	case task.LangKoKR:
		return "Korean"
	case task.LangFrFR:
		return "French"
	case task.LangDeDE:
		return "German"
	case task.LangEsES:
		return "Spanish"
	case task.LangRuRU:
		return "Russian"
	case task.LangViVN:
		return "Vietnamese"
	default:
		return string(lang)
	}
}

// parseTranslations decodes the engine's reply. The instructed shape is an
// object wrapping a "translations" array; a bare array is accepted too since
// backends without a JSON response mode sometimes emit one.
func parseTranslations(content string) ([]task.Translation, error) {
	raw := stripFences(content)

	var wrapped struct {
		Translations []task.Translation `json:"translations"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && wrapped.Translations != nil {
		return wrapped.Translations, nil
	}

	var list []task.Translation
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("unexpected reply shape: %w", err)
	}
	return list, nil
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
