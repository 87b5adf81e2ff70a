// Package langspan segments text into contiguous language spans so that
// downstream consumers know which language pack or reviewer queue each part
// of a message belongs to. Detection is token-level: configured hint words
// are authoritative, an optional language-ID model handles the rest, and
// anything uncertain inherits the language of the preceding token.
package langspan

import (
	"context"
	"strings"
)

// DefaultConfidenceThreshold gates model predictions: below it the token
// inherits the fallback language instead.
const DefaultConfidenceThreshold = 0.80

// SupportedLangs are the languages the pipeline routes on. Model
// predictions outside this set are treated as unknown.
var SupportedLangs = map[string]bool{
	"en": true,
	"sw": true,
	"sh": true,
}

// Span is a half-open rune range [Start, End) tagged with a language.
// Offsets are rune indices, not byte offsets.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Lang  string `json:"lang"`
}

// LanguageID predicts the language of a single token. Implementations wrap
// an external model; any failure means no prediction.
type LanguageID interface {
	ID() string
	Predict(ctx context.Context, token string) (lang string, confidence float64, err error)
}

// Detector produces language spans for text. The zero value detects with
// no model: hints decide, everything else is the fallback language.
type Detector struct {
	Model LanguageID

	// ConfidenceThreshold overrides DefaultConfidenceThreshold when in (0,1].
	ConfidenceThreshold float64
}

func (d *Detector) threshold() float64 {
	if d != nil && d.ConfidenceThreshold > 0 && d.ConfidenceThreshold <= 1 {
		return d.ConfidenceThreshold
	}
	return DefaultConfidenceThreshold
}

func isTokenRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'À' && r <= 'Ö':
		return true
	case r >= 'Ø' && r <= 'ö':
		return true
	case r >= 'ø' && r <= 'ÿ':
		return true
	case r == '\'':
		return true
	}
	return false
}

type tokenSpan struct {
	start, end int
	text       string
}

func tokenize(runes []rune) []tokenSpan {
	var tokens []tokenSpan
	start := -1
	for i, r := range runes {
		if isTokenRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, tokenSpan{start: start, end: i, text: string(runes[start:i])})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, tokenSpan{start: start, end: len(runes), text: string(runes[start:])})
	}
	return tokens
}

func normalizeHints(hints []string) map[string]bool {
	out := make(map[string]bool, len(hints))
	for _, hint := range hints {
		hint = strings.ToLower(strings.TrimSpace(hint))
		if hint != "" {
			out[hint] = true
		}
	}
	return out
}

func (d *Detector) classifyToken(ctx context.Context, token string, swHints, shHints map[string]bool, fallbackLang string) string {
	normalized := strings.ToLower(token)
	// Sheng hints take precedence: Sheng borrows heavily from Swahili, so a
	// token on both lists is the Sheng reading.
	if shHints[normalized] {
		return "sh"
	}
	if swHints[normalized] {
		return "sw"
	}

	if d == nil || d.Model == nil {
		return fallbackLang
	}
	lang, confidence, err := d.Model.Predict(ctx, normalized)
	if err != nil {
		return fallbackLang
	}
	lang = strings.ToLower(strings.TrimSpace(lang))
	if !SupportedLangs[lang] {
		return fallbackLang
	}
	if confidence >= d.threshold() {
		return lang
	}
	return fallbackLang
}

// DetectSpans returns contiguous language spans covering all of text.
// Spans are adjacent (each starts where the previous ended), the first
// starts at 0, and the last ends at the rune length of text. Empty text
// yields a single zero-width span in the fallback language.
func (d *Detector) DetectSpans(ctx context.Context, text string, swHints, shHints []string, fallbackLang string) []Span {
	if fallbackLang == "" {
		fallbackLang = "en"
	}
	if text == "" {
		return []Span{{Start: 0, End: 0, Lang: fallbackLang}}
	}

	runes := []rune(text)
	tokens := tokenize(runes)
	if len(tokens) == 0 {
		return []Span{{Start: 0, End: len(runes), Lang: fallbackLang}}
	}

	sw := normalizeHints(swHints)
	sh := normalizeHints(shHints)

	charLangs := make([]string, len(runes))
	for _, token := range tokens {
		lang := d.classifyToken(ctx, token.text, sw, sh, fallbackLang)
		for i := token.start; i < token.end; i++ {
			charLangs[i] = lang
		}
	}

	// leading separators inherit the first token's language, everything
	// else inherits from the left
	firstLang := charLangs[tokens[0].start]
	for i := 0; i < tokens[0].start; i++ {
		charLangs[i] = firstLang
	}
	active := firstLang
	for i := tokens[0].start; i < len(charLangs); i++ {
		if charLangs[i] == "" {
			charLangs[i] = active
			continue
		}
		active = charLangs[i]
	}

	var spans []Span
	spanStart := 0
	current := charLangs[0]
	for i := 1; i < len(charLangs); i++ {
		if charLangs[i] == current {
			continue
		}
		spans = append(spans, Span{Start: spanStart, End: i, Lang: current})
		spanStart = i
		current = charLangs[i]
	}
	spans = append(spans, Span{Start: spanStart, End: len(charLangs), Lang: current})
	return spans
}
