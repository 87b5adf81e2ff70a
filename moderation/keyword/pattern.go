package keyword

import (
	"log/slog"
	"regexp"
	"strings"
)

// Boundary guards around a compiled term. RE2 has no lookaround, so the
// guards consume (or anchor on) a single non-word rune on each side; for
// presence testing this is equivalent to the negative lookaround form and
// keeps "kill" from matching inside "skill".
const (
	boundaryStart = `(?:^|[^` + wordRuneClass + `])`
	boundaryEnd   = `(?:[^` + wordRuneClass + `]|$)`

	// tokens of a phrase may be separated by any run of punctuation or
	// whitespace ("burn, them" matches the term "burn them")
	tokenSeparator = `[^0-9A-Za-zÀ-ÖØ-öø-ÿ]+`
)

// CompileTermPattern compiles a boundary-safe pattern for a lexicon term.
// The term is normalized and tokenized; tokens are joined with a non-word
// separator class so punctuation-interleaved phrases still match. A term
// that normalizes to nothing returns nil (callers skip nil patterns); any
// compile failure falls back to a fully-escaped literal match and never
// returns an error.
func CompileTermPattern(term string) *regexp.Regexp {
	normalized := strings.TrimSpace(Normalize(term))
	if normalized == "" {
		return nil
	}
	tokens := tokenPattern.FindAllString(normalized, -1)
	if len(tokens) == 0 {
		return regexp.MustCompile(regexp.QuoteMeta(normalized))
	}

	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = regexp.QuoteMeta(tok)
	}
	compiled, err := regexp.Compile(boundaryStart + strings.Join(quoted, tokenSeparator) + boundaryEnd)
	if err != nil {
		slog.Warn("failed to compile lexicon term pattern; using escaped literal", "term", term, "err", err)
		return regexp.MustCompile(regexp.QuoteMeta(normalized))
	}
	return compiled
}
