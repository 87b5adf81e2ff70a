// Package keyword provides the shared text normalization, tokenization, and
// boundary-safe term pattern compilation used by every matcher in the
// moderation engine. All matchers must agree on token boundaries, so this is
// the only place normalization rules live.
package keyword

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes text for matching: unicode NFKC composition, the
// typographic apostrophe folded to ASCII, and lower-casing.
func Normalize(text string) string {
	normalized := norm.NFKC.String(text)
	normalized = strings.ReplaceAll(normalized, "’", "'")
	return strings.ToLower(normalized)
}
