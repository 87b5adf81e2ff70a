package keyword

import "regexp"

// Word characters for tokenization and boundary checks: digits, ASCII
// letters, the Latin-1 letter ranges, and the apostrophe (so contractions
// stay single tokens). Matchers for regional languages reuse this class.
const wordRuneClass = `0-9A-Za-zÀ-ÖØ-öø-ÿ'`

var tokenPattern = regexp.MustCompile(`[` + wordRuneClass + `]+`)

// TokenizeText normalizes text and splits it into word-character tokens.
func TokenizeText(text string) []string {
	return tokenPattern.FindAllString(Normalize(text), -1)
}

// DistinctTokens returns the tokens of text with duplicates removed,
// preserving first-seen order.
func DistinctTokens(text string) []string {
	tokens := TokenizeText(text)
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}
