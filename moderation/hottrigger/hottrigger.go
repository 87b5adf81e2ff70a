// Package hottrigger implements the fast-path lookup for single-token,
// high-severity BLOCK terms. The candidate mapping is primed lazily into an
// external cache keyed by lexicon version; lookups fail open to the full
// lexicon scan and must never cause a decision to fail.
package hottrigger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/usalama/sentinel/moderation/keyword"
	"github.com/usalama/sentinel/moderation/lexicon"
)

const (
	// Only BLOCK entries at or above this severity are hot-trigger candidates.
	MinSeverity = 3

	DefaultKeyPrefix     = "sentinel:hot-triggers"
	DefaultSocketTimeout = 50 * time.Millisecond
)

// Cache is the external key/value capability hot triggers are primed into.
// PrimeIfAbsent is set-if-absent over the whole mapping: a key that already
// exists is left untouched, so priming races waste work but stay correct.
type Cache interface {
	PrimeIfAbsent(ctx context.Context, key string, mapping map[string]string, ttl time.Duration) error
	GetMulti(ctx context.Context, key string, fields []string) (map[string]string, error)
}

// IsCandidate reports whether an entry qualifies for the hot-trigger fast
// path: BLOCK action, severity >= MinSeverity, and exactly one token.
func IsCandidate(entry lexicon.Entry) bool {
	if entry.Action != lexicon.ActionBlock {
		return false
	}
	if entry.Severity < MinSeverity {
		return false
	}
	return len(keyword.TokenizeText(entry.Term)) == 1
}

// BuildMapping serializes all candidate entries keyed by their single token.
func BuildMapping(entries []lexicon.Entry) map[string]string {
	mapping := make(map[string]string)
	for _, entry := range entries {
		if !IsCandidate(entry) {
			continue
		}
		tokens := keyword.TokenizeText(entry.Term)
		if len(tokens) != 1 {
			continue
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		mapping[tokens[0]] = string(raw)
	}
	return mapping
}

// Finder looks up hot-trigger matches for request text. A nil Finder (or a
// Finder with no cache configured) finds nothing, which degrades to the full
// lexicon scan.
type Finder struct {
	Cache     Cache
	Logger    *slog.Logger
	KeyPrefix string
	TTL       time.Duration
}

func (f *Finder) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *Finder) key(lexiconVersion string) string {
	prefix := f.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + ":" + lexiconVersion
}

// FindMatches tokenizes text and returns hot-trigger entries for any token
// present in the primed mapping. Priming happens on first use per lexicon
// version. Every error path returns an empty result.
func (f *Finder) FindMatches(ctx context.Context, text string, lexiconVersion string, entries []lexicon.Entry) []lexicon.Entry {
	if f == nil || f.Cache == nil {
		return nil
	}
	tokens := keyword.DistinctTokens(text)
	if len(tokens) == 0 {
		return nil
	}

	key := f.key(lexiconVersion)
	mapping := BuildMapping(entries)
	if len(mapping) == 0 {
		return nil
	}
	if err := f.Cache.PrimeIfAbsent(ctx, key, mapping, f.TTL); err != nil {
		f.logger().Warn("hot trigger priming failed; falling back to full scan", "err", err, "lexicon_version", lexiconVersion)
		return nil
	}

	values, err := f.Cache.GetMulti(ctx, key, tokens)
	if err != nil {
		f.logger().Warn("hot trigger lookup failed; falling back to full scan", "err", err, "lexicon_version", lexiconVersion)
		return nil
	}

	var matches []lexicon.Entry
	for _, tok := range tokens {
		raw, ok := values[tok]
		if !ok || raw == "" {
			continue
		}
		var entry lexicon.Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if entry.Validate() != nil {
			continue
		}
		matches = append(matches, entry)
	}
	return matches
}
