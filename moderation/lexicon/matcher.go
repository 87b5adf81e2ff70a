package lexicon

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/usalama/sentinel/moderation/keyword"
)

type compiledEntry struct {
	entry   Entry
	pattern *regexp.Regexp
}

// Matcher matches text against every entry of one lexicon snapshot, in
// lexicon order. Patterns are compiled once at construction; Match is safe
// for concurrent use.
type Matcher struct {
	version  string
	entries  []Entry
	compiled []compiledEntry
}

func NewMatcher(snapshot *Snapshot) *Matcher {
	compiled := make([]compiledEntry, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		compiled = append(compiled, compiledEntry{
			entry:   entry,
			pattern: keyword.CompileTermPattern(entry.Term),
		})
	}
	return &Matcher{
		version:  snapshot.Version,
		entries:  snapshot.Entries,
		compiled: compiled,
	}
}

func (m *Matcher) Version() string {
	return m.version
}

func (m *Matcher) Entries() []Entry {
	return m.entries
}

// Match returns all entries whose pattern is found in the normalized text,
// preserving lexicon order.
func (m *Matcher) Match(text string) []Entry {
	normalized := keyword.Normalize(text)
	var matches []Entry
	for _, ce := range m.compiled {
		if ce.pattern == nil {
			continue
		}
		if ce.pattern.MatchString(normalized) {
			matches = append(matches, ce.entry)
		}
	}
	return matches
}

// MatcherCache memoizes the compiled matcher for the active lexicon release.
// The snapshot is loaded once per process (single-flight under concurrent
// first use) and invalidated only by an explicit Reset.
type MatcherCache struct {
	Repo Repository

	mu     sync.Mutex
	sf     singleflight.Group
	cached *Matcher
}

func NewMatcherCache(repo Repository) *MatcherCache {
	return &MatcherCache{Repo: repo}
}

func (c *MatcherCache) Get(ctx context.Context) (*Matcher, error) {
	c.mu.Lock()
	cached := c.cached
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := c.sf.Do("active", func() (any, error) {
		snapshot, err := c.Repo.FetchActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading active lexicon: %w", err)
		}
		m := NewMatcher(snapshot)
		c.mu.Lock()
		c.cached = m
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Matcher), nil
}

// Reset drops the cached matcher so the next Get reloads from the
// repository. For tests and explicit cache invalidation only.
func (c *MatcherCache) Reset() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
