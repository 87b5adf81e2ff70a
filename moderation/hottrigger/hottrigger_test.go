package hottrigger

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usalama/sentinel/moderation/lexicon"
)

func testEntries() []lexicon.Entry {
	return []lexicon.Entry{
		{Term: "kill", Action: lexicon.ActionBlock, Label: "INCITEMENT_VIOLENCE", ReasonCode: "R_VIOLENCE_DIRECT", Severity: 3, Lang: "en"},
		{Term: "burn them", Action: lexicon.ActionBlock, Label: "INCITEMENT_VIOLENCE", ReasonCode: "R_VIOLENCE_DIRECT", Severity: 3, Lang: "en"},
		{Term: "madoadoa", Action: lexicon.ActionBlock, Label: "ETHNIC_CONTEMPT", ReasonCode: "R_ETHNIC_SLUR", Severity: 2, Lang: "sw"},
		{Term: "wale watu", Action: lexicon.ActionReview, Label: "DOGWHISTLE_WATCH", ReasonCode: "R_DOGWHISTLE_SW", Severity: 2, Lang: "sw"},
	}
}

func TestIsCandidate(t *testing.T) {
	assert := assert.New(t)
	entries := testEntries()

	assert.True(IsCandidate(entries[0]))  // single-token severity-3 BLOCK
	assert.False(IsCandidate(entries[1])) // two tokens
	assert.False(IsCandidate(entries[2])) // severity below threshold
	assert.False(IsCandidate(entries[3])) // REVIEW action
}

func TestBuildMapping(t *testing.T) {
	mapping := BuildMapping(testEntries())
	require.Len(t, mapping, 1)
	assert.Contains(t, mapping, "kill")
}

func TestFinderMatchesPrimedToken(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	finder := &Finder{
		Cache:  NewMemCache(16, time.Minute),
		Logger: slog.Default(),
	}

	matches := finder.FindMatches(ctx, "they will KILL again", "lex-1", testEntries())
	require.Len(t, matches, 1)
	assert.Equal("kill", matches[0].Term)
	assert.Equal(lexicon.ActionBlock, matches[0].Action)

	matches = finder.FindMatches(ctx, "peaceful rally downtown", "lex-1", testEntries())
	assert.Empty(matches)
}

func TestFinderPrimesOncePerVersion(t *testing.T) {
	ctx := context.Background()
	cache := &primeCountingCache{inner: NewMemCache(16, time.Minute)}
	finder := &Finder{Cache: cache, Logger: slog.Default()}

	finder.FindMatches(ctx, "kill", "lex-1", testEntries())
	finder.FindMatches(ctx, "kill", "lex-1", testEntries())
	finder.FindMatches(ctx, "kill", "lex-2", testEntries())

	assert.Equal(t, 2, cache.primed["sentinel:hot-triggers:lex-1"]+cache.primed["sentinel:hot-triggers:lex-2"])
}

func TestFinderFailsOpen(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var nilFinder *Finder
	assert.Empty(nilFinder.FindMatches(ctx, "kill", "lex-1", testEntries()))

	broken := &Finder{Cache: &failingCache{}, Logger: slog.Default()}
	assert.Empty(broken.FindMatches(ctx, "kill", "lex-1", testEntries()))
}

type primeCountingCache struct {
	inner  *MemCache
	primed map[string]int
}

func (c *primeCountingCache) PrimeIfAbsent(ctx context.Context, key string, mapping map[string]string, ttl time.Duration) error {
	if c.primed == nil {
		c.primed = make(map[string]int)
	}
	if _, ok := c.inner.Data.Get(key); !ok {
		c.primed[key]++
	}
	return c.inner.PrimeIfAbsent(ctx, key, mapping, ttl)
}

func (c *primeCountingCache) GetMulti(ctx context.Context, key string, fields []string) (map[string]string, error) {
	return c.inner.GetMulti(ctx, key, fields)
}

type failingCache struct{}

func (c *failingCache) PrimeIfAbsent(ctx context.Context, key string, mapping map[string]string, ttl time.Duration) error {
	return fmt.Errorf("cache unavailable")
}

func (c *failingCache) GetMulti(ctx context.Context, key string, fields []string) (map[string]string, error) {
	return nil, fmt.Errorf("cache unavailable")
}
