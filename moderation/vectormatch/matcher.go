package vectormatch

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/usalama/sentinel/moderation/lexicon"
)

// Match is a threshold-clearing nearest neighbor.
type Match struct {
	Entry      lexicon.Entry
	Similarity float64
	MatchID    string
	Model      string
}

// Matcher runs the vector retrieval step: sync embeddings for the current
// lexicon version once, embed the query, and look up the nearest active
// REVIEW entry. Every failure mode degrades to no-match; the matcher never
// surfaces an error to the request path.
type Matcher struct {
	Store    EmbeddingStore
	Provider EmbeddingProvider
	Logger   *slog.Logger

	// Threshold is the base minimum similarity; zero means DefaultThreshold.
	Threshold float64

	// StatementTimeout bounds each store call; zero means
	// DefaultStatementTimeout.
	StatementTimeout time.Duration

	mu     sync.Mutex
	sf     singleflight.Group
	synced map[string]bool
}

func NewMatcher(store EmbeddingStore, provider EmbeddingProvider, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		Store:    store,
		Provider: provider,
		Logger:   logger,
	}
}

func (m *Matcher) baseThreshold() float64 {
	if m.Threshold > 0 && m.Threshold <= 1 {
		return m.Threshold
	}
	return DefaultThreshold
}

func (m *Matcher) statementTimeout() time.Duration {
	if m.StatementTimeout > 0 {
		return m.StatementTimeout
	}
	return DefaultStatementTimeout
}

// Reset forgets which lexicon versions have been synced, forcing a re-sync
// on the next lookup. Intended for tests and lexicon reloads.
func (m *Matcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced = nil
}

func (m *Matcher) ensureSynced(ctx context.Context, lexiconVersion string) error {
	key := lexiconVersion + "|" + m.Provider.ID()
	m.mu.Lock()
	done := m.synced[key]
	m.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := m.sf.Do(key, func() (interface{}, error) {
		syncCtx, cancel := context.WithTimeout(ctx, m.statementTimeout())
		defer cancel()
		if err := m.Store.SyncMissing(syncCtx, lexiconVersion, m.Provider); err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.synced == nil {
			m.synced = make(map[string]bool)
		}
		m.synced[key] = true
		m.mu.Unlock()
		return nil, nil
	})
	return err
}

// FindMatch returns the nearest active REVIEW entry whose similarity clears
// threshold, or nil. A threshold outside [0,1] falls back to the matcher's
// base threshold.
func (m *Matcher) FindMatch(ctx context.Context, text, lexiconVersion string, threshold float64) *Match {
	if m == nil || m.Store == nil || m.Provider == nil {
		return nil
	}
	if threshold < 0 || threshold > 1 {
		m.Logger.Warn("invalid vector threshold override, using base", "threshold", threshold)
		threshold = m.baseThreshold()
	}

	if err := m.ensureSynced(ctx, lexiconVersion); err != nil {
		m.Logger.Warn("vector embedding sync failed, skipping vector match",
			"lexiconVersion", lexiconVersion, "err", err)
		return nil
	}

	query, err := m.Provider.Embed(ctx, text)
	if err != nil {
		m.Logger.Warn("query embedding failed, skipping vector match", "err", err)
		return nil
	}
	if isZeroVector(query) {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, m.statementTimeout())
	defer cancel()
	neighbor, err := m.Store.NearestReview(lookupCtx, lexiconVersion, m.Provider.ID(), query)
	if err != nil {
		m.Logger.Warn("vector similarity lookup failed, skipping vector match",
			"lexiconVersion", lexiconVersion, "err", err)
		return nil
	}
	if neighbor == nil {
		return nil
	}

	similarity := neighbor.Similarity
	if math.IsNaN(similarity) || math.IsInf(similarity, 0) {
		m.Logger.Warn("vector similarity was non-finite, discarding candidate",
			"lexiconVersion", lexiconVersion, "matchID", neighbor.MatchID)
		return nil
	}
	similarity = math.Max(0, math.Min(1, similarity))
	if similarity < threshold {
		return nil
	}

	return &Match{
		Entry:      neighbor.Entry,
		Similarity: similarity,
		MatchID:    neighbor.MatchID,
		Model:      m.Provider.ID(),
	}
}

// Per-channel threshold shifts: forwarded content spreads fast and gets a
// lower bar, broadcast channels get a slightly higher one. Tunable under
// governance sign-off; do not inline the values at call sites.
const (
	ForwardChannelThresholdDelta   = -0.04
	BroadcastChannelThresholdDelta = 0.02
)

// ChannelThresholdDelta shifts the similarity threshold by distribution
// channel.
func ChannelThresholdDelta(channel string) float64 {
	switch strings.ToLower(strings.TrimSpace(channel)) {
	case "forward":
		return ForwardChannelThresholdDelta
	case "broadcast":
		return BroadcastChannelThresholdDelta
	default:
		return 0
	}
}

// EffectiveThreshold applies the channel delta to a base threshold and
// clamps the result to [0,1].
func EffectiveThreshold(base float64, channel string) float64 {
	return math.Max(0, math.Min(1, base+ChannelThresholdDelta(channel)))
}
