package moderation

import (
	"log/slog"
	"sync"

	"github.com/usalama/sentinel/moderation/claims"
	"github.com/usalama/sentinel/moderation/vectormatch"
)

// Model capabilities are a closed, registered set selected by id. Unknown
// ids warn and fall back to the deterministic baselines so a config typo
// can never disable moderation.

var (
	providersMu        sync.RWMutex
	embeddingProviders = map[string]vectormatch.EmbeddingProvider{
		vectormatch.HashBowProvider{}.ID(): vectormatch.HashBowProvider{},
	}
	claimScorers = map[string]claims.Scorer{
		claims.HeuristicScorer{}.ID(): claims.HeuristicScorer{},
	}
)

// RegisterEmbeddingProvider makes a provider selectable by its ID.
func RegisterEmbeddingProvider(provider vectormatch.EmbeddingProvider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	embeddingProviders[provider.ID()] = provider
}

// RegisterClaimScorer makes a scorer selectable by its ID.
func RegisterClaimScorer(scorer claims.Scorer) {
	providersMu.Lock()
	defer providersMu.Unlock()
	claimScorers[scorer.ID()] = scorer
}

// EmbeddingProviderByID returns the registered provider, or the hash-bow
// baseline with a warning when id is unknown. An empty id silently selects
// the baseline.
func EmbeddingProviderByID(id string, logger *slog.Logger) vectormatch.EmbeddingProvider {
	providersMu.RLock()
	provider, ok := embeddingProviders[id]
	providersMu.RUnlock()
	if ok {
		return provider
	}
	if id != "" && logger != nil {
		logger.Warn("unknown embedding provider id, using baseline",
			"id", id, "baseline", vectormatch.ModelID)
	}
	return vectormatch.HashBowProvider{}
}

// ClaimScorerByID returns the registered scorer, or the heuristic baseline
// with a warning when id is unknown.
func ClaimScorerByID(id string, logger *slog.Logger) claims.Scorer {
	providersMu.RLock()
	scorer, ok := claimScorers[id]
	providersMu.RUnlock()
	if ok {
		return scorer
	}
	if id != "" && logger != nil {
		logger.Warn("unknown claim scorer id, using baseline",
			"id", id, "baseline", claims.HeuristicScorer{}.ID())
	}
	return claims.HeuristicScorer{}
}
