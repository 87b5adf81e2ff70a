package vectormatch

import (
	"context"

	"github.com/usalama/sentinel/moderation/lexicon"
)

// Neighbor is the closest active REVIEW lexicon entry to a query vector.
type Neighbor struct {
	Entry      lexicon.Entry
	MatchID    string
	Similarity float64
}

// EmbeddingStore persists per-entry embeddings keyed by lexicon version and
// embedding model, and answers nearest-neighbor queries over the REVIEW
// subset. Implementations must order ties by entry id so results are stable
// across runs.
type EmbeddingStore interface {
	// SyncMissing computes and stores embeddings for active entries of
	// lexiconVersion that have none for the provider's model yet.
	SyncMissing(ctx context.Context, lexiconVersion string, provider EmbeddingProvider) error

	// NearestReview returns the single closest active REVIEW entry, or nil
	// when the version has no embedded REVIEW entries.
	NearestReview(ctx context.Context, lexiconVersion, embeddingModel string, query []float64) (*Neighbor, error)
}
