package vectormatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/usalama/sentinel/moderation/lexicon"
)

// MemStore is an in-memory EmbeddingStore seeded with lexicon snapshots,
// for tests and single-process deployments without a database.
type MemStore struct {
	mu      sync.Mutex
	entries map[string][]lexicon.Entry
	vectors map[string][][]float64
}

var _ EmbeddingStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string][]lexicon.Entry),
		vectors: make(map[string][][]float64),
	}
}

// Load seeds the store with the entries of one lexicon version, replacing
// any previous seed and dropping computed embeddings for that version.
func (s *MemStore) Load(lexiconVersion string, entries []lexicon.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[lexiconVersion] = append([]lexicon.Entry{}, entries...)
	for key := range s.vectors {
		if versionOfKey(key) == lexiconVersion {
			delete(s.vectors, key)
		}
	}
}

func vectorKey(lexiconVersion, embeddingModel string) string {
	return lexiconVersion + "|" + embeddingModel
}

func versionOfKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i]
		}
	}
	return key
}

func (s *MemStore) SyncMissing(ctx context.Context, lexiconVersion string, provider EmbeddingProvider) error {
	s.mu.Lock()
	entries := s.entries[lexiconVersion]
	key := vectorKey(lexiconVersion, provider.ID())
	_, done := s.vectors[key]
	s.mu.Unlock()
	if done {
		return nil
	}

	vectors := make([][]float64, len(entries))
	for i, entry := range entries {
		vector, err := provider.Embed(ctx, entry.Term)
		if err != nil {
			return fmt.Errorf("embedding term %q: %w", entry.Term, err)
		}
		vectors[i] = vector
	}

	s.mu.Lock()
	s.vectors[key] = vectors
	s.mu.Unlock()
	return nil
}

func (s *MemStore) NearestReview(ctx context.Context, lexiconVersion, embeddingModel string, query []float64) (*Neighbor, error) {
	s.mu.Lock()
	entries := s.entries[lexiconVersion]
	vectors := s.vectors[vectorKey(lexiconVersion, embeddingModel)]
	s.mu.Unlock()

	var best *Neighbor
	for i, entry := range entries {
		if entry.Action != lexicon.ActionReview {
			continue
		}
		if entry.Status != "" && entry.Status != lexicon.StatusActive {
			continue
		}
		if i >= len(vectors) {
			break
		}
		similarity := Cosine(query, vectors[i])
		if best == nil || similarity > best.Similarity {
			best = &Neighbor{
				Entry:      entry,
				MatchID:    fmt.Sprintf("mem-%d", i+1),
				Similarity: similarity,
			}
		}
	}
	return best, nil
}
