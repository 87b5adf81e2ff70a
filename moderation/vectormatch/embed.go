// Package vectormatch finds the nearest active REVIEW lexicon entry to a
// piece of text in embedding space. It is a recall backstop for paraphrases
// and spelling variants the exact matchers miss; its matches are advisory
// and threshold-gated, and never escalate past REVIEW.
package vectormatch

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/usalama/sentinel/moderation/keyword"
)

const (
	// Dimension is the fixed width of the signed-hash embedding space.
	Dimension = 64

	// ModelID identifies the deterministic hashed bag-of-words embedding.
	ModelID = "hash-bow-v1"

	// DefaultThreshold is the minimum cosine similarity for a match when
	// policy supplies no override.
	DefaultThreshold = 0.82

	// DefaultStatementTimeout bounds similarity lookups so a slow store
	// degrades to no-match instead of stalling the request path.
	DefaultStatementTimeout = 60 * time.Millisecond
)

// EmbeddingProvider turns text into a fixed-dimension unit vector.
type EmbeddingProvider interface {
	ID() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// HashBowProvider is the built-in embedding: unigram, bigram, and character
// trigram features projected into Dimension buckets by signed feature
// hashing. Collisions are expected at this width and tolerated because the
// vector path is REVIEW-only and threshold-gated before policy impact.
type HashBowProvider struct{}

var _ EmbeddingProvider = HashBowProvider{}

func (HashBowProvider) ID() string {
	return ModelID
}

func (HashBowProvider) Dimension() int {
	return Dimension
}

func (HashBowProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	return EmbedText(text), nil
}

type feature struct {
	key    string
	weight float64
}

func featureStream(text string) []feature {
	tokens := keyword.TokenizeText(text)
	if len(tokens) == 0 {
		return nil
	}

	var features []feature
	for _, token := range tokens {
		features = append(features, feature{key: "tok:" + token, weight: 1.0})
	}
	for i := 0; i < len(tokens)-1; i++ {
		features = append(features, feature{key: "bigram:" + tokens[i] + "_" + tokens[i+1], weight: 1.2})
	}
	for _, token := range tokens {
		compact := []rune(strings.ReplaceAll(token, "'", ""))
		if len(compact) < 3 {
			continue
		}
		for start := 0; start+3 <= len(compact); start++ {
			features = append(features, feature{key: "tri:" + string(compact[start:start+3]), weight: 0.5})
		}
	}
	return features
}

// EmbedText computes the hash-bow-v1 embedding of text: an L2-normalized
// vector, or all zeros when the text has no tokens.
func EmbedText(text string) []float64 {
	vector := make([]float64, Dimension)
	features := featureStream(text)
	if len(features) == 0 {
		return vector
	}

	hasher, err := blake2b.New(16, nil)
	if err != nil {
		return vector
	}
	for _, f := range features {
		hasher.Reset()
		hasher.Write([]byte(f.key))
		digest := hasher.Sum(nil)
		index := int(binary.BigEndian.Uint16(digest[0:2])) % Dimension
		sign := 1.0
		if digest[2]%2 == 1 {
			sign = -1.0
		}
		vector[index] += sign * f.weight
	}

	norm := 0.0
	for _, v := range vector {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return make([]float64, Dimension)
	}
	for i := range vector {
		vector[i] /= norm
	}
	return vector
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is
// zero or the dimensions disagree.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func isZeroVector(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// VectorLiteral renders a vector in pgvector literal form, for raw-SQL
// similarity queries against a pgvector-enabled Postgres.
func VectorLiteral(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.8f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
