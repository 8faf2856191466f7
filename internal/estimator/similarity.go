package estimator

import (
	"context"
	"log"
	"math"

	"github.com/kestrel-ir/kestrel/internal/pool"
)

// #region embedder-interface

// Embedder abstracts the embedding collaborator so Similarity can be tested
// without a real model service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// #endregion embedder-interface

// #region similarity

const similarityBoost = 0.5

// Similarity boosts eligible items in proportion to their maximum embedding
// cosine similarity to any winner: priority = baseline * (1 + 0.5*maxSim).
// Embedding failures degrade to the plain baseline for the affected items.
type Similarity struct {
	embedder Embedder
}

// NewSimilarity returns a semantic-similarity estimator over the given
// embedder.
func NewSimilarity(embedder Embedder) *Similarity {
	return &Similarity{embedder: embedder}
}

// Name implements Estimator.
func (s *Similarity) Name() string { return "semantic_similarity" }

// Value implements Estimator.
func (s *Similarity) Value(p *pool.CandidatePool, rctx RunContext) map[string]Output {
	ctx := rctx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	wins := winners(p)
	winVecs := make([][]float64, 0, len(wins))
	for _, w := range wins {
		vec, err := s.embedder.Embed(ctx, w.Content)
		if err != nil {
			log.Printf("[EST] embed winner %s failed: %v", w.ID, err)
			continue
		}
		winVecs = append(winVecs, vec)
	}

	out := make(map[string]Output)
	for _, it := range p.Eligible() {
		priority := bestSource(it)
		if len(winVecs) > 0 {
			if vec, err := s.embedder.Embed(ctx, it.Content); err == nil {
				maxSim := 0.0
				for _, wv := range winVecs {
					if sim := cosine(vec, wv); sim > maxSim {
						maxSim = sim
					}
				}
				priority *= 1 + similarityBoost*maxSim
			} else {
				log.Printf("[EST] embed %s failed: %v", it.ID, err)
			}
		}
		out[it.ID] = Output{Priority: priority}
	}
	return out
}

// NeedsReformulation implements Estimator.
func (s *Similarity) NeedsReformulation(_ RunContext, _ *pool.CandidatePool) bool {
	return true
}

// #endregion similarity

// #region cosine

// cosine returns the cosine similarity of two vectors, 0 for mismatched or
// zero-norm input.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// #endregion cosine
