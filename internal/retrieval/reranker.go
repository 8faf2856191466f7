package retrieval

import (
	"context"
	"strings"

	"github.com/kestrel-ir/kestrel/internal/pool"
)

// #region keyword-reranker

// KeywordReranker scores a batch by whole-query substring match: matching
// documents get MatchScore, the rest MissScore. The strategy name is
// accepted but does not change the scoring.
type KeywordReranker struct {
	MatchScore float64
	MissScore  float64
}

// NewKeywordReranker returns the stock 0.95 / 0.3 split.
func NewKeywordReranker() *KeywordReranker {
	return &KeywordReranker{MatchScore: 0.95, MissScore: 0.3}
}

// Score implements the controller's reranker contract. It always scores the
// full batch.
func (k *KeywordReranker) Score(_ context.Context, items []*pool.Item, query, _ string) (map[string]float64, error) {
	queryLower := strings.ToLower(query)
	scores := make(map[string]float64, len(items))
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Content), queryLower) {
			scores[it.ID] = k.MatchScore
		} else {
			scores[it.ID] = k.MissScore
		}
	}
	return scores, nil
}

// #endregion keyword-reranker
