// Package retrieval provides the in-memory collaborators the controller is
// wired with out of the box: a lexical corpus retriever, a fixed-rewrite
// reformulator, and a keyword reranker.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/kestrel-ir/kestrel/internal/pool"
)

// #region memory-retriever

// MemoryRetriever serves a fixed corpus by lexical overlap. A whole-query
// substring match dominates; otherwise the score is proportional to the
// number of keywords shared with the query.
type MemoryRetriever struct {
	corpus []pool.Document
	config Config
}

// NewMemoryRetriever validates the corpus once (non-empty content, length
// cap, unique ids) and keeps only the documents that pass.
func NewMemoryRetriever(corpus []pool.Document, config Config) *MemoryRetriever {
	return &MemoryRetriever{corpus: consistencyCheck(corpus, config.MaxContentLen), config: config}
}

// Retrieve scores the corpus against the query and returns the top-k by
// score (ties by id, so equal corpora yield equal rankings).
func (m *MemoryRetriever) Retrieve(_ context.Context, query string, topK int) ([]pool.Document, error) {
	queryLower := strings.ToLower(query)
	queryTokens := tokenize(query)

	scored := make([]pool.Document, 0, len(m.corpus))
	for _, doc := range m.corpus {
		score := m.score(doc, queryLower, queryTokens)
		if score <= 0 {
			continue
		}
		doc.Score = score
		scored = append(scored, doc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (m *MemoryRetriever) score(doc pool.Document, queryLower string, queryTokens []string) float64 {
	content := strings.ToLower(doc.Content)
	if strings.Contains(content, queryLower) {
		return m.config.MatchScore
	}
	shared := sharedKeywords(queryTokens, tokenize(doc.Content))
	return float64(shared) * m.config.KeywordWeight
}

// consistencyCheck drops documents with empty content, overlong content, or a
// duplicate id. First occurrence of an id wins.
func consistencyCheck(docs []pool.Document, maxLen int) []pool.Document {
	seen := make(map[string]bool, len(docs))
	valid := make([]pool.Document, 0, len(docs))
	for _, d := range docs {
		if d.Content == "" {
			continue
		}
		if maxLen > 0 && len(d.Content) > maxLen {
			continue
		}
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		valid = append(valid, d)
	}
	return valid
}

// #endregion memory-retriever
