package controller

import (
	"context"
	"fmt"

	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/pool"
	"github.com/kestrel-ir/kestrel/internal/trace"
)

// #region collaborators

// Retriever is the search backend contract.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]pool.Document, error)
}

// Reformulator expands a query into alternate phrasings. It must consume
// from the reformulation resource before returning a non-empty result.
type Reformulator interface {
	Generate(ctx context.Context, query string, tracker *budget.Tracker) ([]string, error)
}

// Reranker scores a batch of items against the query with a named strategy.
// It may return scores for a strict subset of the batch; missing ids are
// treated as a partial response and dropped by the pool.
type Reranker interface {
	Score(ctx context.Context, items []*pool.Item, query, strategy string) (map[string]float64, error)
}

// Assembler produces the final ranked output from active items under the
// remaining token budget.
type Assembler interface {
	Assemble(items []*pool.Item, tracker *budget.Tracker) []Result
}

// #endregion collaborators

// #region result

// Result is one entry of the final ranked output.
type Result struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	TokenCount int               `json:"token_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// #endregion result

// #region config

// Config holds the controller's retrieval and pool knobs.
type Config struct {
	InitialTopK      int // depth of the seed retrieval
	RewriteTopK      int // smaller supplemental depth per rewrite
	PoolCap          int // deterministic pool size cap
	RewriteCacheSize int // entries in the shared rewrite cache
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialTopK:      10,
		RewriteTopK:      5,
		PoolCap:          100,
		RewriteCacheSize: 128,
	}
}

// Validate rejects malformed configuration at construction time.
func (c Config) Validate() error {
	if c.InitialTopK <= 0 {
		return fmt.Errorf("config: initial top-k must be positive, got %d", c.InitialTopK)
	}
	if c.RewriteTopK <= 0 {
		return fmt.Errorf("config: rewrite top-k must be positive, got %d", c.RewriteTopK)
	}
	if c.PoolCap <= 0 {
		return fmt.Errorf("config: pool cap must be positive, got %d", c.PoolCap)
	}
	if c.RewriteCacheSize <= 0 {
		return fmt.Errorf("config: rewrite cache size must be positive, got %d", c.RewriteCacheSize)
	}
	return nil
}

// #endregion config

// #region output

// Output is the final artifact for one query: the ranked documents, the full
// decision trace, and the consumption snapshot.
type Output struct {
	Query     string             `json:"query"`
	Documents []Result           `json:"documents"`
	Trace     *trace.Trace       `json:"trace"`
	Consumed  map[string]float64 `json:"consumed"`
}

// #endregion output
