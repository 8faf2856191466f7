package estimator

import (
	"context"

	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/pool"
)

// #region run-context

// RunContext carries the per-query environment into estimators.
type RunContext struct {
	Ctx     context.Context
	Query   string
	Tracker *budget.Tracker
}

// #endregion run-context

// #region metadata

// MetaKind discriminates the value types a metadata bag may carry.
type MetaKind int

const (
	MetaString MetaKind = iota
	MetaNumber
	MetaVector
)

// MetaValue is a restricted variant: a string, a number, or a string→float64
// vector. Keeps the free-form side channel (e.g. a learned weight vector)
// without resorting to untyped payloads.
type MetaValue struct {
	Kind MetaKind
	Str  string
	Num  float64
	Vec  map[string]float64
}

// Meta is an estimator output's metadata bag.
type Meta map[string]MetaValue

// MetaSourceWeights is the key under which learned per-source weights travel
// to downstream stop policies.
const MetaSourceWeights = "source_weights"

// String wraps a string metadata value.
func String(s string) MetaValue { return MetaValue{Kind: MetaString, Str: s} }

// Number wraps a numeric metadata value.
func Number(f float64) MetaValue { return MetaValue{Kind: MetaNumber, Num: f} }

// Vector wraps a string→float64 metadata value.
func Vector(v map[string]float64) MetaValue { return MetaValue{Kind: MetaVector, Vec: v} }

// #endregion metadata

// #region output

// Output is one item's prioritization result.
type Output struct {
	Priority         float64
	PredictedQuality float64 // 0 when the strategy offers no prediction
	PredictedLatency float64 // milliseconds; 0 when unknown
	Metadata         Meta
}

// #endregion output

// #region interface

// Estimator assigns priorities to eligible items. Value must be side-effect
// free on the pool and deterministic for fixed input; it is computed only
// over Eligible items. NeedsReformulation gates the expensive query-rewrite
// step; the default answer is yes.
type Estimator interface {
	Name() string
	Value(p *pool.CandidatePool, rctx RunContext) map[string]Output
	NeedsReformulation(rctx RunContext, p *pool.CandidatePool) bool
}

// #endregion interface

// #region winners

// winnerThreshold is the reranker score above which a RERANKED item counts as
// a "winner" for relevance-propagation heuristics.
const winnerThreshold = 0.8

func winners(p *pool.CandidatePool) []*pool.Item {
	var out []*pool.Item
	for _, it := range p.Reranked() {
		if it.RerankerScore != nil && *it.RerankerScore > winnerThreshold {
			out = append(out, it)
		}
	}
	return out
}

// bestSource returns the maximum retrieval score across an item's sources.
func bestSource(it *pool.Item) float64 {
	best := 0.0
	for _, s := range it.Sources {
		if s > best {
			best = s
		}
	}
	return best
}

// #endregion winners
