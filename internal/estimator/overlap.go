package estimator

import "github.com/kestrel-ir/kestrel/internal/pool"

// #region overlap

// overlapKeys are the metadata fields that propagate relevance between items.
var overlapKeys = []string{"source", "section", "category"}

const overlapBoost = 1.2

// Overlap is the baseline boosted by a cheap relevance-propagation heuristic:
// an eligible item sharing a tagged metadata field with a winner gets one 20%
// boost, regardless of how many winners it matches.
type Overlap struct{}

// NewOverlap returns the metadata-overlap estimator.
func NewOverlap() *Overlap { return &Overlap{} }

// Name implements Estimator.
func (o *Overlap) Name() string { return "metadata_overlap" }

// Value implements Estimator.
func (o *Overlap) Value(p *pool.CandidatePool, _ RunContext) map[string]Output {
	wins := winners(p)
	out := make(map[string]Output)
	for _, it := range p.Eligible() {
		priority := bestSource(it)
		if sharesField(it, wins) {
			priority *= overlapBoost
		}
		out[it.ID] = Output{Priority: priority}
	}
	return out
}

// NeedsReformulation implements Estimator.
func (o *Overlap) NeedsReformulation(_ RunContext, _ *pool.CandidatePool) bool {
	return true
}

func sharesField(it *pool.Item, wins []*pool.Item) bool {
	for _, w := range wins {
		for _, key := range overlapKeys {
			v, ok := it.Metadata[key]
			if !ok {
				continue
			}
			if wv, ok := w.Metadata[key]; ok && v == wv {
				return true
			}
		}
	}
	return false
}

// #endregion overlap
