package estimator

import "github.com/kestrel-ir/kestrel/internal/pool"

// #region baseline

// Baseline assigns each eligible item the best retrieval score seen for it
// across all sources.
type Baseline struct {
	// MinPoolFloor: reformulation is requested while the pool holds fewer
	// items than this.
	MinPoolFloor int
}

// NewBaseline returns a baseline estimator with the stock pool floor.
func NewBaseline() *Baseline {
	return &Baseline{MinPoolFloor: 3}
}

// Name implements Estimator.
func (b *Baseline) Name() string { return "baseline" }

// Value implements Estimator.
func (b *Baseline) Value(p *pool.CandidatePool, _ RunContext) map[string]Output {
	out := make(map[string]Output)
	for _, it := range p.Eligible() {
		out[it.ID] = Output{Priority: bestSource(it)}
	}
	return out
}

// NeedsReformulation implements Estimator: rewrite only while the pool is
// still thin.
func (b *Baseline) NeedsReformulation(_ RunContext, p *pool.CandidatePool) bool {
	return p.Len() < b.MinPoolFloor
}

// #endregion baseline
