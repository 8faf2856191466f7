package estimator

import (
	"log"
	"sort"

	"github.com/kestrel-ir/kestrel/internal/numeric"
	"github.com/kestrel-ir/kestrel/internal/pool"
)

// #region regression

// Regression learns a per-source weight vector online: RERANKED items form a
// design matrix (one column per provenance label, reranker score as target)
// and a box-constrained [0,1] least-squares fit recovers the weights that
// best reproduce refinement judgments from raw retrieval scores. Eligible
// items are then scored as the weighted sum over their sources. Until enough
// refined evidence exists it falls back to the baseline. The learned vector
// rides along in every output's metadata under MetaSourceWeights so a
// convergence policy can watch it settle.
type Regression struct {
	// MinReranked is the evidence floor below which the baseline is used.
	MinReranked int
	solver      numeric.Solver
	baseline    *Baseline
}

// NewRegression returns a learned-weight estimator with the given evidence
// floor (3 if non-positive).
func NewRegression(minReranked int, solver numeric.Solver) *Regression {
	if minReranked <= 0 {
		minReranked = 3
	}
	if solver == nil {
		solver = numeric.NewProjectedGradient()
	}
	return &Regression{MinReranked: minReranked, solver: solver, baseline: NewBaseline()}
}

// Name implements Estimator.
func (r *Regression) Name() string { return "learned_weights" }

// Value implements Estimator.
func (r *Regression) Value(p *pool.CandidatePool, rctx RunContext) map[string]Output {
	reranked := p.Reranked()
	if len(reranked) < r.MinReranked {
		return r.baseline.Value(p, rctx)
	}

	labels := sourceLabels(reranked)
	if len(labels) == 0 {
		return r.baseline.Value(p, rctx)
	}

	rows := make([][]float64, len(reranked))
	targets := make([]float64, len(reranked))
	for i, it := range reranked {
		row := make([]float64, len(labels))
		for j, label := range labels {
			row[j] = it.Sources[label]
		}
		rows[i] = row
		targets[i] = *it.RerankerScore
	}

	solved, err := r.solver.Solve(rows, targets, 0, 1)
	if err != nil {
		log.Printf("[EST] weight fit failed, falling back to baseline: %v", err)
		return r.baseline.Value(p, rctx)
	}

	weights := make(map[string]float64, len(labels))
	for j, label := range labels {
		weights[label] = solved[j]
	}

	out := make(map[string]Output)
	for _, it := range p.Eligible() {
		priority := 0.0
		for label, score := range it.Sources {
			priority += weights[label] * score
		}
		out[it.ID] = Output{
			Priority: priority,
			Metadata: Meta{MetaSourceWeights: Vector(weights)},
		}
	}
	return out
}

// NeedsReformulation implements Estimator.
func (r *Regression) NeedsReformulation(_ RunContext, _ *pool.CandidatePool) bool {
	return true
}

// sourceLabels returns the distinct provenance labels across items, sorted
// for a stable column order.
func sourceLabels(items []*pool.Item) []string {
	seen := make(map[string]bool)
	for _, it := range items {
		for label := range it.Sources {
			seen[label] = true
		}
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// #endregion regression
