package sched

import (
	"sort"
	"strings"

	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/pool"
)

// #region strategies

// Built-in refinement strategy tiers, cheap to costly.
const (
	StrategyCrossEncoder = "cross_encoder"
	StrategyLLM          = "llm"
)

// #endregion strategies

// #region proposal

// Proposal is a scheduler's command for the next iteration: which ids to
// refine, with which strategy, at what declared cost.
type Proposal struct {
	IDs              []string
	Strategy         string
	ExpectedCost     budget.Cost
	EstimatedUtility float64
}

// #endregion proposal

// #region interface

// Scheduler picks the next batch to refine. Returning nil stops the loop:
// either there is no eligible work or no budget to do anything useful.
type Scheduler interface {
	Name() string
	SelectBatch(p *pool.CandidatePool, view budget.RemainingView) *Proposal
}

// #endregion interface

// #region ordering

// byPriority sorts eligible items into the deterministic total order
// (priority desc, initial rank asc, id asc).
func byPriority(items []*pool.Item) []*pool.Item {
	sorted := append([]*pool.Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.InitialRank != b.InitialRank {
			return a.InitialRank < b.InitialRank
		}
		return strings.Compare(a.ID, b.ID) < 0
	})
	return sorted
}

// batchLimit caps a batch at the configured size, the remaining rerank-doc
// budget, and the eligible count.
func batchLimit(batchSize, eligible int, view budget.RemainingView) int {
	limit := batchSize
	if eligible < limit {
		limit = eligible
	}
	if view.RerankDocs < float64(limit) {
		limit = int(view.RerankDocs)
	}
	return limit
}

func meanPriority(items []*pool.Item) float64 {
	if len(items) == 0 {
		return 0
	}
	sum := 0.0
	for _, it := range items {
		sum += it.Priority
	}
	return sum / float64(len(items))
}

// #endregion ordering
