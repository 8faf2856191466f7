package sched

import (
	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/pool"
)

// #region staged-scheduler

// Stage is one tier of a staged degradation plan.
type Stage struct {
	Strategy  string
	Quota     int // max items refined with this strategy across the run
	BatchSize int
}

// StagedScheduler spends a fixed quota on the most expensive strategy first,
// then degrades to cheaper tiers, then stops. It keeps no mutable state of
// its own: the current stage is re-derived every call by counting how many
// pool items each strategy has already refined, so determinism comes purely
// from pool contents.
type StagedScheduler struct {
	Stages []Stage
}

// NewStagedScheduler returns the stock two-tier plan: a small thorough LLM
// pass, then a wider cross-encoder pass.
func NewStagedScheduler() *StagedScheduler {
	return &StagedScheduler{Stages: []Stage{
		{Strategy: StrategyLLM, Quota: 2, BatchSize: 2},
		{Strategy: StrategyCrossEncoder, Quota: 10, BatchSize: 5},
	}}
}

// Name implements Scheduler.
func (s *StagedScheduler) Name() string { return "staged" }

// SelectBatch implements Scheduler.
func (s *StagedScheduler) SelectBatch(p *pool.CandidatePool, view budget.RemainingView) *Proposal {
	eligible := p.Eligible()
	if len(eligible) == 0 {
		return nil
	}

	refined := refinedCounts(p)
	for _, stage := range s.Stages {
		room := stage.Quota - refined[stage.Strategy]
		if room <= 0 {
			continue
		}
		limit := batchLimit(stage.BatchSize, len(eligible), view)
		if limit > room {
			limit = room
		}
		if limit <= 0 {
			return nil
		}
		ranked := byPriority(eligible)
		batch := ranked[:limit]
		ids := make([]string, len(batch))
		for i, it := range batch {
			ids[i] = it.ID
		}
		return &Proposal{
			IDs:              ids,
			Strategy:         stage.Strategy,
			ExpectedCost:     budget.Cost{Docs: len(ids), Calls: 1},
			EstimatedUtility: meanPriority(batch),
		}
	}
	return nil
}

// refinedCounts tallies already-refined items per strategy from pool contents.
func refinedCounts(p *pool.CandidatePool) map[string]int {
	counts := make(map[string]int)
	for _, it := range p.Reranked() {
		counts[it.RerankerStrategy]++
	}
	return counts
}

// #endregion staged-scheduler
