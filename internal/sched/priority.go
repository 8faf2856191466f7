package sched

import (
	"log"

	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/pool"
)

// #region priority-scheduler

// PriorityScheduler batches the highest-priority eligible items and escalates
// the refinement strategy when the top of the ranking is ambiguous: if the
// gap between the two best priorities is under AmbiguityThreshold, the whole
// batch is sent to the costlier strategy.
type PriorityScheduler struct {
	BatchSize          int
	Strategy           string // default tier
	EscalationStrategy string // costlier tier used on ambiguity
	AmbiguityThreshold float64
}

// NewPriorityScheduler returns the stock configuration: batches of 5,
// cross-encoder escalating to LLM at a 0.05 gap.
func NewPriorityScheduler() *PriorityScheduler {
	return &PriorityScheduler{
		BatchSize:          5,
		Strategy:           StrategyCrossEncoder,
		EscalationStrategy: StrategyLLM,
		AmbiguityThreshold: 0.05,
	}
}

// Name implements Scheduler.
func (s *PriorityScheduler) Name() string { return "priority" }

// SelectBatch implements Scheduler.
func (s *PriorityScheduler) SelectBatch(p *pool.CandidatePool, view budget.RemainingView) *Proposal {
	eligible := p.Eligible()
	if len(eligible) == 0 {
		return nil
	}
	limit := batchLimit(s.BatchSize, len(eligible), view)
	if limit <= 0 {
		return nil
	}

	ranked := byPriority(eligible)
	batch := ranked[:limit]

	strategy := s.Strategy
	if len(batch) >= 2 && batch[0].Priority-batch[1].Priority < s.AmbiguityThreshold {
		strategy = s.EscalationStrategy
		log.Printf("[SCHED] ambiguous top (gap=%.4f < %.4f), escalating to %s",
			batch[0].Priority-batch[1].Priority, s.AmbiguityThreshold, strategy)
	}

	ids := make([]string, len(batch))
	for i, it := range batch {
		ids[i] = it.ID
	}
	return &Proposal{
		IDs:              ids,
		Strategy:         strategy,
		ExpectedCost:     budget.Cost{Docs: len(ids), Calls: 1},
		EstimatedUtility: meanPriority(batch),
	}
}

// #endregion priority-scheduler
