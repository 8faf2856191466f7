package controller

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/estimator"
	"github.com/kestrel-ir/kestrel/internal/feedback"
	"github.com/kestrel-ir/kestrel/internal/pool"
	"github.com/kestrel-ir/kestrel/internal/sched"
	"github.com/kestrel-ir/kestrel/internal/trace"
)

// #region controller-struct

// Controller owns one query's execution: seed retrieval, estimator-gated
// reformulation, the iterative refine loop, and final assembly. All run
// state (pool, tracker, trace) is query-scoped; the only state shared across
// queries is the synchronized rewrite cache.
type Controller struct {
	retriever    Retriever
	reformulator Reformulator
	reranker     Reranker
	assembler    Assembler
	scheduler    sched.Scheduler
	estimator    estimator.Estimator
	feedback     feedback.Policy // optional
	budget       budget.Budget
	config       Config

	// rewrites caches reformulator output keyed by the original query text.
	// lru.Cache locks internally, so concurrent queries may share it.
	rewrites *lru.Cache[string, []string]
}

// Options carries the optional pieces of a controller.
type Options struct {
	Feedback feedback.Policy
	Budget   *budget.Budget // defaults to budget.Default()
	Config   *Config        // defaults to DefaultConfig()
}

// New wires a controller, validating budget and config eagerly so malformed
// limits are rejected before any query executes.
func New(
	retriever Retriever,
	reformulator Reformulator,
	reranker Reranker,
	assembler Assembler,
	scheduler sched.Scheduler,
	est estimator.Estimator,
	opts Options,
) (*Controller, error) {
	if retriever == nil || reformulator == nil || reranker == nil ||
		assembler == nil || scheduler == nil || est == nil {
		return nil, fmt.Errorf("controller: all collaborators are required")
	}

	b := budget.Default()
	if opts.Budget != nil {
		b = *opts.Budget
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cache, err := lru.New[string, []string](cfg.RewriteCacheSize)
	if err != nil {
		return nil, fmt.Errorf("controller: rewrite cache: %w", err)
	}

	return &Controller{
		retriever:    retriever,
		reformulator: reformulator,
		reranker:     reranker,
		assembler:    assembler,
		scheduler:    scheduler,
		estimator:    est,
		feedback:     opts.Feedback,
		budget:       b,
		config:       cfg,
		rewrites:     cache,
	}, nil
}

// #endregion controller-struct

// #region run

// Run executes one query under the controller's default budget.
func (c *Controller) Run(ctx context.Context, query string) (*Output, error) {
	return c.RunWithBudget(ctx, query, c.budget)
}

// RunWithBudget executes one query under an override budget. The returned
// error is reserved for contract violations (illegal pool transitions,
// malformed override budget); budget exhaustion and refinement failures
// degrade the output instead and are explained by the trace.
func (c *Controller) RunWithBudget(ctx context.Context, query string, b budget.Budget) (*Output, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	tr := trace.New()
	tracker := budget.NewTracker(b, tr)
	p := pool.New()
	rctx := estimator.RunContext{Ctx: ctx, Query: query, Tracker: tracker}

	c.seed(ctx, query, p, tracker, tr)
	used := c.reformulate(ctx, query, p, rctx, tracker, tr)

	p.EnforceCap(c.config.PoolCap)
	metrics := p.ComputeMetrics()
	tr.Add("controller", "pool_init", map[string]any{
		"count":          p.Len(),
		"reformulations": used,
		"metrics":        metrics,
	})
	log.Printf("[CTRL] pool seeded: %d items (%d overlap, %d rewrite-only)",
		metrics.Total, metrics.Overlap, metrics.RewriteOnly)

	if err := c.refineLoop(ctx, query, p, rctx, tracker, tr); err != nil {
		return nil, err
	}

	documents := c.assembler.Assemble(p.Active(), tracker)
	tr.Add("controller", "assembly", map[string]any{"count": len(documents)})

	return &Output{
		Query:     query,
		Documents: documents,
		Trace:     tr,
		Consumed:  tracker.Snapshot(),
	}, nil
}

// #endregion run

// #region seed

// seed performs the initial retrieval under the "original" source label.
func (c *Controller) seed(ctx context.Context, query string, p *pool.CandidatePool, tracker *budget.Tracker, tr *trace.Trace) {
	if !tracker.TryConsume(budget.ResourceRetrievalCalls, 1) {
		tr.Add("controller", "retrieval_skipped", map[string]any{"query": query, "source": pool.SourceOriginal})
		return
	}
	docs, err := c.retriever.Retrieve(ctx, query, c.config.InitialTopK)
	if err != nil {
		tr.Add("controller", "retrieval_error", map[string]any{"query": query, "error": err.Error()})
		return
	}
	p.AddItems(docs, pool.SourceOriginal)
}

// #endregion seed

// #region reformulate

// reformulate asks the estimator whether rewriting is worth the spend, then
// retrieves a smaller supplemental depth per distinct rewrite. Budget
// denials skip individual rewrites; partial supplemental retrieval is
// expected, not fatal. Returns the rewrites whose supplemental retrieval ran.
func (c *Controller) reformulate(ctx context.Context, query string, p *pool.CandidatePool, rctx estimator.RunContext, tracker *budget.Tracker, tr *trace.Trace) []string {
	used := []string{}
	if !c.estimator.NeedsReformulation(rctx, p) {
		return used
	}

	queries := c.rewriteQueries(ctx, query, tracker, tr)

	seen := map[string]bool{normalizeQuery(query): true}
	idx := 0
	for _, q := range queries {
		norm := normalizeQuery(q)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		label := pool.RewriteSource(idx)
		idx++

		if !tracker.TryConsume(budget.ResourceRetrievalCalls, 1) {
			tr.Add("controller", "retrieval_skipped", map[string]any{"query": q, "source": label})
			continue
		}
		docs, err := c.retriever.Retrieve(ctx, q, c.config.RewriteTopK)
		if err != nil {
			tr.Add("controller", "retrieval_error", map[string]any{"query": q, "error": err.Error()})
			continue
		}
		p.AddItems(docs, label)
		used = append(used, q)
	}
	return used
}

// rewriteQueries returns reformulator output, served from the shared cache
// when the same original query was rewritten before.
func (c *Controller) rewriteQueries(ctx context.Context, query string, tracker *budget.Tracker, tr *trace.Trace) []string {
	if cached, ok := c.rewrites.Get(query); ok {
		tr.Add("controller", "rewrite_cache_hit", map[string]any{"query": query, "count": len(cached)})
		return cached
	}
	queries, err := c.reformulator.Generate(ctx, query, tracker)
	if err != nil {
		tr.Add("controller", "rewrite_error", map[string]any{"query": query, "error": err.Error()})
		return nil
	}
	if len(queries) > 0 {
		c.rewrites.Add(query, queries)
	}
	return queries
}

// normalizeQuery folds case and whitespace for rewrite de-duplication.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// #endregion reformulate

// #region refine-loop

// refineLoop runs estimate → stop-check → schedule → execute → update until
// the tracker is exhausted, the policy says stop, or the scheduler has
// nothing left to propose.
func (c *Controller) refineLoop(ctx context.Context, query string, p *pool.CandidatePool, rctx estimator.RunContext, tracker *budget.Tracker, tr *trace.Trace) error {
	for !tracker.IsExhausted() {
		outputs := c.estimator.Value(p, rctx)
		priorities := make(map[string]float64, len(outputs))
		for id, out := range outputs {
			priorities[id] = out.Priority
		}
		p.ApplyPriorities(priorities)
		meta := aggregateMeta(outputs)

		if c.feedback != nil {
			stop, reason := c.feedback.ShouldStop(p.ComputeMetrics(), tracker.RemainingView(), meta)
			if stop {
				tr.Add("feedback", "stop", map[string]any{"reason": reason})
				log.Printf("[CTRL] feedback stop: %s", reason)
				return nil
			}
		}

		proposal := c.scheduler.SelectBatch(p, tracker.RemainingView())
		if proposal == nil {
			tr.Add("controller", "scheduler_done", nil)
			return nil
		}

		if err := p.Transition(proposal.IDs, pool.StateInFlight); err != nil {
			return fmt.Errorf("controller: schedule batch: %w", err)
		}

		items := p.Items(proposal.IDs)
		scores, err := c.reranker.Score(ctx, items, query, proposal.Strategy)
		if err != nil {
			// The whole in-flight batch is dropped, never retried; the loop
			// continues with whatever remains eligible.
			if terr := p.Transition(proposal.IDs, pool.StateDropped); terr != nil {
				return fmt.Errorf("controller: drop failed batch: %w", terr)
			}
			tr.Add("controller", "rerank_error", map[string]any{
				"doc_ids":  proposal.IDs,
				"strategy": proposal.Strategy,
				"error":    err.Error(),
			})
			log.Printf("[CTRL] rerank batch failed (%d docs, %s): %v", len(proposal.IDs), proposal.Strategy, err)
			continue
		}

		if err := p.UpdateScores(scores, proposal.Strategy, proposal.IDs); err != nil {
			return fmt.Errorf("controller: apply scores: %w", err)
		}
		tracker.ConsumeCost(proposal.ExpectedCost)
		tr.Add("controller", "rerank_batch", map[string]any{
			"count":    len(proposal.IDs),
			"strategy": proposal.Strategy,
			"doc_ids":  proposal.IDs,
			"utility":  proposal.EstimatedUtility,
		})
	}
	tr.Add("controller", "budget_exhausted", nil)
	return nil
}

// aggregateMeta merges estimator metadata across items in deterministic id
// order, later ids winning key conflicts.
func aggregateMeta(outputs map[string]estimator.Output) estimator.Meta {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	merged := make(estimator.Meta)
	for _, id := range ids {
		for k, v := range outputs[id].Metadata {
			merged[k] = v
		}
	}
	return merged
}

// #endregion refine-loop
