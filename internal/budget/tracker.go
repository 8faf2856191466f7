package budget

import (
	"math"
	"time"

	"github.com/kestrel-ir/kestrel/internal/trace"
)

// #region tracker-struct

// Tracker owns a consumption counter per resource and the run's start
// timestamp. It is the single source of truth for whether the next unit of
// work may happen; nothing else mutates it.
type Tracker struct {
	budget   Budget
	trace    *trace.Trace
	consumed map[string]float64
	start    time.Time
	now      func() time.Time
}

// NewTracker creates a tracker for one query run.
func NewTracker(b Budget, tr *trace.Trace) *Tracker {
	t := &Tracker{
		budget:   b,
		trace:    tr,
		consumed: make(map[string]float64),
		now:      time.Now,
	}
	t.start = t.now()
	return t
}

// #endregion tracker-struct

// #region elapsed

// ElapsedMS returns wall time since the tracker was created, in milliseconds.
func (t *Tracker) ElapsedMS() float64 {
	return float64(t.now().Sub(t.start)) / float64(time.Millisecond)
}

func (t *Tracker) latencyExceeded() bool {
	limit, ok := t.budget.limit(ResourceLatencyMS)
	return ok && t.ElapsedMS() > limit
}

// #endregion elapsed

// #region try-consume

// TryConsume attempts to spend amount of a resource. For non-latency
// resources the standing latency ceiling is checked first: once wall time is
// over it, the attempt is denied outright and nothing is recorded. Otherwise
// the amount is added to the running total unconditionally, even past the
// ceiling, so overage stays observable. The return value says whether
// the post-consumption total is still within the ceiling. Resources without
// a ceiling always succeed. Negative amounts are ignored.
func (t *Tracker) TryConsume(resource string, amount float64) bool {
	if amount < 0 {
		return true
	}
	if resource != ResourceLatencyMS && t.latencyExceeded() {
		t.trace.Add("budget", "deny_"+resource, map[string]any{
			"reason":     "latency_exceeded",
			"elapsed_ms": t.ElapsedMS(),
		})
		return false
	}

	t.consumed[resource] += amount
	limit, ok := t.budget.limit(resource)
	if !ok || t.consumed[resource] <= limit {
		t.trace.Add("budget", "consume_"+resource, map[string]any{"amount": amount})
		return true
	}
	t.trace.Add("budget", "over_limit_"+resource, map[string]any{
		"amount": amount,
		"total":  t.consumed[resource],
		"limit":  limit,
	})
	return false
}

// ConsumeCost spends a batch's declared cost: docs against rerank_docs,
// calls against rerank_calls, tokens against tokens.
func (t *Tracker) ConsumeCost(c Cost) {
	if c.Docs > 0 {
		t.TryConsume(ResourceRerankDocs, float64(c.Docs))
	}
	if c.Calls > 0 {
		t.TryConsume(ResourceRerankCalls, float64(c.Calls))
	}
	if c.Tokens > 0 {
		t.TryConsume(ResourceTokens, float64(c.Tokens))
	}
}

// #endregion try-consume

// #region exhaustion

// IsExhausted is the loop's primary termination signal: true once tokens,
// rerank docs, or elapsed time meet or exceed their ceilings. Consumption is
// monotonic, so once true it stays true.
func (t *Tracker) IsExhausted() bool {
	for _, resource := range []string{ResourceTokens, ResourceRerankDocs} {
		if limit, ok := t.budget.limit(resource); ok && t.consumed[resource] >= limit {
			return true
		}
	}
	if limit, ok := t.budget.limit(ResourceLatencyMS); ok && t.ElapsedMS() >= limit {
		return true
	}
	return false
}

// #endregion exhaustion

// #region views

// RemainingView computes a read-only remaining-capacity snapshot for the
// scheduler. Mutating the returned value has no effect on the tracker.
func (t *Tracker) RemainingView() RemainingView {
	return RemainingView{
		Tokens:      t.remaining(ResourceTokens),
		RerankDocs:  t.remaining(ResourceRerankDocs),
		RerankCalls: t.remaining(ResourceRerankCalls),
	}
}

func (t *Tracker) remaining(resource string) float64 {
	limit, ok := t.budget.limit(resource)
	if !ok {
		return math.Inf(1)
	}
	return limit - t.consumed[resource]
}

// Consumed returns the running total for one resource.
func (t *Tracker) Consumed(resource string) float64 {
	return t.consumed[resource]
}

// Snapshot returns a copy of all consumption totals, including the elapsed
// latency, for the final output.
func (t *Tracker) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(t.consumed)+1)
	for k, v := range t.consumed {
		out[k] = v
	}
	out[ResourceLatencyMS] = t.ElapsedMS()
	return out
}

// #endregion views

// #region test-hooks

// SetClock replaces the time source. Test hook: lets latency ceilings be
// exercised without sleeping. Resets the start timestamp.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
	t.start = now()
}

// #endregion test-hooks
