package pool

import "fmt"

// #region state

// State is the lifecycle stage of a pool item.
type State string

const (
	StateCandidate State = "candidate" // eligible for prioritization and scheduling
	StateInFlight  State = "in_flight" // currently moving through a reranker
	StateReranked  State = "reranked"  // refinement score available
	StateDropped   State = "dropped"   // excluded from final results, terminal
)

// allowedTransitions is the strict transition table. Anything absent is illegal.
var allowedTransitions = map[State]map[State]bool{
	StateCandidate: {StateInFlight: true, StateDropped: true},
	StateInFlight:  {StateReranked: true, StateDropped: true},
	StateReranked:  {StateDropped: true},
	StateDropped:   {},
}

// #endregion state

// #region source-labels

// SourceOriginal is the provenance label for the raw query's retrieval.
const SourceOriginal = "original"

// RewriteSource returns the provenance label for the i-th rewritten query.
func RewriteSource(i int) string {
	return fmt.Sprintf("rewrite_%d", i)
}

// #endregion source-labels

// #region document

// Document is a retriever's output unit, before it is merged into the pool.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// #endregion document

// #region item

// Item is one pool record per unique document id. All mutation of State,
// Sources and RerankerScore goes through the pool.
type Item struct {
	ID       string
	Content  string
	Metadata map[string]string

	State State

	// Provenance: source label → retrieval score contributed by that label.
	Sources     map[string]float64
	InitialRank int // best (minimum) rank observed across all sources
	Appearances int

	Priority         float64  // last estimator-assigned priority
	RerankerScore    *float64 // set once refined
	RerankerStrategy string
}

// FinalScore applies the precedence reranker > priority > retrieval baseline.
func (it *Item) FinalScore() float64 {
	if it.RerankerScore != nil {
		return *it.RerankerScore
	}
	if it.Priority > 0 {
		return it.Priority
	}
	best := 0.0
	first := true
	for _, s := range it.Sources {
		if first || s > best {
			best = s
			first = false
		}
	}
	if first {
		return 0
	}
	return best
}

// #endregion item

// #region metrics

// Metrics summarizes pool composition for the trace and for stop policies.
type Metrics struct {
	Total        int     `json:"total"`
	Candidates   int     `json:"candidates"`
	InFlight     int     `json:"in_flight"`
	Reranked     int     `json:"reranked"`
	Dropped      int     `json:"dropped"`
	OriginalOnly int     `json:"original_only_count"`
	RewriteOnly  int     `json:"rewrite_only_count"`
	Overlap      int     `json:"overlap_count"`
	RewriteYield float64 `json:"rewrite_utility_ratio"` // rewrite-only items / total
}

// #endregion metrics

// #region errors

// IllegalTransitionError signals a scheduler/controller contract violation.
// It is always surfaced, never swallowed.
type IllegalTransitionError struct {
	ID   string
	From State
	To   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition for %s: %s -> %s", e.ID, e.From, e.To)
}

// #endregion errors
