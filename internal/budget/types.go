package budget

import (
	"fmt"
	"math"
)

// #region resources

// Well-known resource names. The budget is open-ended: any other name works
// the same way, these are just the ones the controller and schedulers use.
const (
	ResourceTokens         = "tokens"
	ResourceRerankDocs     = "rerank_docs"
	ResourceRerankCalls    = "rerank_calls"
	ResourceRetrievalCalls = "retrieval_calls"
	ResourceReformulations = "reformulations"
	ResourceLatencyMS      = "latency_ms"
)

// #endregion resources

// #region budget

// Budget maps resource names to numeric ceilings. Resources without an entry
// are unlimited. A Budget is immutable for the duration of one query.
type Budget struct {
	Limits map[string]float64 `json:"limits"`
}

// Default returns the stock ceilings.
func Default() Budget {
	return Budget{Limits: map[string]float64{
		ResourceTokens:         4000,
		ResourceRerankDocs:     50,
		ResourceRetrievalCalls: 5,
		ResourceReformulations: 1,
		ResourceLatencyMS:      2000,
	}}
}

// Validate rejects malformed ceilings eagerly, before any query executes.
func (b Budget) Validate() error {
	for name, limit := range b.Limits {
		if name == "" {
			return fmt.Errorf("budget: empty resource name")
		}
		if math.IsNaN(limit) || math.IsInf(limit, 0) {
			return fmt.Errorf("budget: limit for %q is not finite", name)
		}
		if limit < 0 {
			return fmt.Errorf("budget: limit for %q is negative (%v)", name, limit)
		}
	}
	return nil
}

// limit returns the ceiling for a resource and whether one is configured.
func (b Budget) limit(resource string) (float64, bool) {
	v, ok := b.Limits[resource]
	return v, ok
}

// #endregion budget

// #region cost

// Cost is a scheduler's declared expected consumption for one batch.
type Cost struct {
	Tokens int `json:"tokens"`
	Docs   int `json:"docs"`
	Calls  int `json:"calls"`
}

// #endregion cost

// #region remaining-view

// RemainingView is a computed, read-only snapshot handed to schedulers and
// stop policies. Unlimited resources report +Inf.
type RemainingView struct {
	Tokens      float64
	RerankDocs  float64
	RerankCalls float64
}

// #endregion remaining-view
