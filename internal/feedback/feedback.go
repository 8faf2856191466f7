// Package feedback holds the stop policies consulted once per refinement
// iteration.
package feedback

import (
	"fmt"
	"math"

	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/estimator"
	"github.com/kestrel-ir/kestrel/internal/pool"
)

// #region interface

// Policy decides whether the refinement loop should terminate early.
type Policy interface {
	Name() string
	ShouldStop(m pool.Metrics, view budget.RemainingView, meta estimator.Meta) (bool, string)
}

// #endregion interface

// #region budget-floor

// BudgetFloor stops once the remaining token budget drops under a fixed floor.
type BudgetFloor struct {
	TokenFloor float64
}

// NewBudgetFloor returns the stock 100-token floor.
func NewBudgetFloor() *BudgetFloor {
	return &BudgetFloor{TokenFloor: 100}
}

// Name implements Policy.
func (b *BudgetFloor) Name() string { return "budget_floor" }

// ShouldStop implements Policy.
func (b *BudgetFloor) ShouldStop(_ pool.Metrics, view budget.RemainingView, _ estimator.Meta) (bool, string) {
	if view.Tokens < b.TokenFloor {
		return true, fmt.Sprintf("remaining tokens %.0f under floor %.0f", view.Tokens, b.TokenFloor)
	}
	return false, ""
}

// #endregion budget-floor

// #region convergence

// Convergence watches the learned source-weight vector carried in estimator
// metadata and stops once it settles: the maximum absolute per-key delta
// between consecutive iterations falls under Threshold. The very first
// observation never stops (no prior to compare); the stored previous vector
// is updated on every call regardless of outcome.
type Convergence struct {
	Threshold float64
	prev      map[string]float64
	primed    bool
}

// NewConvergence returns a convergence policy with the given threshold
// (0.01 if non-positive).
func NewConvergence(threshold float64) *Convergence {
	if threshold <= 0 {
		threshold = 0.01
	}
	return &Convergence{Threshold: threshold}
}

// Name implements Policy.
func (c *Convergence) Name() string { return "weight_convergence" }

// ShouldStop implements Policy.
func (c *Convergence) ShouldStop(_ pool.Metrics, _ budget.RemainingView, meta estimator.Meta) (bool, string) {
	mv, ok := meta[estimator.MetaSourceWeights]
	if !ok || mv.Kind != estimator.MetaVector {
		return false, ""
	}
	current := mv.Vec

	if !c.primed {
		c.prev = current
		c.primed = true
		return false, ""
	}

	delta := 0.0
	for key := range keyUnion(current, c.prev) {
		if d := math.Abs(current[key] - c.prev[key]); d > delta {
			delta = d
		}
	}
	c.prev = current

	if delta < c.Threshold {
		return true, fmt.Sprintf("source weights converged (max_delta=%.4f)", delta)
	}
	return false, ""
}

func keyUnion(a, b map[string]float64) map[string]bool {
	keys := make(map[string]bool, len(a)+len(b))
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	return keys
}

// #endregion convergence
