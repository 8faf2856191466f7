package retrieval

import (
	"context"

	"github.com/kestrel-ir/kestrel/internal/budget"
)

// #region reformulators

// StaticReformulator returns a fixed set of rewrites, charging one
// reformulation per rewrite actually handed back. A rewrite that cannot be
// paid for is dropped, so a tight budget returns a prefix of the list.
type StaticReformulator struct {
	Rewrites []string
}

// Generate implements the controller's reformulator contract.
func (s *StaticReformulator) Generate(_ context.Context, _ string, tracker *budget.Tracker) ([]string, error) {
	out := make([]string, 0, len(s.Rewrites))
	for _, q := range s.Rewrites {
		if !tracker.TryConsume(budget.ResourceReformulations, 1) {
			break
		}
		out = append(out, q)
	}
	return out, nil
}

// IdentityReformulator hands the original query back as its only rewrite,
// still paying for it. Useful as a do-nothing default.
type IdentityReformulator struct{}

// Generate implements the controller's reformulator contract.
func (IdentityReformulator) Generate(_ context.Context, query string, tracker *budget.Tracker) ([]string, error) {
	if !tracker.TryConsume(budget.ResourceReformulations, 1) {
		return nil, nil
	}
	return []string{query}, nil
}

// #endregion reformulators
