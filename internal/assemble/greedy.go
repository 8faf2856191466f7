// Package assemble turns active pool items into the final ranked output.
package assemble

import (
	"sort"
	"strings"

	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/controller"
	"github.com/kestrel-ir/kestrel/internal/pool"
	"github.com/kestrel-ir/kestrel/internal/token"
)

// #region greedy

// Greedy sorts active items by final-score precedence (ties by initial rank,
// then id) and keeps each item whose token count still fits the token
// budget. Items that do not fit are skipped, not retried, so smaller items
// further down may still make it in.
type Greedy struct{}

// NewGreedy returns the default assembler.
func NewGreedy() *Greedy { return &Greedy{} }

// Assemble implements controller.Assembler.
func (g *Greedy) Assemble(items []*pool.Item, tracker *budget.Tracker) []controller.Result {
	sorted := append([]*pool.Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		sa, sb := a.FinalScore(), b.FinalScore()
		if sa != sb {
			return sa > sb
		}
		if a.InitialRank != b.InitialRank {
			return a.InitialRank < b.InitialRank
		}
		return strings.Compare(a.ID, b.ID) < 0
	})

	results := make([]controller.Result, 0, len(sorted))
	for _, it := range sorted {
		count := token.Count(it.Content)
		// Fit check against the remaining view first: an item that does not
		// fit is skipped without charging the budget for it.
		if float64(count) > tracker.RemainingView().Tokens {
			continue
		}
		tracker.TryConsume(budget.ResourceTokens, float64(count))
		results = append(results, controller.Result{
			ID:         it.ID,
			Content:    it.Content,
			Score:      it.FinalScore(),
			TokenCount: count,
			Metadata:   it.Metadata,
		})
	}
	return results
}

// #endregion greedy
