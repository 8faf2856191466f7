package replay

import (
	"context"
	"fmt"

	"github.com/kestrel-ir/kestrel/internal/assemble"
	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/controller"
	"github.com/kestrel-ir/kestrel/internal/estimator"
	"github.com/kestrel-ir/kestrel/internal/feedback"
	"github.com/kestrel-ir/kestrel/internal/numeric"
	"github.com/kestrel-ir/kestrel/internal/retrieval"
	"github.com/kestrel-ir/kestrel/internal/sched"
)

// #region result

// Result captures the outcome of replaying one fixture.
type Result struct {
	Output        *controller.Output
	Deterministic bool     // second run reproduced actions and document order
	Mismatches    []string // expectation failures, empty on success
}

// Passed reports whether the replay met every expectation and was
// deterministic.
func (r *Result) Passed() bool {
	return r.Deterministic && len(r.Mismatches) == 0
}

// #endregion result

// #region build

// Build wires a controller from the fixture's corpus and config.
func Build(f *Fixture) (*controller.Controller, budget.Budget, error) {
	b := budget.Default()
	if len(f.Budget) > 0 {
		b = budget.Budget{Limits: f.Budget}
	}

	est, err := buildEstimator(f.Config.Estimator)
	if err != nil {
		return nil, budget.Budget{}, err
	}
	scheduler, err := buildScheduler(f.Config)
	if err != nil {
		return nil, budget.Budget{}, err
	}
	policy, err := buildFeedback(f.Config)
	if err != nil {
		return nil, budget.Budget{}, err
	}

	cfg := controller.DefaultConfig()
	if f.Config.InitialTopK > 0 {
		cfg.InitialTopK = f.Config.InitialTopK
	}
	if f.Config.RewriteTopK > 0 {
		cfg.RewriteTopK = f.Config.RewriteTopK
	}
	if f.Config.PoolCap > 0 {
		cfg.PoolCap = f.Config.PoolCap
	}

	ctrl, err := controller.New(
		retrieval.NewMemoryRetriever(f.Documents(), retrieval.DefaultConfig()),
		&retrieval.StaticReformulator{Rewrites: f.Rewrites},
		retrieval.NewKeywordReranker(),
		assemble.NewGreedy(),
		scheduler,
		est,
		controller.Options{Feedback: policy, Budget: &b, Config: &cfg},
	)
	if err != nil {
		return nil, budget.Budget{}, fmt.Errorf("build controller: %w", err)
	}
	return ctrl, b, nil
}

func buildEstimator(kind string) (estimator.Estimator, error) {
	switch kind {
	case "", "baseline":
		return estimator.NewBaseline(), nil
	case "overlap":
		return estimator.NewOverlap(), nil
	case "regression":
		return estimator.NewRegression(3, numeric.NewProjectedGradient()), nil
	default:
		return nil, fmt.Errorf("unknown estimator %q", kind)
	}
}

func buildScheduler(cfg FixtureConfig) (sched.Scheduler, error) {
	switch cfg.Scheduler {
	case "", "priority":
		s := sched.NewPriorityScheduler()
		if cfg.BatchSize > 0 {
			s.BatchSize = cfg.BatchSize
		}
		if cfg.AmbiguityThreshold > 0 {
			s.AmbiguityThreshold = cfg.AmbiguityThreshold
		}
		return s, nil
	case "staged":
		return sched.NewStagedScheduler(), nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", cfg.Scheduler)
	}
}

func buildFeedback(cfg FixtureConfig) (feedback.Policy, error) {
	switch cfg.Feedback {
	case "":
		return nil, nil
	case "budget_floor":
		return feedback.NewBudgetFloor(), nil
	case "convergence":
		return feedback.NewConvergence(cfg.ConvergenceEps), nil
	default:
		return nil, fmt.Errorf("unknown feedback policy %q", cfg.Feedback)
	}
}

// #endregion build

// #region run

// Run replays the fixture twice: once to check expectations, once to check
// determinism. Each run uses a freshly built controller so no learned state
// leaks between them.
func Run(ctx context.Context, f *Fixture) (*Result, error) {
	first, err := runOnce(ctx, f)
	if err != nil {
		return nil, err
	}
	second, err := runOnce(ctx, f)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Output:        first,
		Deterministic: sameActions(first, second) && sameDocuments(first, second),
	}
	res.Mismatches = checkExpectations(f, first)
	return res, nil
}

func runOnce(ctx context.Context, f *Fixture) (*controller.Output, error) {
	ctrl, _, err := Build(f)
	if err != nil {
		return nil, err
	}
	out, err := ctrl.Run(ctx, f.Query)
	if err != nil {
		return nil, fmt.Errorf("replay run: %w", err)
	}
	return out, nil
}

func sameActions(a, b *controller.Output) bool {
	x, y := a.Trace.Actions(), b.Trace.Actions()
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func sameDocuments(a, b *controller.Output) bool {
	if len(a.Documents) != len(b.Documents) {
		return false
	}
	for i := range a.Documents {
		if a.Documents[i].ID != b.Documents[i].ID {
			return false
		}
	}
	return true
}

func checkExpectations(f *Fixture, out *controller.Output) []string {
	var mismatches []string

	if len(f.Expected.Actions) > 0 {
		got := out.Trace.Actions()
		if len(got) != len(f.Expected.Actions) {
			mismatches = append(mismatches,
				fmt.Sprintf("actions: expected %d events, got %d", len(f.Expected.Actions), len(got)))
		} else {
			for i := range got {
				if got[i] != f.Expected.Actions[i] {
					mismatches = append(mismatches,
						fmt.Sprintf("actions[%d]: expected %q, got %q", i, f.Expected.Actions[i], got[i]))
				}
			}
		}
	}

	for i, want := range f.Expected.TopIDs {
		if i >= len(out.Documents) {
			mismatches = append(mismatches,
				fmt.Sprintf("top_ids[%d]: expected %q, output has only %d documents", i, want, len(out.Documents)))
			continue
		}
		if got := out.Documents[i].ID; got != want {
			mismatches = append(mismatches,
				fmt.Sprintf("top_ids[%d]: expected %q, got %q", i, want, got))
		}
	}

	return mismatches
}

// #endregion run
