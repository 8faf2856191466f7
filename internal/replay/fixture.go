// Package replay runs recorded query fixtures through a freshly built
// controller and checks the trace and output against expectations. Fixtures
// double as determinism probes: the same fixture run twice must produce the
// same action sequence and document order.
package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kestrel-ir/kestrel/internal/pool"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string             `json:"description"`
	Query       string             `json:"query"`
	Budget      map[string]float64 `json:"budget"`
	Corpus      []FixtureDocument  `json:"corpus"`
	Rewrites    []string           `json:"rewrites"`
	Config      FixtureConfig      `json:"config"`
	Expected    FixtureExpected    `json:"expected"`
}

// FixtureDocument is one corpus entry.
type FixtureDocument struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FixtureConfig selects and tunes the controller's collaborators.
type FixtureConfig struct {
	Estimator          string  `json:"estimator"`           // "baseline" | "overlap" | "regression"
	Scheduler          string  `json:"scheduler"`           // "priority" | "staged"
	Feedback           string  `json:"feedback"`            // "" | "budget_floor" | "convergence"
	BatchSize          int     `json:"batch_size"`          // priority scheduler batch size
	AmbiguityThreshold float64 `json:"ambiguity_threshold"` // priority scheduler escalation gap
	ConvergenceEps     float64 `json:"convergence_eps"`     // convergence policy threshold
	InitialTopK        int     `json:"initial_top_k"`
	RewriteTopK        int     `json:"rewrite_top_k"`
	PoolCap            int     `json:"pool_cap"`
}

// FixtureExpected captures what a replay must reproduce. Empty fields are
// not checked.
type FixtureExpected struct {
	Actions []string `json:"actions,omitempty"` // full trace action sequence
	TopIDs  []string `json:"top_ids,omitempty"` // leading output document ids
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if f.Query == "" {
		return nil, fmt.Errorf("fixture %s: query is required", path)
	}
	if len(f.Corpus) == 0 {
		return nil, fmt.Errorf("fixture %s: corpus is empty", path)
	}
	return &f, nil
}

// Documents converts the fixture corpus to pool documents.
func (f *Fixture) Documents() []pool.Document {
	docs := make([]pool.Document, len(f.Corpus))
	for i, d := range f.Corpus {
		docs[i] = pool.Document{ID: d.ID, Content: d.Content, Metadata: d.Metadata}
	}
	return docs
}

// #endregion fixture-loader
