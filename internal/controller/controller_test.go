package controller

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/estimator"
	"github.com/kestrel-ir/kestrel/internal/pool"
	"github.com/kestrel-ir/kestrel/internal/sched"
)

// #region fakes

type fakeRetriever struct {
	byQuery map[string][]pool.Document
	calls   []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, topK int) ([]pool.Document, error) {
	f.calls = append(f.calls, query)
	docs := f.byQuery[query]
	if topK > 0 && len(docs) > topK {
		docs = docs[:topK]
	}
	return docs, nil
}

type fakeReformulator struct {
	rewrites []string
	calls    int
}

func (f *fakeReformulator) Generate(_ context.Context, _ string, tracker *budget.Tracker) ([]string, error) {
	f.calls++
	out := make([]string, 0, len(f.rewrites))
	for _, q := range f.rewrites {
		if !tracker.TryConsume(budget.ResourceReformulations, 1) {
			break
		}
		out = append(out, q)
	}
	return out, nil
}

type fakeReranker struct {
	score func(items []*pool.Item, strategy string) (map[string]float64, error)
}

func (f *fakeReranker) Score(_ context.Context, items []*pool.Item, _ string, strategy string) (map[string]float64, error) {
	return f.score(items, strategy)
}

func scoreAll(v float64) *fakeReranker {
	return &fakeReranker{score: func(items []*pool.Item, _ string) (map[string]float64, error) {
		out := make(map[string]float64, len(items))
		for _, it := range items {
			out[it.ID] = v
		}
		return out, nil
	}}
}

// fakeAssembler returns every active item by final-score precedence without
// touching the budget, so controller tests see the pool's state directly.
type fakeAssembler struct{}

func (fakeAssembler) Assemble(items []*pool.Item, _ *budget.Tracker) []Result {
	sorted := append([]*pool.Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].FinalScore(), sorted[j].FinalScore()
		if si != sj {
			return si > sj
		}
		return sorted[i].ID < sorted[j].ID
	})
	out := make([]Result, len(sorted))
	for i, it := range sorted {
		out[i] = Result{ID: it.ID, Content: it.Content, Score: it.FinalScore()}
	}
	return out
}

// scriptedEstimator prioritizes by retrieval score and reformulates on demand.
type scriptedEstimator struct {
	needsRef bool
}

func (s *scriptedEstimator) Name() string { return "scripted" }

func (s *scriptedEstimator) Value(p *pool.CandidatePool, _ estimator.RunContext) map[string]estimator.Output {
	out := make(map[string]estimator.Output)
	for _, it := range p.Eligible() {
		best := 0.0
		for _, v := range it.Sources {
			if v > best {
				best = v
			}
		}
		out[it.ID] = estimator.Output{Priority: best}
	}
	return out
}

func (s *scriptedEstimator) NeedsReformulation(_ estimator.RunContext, _ *pool.CandidatePool) bool {
	return s.needsRef
}

// #endregion fakes

func docs3() []pool.Document {
	return []pool.Document{
		{ID: "d0", Content: "alpha content", Score: 0.9},
		{ID: "d1", Content: "beta content", Score: 0.8},
		{ID: "d2", Content: "gamma content", Score: 0.7},
	}
}

func limits(m map[string]float64) *budget.Budget {
	return &budget.Budget{Limits: m}
}

func newTestController(t *testing.T, ret Retriever, ref Reformulator, rer Reranker, est estimator.Estimator, b *budget.Budget) *Controller {
	t.Helper()
	s := sched.NewPriorityScheduler()
	s.BatchSize = 2
	c, err := New(ret, ref, rer, fakeAssembler{}, s, est, Options{Budget: b})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRunBatchesUntilBudgetExhausted(t *testing.T) {
	ret := &fakeRetriever{byQuery: map[string][]pool.Document{"q": docs3()}}
	c := newTestController(t, ret, &fakeReformulator{}, scoreAll(0.95), &scriptedEstimator{}, limits(map[string]float64{
		budget.ResourceRerankDocs: 3,
	}))

	out, err := c.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Batch size 2 against a 3-doc ceiling: [d0,d1] then [d2].
	var batches [][]string
	for _, ev := range out.Trace.Events {
		if ev.Action == "rerank_batch" {
			batches = append(batches, ev.Details["doc_ids"].([]string))
		}
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[0][0] != "d0" || batches[0][1] != "d1" || batches[1][0] != "d2" {
		t.Fatalf("wrong batch composition: %v", batches)
	}
	if out.Trace.Find("budget_exhausted") == nil {
		t.Fatal("expected budget_exhausted event")
	}
	if len(out.Documents) != 3 {
		t.Fatalf("expected all 3 documents active, got %d", len(out.Documents))
	}
}

func TestPartialRerankResponseDropsMissing(t *testing.T) {
	ret := &fakeRetriever{byQuery: map[string][]pool.Document{"q": docs3()[:2]}}
	partial := &fakeReranker{score: func(items []*pool.Item, _ string) (map[string]float64, error) {
		// Score only the first item of every batch.
		return map[string]float64{items[0].ID: 0.9}, nil
	}}
	c := newTestController(t, ret, &fakeReformulator{}, partial, &scriptedEstimator{}, limits(map[string]float64{
		budget.ResourceRerankDocs: 2,
	}))

	out, err := c.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// d0 reranked, d1 silently-dropped-but-traced; only d0 survives.
	if len(out.Documents) != 1 || out.Documents[0].ID != "d0" {
		t.Fatalf("expected only d0 to survive, got %v", out.Documents)
	}
}

func TestRerankErrorDropsBatchAndContinues(t *testing.T) {
	ret := &fakeRetriever{byQuery: map[string][]pool.Document{"q": docs3()}}
	failures := 0
	flaky := &fakeReranker{score: func(items []*pool.Item, _ string) (map[string]float64, error) {
		if failures == 0 {
			failures++
			return nil, errors.New("model unavailable")
		}
		out := make(map[string]float64, len(items))
		for _, it := range items {
			out[it.ID] = 0.9
		}
		return out, nil
	}}
	c := newTestController(t, ret, &fakeReformulator{}, flaky, &scriptedEstimator{}, limits(map[string]float64{
		budget.ResourceRerankDocs: 10,
	}))

	out, err := c.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("a reranker failure must not fail the query: %v", err)
	}
	if out.Trace.Count("rerank_error") != 1 {
		t.Fatalf("expected 1 rerank_error, got %d", out.Trace.Count("rerank_error"))
	}
	// First batch [d0,d1] dropped; d2 survives the retry-free continuation.
	if len(out.Documents) != 1 || out.Documents[0].ID != "d2" {
		t.Fatalf("expected only d2 to survive, got %v", out.Documents)
	}
	if out.Trace.Count("rerank_batch") != 1 {
		t.Fatalf("loop should have continued with one good batch, got %d", out.Trace.Count("rerank_batch"))
	}
}

func TestReformulationDedupAndLabels(t *testing.T) {
	ret := &fakeRetriever{byQuery: map[string][]pool.Document{
		"q":       docs3()[:1],
		"Rewrite": {{ID: "r0", Content: "rewrite doc", Score: 0.6}},
	}}
	// Duplicates fold together: "Rewrite", "rewrite  " and the original "q"
	// leave a single distinct rewrite.
	ref := &fakeReformulator{rewrites: []string{"Rewrite", "rewrite  ", "q"}}
	c := newTestController(t, ret, ref, scoreAll(0.9), &scriptedEstimator{needsRef: true}, limits(map[string]float64{
		budget.ResourceRerankDocs:     10,
		budget.ResourceReformulations: 5,
	}))

	out, err := c.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The retriever saw the original and exactly one rewrite.
	if len(ret.calls) != 2 || ret.calls[1] != "Rewrite" {
		t.Fatalf("expected dedup to one rewrite retrieval, got %v", ret.calls)
	}

	init := out.Trace.Find("pool_init")
	if init == nil {
		t.Fatal("expected pool_init event")
	}
	used := init.Details["reformulations"].([]string)
	if len(used) != 1 {
		t.Fatalf("expected 1 contributing rewrite, got %v", used)
	}

	r0 := findDoc(out.Documents, "r0")
	if r0 == nil {
		t.Fatal("rewrite-sourced doc missing from output")
	}
}

func TestNoReformulationSkipsGenerate(t *testing.T) {
	ret := &fakeRetriever{byQuery: map[string][]pool.Document{"q": docs3()}}
	ref := &fakeReformulator{rewrites: []string{"unused"}}
	c := newTestController(t, ret, ref, scoreAll(0.9), &scriptedEstimator{needsRef: false}, limits(map[string]float64{
		budget.ResourceRerankDocs: 10,
	}))

	if _, err := c.Run(context.Background(), "q"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ref.calls != 0 {
		t.Fatalf("reformulator called despite a no vote: %d", ref.calls)
	}
}

func TestReformulationBudgetBoundsSpend(t *testing.T) {
	ret := &fakeRetriever{byQuery: map[string][]pool.Document{
		"q":  docs3()[:1],
		"r1": {{ID: "ra", Content: "a", Score: 0.5}},
		"r2": {{ID: "rb", Content: "b", Score: 0.5}},
	}}
	ref := &fakeReformulator{rewrites: []string{"r1", "r2"}}
	c := newTestController(t, ret, ref, scoreAll(0.9), &scriptedEstimator{needsRef: true}, limits(map[string]float64{
		budget.ResourceRerankDocs:     10,
		budget.ResourceReformulations: 1,
	}))

	out, err := c.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Only r1 was paid for; r2 hit the ceiling inside the reformulator.
	if len(ret.calls) != 2 {
		t.Fatalf("expected original + one rewrite retrieval, got %v", ret.calls)
	}
	if out.Trace.Count("over_limit_reformulations") != 1 {
		t.Fatal("expected the second rewrite to be denied")
	}
	if findDoc(out.Documents, "rb") != nil {
		t.Fatal("unpaid rewrite leaked into the output")
	}
}

func TestRewriteCacheHitAcrossRuns(t *testing.T) {
	ret := &fakeRetriever{byQuery: map[string][]pool.Document{
		"q": docs3()[:1],
		"r": {{ID: "ra", Content: "a", Score: 0.5}},
	}}
	ref := &fakeReformulator{rewrites: []string{"r"}}
	c := newTestController(t, ret, ref, scoreAll(0.9), &scriptedEstimator{needsRef: true}, limits(map[string]float64{
		budget.ResourceRerankDocs:     10,
		budget.ResourceReformulations: 1,
	}))

	if _, err := c.Run(context.Background(), "q"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	out, err := c.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if ref.calls != 1 {
		t.Fatalf("second run should hit the cache, reformulator calls=%d", ref.calls)
	}
	if out.Trace.Count("rewrite_cache_hit") != 1 {
		t.Fatal("expected rewrite_cache_hit on the second run")
	}
}

func TestZeroRerankBudgetDegradesToRetrievalOrder(t *testing.T) {
	ret := &fakeRetriever{byQuery: map[string][]pool.Document{"q": docs3()}}
	c := newTestController(t, ret, &fakeReformulator{}, scoreAll(0.1), &scriptedEstimator{}, limits(map[string]float64{
		budget.ResourceRerankDocs: 0,
	}))

	out, err := c.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Trace.Count("rerank_batch") != 0 {
		t.Fatal("no reranking should happen on a zero budget")
	}
	want := []string{"d0", "d1", "d2"}
	for i, doc := range out.Documents {
		if doc.ID != want[i] {
			t.Fatalf("expected retrieval-score order %v, got %v at %d", want, doc.ID, i)
		}
	}
}

func TestRunTwiceIsDeterministic(t *testing.T) {
	run := func() *Output {
		ret := &fakeRetriever{byQuery: map[string][]pool.Document{
			"q": docs3(),
			"r": {{ID: "ra", Content: "a", Score: 0.5}},
		}}
		ref := &fakeReformulator{rewrites: []string{"r"}}
		c := newTestController(t, ret, ref, scoreAll(0.9), &scriptedEstimator{needsRef: true}, limits(map[string]float64{
			budget.ResourceRerankDocs:     4,
			budget.ResourceReformulations: 1,
		}))
		out, err := c.Run(context.Background(), "q")
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return out
	}

	a, b := run(), run()
	aa, ba := a.Trace.Actions(), b.Trace.Actions()
	if len(aa) != len(ba) {
		t.Fatalf("action counts differ: %d vs %d", len(aa), len(ba))
	}
	for i := range aa {
		if aa[i] != ba[i] {
			t.Fatalf("action %d differs: %s vs %s", i, aa[i], ba[i])
		}
	}
	if len(a.Documents) != len(b.Documents) {
		t.Fatalf("document counts differ: %d vs %d", len(a.Documents), len(b.Documents))
	}
	for i := range a.Documents {
		if a.Documents[i].ID != b.Documents[i].ID {
			t.Fatalf("document %d differs: %s vs %s", i, a.Documents[i].ID, b.Documents[i].ID)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	bad := Config{InitialTopK: 0, RewriteTopK: 5, PoolCap: 10, RewriteCacheSize: 8}
	ret := &fakeRetriever{byQuery: map[string][]pool.Document{}}
	_, err := New(ret, &fakeReformulator{}, scoreAll(0.5), fakeAssembler{},
		sched.NewPriorityScheduler(), &scriptedEstimator{}, Options{Config: &bad})
	if err == nil {
		t.Fatal("expected config rejection at construction")
	}
}

func TestRunWithBudgetRejectsMalformedOverride(t *testing.T) {
	ret := &fakeRetriever{byQuery: map[string][]pool.Document{}}
	c := newTestController(t, ret, &fakeReformulator{}, scoreAll(0.5), &scriptedEstimator{}, nil)

	_, err := c.RunWithBudget(context.Background(), "q", budget.Budget{Limits: map[string]float64{"tokens": -1}})
	if err == nil {
		t.Fatal("expected malformed budget rejection")
	}
}

func findDoc(docs []Result, id string) *Result {
	for i := range docs {
		if docs[i].ID == id {
			return &docs[i]
		}
	}
	return nil
}
