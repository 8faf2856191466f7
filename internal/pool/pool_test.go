package pool

import (
	"testing"
)

func seedPool(t *testing.T, n int) *CandidatePool {
	t.Helper()
	p := New()
	docs := make([]Document, n)
	for i := range docs {
		docs[i] = Document{ID: id(i), Content: "doc", Score: 0.5}
	}
	p.AddItems(docs, SourceOriginal)
	return p
}

func id(i int) string {
	return string(rune('a'+i)) + "-doc"
}

func TestAddItemsMergesProvenance(t *testing.T) {
	p := New()
	p.AddItems([]Document{
		{ID: "d1", Content: "alpha", Score: 0.7},
		{ID: "d2", Content: "beta", Score: 0.6},
	}, SourceOriginal)
	p.AddItems([]Document{
		{ID: "d2", Content: "beta", Score: 0.9},
		{ID: "d3", Content: "gamma", Score: 0.4},
	}, RewriteSource(0))

	if p.Len() != 3 {
		t.Fatalf("expected 3 unique items, got %d", p.Len())
	}

	d2 := p.Items([]string{"d2"})[0]
	if d2.Appearances != 2 {
		t.Fatalf("expected 2 appearances, got %d", d2.Appearances)
	}
	if d2.Sources[SourceOriginal] != 0.6 || d2.Sources["rewrite_0"] != 0.9 {
		t.Fatalf("unexpected sources: %v", d2.Sources)
	}
	// d2 was rank 1 in the original list, rank 0 in the rewrite list.
	if d2.InitialRank != 0 {
		t.Fatalf("expected min rank 0, got %d", d2.InitialRank)
	}
}

func TestTransitionTable(t *testing.T) {
	legal := []struct {
		from, to State
	}{
		{StateCandidate, StateInFlight},
		{StateCandidate, StateDropped},
		{StateInFlight, StateReranked},
		{StateInFlight, StateDropped},
		{StateReranked, StateDropped},
	}
	for _, tc := range legal {
		p := New()
		p.AddItems([]Document{{ID: "d1", Content: "x", Score: 0.5}}, SourceOriginal)
		p.items["d1"].State = tc.from
		if err := p.Transition([]string{"d1"}, tc.to); err != nil {
			t.Fatalf("%s -> %s should be legal: %v", tc.from, tc.to, err)
		}
	}

	illegal := []struct {
		from, to State
	}{
		{StateCandidate, StateReranked},
		{StateReranked, StateCandidate},
		{StateReranked, StateInFlight},
		{StateDropped, StateCandidate},
		{StateDropped, StateInFlight},
		{StateDropped, StateReranked},
		{StateInFlight, StateCandidate},
	}
	for _, tc := range illegal {
		p := New()
		p.AddItems([]Document{{ID: "d1", Content: "x", Score: 0.5}}, SourceOriginal)
		p.items["d1"].State = tc.from
		err := p.Transition([]string{"d1"}, tc.to)
		if err == nil {
			t.Fatalf("%s -> %s should be illegal", tc.from, tc.to)
		}
		if _, ok := err.(*IllegalTransitionError); !ok {
			t.Fatalf("expected IllegalTransitionError, got %T", err)
		}
	}
}

func TestTransitionIsAtomic(t *testing.T) {
	p := seedPool(t, 3)
	if err := p.Transition([]string{id(0)}, StateDropped); err != nil {
		t.Fatalf("drop: %v", err)
	}

	// One dropped id in the batch must fail the whole batch without mutating.
	err := p.Transition([]string{id(1), id(0), id(2)}, StateInFlight)
	if err == nil {
		t.Fatal("expected illegal transition error")
	}
	for _, i := range []int{1, 2} {
		if got := p.items[id(i)].State; got != StateCandidate {
			t.Fatalf("item %s mutated to %s on failed batch", id(i), got)
		}
	}
}

func TestTransitionSkipsUnknownIDs(t *testing.T) {
	p := seedPool(t, 1)
	if err := p.Transition([]string{"ghost", id(0)}, StateInFlight); err != nil {
		t.Fatalf("unknown ids should be skipped: %v", err)
	}
	if p.items[id(0)].State != StateInFlight {
		t.Fatal("known id not transitioned")
	}
}

func TestUpdateScoresPartialResponseDrops(t *testing.T) {
	p := seedPool(t, 2)
	batch := []string{id(0), id(1)}
	if err := p.Transition(batch, StateInFlight); err != nil {
		t.Fatalf("transition: %v", err)
	}

	err := p.UpdateScores(map[string]float64{id(0): 0.9}, "cross_encoder", batch)
	if err != nil {
		t.Fatalf("UpdateScores: %v", err)
	}

	scored := p.items[id(0)]
	if scored.State != StateReranked || scored.RerankerScore == nil || *scored.RerankerScore != 0.9 {
		t.Fatalf("scored item wrong: state=%s score=%v", scored.State, scored.RerankerScore)
	}
	if scored.RerankerStrategy != "cross_encoder" {
		t.Fatalf("strategy not recorded: %q", scored.RerankerStrategy)
	}
	if got := p.items[id(1)].State; got != StateDropped {
		t.Fatalf("unscored in-flight item should be dropped, got %s", got)
	}
}

func TestUpdateScoresRejectsNonInFlight(t *testing.T) {
	p := seedPool(t, 1)
	err := p.UpdateScores(map[string]float64{id(0): 0.5}, "llm", nil)
	if err == nil {
		t.Fatal("expected error scoring a candidate item")
	}
}

func TestNoItemIsEverLost(t *testing.T) {
	p := seedPool(t, 5)
	if err := p.Transition([]string{id(0), id(1)}, StateInFlight); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := p.UpdateScores(map[string]float64{id(0): 0.9}, "llm", []string{id(0), id(1)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := p.Transition([]string{id(2)}, StateDropped); err != nil {
		t.Fatalf("drop: %v", err)
	}

	m := p.ComputeMetrics()
	if sum := m.Candidates + m.InFlight + m.Reranked + m.Dropped; sum != 5 || m.Total != 5 {
		t.Fatalf("items lost: total=%d sum=%d", m.Total, sum)
	}
	if p.Len() != 5 {
		t.Fatalf("Len changed by transitions: %d", p.Len())
	}
}

func TestFinalScorePrecedence(t *testing.T) {
	score := 0.2
	it := &Item{
		Sources:       map[string]float64{SourceOriginal: 0.9},
		Priority:      0.6,
		RerankerScore: &score,
	}
	// A low reranker score still outranks a higher priority or retrieval score.
	if got := it.FinalScore(); got != 0.2 {
		t.Fatalf("expected reranker score 0.2, got %v", got)
	}

	it.RerankerScore = nil
	if got := it.FinalScore(); got != 0.6 {
		t.Fatalf("expected priority 0.6, got %v", got)
	}

	it.Priority = 0
	if got := it.FinalScore(); got != 0.9 {
		t.Fatalf("expected best source 0.9, got %v", got)
	}

	it.Sources = nil
	if got := it.FinalScore(); got != 0 {
		t.Fatalf("expected 0 for empty item, got %v", got)
	}
}

func TestEnforceCapDeterministic(t *testing.T) {
	build := func() *CandidatePool {
		p := New()
		p.AddItems([]Document{
			{ID: "d1", Content: "x", Score: 0.5},
			{ID: "d2", Content: "x", Score: 0.9},
			{ID: "d3", Content: "x", Score: 0.5},
			{ID: "d4", Content: "x", Score: 0.1},
		}, SourceOriginal)
		return p
	}

	p1, p2 := build(), build()
	p1.EnforceCap(2)
	p2.EnforceCap(2)

	want := []string{"d1", "d2"} // 0.9 first, then the 0.5 tie broken by id
	for _, p := range []*CandidatePool{p1, p2} {
		all := p.All()
		if len(all) != 2 {
			t.Fatalf("expected 2 survivors, got %d", len(all))
		}
		for i, it := range all {
			if it.ID != want[i] {
				t.Fatalf("expected survivors %v, got %s at %d", want, it.ID, i)
			}
		}
	}
}

func TestViews(t *testing.T) {
	p := seedPool(t, 4)
	if err := p.Transition([]string{id(0)}, StateInFlight); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := p.UpdateScores(map[string]float64{id(0): 0.7}, "llm", []string{id(0)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := p.Transition([]string{id(1)}, StateDropped); err != nil {
		t.Fatalf("drop: %v", err)
	}

	if got := len(p.Eligible()); got != 2 {
		t.Fatalf("expected 2 eligible, got %d", got)
	}
	if got := len(p.Active()); got != 3 {
		t.Fatalf("expected 3 active (candidates + reranked), got %d", got)
	}
	if got := len(p.Reranked()); got != 1 {
		t.Fatalf("expected 1 reranked, got %d", got)
	}
}

func TestComputeMetricsComposition(t *testing.T) {
	p := New()
	p.AddItems([]Document{
		{ID: "d1", Content: "x", Score: 0.5},
		{ID: "d2", Content: "x", Score: 0.5},
	}, SourceOriginal)
	p.AddItems([]Document{
		{ID: "d2", Content: "x", Score: 0.6},
		{ID: "d3", Content: "x", Score: 0.6},
	}, RewriteSource(0))

	m := p.ComputeMetrics()
	if m.OriginalOnly != 1 || m.Overlap != 1 || m.RewriteOnly != 1 {
		t.Fatalf("composition wrong: %+v", m)
	}
	if want := 1.0 / 3.0; m.RewriteYield != want {
		t.Fatalf("expected yield %v, got %v", want, m.RewriteYield)
	}
}
