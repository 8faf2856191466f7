package pool

import (
	"sort"
	"strings"
)

// #region pool-struct

// CandidatePool holds one record per unique item id and owns every state
// mutation. A pool is created empty per query and discarded afterwards.
type CandidatePool struct {
	items map[string]*Item
	order []string // insertion order, for deterministic iteration
}

// New creates an empty pool.
func New() *CandidatePool {
	return &CandidatePool{items: make(map[string]*Item)}
}

// #endregion pool-struct

// #region add-items

// AddItems merges retrieved documents under the given provenance label.
// Existing ids gain a source entry, keep the minimum rank seen across all
// sources, and count one more appearance. New ids enter as CANDIDATE.
func (p *CandidatePool) AddItems(docs []Document, source string) {
	for rank, doc := range docs {
		if it, ok := p.items[doc.ID]; ok {
			it.Sources[source] = doc.Score
			if rank < it.InitialRank {
				it.InitialRank = rank
			}
			it.Appearances++
			continue
		}
		meta := doc.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		p.items[doc.ID] = &Item{
			ID:          doc.ID,
			Content:     doc.Content,
			Metadata:    meta,
			State:       StateCandidate,
			Sources:     map[string]float64{source: doc.Score},
			InitialRank: rank,
			Appearances: 1,
		}
		p.order = append(p.order, doc.ID)
	}
}

// #endregion add-items

// #region transition

// Transition moves the given ids to target after validating every one of
// them against the transition table. Unknown ids are skipped. On an illegal
// transition nothing is mutated and a typed error is returned.
func (p *CandidatePool) Transition(ids []string, target State) error {
	for _, id := range ids {
		it, ok := p.items[id]
		if !ok {
			continue
		}
		if !allowedTransitions[it.State][target] {
			return &IllegalTransitionError{ID: id, From: it.State, To: target}
		}
	}
	for _, id := range ids {
		if it, ok := p.items[id]; ok {
			it.State = target
		}
	}
	return nil
}

// #endregion transition

// #region update-scores

// UpdateScores applies refinement scores. Every scored id must currently be
// IN_FLIGHT; it becomes RERANKED with the score and strategy recorded. Ids
// listed in expected but absent from scores (a partial response) are moved to
// DROPPED so nothing is silently lost or retried.
func (p *CandidatePool) UpdateScores(scores map[string]float64, strategy string, expected []string) error {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		it, ok := p.items[id]
		if !ok {
			continue
		}
		if it.State != StateInFlight {
			return &IllegalTransitionError{ID: id, From: it.State, To: StateReranked}
		}
	}
	for _, id := range ids {
		it, ok := p.items[id]
		if !ok {
			continue
		}
		score := scores[id]
		it.RerankerScore = &score
		it.RerankerStrategy = strategy
		it.State = StateReranked
	}
	for _, id := range expected {
		if it, ok := p.items[id]; ok && it.State == StateInFlight {
			it.State = StateDropped
		}
	}
	return nil
}

// #endregion update-scores

// #region priorities

// ApplyPriorities sets priority values for CANDIDATE items only.
func (p *CandidatePool) ApplyPriorities(priorities map[string]float64) {
	for id, v := range priorities {
		if it, ok := p.items[id]; ok && it.State == StateCandidate {
			it.Priority = v
		}
	}
}

// #endregion priorities

// #region views

// Eligible returns CANDIDATE items in insertion order. These are the only
// items estimators and schedulers may touch.
func (p *CandidatePool) Eligible() []*Item {
	return p.inStates(StateCandidate)
}

// Active returns CANDIDATE and RERANKED items in insertion order, the set
// final assembly may see. IN_FLIGHT and DROPPED stay invisible.
func (p *CandidatePool) Active() []*Item {
	return p.inStates(StateCandidate, StateReranked)
}

// Reranked returns RERANKED items in insertion order.
func (p *CandidatePool) Reranked() []*Item {
	return p.inStates(StateReranked)
}

// Items returns items by id, preserving the requested order. Unknown ids are
// omitted.
func (p *CandidatePool) Items(ids []string) []*Item {
	out := make([]*Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := p.items[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

// All returns every item in insertion order, regardless of state.
func (p *CandidatePool) All() []*Item {
	out := make([]*Item, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.items[id])
	}
	return out
}

// Len returns the number of unique items. Transitions never change it; only
// AddItems and EnforceCap do.
func (p *CandidatePool) Len() int {
	return len(p.items)
}

func (p *CandidatePool) inStates(states ...State) []*Item {
	want := make(map[State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}
	var out []*Item
	for _, id := range p.order {
		if it := p.items[id]; want[it.State] {
			out = append(out, it)
		}
	}
	return out
}

// #endregion views

// #region enforce-cap

// EnforceCap prunes the pool down to maxSize items, keeping the top ranked by
// (final score desc, id asc). Pure function of current state, so identical
// pools prune identically.
func (p *CandidatePool) EnforceCap(maxSize int) {
	if maxSize <= 0 || len(p.items) <= maxSize {
		return
	}
	ranked := p.All()
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].FinalScore(), ranked[j].FinalScore()
		if si != sj {
			return si > sj
		}
		return strings.Compare(ranked[i].ID, ranked[j].ID) < 0
	})
	keep := make(map[string]bool, maxSize)
	for _, it := range ranked[:maxSize] {
		keep[it.ID] = true
	}
	items := make(map[string]*Item, maxSize)
	var order []string
	for _, id := range p.order {
		if keep[id] {
			items[id] = p.items[id]
			order = append(order, id)
		}
	}
	p.items = items
	p.order = order
}

// #endregion enforce-cap

// #region metrics

// ComputeMetrics summarizes state counts and the original/rewrite composition.
func (p *CandidatePool) ComputeMetrics() Metrics {
	m := Metrics{Total: len(p.items)}
	for _, id := range p.order {
		it := p.items[id]
		switch it.State {
		case StateCandidate:
			m.Candidates++
		case StateInFlight:
			m.InFlight++
		case StateReranked:
			m.Reranked++
		case StateDropped:
			m.Dropped++
		}
		_, fromOriginal := it.Sources[SourceOriginal]
		fromRewrite := false
		for label := range it.Sources {
			if label != SourceOriginal {
				fromRewrite = true
				break
			}
		}
		switch {
		case fromOriginal && fromRewrite:
			m.Overlap++
		case fromOriginal:
			m.OriginalOnly++
		case fromRewrite:
			m.RewriteOnly++
		}
	}
	if m.Total > 0 {
		m.RewriteYield = float64(m.RewriteOnly) / float64(m.Total)
	}
	return m
}

// #endregion metrics
