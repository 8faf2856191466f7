package estimator

import "github.com/kestrel-ir/kestrel/internal/pool"

// #region vote-policy

// VotePolicy decides how sub-estimator reformulation answers combine.
type VotePolicy int

const (
	VoteAny VotePolicy = iota // reformulate if any part says yes
	VoteAll                   // reformulate only if every part says yes
)

// #endregion vote-policy

// #region composite

// Part is one weighted sub-estimator of a Composite.
type Part struct {
	Estimator Estimator
	Weight    float64
}

// Composite linearly combines sub-estimator priorities with per-part weights
// and merges their metadata (later parts win key conflicts).
type Composite struct {
	parts  []Part
	policy VotePolicy
}

// NewComposite builds a composite over the given parts.
func NewComposite(policy VotePolicy, parts ...Part) *Composite {
	return &Composite{parts: parts, policy: policy}
}

// Name implements Estimator.
func (c *Composite) Name() string { return "composite" }

// Value implements Estimator.
func (c *Composite) Value(p *pool.CandidatePool, rctx RunContext) map[string]Output {
	out := make(map[string]Output)
	for _, it := range p.Eligible() {
		out[it.ID] = Output{}
	}
	for _, part := range c.parts {
		for id, sub := range part.Estimator.Value(p, rctx) {
			agg, ok := out[id]
			if !ok {
				continue
			}
			agg.Priority += part.Weight * sub.Priority
			agg.PredictedQuality += part.Weight * sub.PredictedQuality
			agg.PredictedLatency += part.Weight * sub.PredictedLatency
			if len(sub.Metadata) > 0 {
				if agg.Metadata == nil {
					agg.Metadata = make(Meta, len(sub.Metadata))
				}
				for k, v := range sub.Metadata {
					agg.Metadata[k] = v
				}
			}
			out[id] = agg
		}
	}
	return out
}

// NeedsReformulation implements Estimator, applying the configured vote.
func (c *Composite) NeedsReformulation(rctx RunContext, p *pool.CandidatePool) bool {
	if len(c.parts) == 0 {
		return true
	}
	for _, part := range c.parts {
		yes := part.Estimator.NeedsReformulation(rctx, p)
		if c.policy == VoteAny && yes {
			return true
		}
		if c.policy == VoteAll && !yes {
			return false
		}
	}
	return c.policy == VoteAll
}

// #endregion composite
