// Package routing selects the model for a request from the configured
// candidates. Selection is pure with respect to its inputs; the circuit
// breaker is consulted through a narrow interface and no network calls are
// made.
package routing

import (
	"fmt"
	"math"
	"sort"

	gateway "github.com/fitstack/llmgate/internal"
)

// Admitter reports whether a model may currently receive traffic. The check
// must be read-only: selection may pass a model over, so it must not reserve
// anything on the breaker. *circuitbreaker.Registry satisfies it.
type Admitter interface {
	CanRoute(modelID string) bool
}

// CredentialCheck reports whether a model's credentials currently resolve.
// A nil check admits every model.
type CredentialCheck func(cfg gateway.ModelConfig) bool

// Context is the request-derived input to selection.
type Context struct {
	TaskType string
	Tier     gateway.Tier
	Priority string
}

// Result is a selection outcome: the chosen model plus the candidates passed
// over, with reasons, for the decision receipt.
type Result struct {
	Model       gateway.ModelConfig
	Rejected    []gateway.RejectedCandidate
	Explanation string
}

// Rejection reasons recorded against passed-over candidates.
const (
	ReasonInactive           = "INACTIVE"
	ReasonCircuitOpen        = "CIRCUIT_OPEN"
	ReasonSecretUnresolvable = "SECRET_UNRESOLVABLE"
)

// Select picks a model for the request context.
//
// Inactive candidates, candidates the circuit breaker rejects, and
// candidates whose credentials do not resolve are filtered first. Matching rules then apply in declaration order: a pinning
// rule restricts the set to its model list, a plain rule reorders the set to
// favor its list; later rules override earlier ones. Among the survivors a
// HIGH or CRITICAL priority model is preferred when the request carries a
// priority, then rank order from rules, then ascending cost per token, then
// declared priority descending, then lexical model id.
func Select(rc Context, candidates []gateway.ModelConfig, rules []gateway.RoutingRule, circuit Admitter, creds CredentialCheck) (Result, error) {
	var res Result

	admitted := make([]gateway.ModelConfig, 0, len(candidates))
	for _, c := range candidates {
		switch {
		case !c.Active:
			res.Rejected = append(res.Rejected, gateway.RejectedCandidate{ModelID: c.ModelID, Reason: ReasonInactive})
		case circuit != nil && !circuit.CanRoute(c.ModelID):
			res.Rejected = append(res.Rejected, gateway.RejectedCandidate{ModelID: c.ModelID, Reason: ReasonCircuitOpen})
		case creds != nil && !creds(c):
			res.Rejected = append(res.Rejected, gateway.RejectedCandidate{ModelID: c.ModelID, Reason: ReasonSecretUnresolvable})
		default:
			admitted = append(admitted, c)
		}
	}

	admitted, ranks := applyRules(rc, admitted, rules)
	if len(admitted) == 0 {
		return res, gateway.NewError(gateway.KindNoModel, "no admissible model for request")
	}

	preferHigh := rc.Priority != "" && hasHighPriority(admitted)
	sort.SliceStable(admitted, func(i, j int) bool {
		a, b := admitted[i], admitted[j]
		if preferHigh {
			ah, bh := a.Priority >= gateway.PriorityHigh, b.Priority >= gateway.PriorityHigh
			if ah != bh {
				return ah
			}
		}
		if ranks[a.ModelID] != ranks[b.ModelID] {
			return ranks[a.ModelID] < ranks[b.ModelID]
		}
		if !a.CostPerTok.Equal(b.CostPerTok) {
			return a.CostPerTok.LessThan(b.CostPerTok)
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ModelID < b.ModelID
	})

	res.Model = admitted[0]
	res.Explanation = fmt.Sprintf("selected %s from %d admissible candidate(s) for task=%q tier=%s",
		res.Model.ModelID, len(admitted), rc.TaskType, rc.Tier)
	return res, nil
}

// applyRules walks the matching rules in declaration order. Pinning rules
// replace the candidate set; reordering rules assign front-of-list ranks.
// Each later matching rule resets the ranks of the one before it.
func applyRules(rc Context, candidates []gateway.ModelConfig, rules []gateway.RoutingRule) ([]gateway.ModelConfig, map[string]int) {
	ranks := make(map[string]int, len(candidates))
	for _, c := range candidates {
		ranks[c.ModelID] = math.MaxInt
	}

	for _, rule := range rules {
		if !rule.Matches(rc.TaskType, rc.Tier, rc.Priority) {
			continue
		}
		listed := make(map[string]int, len(rule.Models))
		for i, id := range rule.Models {
			listed[id] = i
		}

		if rule.Pin {
			kept := candidates[:0:0]
			for _, c := range candidates {
				if _, ok := listed[c.ModelID]; ok {
					kept = append(kept, c)
				}
			}
			candidates = kept
		}
		for id := range ranks {
			if i, ok := listed[id]; ok {
				ranks[id] = i
			} else {
				ranks[id] = math.MaxInt
			}
		}
	}
	return candidates, ranks
}

func hasHighPriority(candidates []gateway.ModelConfig) bool {
	for _, c := range candidates {
		if c.Priority >= gateway.PriorityHigh {
			return true
		}
	}
	return false
}
