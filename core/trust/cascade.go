package trust

import (
	"fmt"
	"sort"

	coreerrors "github.com/eatp-dev/eatp/core/errors"
	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

const CodeRevocationTargetNotFound = "revocation_target_not_found"

type CascadeReason string

const (
	ReasonDirectRevocation     CascadeReason = "direct_revocation"
	ReasonTransitiveDelegation CascadeReason = "transitive_delegation_from"
)

// AffectedAgent is one agent reached by a revocation cascade. ParentID names
// the delegating agent for transitive reaches and is empty for direct ones.
type AffectedAgent struct {
	AgentID  string        `json:"agent_id"`
	Reason   CascadeReason `json:"reason"`
	ParentID string        `json:"parent_id,omitempty"`
	Depth    int           `json:"depth"`
}

// AnalyzeCascade computes the blast radius of revoking a target (authority or
// agent): every agent transitively dependent on it through genesis or active
// delegation edges, each at the depth it was first reached. The traversal is
// breadth-first with per-level id ordering, so two runs over identical inputs
// return identical, identically-ordered results. The same call serves as the
// read-only preview and as the apply-time computation.
func AnalyzeCascade(targetID string, snapshot *Snapshot) ([]AffectedAgent, error) {
	seeds, err := cascadeSeeds(targetID, snapshot)
	if err != nil {
		return nil, err
	}

	visited := make(map[string]struct{}, len(seeds))
	affected := make([]AffectedAgent, 0, len(seeds))
	frontier := make([]AffectedAgent, len(seeds))
	copy(frontier, seeds)

	depth := 0
	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return frontier[i].AgentID < frontier[j].AgentID })
		var next []AffectedAgent
		for _, agent := range frontier {
			if _, seen := visited[agent.AgentID]; seen {
				continue
			}
			visited[agent.AgentID] = struct{}{}
			affected = append(affected, agent)

			for _, delegation := range snapshot.Index().ByDelegator(agent.AgentID) {
				if delegation.Status != trustschema.RecordStatusActive {
					continue
				}
				if _, seen := visited[delegation.DelegateeID]; seen {
					continue
				}
				next = append(next, AffectedAgent{
					AgentID:  delegation.DelegateeID,
					Reason:   ReasonTransitiveDelegation,
					ParentID: agent.AgentID,
					Depth:    depth + 1,
				})
			}
		}
		frontier = next
		depth++
	}
	return affected, nil
}

func cascadeSeeds(targetID string, snapshot *Snapshot) ([]AffectedAgent, error) {
	if isAuthorityTarget(targetID, snapshot) {
		var seeds []AffectedAgent
		for _, chain := range snapshot.Chains() {
			if chain.Genesis.AuthorityID == targetID {
				seeds = append(seeds, AffectedAgent{AgentID: chain.AgentID, Reason: ReasonDirectRevocation, Depth: 0})
			}
		}
		return seeds, nil
	}
	if _, ok := snapshot.Chain(targetID); ok {
		return []AffectedAgent{{AgentID: targetID, Reason: ReasonDirectRevocation, Depth: 0}}, nil
	}
	return nil, coreerrors.Wrap(
		fmt.Errorf("revocation target %s is neither a known authority nor a known agent", targetID),
		coreerrors.CategoryInvalidInput,
		CodeRevocationTargetNotFound,
		"check the target id against the loaded trust records",
		false,
	)
}

func isAuthorityTarget(targetID string, snapshot *Snapshot) bool {
	if _, ok := snapshot.Authority(targetID); ok {
		return true
	}
	// Authorities may be referenced by genesis records without an authority
	// document being supplied.
	for _, chain := range snapshot.Chains() {
		if chain.Genesis.AuthorityID == targetID {
			return true
		}
	}
	return false
}
