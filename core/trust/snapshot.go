package trust

import (
	"sort"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

// Snapshot is an immutable view of the trust-record set every engine call
// consumes. Build one per consistent read of the record source; the delegation
// index is constructed once here and shared by all computations.
type Snapshot struct {
	chains        []trustschema.TrustChain
	authorities   []trustschema.Authority
	revocations   RevocationSet
	index         *DelegationIndex
	chainsByAgent map[string]int
	authsByID     map[string]int
}

func NewSnapshot(chains []trustschema.TrustChain, authorities []trustschema.Authority, markers []trustschema.RevocationMarker) *Snapshot {
	snapshot := &Snapshot{
		chains:        chains,
		authorities:   authorities,
		revocations:   NewRevocationSet(markers),
		index:         BuildDelegationIndex(chains),
		chainsByAgent: make(map[string]int, len(chains)),
		authsByID:     make(map[string]int, len(authorities)),
	}
	for i, chain := range chains {
		if _, ok := snapshot.chainsByAgent[chain.AgentID]; !ok {
			snapshot.chainsByAgent[chain.AgentID] = i
		}
	}
	for i, authority := range authorities {
		if _, ok := snapshot.authsByID[authority.AuthorityID]; !ok {
			snapshot.authsByID[authority.AuthorityID] = i
		}
	}
	return snapshot
}

func (s *Snapshot) Chains() []trustschema.TrustChain {
	return s.chains
}

func (s *Snapshot) Authorities() []trustschema.Authority {
	return s.authorities
}

func (s *Snapshot) Revocations() RevocationSet {
	return s.revocations
}

func (s *Snapshot) Index() *DelegationIndex {
	return s.index
}

func (s *Snapshot) Chain(agentID string) (trustschema.TrustChain, bool) {
	i, ok := s.chainsByAgent[agentID]
	if !ok {
		return trustschema.TrustChain{}, false
	}
	return s.chains[i], true
}

func (s *Snapshot) Authority(authorityID string) (trustschema.Authority, bool) {
	i, ok := s.authsByID[authorityID]
	if !ok {
		return trustschema.Authority{}, false
	}
	return s.authorities[i], true
}

func (s *Snapshot) Status(agentID string, now time.Time) Status {
	chain, ok := s.Chain(agentID)
	if !ok {
		return StatusInvalid
	}
	return ResolveStatus(chain, s.revocations, now)
}

// EffectiveCapabilities returns the sorted capability names an agent actually
// holds at the given time: active unexpired attestations on its own chain plus
// capabilities passed to it through active unexpired delegations.
func (s *Snapshot) EffectiveCapabilities(agentID string, now time.Time) []string {
	set := make(map[string]struct{})
	if chain, ok := s.Chain(agentID); ok {
		for _, attestation := range chain.Capabilities {
			if attestation.Status != trustschema.RecordStatusActive || expired(attestation.ExpiresAt, now) {
				continue
			}
			set[attestation.Capability] = struct{}{}
		}
	}
	for _, delegation := range s.index.ByDelegatee(agentID) {
		if delegation.Status != trustschema.RecordStatusActive || expired(delegation.ExpiresAt, now) {
			continue
		}
		for _, capability := range delegation.Capabilities {
			set[capability] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for capability := range set {
		out = append(out, capability)
	}
	sort.Strings(out)
	return out
}

// EffectiveConstraints derives the active constraint set for an agent from its
// attestations and inbound delegations, deduplicated by constraint id with the
// stricter version winning.
func (s *Snapshot) EffectiveConstraints(agentID string, now time.Time) []trustschema.Constraint {
	merged := make(map[string]trustschema.Constraint)
	if chain, ok := s.Chain(agentID); ok {
		for _, attestation := range chain.Capabilities {
			if attestation.Status != trustschema.RecordStatusActive || expired(attestation.ExpiresAt, now) {
				continue
			}
			mergeStrictest(merged, attestation.Constraints)
		}
	}
	for _, delegation := range s.index.ByDelegatee(agentID) {
		if delegation.Status != trustschema.RecordStatusActive || expired(delegation.ExpiresAt, now) {
			continue
		}
		mergeStrictest(merged, delegation.ConstraintSubset)
	}
	return sortedConstraints(merged)
}
