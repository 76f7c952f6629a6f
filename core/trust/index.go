package trust

import (
	"sort"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

// DelegationIndex is an arena of delegation records addressed by id, with the
// child and per-agent indexes built once per snapshot. Flat scans over chains
// happen here and nowhere else.
type DelegationIndex struct {
	records     map[string]trustschema.DelegationRecord
	children    map[string][]string
	byDelegator map[string][]string
	byDelegatee map[string][]string
}

func BuildDelegationIndex(chains []trustschema.TrustChain) *DelegationIndex {
	index := &DelegationIndex{
		records:     make(map[string]trustschema.DelegationRecord),
		children:    make(map[string][]string),
		byDelegator: make(map[string][]string),
		byDelegatee: make(map[string][]string),
	}
	for _, chain := range chains {
		for _, delegation := range chain.Delegations {
			index.add(delegation)
		}
	}
	for _, ids := range index.children {
		sort.Strings(ids)
	}
	for _, ids := range index.byDelegator {
		sort.Strings(ids)
	}
	for _, ids := range index.byDelegatee {
		sort.Strings(ids)
	}
	return index
}

func (index *DelegationIndex) add(delegation trustschema.DelegationRecord) {
	if delegation.DelegationID == "" {
		return
	}
	// The same delegation may be recorded on both participant chains.
	if _, ok := index.records[delegation.DelegationID]; ok {
		return
	}
	index.records[delegation.DelegationID] = delegation
	if delegation.ParentDelegationID != "" {
		index.children[delegation.ParentDelegationID] = append(index.children[delegation.ParentDelegationID], delegation.DelegationID)
	}
	index.byDelegator[delegation.DelegatorID] = append(index.byDelegator[delegation.DelegatorID], delegation.DelegationID)
	index.byDelegatee[delegation.DelegateeID] = append(index.byDelegatee[delegation.DelegateeID], delegation.DelegationID)
}

func (index *DelegationIndex) Record(id string) (trustschema.DelegationRecord, bool) {
	record, ok := index.records[id]
	return record, ok
}

func (index *DelegationIndex) Len() int {
	return len(index.records)
}

func (index *DelegationIndex) Children(id string) []string {
	return index.children[id]
}

func (index *DelegationIndex) ByDelegator(agentID string) []trustschema.DelegationRecord {
	return index.resolve(index.byDelegator[agentID])
}

func (index *DelegationIndex) ByDelegatee(agentID string) []trustschema.DelegationRecord {
	return index.resolve(index.byDelegatee[agentID])
}

func (index *DelegationIndex) resolve(ids []string) []trustschema.DelegationRecord {
	out := make([]trustschema.DelegationRecord, 0, len(ids))
	for _, id := range ids {
		if record, ok := index.records[id]; ok {
			out = append(out, record)
		}
	}
	return out
}

// Ancestors walks parent_delegation_id links upward from the given delegation
// id. The visited guard bounds the walk at O(depth) even on malformed data
// that loops back on itself.
func (index *DelegationIndex) Ancestors(id string) []trustschema.DelegationRecord {
	var chain []trustschema.DelegationRecord
	visited := make(map[string]struct{})
	current := id
	for current != "" {
		if _, seen := visited[current]; seen {
			break
		}
		visited[current] = struct{}{}
		record, ok := index.records[current]
		if !ok {
			break
		}
		chain = append(chain, record)
		current = record.ParentDelegationID
	}
	return chain
}
