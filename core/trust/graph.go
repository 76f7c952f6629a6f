package trust

import (
	"sort"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

const (
	NodeKindAuthority = "authority"
	NodeKindAgent     = "agent"

	EdgeKindEstablish = "establish"
	EdgeKindDelegate  = "delegate"
)

// DefaultExpiringSoonWindow is how far ahead of expiry a node is flagged as
// expiring when the caller does not set a window.
const DefaultExpiringSoonWindow = 7 * 24 * time.Hour

type GraphNode struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Label           string `json:"label"`
	Status          string `json:"status,omitempty"`
	CapabilityCount int    `json:"capability_count,omitempty"`
	ExpiringSoon    bool   `json:"expiring_soon,omitempty"`
	Placeholder     bool   `json:"placeholder,omitempty"`
}

type GraphEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Kind         string `json:"kind"`
	DelegationID string `json:"delegation_id,omitempty"`
	Expired      bool   `json:"expired,omitempty"`
}

type GraphOptions struct {
	Now                time.Time
	ExpiringSoonWindow time.Duration
}

// TrustGraph is the renderer-neutral projection of the record set: authorities
// and agents as nodes, establishment and delegation as edges. Node and edge
// order is deterministic so identical inputs serialize identically.
type TrustGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// BuildGraph projects a snapshot into a trust graph. Authorities or agents
// that are referenced by records but have no document of their own appear as
// placeholder nodes rather than dangling edge endpoints.
func BuildGraph(snapshot *Snapshot, opts GraphOptions) TrustGraph {
	window := opts.ExpiringSoonWindow
	if window <= 0 {
		window = DefaultExpiringSoonWindow
	}
	now := opts.Now

	authorityNodes := make(map[string]GraphNode)
	for _, authority := range snapshot.Authorities() {
		label := authority.Name
		if label == "" {
			label = authority.AuthorityID
		}
		authorityNodes[authority.AuthorityID] = GraphNode{
			ID:     authority.AuthorityID,
			Kind:   NodeKindAuthority,
			Label:  label,
			Status: authorityStatus(authority.AuthorityID, snapshot),
		}
	}

	agentNodes := make(map[string]GraphNode)
	var edges []GraphEdge
	seenDelegations := make(map[string]struct{})

	for _, chain := range snapshot.Chains() {
		agentNodes[chain.AgentID] = GraphNode{
			ID:              chain.AgentID,
			Kind:            NodeKindAgent,
			Label:           chain.AgentID,
			Status:          ResolveStatus(chain, snapshot.Revocations(), now).String(),
			CapabilityCount: len(snapshot.EffectiveCapabilities(chain.AgentID, now)),
			ExpiringSoon:    expiringSoon(chain.Genesis.ExpiresAt, now, window),
		}

		if authorityID := chain.Genesis.AuthorityID; authorityID != "" {
			if _, ok := authorityNodes[authorityID]; !ok {
				authorityNodes[authorityID] = GraphNode{
					ID:          authorityID,
					Kind:        NodeKindAuthority,
					Label:       authorityID,
					Status:      authorityStatus(authorityID, snapshot),
					Placeholder: true,
				}
			}
			edges = append(edges, GraphEdge{
				ID:     EdgeKindEstablish + ":" + authorityID + ":" + chain.AgentID,
				Source: authorityID,
				Target: chain.AgentID,
				Kind:   EdgeKindEstablish,
			})
		}

		for _, delegation := range chain.Delegations {
			if delegation.DelegationID == "" {
				continue
			}
			if _, ok := seenDelegations[delegation.DelegationID]; ok {
				continue
			}
			seenDelegations[delegation.DelegationID] = struct{}{}
			edges = append(edges, GraphEdge{
				ID:           EdgeKindDelegate + ":" + delegation.DelegationID,
				Source:       delegation.DelegatorID,
				Target:       delegation.DelegateeID,
				Kind:         EdgeKindDelegate,
				DelegationID: delegation.DelegationID,
				Expired:      expired(delegation.ExpiresAt, now) || delegation.Status == trustschema.RecordStatusRevoked,
			})
		}
	}

	// Delegation participants without chains of their own still get a node.
	for _, edge := range edges {
		if edge.Kind != EdgeKindDelegate {
			continue
		}
		for _, agentID := range []string{edge.Source, edge.Target} {
			if agentID == "" {
				continue
			}
			if _, ok := agentNodes[agentID]; ok {
				continue
			}
			agentNodes[agentID] = GraphNode{
				ID:          agentID,
				Kind:        NodeKindAgent,
				Label:       agentID,
				Status:      StatusInvalid.String(),
				Placeholder: true,
			}
		}
	}

	nodes := make([]GraphNode, 0, len(authorityNodes)+len(agentNodes))
	for _, node := range authorityNodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	agents := make([]GraphNode, 0, len(agentNodes))
	for _, node := range agentNodes {
		agents = append(agents, node)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	nodes = append(nodes, agents...)

	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	return TrustGraph{Nodes: nodes, Edges: edges}
}

func authorityStatus(authorityID string, snapshot *Snapshot) string {
	if snapshot.Revocations().Has(authorityID) {
		return StatusRevoked.String()
	}
	return ""
}

func expiringSoon(expiresAt *time.Time, now time.Time, window time.Duration) bool {
	if expiresAt == nil || expiresAt.IsZero() {
		return false
	}
	if expired(expiresAt, now) {
		return false
	}
	return expiresAt.Sub(now) <= window
}
