package trust

import (
	"reflect"
	"testing"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

func TestBuildGraphNodesAndEdges(t *testing.T) {
	chainA := attestedChain("agent-a", "org-1", "read_data")
	chainA.Delegations = []trustschema.DelegationRecord{delegated("del-1", "agent-a", "agent-b", "read_data")}
	chainB := attestedChain("agent-b", "org-1", "ping")
	authority := trustschema.Authority{
		SchemaID:      trustschema.AuthoritySchemaID,
		SchemaVersion: trustschema.SchemaV1,
		AuthorityID:   "org-1",
		Name:          "Example Org",
		Type:          trustschema.AuthorityTypeOrganization,
	}
	snapshot := NewSnapshot([]trustschema.TrustChain{chainA, chainB}, []trustschema.Authority{authority}, nil)

	graph := BuildGraph(snapshot, GraphOptions{Now: testNow})

	if len(graph.Nodes) != 3 {
		t.Fatalf("nodes = %+v, want authority plus two agents", graph.Nodes)
	}
	if graph.Nodes[0].ID != "org-1" || graph.Nodes[0].Kind != NodeKindAuthority {
		t.Fatalf("first node = %+v, want the authority", graph.Nodes[0])
	}
	if graph.Nodes[0].Label != "Example Org" {
		t.Fatalf("authority label = %q, want its name", graph.Nodes[0].Label)
	}
	if graph.Nodes[1].ID != "agent-a" || graph.Nodes[2].ID != "agent-b" {
		t.Fatalf("agent nodes out of order: %+v", graph.Nodes[1:])
	}
	if graph.Nodes[1].Status != "valid" || graph.Nodes[1].CapabilityCount != 1 {
		t.Fatalf("agent-a node = %+v", graph.Nodes[1])
	}

	wantEdgeIDs := []string{
		"delegate:del-1",
		"establish:org-1:agent-a",
		"establish:org-1:agent-b",
	}
	gotEdgeIDs := make([]string, 0, len(graph.Edges))
	for _, edge := range graph.Edges {
		gotEdgeIDs = append(gotEdgeIDs, edge.ID)
	}
	if !reflect.DeepEqual(gotEdgeIDs, wantEdgeIDs) {
		t.Fatalf("edge ids = %v, want %v", gotEdgeIDs, wantEdgeIDs)
	}
}

func TestBuildGraphPlaceholderNodes(t *testing.T) {
	// org-1 has no authority document; agent-b has no chain of its own.
	chainA := attestedChain("agent-a", "org-1", "read_data")
	chainA.Delegations = []trustschema.DelegationRecord{delegated("del-1", "agent-a", "agent-b", "read_data")}
	snapshot := NewSnapshot([]trustschema.TrustChain{chainA}, nil, nil)

	graph := BuildGraph(snapshot, GraphOptions{Now: testNow})

	byID := make(map[string]GraphNode)
	for _, node := range graph.Nodes {
		byID[node.ID] = node
	}
	authority, ok := byID["org-1"]
	if !ok || !authority.Placeholder || authority.Kind != NodeKindAuthority {
		t.Fatalf("org-1 node = %+v, want placeholder authority", authority)
	}
	delegatee, ok := byID["agent-b"]
	if !ok || !delegatee.Placeholder || delegatee.Status != "invalid" {
		t.Fatalf("agent-b node = %+v, want placeholder agent with invalid status", delegatee)
	}
}

func TestBuildGraphMarksExpiredDelegations(t *testing.T) {
	chainA := attestedChain("agent-a", "org-1", "read_data")
	expiredDelegation := delegated("del-1", "agent-a", "agent-b", "read_data")
	expiredDelegation.ExpiresAt = timePtr(testNow.Add(-time.Hour))
	chainA.Delegations = []trustschema.DelegationRecord{expiredDelegation}
	snapshot := NewSnapshot([]trustschema.TrustChain{chainA, attestedChain("agent-b", "org-1", "ping")}, nil, nil)

	graph := BuildGraph(snapshot, GraphOptions{Now: testNow})
	for _, edge := range graph.Edges {
		if edge.Kind == EdgeKindDelegate {
			if !edge.Expired {
				t.Fatalf("delegation edge not marked expired: %+v", edge)
			}
			return
		}
	}
	t.Fatal("no delegation edge in graph")
}

func TestBuildGraphExpiringSoon(t *testing.T) {
	genesis := signedGenesis("agent-a", "org-1")
	genesis.ExpiresAt = timePtr(testNow.Add(48 * time.Hour))
	chain := chainOf(genesis, []trustschema.CapabilityAttestation{attested("agent-a", "read_data")}, nil)
	snapshot := NewSnapshot([]trustschema.TrustChain{chain}, nil, nil)

	soon := BuildGraph(snapshot, GraphOptions{Now: testNow})
	if !agentNode(t, soon, "agent-a").ExpiringSoon {
		t.Fatal("48h from expiry inside the default window, want expiring_soon")
	}

	narrow := BuildGraph(snapshot, GraphOptions{Now: testNow, ExpiringSoonWindow: time.Hour})
	if agentNode(t, narrow, "agent-a").ExpiringSoon {
		t.Fatal("48h from expiry outside a 1h window, want not expiring_soon")
	}
}

func TestBuildGraphRevokedAuthorityStatus(t *testing.T) {
	chain := attestedChain("agent-a", "org-1", "read_data")
	snapshot := NewSnapshot([]trustschema.TrustChain{chain}, nil,
		[]trustschema.RevocationMarker{revokedMarker("org-1", trustschema.TargetKindAuthority)})

	graph := BuildGraph(snapshot, GraphOptions{Now: testNow})
	if graph.Nodes[0].ID != "org-1" || graph.Nodes[0].Status != "revoked" {
		t.Fatalf("authority node = %+v, want revoked status", graph.Nodes[0])
	}
	if agentNode(t, graph, "agent-a").Status != "revoked" {
		t.Fatal("agent under revoked authority should render as revoked")
	}
}

func TestBuildGraphDeterministic(t *testing.T) {
	snapshot := cascadeFixture()
	first := BuildGraph(snapshot, GraphOptions{Now: testNow})
	second := BuildGraph(snapshot, GraphOptions{Now: testNow})
	if !reflect.DeepEqual(first, second) {
		t.Fatal("graph construction is not deterministic")
	}
}

func agentNode(t *testing.T, graph TrustGraph, id string) GraphNode {
	t.Helper()
	for _, node := range graph.Nodes {
		if node.ID == id && node.Kind == NodeKindAgent {
			return node
		}
	}
	t.Fatalf("agent node %s not in graph", id)
	return GraphNode{}
}
