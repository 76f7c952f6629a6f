package trust

import (
	"strings"
	"testing"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

func testAnchorInput(action string) AnchorInput {
	return AnchorInput{
		AgentID:   "agent-a",
		Action:    action,
		ActorID:   "org-1",
		Result:    trustschema.AnchorResultAccepted,
		ChainHash: "deadbeef",
	}
}

func TestNewAnchorLinksToParent(t *testing.T) {
	root, err := NewAnchor(testAnchorInput(trustschema.AnchorActionEstablish), nil, testNow)
	if err != nil {
		t.Fatalf("root anchor: %v", err)
	}
	if root.ParentAnchorID != "" || root.ParentAnchorHash != "" {
		t.Fatalf("root anchor carries parent links: %+v", root)
	}
	if !strings.HasPrefix(root.AnchorID, "anc-") {
		t.Fatalf("anchor id = %q", root.AnchorID)
	}

	child, err := NewAnchor(testAnchorInput(trustschema.AnchorActionDelegate), &root, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("child anchor: %v", err)
	}
	if child.ParentAnchorID != root.AnchorID || child.ParentAnchorHash != root.AnchorHash {
		t.Fatalf("child not linked to root: %+v", child)
	}
	if child.AnchorID == root.AnchorID {
		t.Fatal("child and root minted the same anchor id")
	}
}

func TestNewAnchorDeterministicID(t *testing.T) {
	first, err := NewAnchor(testAnchorInput(trustschema.AnchorActionEstablish), nil, testNow)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	second, err := NewAnchor(testAnchorInput(trustschema.AnchorActionEstablish), nil, testNow)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if first.AnchorID != second.AnchorID || first.AnchorHash != second.AnchorHash {
		t.Fatalf("same input minted different anchors: %+v vs %+v", first, second)
	}
}

func anchorChainFixture(t *testing.T) []trustschema.AuditAnchor {
	t.Helper()
	root, err := NewAnchor(testAnchorInput(trustschema.AnchorActionEstablish), nil, testNow)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	middle, err := NewAnchor(testAnchorInput(trustschema.AnchorActionDelegate), &root, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("middle: %v", err)
	}
	tip, err := NewAnchor(testAnchorInput(trustschema.AnchorActionRevoke), &middle, testNow.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("tip: %v", err)
	}
	return []trustschema.AuditAnchor{root, middle, tip}
}

func TestVerifyAnchorChain(t *testing.T) {
	anchors := anchorChainFixture(t)
	if err := VerifyAnchorChain(anchors); err != nil {
		t.Fatalf("intact chain failed verification: %v", err)
	}
	if err := VerifyAnchorChain(nil); err != nil {
		t.Fatalf("empty chain: %v", err)
	}
}

func TestVerifyAnchorChainDetectsTampering(t *testing.T) {
	t.Run("mutated_field", func(t *testing.T) {
		anchors := anchorChainFixture(t)
		anchors[1].Result = trustschema.AnchorResultDenied
		err := VerifyAnchorChain(anchors)
		if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
			t.Fatalf("err = %v, want hash mismatch", err)
		}
	})
	t.Run("broken_parent_link", func(t *testing.T) {
		anchors := anchorChainFixture(t)
		// Drop the middle anchor; the tip still references it.
		err := VerifyAnchorChain([]trustschema.AuditAnchor{anchors[0], anchors[2]})
		if err == nil || !strings.Contains(err.Error(), "parent id") {
			t.Fatalf("err = %v, want parent id mismatch", err)
		}
	})
}
