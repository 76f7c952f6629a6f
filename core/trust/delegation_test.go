package trust

import (
	"errors"
	"strings"
	"testing"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

func wantDelegationCode(t *testing.T, err error, code string) *DelegationError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected delegation error with code %s, got nil", code)
	}
	var delegationErr *DelegationError
	if !errors.As(err, &delegationErr) {
		t.Fatalf("error %v is not a DelegationError", err)
	}
	if delegationErr.Code != code {
		t.Fatalf("code = %s, want %s (err: %v)", delegationErr.Code, code, err)
	}
	return delegationErr
}

func TestValidateDelegationAccepted(t *testing.T) {
	snapshot := NewSnapshot([]trustschema.TrustChain{
		attestedChain("agent-a", "org-1", "read_data", "write_data"),
		attestedChain("agent-b", "org-1", "ping"),
	}, nil, nil)

	candidate := delegated("del-1", "agent-a", "agent-b", "read_data")
	if err := ValidateDelegation(candidate, snapshot, testNow); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
}

func TestValidateDelegationCapabilityNotHeld(t *testing.T) {
	snapshot := NewSnapshot([]trustschema.TrustChain{
		attestedChain("agent-a", "org-1", "read_data", "write_data"),
		attestedChain("agent-b", "org-1", "ping"),
	}, nil, nil)

	candidate := delegated("del-1", "agent-a", "agent-b", "read_data", "delete_data")
	err := wantDelegationCode(t, ValidateDelegation(candidate, snapshot, testNow), DelegationCodeCapabilityNotHeld)
	if !strings.Contains(err.Error(), "delete_data") {
		t.Fatalf("error %q does not name the missing capability", err)
	}
	if strings.Contains(err.Error(), "read_data,") {
		t.Fatalf("error %q names a capability the delegator holds", err)
	}
}

func TestValidateDelegationDelegatedCapabilityCanBePassedOn(t *testing.T) {
	chainA := attestedChain("agent-a", "org-1", "read_data")
	chainA.Delegations = []trustschema.DelegationRecord{delegated("del-1", "agent-a", "agent-b", "read_data")}
	snapshot := NewSnapshot([]trustschema.TrustChain{
		chainA,
		attestedChain("agent-b", "org-1", "ping"),
		attestedChain("agent-c", "org-1", "ping"),
	}, nil, nil)

	candidate := delegated("del-2", "agent-b", "agent-c", "read_data")
	candidate.ParentDelegationID = "del-1"
	if err := ValidateDelegation(candidate, snapshot, testNow); err != nil {
		t.Fatalf("expected acceptance of sub-delegation, got %v", err)
	}
}

func TestValidateDelegationSelfDelegation(t *testing.T) {
	snapshot := NewSnapshot([]trustschema.TrustChain{attestedChain("agent-a", "org-1", "read_data")}, nil, nil)
	candidate := delegated("del-1", "agent-a", "agent-a", "read_data")
	wantDelegationCode(t, ValidateDelegation(candidate, snapshot, testNow), DelegationCodeCyclicDelegation)
}

func TestValidateDelegationDelegatorNotTrusted(t *testing.T) {
	pendingChain := chainOf(signedGenesis("agent-p", "org-1"), nil, nil)
	revokedChain := attestedChain("agent-r", "org-1", "read_data")
	snapshot := NewSnapshot(
		[]trustschema.TrustChain{pendingChain, revokedChain, attestedChain("agent-b", "org-1", "ping")},
		nil,
		[]trustschema.RevocationMarker{revokedMarker("agent-r", trustschema.TargetKindAgent)},
	)

	cases := []struct {
		name      string
		delegator string
	}{
		{name: "unknown_delegator", delegator: "agent-ghost"},
		{name: "pending_delegator", delegator: "agent-p"},
		{name: "revoked_delegator", delegator: "agent-r"},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			candidate := delegated("del-1", testCase.delegator, "agent-b", "read_data")
			wantDelegationCode(t, ValidateDelegation(candidate, snapshot, testNow), DelegationCodeDelegatorNotTrusted)
		})
	}
}

func TestValidateDelegationConstraintLoosened(t *testing.T) {
	chainA := chainOf(
		signedGenesis("agent-a", "org-1"),
		[]trustschema.CapabilityAttestation{attested("agent-a", "read_data", limitConstraint("c1", "api_calls", 100))},
		nil,
	)
	snapshot := NewSnapshot([]trustschema.TrustChain{chainA, attestedChain("agent-b", "org-1", "ping")}, nil, nil)

	t.Run("raised_limit", func(t *testing.T) {
		candidate := delegated("del-1", "agent-a", "agent-b", "read_data")
		candidate.ConstraintSubset = []trustschema.Constraint{limitConstraint("c1", "api_calls", 200)}
		wantDelegationCode(t, ValidateDelegation(candidate, snapshot, testNow), DelegationCodeConstraintLoosened)
	})
	t.Run("dropped_constraint", func(t *testing.T) {
		candidate := delegated("del-1", "agent-a", "agent-b", "read_data")
		wantDelegationCode(t, ValidateDelegation(candidate, snapshot, testNow), DelegationCodeConstraintLoosened)
	})
	t.Run("tightened_ok", func(t *testing.T) {
		candidate := delegated("del-1", "agent-a", "agent-b", "read_data")
		candidate.ConstraintSubset = []trustschema.Constraint{limitConstraint("c1", "api_calls", 50)}
		if err := ValidateDelegation(candidate, snapshot, testNow); err != nil {
			t.Fatalf("expected acceptance, got %v", err)
		}
	})
}

func TestValidateDelegationExpiryBounds(t *testing.T) {
	genesis := signedGenesis("agent-a", "org-1")
	genesis.ExpiresAt = timePtr(testNow.Add(24 * time.Hour))
	chainA := chainOf(genesis, []trustschema.CapabilityAttestation{attested("agent-a", "read_data")}, nil)
	snapshot := NewSnapshot([]trustschema.TrustChain{chainA, attestedChain("agent-b", "org-1", "ping")}, nil, nil)

	t.Run("within_genesis_bound", func(t *testing.T) {
		candidate := delegated("del-1", "agent-a", "agent-b", "read_data")
		candidate.ExpiresAt = timePtr(testNow.Add(12 * time.Hour))
		if err := ValidateDelegation(candidate, snapshot, testNow); err != nil {
			t.Fatalf("expected acceptance, got %v", err)
		}
	})
	t.Run("past_genesis_bound", func(t *testing.T) {
		candidate := delegated("del-1", "agent-a", "agent-b", "read_data")
		candidate.ExpiresAt = timePtr(testNow.Add(48 * time.Hour))
		wantDelegationCode(t, ValidateDelegation(candidate, snapshot, testNow), DelegationCodeExpiryExceedsParent)
	})
	t.Run("unbounded_under_bounded_genesis", func(t *testing.T) {
		candidate := delegated("del-1", "agent-a", "agent-b", "read_data")
		wantDelegationCode(t, ValidateDelegation(candidate, snapshot, testNow), DelegationCodeExpiryExceedsParent)
	})
}

func TestValidateDelegationParentChecks(t *testing.T) {
	chainA := attestedChain("agent-a", "org-1", "read_data")
	chainA.Delegations = []trustschema.DelegationRecord{delegated("del-1", "agent-a", "agent-b", "read_data")}
	snapshot := NewSnapshot([]trustschema.TrustChain{
		chainA,
		attestedChain("agent-b", "org-1", "ping"),
		attestedChain("agent-c", "org-1", "read_data"),
	}, nil, nil)

	t.Run("parent_not_found", func(t *testing.T) {
		candidate := delegated("del-2", "agent-b", "agent-c", "read_data")
		candidate.ParentDelegationID = "del-missing"
		wantDelegationCode(t, ValidateDelegation(candidate, snapshot, testNow), DelegationCodeInvalid)
	})
	t.Run("parent_granted_to_other_agent", func(t *testing.T) {
		candidate := delegated("del-2", "agent-c", "agent-b", "read_data")
		candidate.ParentDelegationID = "del-1"
		wantDelegationCode(t, ValidateDelegation(candidate, snapshot, testNow), DelegationCodeInvalid)
	})
}

func TestValidateDelegationCycleInAncestry(t *testing.T) {
	chainA := attestedChain("agent-a", "org-1", "read_data")
	chainA.Delegations = []trustschema.DelegationRecord{delegated("del-1", "agent-a", "agent-b", "read_data")}
	chainB := attestedChain("agent-b", "org-1", "ping")
	sub := delegated("del-2", "agent-b", "agent-c", "read_data")
	sub.ParentDelegationID = "del-1"
	chainB.Delegations = []trustschema.DelegationRecord{sub}
	snapshot := NewSnapshot([]trustschema.TrustChain{
		chainA,
		chainB,
		attestedChain("agent-c", "org-1", "ping"),
	}, nil, nil)

	candidate := delegated("del-3", "agent-c", "agent-a", "read_data")
	candidate.ParentDelegationID = "del-2"
	wantDelegationCode(t, ValidateDelegation(candidate, snapshot, testNow), DelegationCodeCyclicDelegation)
}

func TestValidateDelegationRejectsEmptyCapabilities(t *testing.T) {
	snapshot := NewSnapshot([]trustschema.TrustChain{
		attestedChain("agent-a", "org-1", "read_data"),
		attestedChain("agent-b", "org-1", "ping"),
	}, nil, nil)

	candidate := delegated("del-1", "agent-a", "agent-b")
	candidate.Capabilities = []string{"  ", ""}
	wantDelegationCode(t, ValidateDelegation(candidate, snapshot, testNow), DelegationCodeInvalid)
}
