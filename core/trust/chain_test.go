package trust

import (
	"strings"
	"testing"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

func TestNewChainSetsDerivedFields(t *testing.T) {
	chain, err := NewChain(signedGenesis("agent-a", "org-1"), "1.2.3", testNow)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	if chain.AgentID != "agent-a" || chain.SchemaID != trustschema.ChainSchemaID {
		t.Fatalf("chain header = %+v", chain)
	}
	if chain.ProducerVersion != "1.2.3" {
		t.Fatalf("producer version = %q", chain.ProducerVersion)
	}
	if chain.ChainHash == "" {
		t.Fatal("chain hash not set")
	}
	if chain.Envelope == nil || chain.Envelope.AgentID != "agent-a" {
		t.Fatalf("envelope = %+v", chain.Envelope)
	}
	if err := VerifyChainHash(chain); err != nil {
		t.Fatalf("fresh chain failed verification: %v", err)
	}
}

func TestNewChainDefaultsProducerVersion(t *testing.T) {
	chain, err := NewChain(signedGenesis("agent-a", "org-1"), "  ", testNow)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	if chain.ProducerVersion != "0.0.0-dev" {
		t.Fatalf("producer version = %q, want dev default", chain.ProducerVersion)
	}
}

func TestChainHashDeterministic(t *testing.T) {
	chain := attestedChain("agent-a", "org-1", "read_data", "write_data")
	first, err := ChainHash(chain)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := ChainHash(chain)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first != second {
		t.Fatalf("hashes differ: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("hash %q is not sha256 hex", first)
	}
}

func TestVerifyChainHashDetectsTampering(t *testing.T) {
	chain, err := RebuildChain(attestedChain("agent-a", "org-1", "read_data"), testNow)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	chain.Capabilities[0].Capability = "admin_everything"
	err = VerifyChainHash(chain)
	if err == nil {
		t.Fatal("tampered chain passed verification")
	}
	if !strings.Contains(err.Error(), "mismatch") {
		t.Fatalf("error = %v", err)
	}
}

func TestVerifyChainHashRequiresHash(t *testing.T) {
	chain := attestedChain("agent-a", "org-1", "read_data")
	if err := VerifyChainHash(chain); err == nil {
		t.Fatal("chain without a hash passed verification")
	}
}

func TestRebuildChainDerivesEnvelope(t *testing.T) {
	chain := chainOf(
		signedGenesis("agent-a", "org-1"),
		[]trustschema.CapabilityAttestation{
			attested("agent-a", "read_data", limitConstraint("c1", "api_calls", 100)),
			attested("agent-a", "write_data", limitConstraint("c1", "api_calls", 50), actionConstraint("c2", "read", "write")),
		},
		nil,
	)
	rebuilt, err := RebuildChain(chain, testNow)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	constraints := rebuilt.Envelope.Constraints
	if len(constraints) != 2 {
		t.Fatalf("envelope = %+v, want c1 and c2", constraints)
	}
	if constraints[0].ConstraintID != "c1" || constraints[0].MaxValue != 50 {
		t.Fatalf("c1 = %+v, want the stricter limit of 50", constraints[0])
	}
	if constraints[1].ConstraintID != "c2" {
		t.Fatalf("c2 missing: %+v", constraints)
	}
	if !rebuilt.Envelope.ComputedAt.Equal(testNow) {
		t.Fatalf("computed_at = %s, want %s", rebuilt.Envelope.ComputedAt, testNow)
	}
}

func TestRebuildChainIgnoresInactiveRecords(t *testing.T) {
	revokedAttestation := attested("agent-a", "read_data", limitConstraint("c1", "api_calls", 100))
	revokedAttestation.Status = trustschema.RecordStatusRevoked
	expiredAttestation := attested("agent-a", "write_data", scopeConstraint("c3", "db.public."))
	expiredAttestation.ExpiresAt = timePtr(testNow.Add(-time.Hour))
	chain := chainOf(signedGenesis("agent-a", "org-1"),
		[]trustschema.CapabilityAttestation{revokedAttestation, expiredAttestation}, nil)

	rebuilt, err := RebuildChain(chain, testNow)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(rebuilt.Envelope.Constraints) != 0 {
		t.Fatalf("envelope = %+v, want empty", rebuilt.Envelope.Constraints)
	}
}

func TestRebuildChainEnvelopeIncludesInboundDelegations(t *testing.T) {
	inbound := delegated("del-1", "agent-x", "agent-a", "read_data")
	inbound.ConstraintSubset = []trustschema.Constraint{actionConstraint("c4", "read")}
	outbound := delegated("del-2", "agent-a", "agent-y", "read_data")
	outbound.ConstraintSubset = []trustschema.Constraint{actionConstraint("c5", "read")}
	chain := chainOf(signedGenesis("agent-a", "org-1"), nil,
		[]trustschema.DelegationRecord{inbound, outbound})

	rebuilt, err := RebuildChain(chain, testNow)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	constraints := rebuilt.Envelope.Constraints
	if len(constraints) != 1 || constraints[0].ConstraintID != "c4" {
		t.Fatalf("envelope = %+v, want only the inbound delegation's c4", constraints)
	}
}
