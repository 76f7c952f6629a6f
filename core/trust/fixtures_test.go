package trust

import (
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func signedGenesis(agentID, authorityID string) trustschema.GenesisRecord {
	return trustschema.GenesisRecord{
		SchemaID:        trustschema.GenesisSchemaID,
		SchemaVersion:   trustschema.SchemaV1,
		CreatedAt:       testNow.Add(-24 * time.Hour),
		ProducerVersion: "0.0.0-dev",
		AgentID:         agentID,
		AuthorityID:     authorityID,
		AuthorityType:   trustschema.AuthorityTypeOrganization,
		Signature:       &trustschema.Signature{Alg: "ed25519", KeyID: "key-1", Sig: "c2lnbmF0dXJl"},
	}
}

func attested(agentID, capability string, constraints ...trustschema.Constraint) trustschema.CapabilityAttestation {
	return trustschema.CapabilityAttestation{
		SchemaID:        trustschema.AttestationSchemaID,
		SchemaVersion:   trustschema.SchemaV1,
		CreatedAt:       testNow.Add(-time.Hour),
		ProducerVersion: "0.0.0-dev",
		AttestationID:   "att-" + agentID + "-" + capability,
		AgentID:         agentID,
		Capability:      capability,
		CapabilityType:  trustschema.CapabilityTypeAction,
		Constraints:     constraints,
		AttestedBy:      "org-1",
		Status:          trustschema.RecordStatusActive,
	}
}

func delegated(id, delegator, delegatee string, capabilities ...string) trustschema.DelegationRecord {
	return trustschema.DelegationRecord{
		SchemaID:        trustschema.DelegationSchemaID,
		SchemaVersion:   trustschema.SchemaV1,
		CreatedAt:       testNow.Add(-time.Hour),
		ProducerVersion: "0.0.0-dev",
		DelegationID:    id,
		DelegatorID:     delegator,
		DelegateeID:     delegatee,
		Capabilities:    capabilities,
		Status:          trustschema.RecordStatusActive,
	}
}

func chainOf(genesis trustschema.GenesisRecord, attestations []trustschema.CapabilityAttestation, delegations []trustschema.DelegationRecord) trustschema.TrustChain {
	return trustschema.TrustChain{
		SchemaID:        trustschema.ChainSchemaID,
		SchemaVersion:   trustschema.SchemaV1,
		CreatedAt:       genesis.CreatedAt,
		ProducerVersion: "0.0.0-dev",
		AgentID:         genesis.AgentID,
		Genesis:         genesis,
		Capabilities:    attestations,
		Delegations:     delegations,
	}
}

// attestedChain builds the common fixture: an agent established by an
// authority and holding the named capabilities without constraints.
func attestedChain(agentID, authorityID string, capabilities ...string) trustschema.TrustChain {
	attestations := make([]trustschema.CapabilityAttestation, 0, len(capabilities))
	for _, capability := range capabilities {
		attestations = append(attestations, attested(agentID, capability))
	}
	return chainOf(signedGenesis(agentID, authorityID), attestations, nil)
}

func revokedMarker(targetID, targetKind string) trustschema.RevocationMarker {
	return trustschema.RevocationMarker{
		SchemaID:      trustschema.RevocationSchemaID,
		SchemaVersion: trustschema.SchemaV1,
		TargetID:      targetID,
		TargetKind:    targetKind,
		Reason:        "compromised",
		RevokedAt:     testNow.Add(-time.Minute),
		RevokedBy:     "org-1",
	}
}
