package trust

import (
	"fmt"
	"strings"
	"time"

	"github.com/eatp-dev/eatp/core/jcs"
	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

// NewChain wraps a genesis record into a fresh trust chain aggregate. The
// chain starts with no capabilities, no delegations, and no anchors; the hash
// is computed over that initial state.
func NewChain(genesis trustschema.GenesisRecord, producerVersion string, createdAt time.Time) (trustschema.TrustChain, error) {
	chain := trustschema.TrustChain{
		SchemaID:        trustschema.ChainSchemaID,
		SchemaVersion:   trustschema.SchemaV1,
		CreatedAt:       createdAt.UTC(),
		ProducerVersion: normalizeProducerVersion(producerVersion),
		AgentID:         genesis.AgentID,
		Genesis:         genesis,
	}
	return RebuildChain(chain, createdAt)
}

// RebuildChain recomputes the derived fields of a chain after any record
// change: the constraint envelope from the chain's own active records, then
// the chain hash over the whole structure. Records themselves are never
// modified here.
func RebuildChain(chain trustschema.TrustChain, now time.Time) (trustschema.TrustChain, error) {
	chain.Envelope = deriveEnvelope(chain, now)
	hash, err := ChainHash(chain)
	if err != nil {
		return trustschema.TrustChain{}, err
	}
	chain.ChainHash = hash
	return chain, nil
}

// ChainHash is the canonical digest of a chain with its own hash field
// cleared. Two chains with identical records always hash identically.
func ChainHash(chain trustschema.TrustChain) (string, error) {
	chain.ChainHash = ""
	return jcs.DigestValue(chain)
}

// VerifyChainHash recomputes the hash and compares it to the stored one. A
// mismatch means the chain was modified outside RebuildChain.
func VerifyChainHash(chain trustschema.TrustChain) error {
	stored := strings.TrimSpace(chain.ChainHash)
	if stored == "" {
		return fmt.Errorf("chain for agent %s has no chain_hash", chain.AgentID)
	}
	computed, err := ChainHash(chain)
	if err != nil {
		return err
	}
	if computed != stored {
		return fmt.Errorf("chain hash mismatch for agent %s: stored %s, computed %s", chain.AgentID, stored, computed)
	}
	return nil
}

// deriveEnvelope aggregates the chain's own active, unexpired constraints:
// attestation constraints plus the constraint subsets of delegations granted
// to this agent. Duplicated constraint ids keep the stricter version.
func deriveEnvelope(chain trustschema.TrustChain, now time.Time) *trustschema.ConstraintEnvelope {
	merged := make(map[string]trustschema.Constraint)
	for _, attestation := range chain.Capabilities {
		if attestation.Status != trustschema.RecordStatusActive || expired(attestation.ExpiresAt, now) {
			continue
		}
		mergeStrictest(merged, attestation.Constraints)
	}
	for _, delegation := range chain.Delegations {
		if delegation.DelegateeID != chain.AgentID {
			continue
		}
		if delegation.Status != trustschema.RecordStatusActive || expired(delegation.ExpiresAt, now) {
			continue
		}
		mergeStrictest(merged, delegation.ConstraintSubset)
	}
	return &trustschema.ConstraintEnvelope{
		AgentID:     chain.AgentID,
		ComputedAt:  now.UTC(),
		Constraints: sortedConstraints(merged),
	}
}

func normalizeProducerVersion(producerVersion string) string {
	producerVersion = strings.TrimSpace(producerVersion)
	if producerVersion == "" {
		return "0.0.0-dev"
	}
	return producerVersion
}
