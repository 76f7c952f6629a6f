package trust

import (
	"fmt"
	"strings"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

// Reason codes for rejected delegations. A rejection is an expected domain
// outcome, reported through DelegationError rather than a generic failure.
const (
	DelegationCodeInvalid             = "delegation_invalid"
	DelegationCodeCapabilityNotHeld   = "capability_not_held"
	DelegationCodeConstraintLoosened  = "constraint_loosened"
	DelegationCodeDelegatorNotTrusted = "delegator_not_trusted"
	DelegationCodeCyclicDelegation    = "cyclic_delegation"
	DelegationCodeExpiryExceedsParent = "expiry_exceeds_parent"
)

type DelegationError struct {
	Code string
	Err  error
}

func (e *DelegationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *DelegationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidateDelegation is the single gate every new delegation passes before it
// may be persisted or anchored. A nil return authorizes the persistence
// collaborator to write the record; any other result carries a reason code
// specific enough to render an actionable message.
func ValidateDelegation(candidate trustschema.DelegationRecord, snapshot *Snapshot, now time.Time) error {
	normalized, err := normalizeDelegation(candidate)
	if err != nil {
		return &DelegationError{Code: DelegationCodeInvalid, Err: err}
	}
	if normalized.DelegatorID == normalized.DelegateeID {
		return &DelegationError{Code: DelegationCodeCyclicDelegation, Err: fmt.Errorf("delegation to self")}
	}

	delegatorChain, ok := snapshot.Chain(normalized.DelegatorID)
	if !ok {
		return &DelegationError{Code: DelegationCodeDelegatorNotTrusted, Err: fmt.Errorf("delegator %s has no trust chain", normalized.DelegatorID)}
	}
	if status := ResolveStatus(delegatorChain, snapshot.Revocations(), now); status != StatusValid {
		return &DelegationError{Code: DelegationCodeDelegatorNotTrusted, Err: fmt.Errorf("delegator %s status is %s", normalized.DelegatorID, status)}
	}

	// Nemo dat: the delegator can only pass on capabilities it holds.
	held := make(map[string]struct{})
	for _, capability := range snapshot.EffectiveCapabilities(normalized.DelegatorID, now) {
		held[capability] = struct{}{}
	}
	var missing []string
	for _, capability := range normalized.Capabilities {
		if _, ok := held[capability]; !ok {
			missing = append(missing, capability)
		}
	}
	if len(missing) > 0 {
		return &DelegationError{
			Code: DelegationCodeCapabilityNotHeld,
			Err:  fmt.Errorf("capabilities not held by delegator %s: %s", normalized.DelegatorID, strings.Join(missing, ", ")),
		}
	}

	parentConstraints := snapshot.EffectiveConstraints(normalized.DelegatorID, now)
	expiryBounds := []*time.Time{delegatorChain.Genesis.ExpiresAt}

	if normalized.ParentDelegationID != "" {
		parent, ok := snapshot.Index().Record(normalized.ParentDelegationID)
		if !ok {
			return &DelegationError{Code: DelegationCodeInvalid, Err: fmt.Errorf("parent delegation %s not found", normalized.ParentDelegationID)}
		}
		if parent.DelegateeID != normalized.DelegatorID {
			return &DelegationError{
				Code: DelegationCodeInvalid,
				Err:  fmt.Errorf("parent delegation %s was granted to %s, not delegator %s", parent.DelegationID, parent.DelegateeID, normalized.DelegatorID),
			}
		}
		expiryBounds = append(expiryBounds, parent.ExpiresAt)
	}

	if err := ConstraintsTighten(parentConstraints, normalized.ConstraintSubset); err != nil {
		return &DelegationError{Code: DelegationCodeConstraintLoosened, Err: err}
	}

	for _, bound := range expiryBounds {
		if bound == nil || bound.IsZero() {
			continue
		}
		if normalized.ExpiresAt == nil {
			return &DelegationError{
				Code: DelegationCodeExpiryExceedsParent,
				Err:  fmt.Errorf("unbounded delegation under parent expiring %s", bound.UTC().Format(time.RFC3339)),
			}
		}
		if normalized.ExpiresAt.After(*bound) {
			return &DelegationError{
				Code: DelegationCodeExpiryExceedsParent,
				Err:  fmt.Errorf("expiry %s exceeds parent bound %s", normalized.ExpiresAt.UTC().Format(time.RFC3339), bound.UTC().Format(time.RFC3339)),
			}
		}
	}

	// Cycle check over the delegation tree: the delegatee must not already
	// appear anywhere in the candidate's ancestry. Terminates in O(depth).
	for _, ancestor := range snapshot.Index().Ancestors(normalized.ParentDelegationID) {
		if ancestor.DelegatorID == normalized.DelegateeID || ancestor.DelegateeID == normalized.DelegateeID {
			return &DelegationError{
				Code: DelegationCodeCyclicDelegation,
				Err:  fmt.Errorf("delegatee %s already appears in delegation %s", normalized.DelegateeID, ancestor.DelegationID),
			}
		}
	}

	return nil
}

func normalizeDelegation(candidate trustschema.DelegationRecord) (trustschema.DelegationRecord, error) {
	normalized := candidate
	normalized.DelegatorID = strings.TrimSpace(normalized.DelegatorID)
	normalized.DelegateeID = strings.TrimSpace(normalized.DelegateeID)
	if normalized.DelegatorID == "" || normalized.DelegateeID == "" {
		return trustschema.DelegationRecord{}, fmt.Errorf("delegator_id and delegatee_id are required")
	}
	capabilities := make([]string, 0, len(normalized.Capabilities))
	seen := make(map[string]struct{}, len(normalized.Capabilities))
	for _, capability := range normalized.Capabilities {
		trimmed := strings.TrimSpace(capability)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		capabilities = append(capabilities, trimmed)
	}
	if len(capabilities) == 0 {
		return trustschema.DelegationRecord{}, fmt.Errorf("capabilities_delegated must include at least one value")
	}
	normalized.Capabilities = capabilities
	normalized.ParentDelegationID = strings.TrimSpace(normalized.ParentDelegationID)
	return normalized, nil
}
