package trust

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

// SignatureVerifier is the cryptographic capability the engine consumes. The
// engine never verifies signatures itself; full-level validation asks the
// collaborator whether a record's envelope matches its payload.
type SignatureVerifier interface {
	VerifySignature(payload []byte, sig trustschema.Signature) bool
}

// VerificationLevel tunes validation thoroughness: quick resolves status and
// capability coverage only, standard adds constraint evaluation, full adds
// signature verification through the SignatureVerifier collaborator.
type VerificationLevel int

// The zero value is deliberately unnamed: a request that never sets a level
// is validated at LevelStandard, not at the cheapest level.
const (
	LevelQuick VerificationLevel = iota + 1
	LevelStandard
	LevelFull
)

func (l VerificationLevel) String() string {
	switch l {
	case LevelQuick:
		return "quick"
	case LevelStandard:
		return "standard"
	case LevelFull:
		return "full"
	default:
		return "standard"
	}
}

func ParseVerificationLevel(value string) (VerificationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "standard":
		return LevelStandard, nil
	case "quick":
		return LevelQuick, nil
	case "full":
		return LevelFull, nil
	default:
		return LevelStandard, fmt.Errorf("unknown verification level: %q", value)
	}
}

// PipelineRequest names the agents a pipeline runs and the capabilities each
// one needs. Resource and Amount describe the action context the agents'
// constraints are evaluated against.
type PipelineRequest struct {
	PipelineID string              `json:"pipeline_id"`
	AgentIDs   []string            `json:"agent_ids"`
	Required   map[string][]string `json:"required_capabilities"`
	Resource   string              `json:"resource,omitempty"`
	Amount     float64             `json:"amount,omitempty"`
	Level      VerificationLevel   `json:"-"`
	Verifier   SignatureVerifier   `json:"-"`
}

type AgentTrustStatus struct {
	AgentID              string                `json:"agent_id"`
	Status               Status                `json:"status"`
	MissingCapabilities  []string              `json:"missing_capabilities,omitempty"`
	ConstraintViolations []ConstraintViolation `json:"constraint_violations,omitempty"`
	SignatureErrors      []string              `json:"signature_errors,omitempty"`
	IsValid              bool                  `json:"is_valid"`
}

type PipelineTrustStatus struct {
	PipelineID      string             `json:"pipeline_id"`
	IsReady         bool               `json:"is_ready"`
	TotalAgents     int                `json:"total_agents"`
	TrustedAgents   int                `json:"trusted_agents"`
	UntrustedAgents int                `json:"untrusted_agents"`
	ExpiredAgents   int                `json:"expired_agents"`
	AgentStatuses   []AgentTrustStatus `json:"agent_statuses"`
}

// ValidatePipeline aggregates per-agent validation into a pipeline readiness
// verdict. It never mutates the snapshot or the request, so callers can re-run
// it after any trust change without resetting state, and agents could be
// validated independently and merged in request order.
func ValidatePipeline(request PipelineRequest, snapshot *Snapshot, now time.Time) PipelineTrustStatus {
	if request.Level == 0 {
		request.Level = LevelStandard
	}
	result := PipelineTrustStatus{
		PipelineID:    request.PipelineID,
		TotalAgents:   len(request.AgentIDs),
		AgentStatuses: make([]AgentTrustStatus, 0, len(request.AgentIDs)),
	}
	ready := len(request.AgentIDs) > 0
	for _, agentID := range request.AgentIDs {
		agentStatus := validateAgent(agentID, request, snapshot, now)
		result.AgentStatuses = append(result.AgentStatuses, agentStatus)
		if agentStatus.IsValid {
			result.TrustedAgents++
		} else {
			result.UntrustedAgents++
			ready = false
		}
		if agentStatus.Status == StatusExpired {
			result.ExpiredAgents++
		}
	}
	result.IsReady = ready
	return result
}

func validateAgent(agentID string, request PipelineRequest, snapshot *Snapshot, now time.Time) AgentTrustStatus {
	required := append([]string(nil), request.Required[agentID]...)
	sort.Strings(required)

	chain, ok := snapshot.Chain(agentID)
	if !ok {
		return AgentTrustStatus{
			AgentID:             agentID,
			Status:              StatusInvalid,
			MissingCapabilities: required,
		}
	}

	agentStatus := AgentTrustStatus{
		AgentID: agentID,
		Status:  ResolveStatus(chain, snapshot.Revocations(), now),
	}

	held := make(map[string]struct{})
	for _, capability := range snapshot.EffectiveCapabilities(agentID, now) {
		held[capability] = struct{}{}
	}
	for _, capability := range required {
		if _, ok := held[capability]; !ok {
			agentStatus.MissingCapabilities = append(agentStatus.MissingCapabilities, capability)
		}
	}

	if request.Level >= LevelStandard {
		agentStatus.ConstraintViolations = evaluateAgentConstraints(agentID, required, request, snapshot, now)
	}
	if request.Level >= LevelFull {
		agentStatus.SignatureErrors = verifyChainSignatures(chain, request.Verifier)
	}

	agentStatus.IsValid = agentStatus.Status == StatusValid &&
		len(agentStatus.MissingCapabilities) == 0 &&
		len(agentStatus.ConstraintViolations) == 0 &&
		len(agentStatus.SignatureErrors) == 0
	return agentStatus
}

func evaluateAgentConstraints(agentID string, required []string, request PipelineRequest, snapshot *Snapshot, now time.Time) []ConstraintViolation {
	constraints := snapshot.EffectiveConstraints(agentID, now)
	seen := make(map[string]struct{})
	var violations []ConstraintViolation
	for _, capability := range required {
		for _, violation := range EvaluateConstraints(constraints, ActionContext{
			Action:   capability,
			Resource: request.Resource,
			Amount:   request.Amount,
			Now:      now,
		}) {
			key := violation.ConstraintID + "|" + violation.Reason
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			violations = append(violations, violation)
		}
	}
	return violations
}

func verifyChainSignatures(chain trustschema.TrustChain, verifier SignatureVerifier) []string {
	if verifier == nil {
		return []string{"no signature verifier configured"}
	}
	var failures []string
	if !verifySignedRecord(verifier, signableGenesis(chain.Genesis), chain.Genesis.Signature) {
		failures = append(failures, fmt.Sprintf("genesis signature invalid for agent %s", chain.Genesis.AgentID))
	}
	for _, attestation := range chain.Capabilities {
		if attestation.Status != trustschema.RecordStatusActive {
			continue
		}
		if !verifySignedRecord(verifier, signableAttestation(attestation), attestation.Signature) {
			failures = append(failures, fmt.Sprintf("attestation signature invalid: %s", attestation.AttestationID))
		}
	}
	return failures
}

func verifySignedRecord(verifier SignatureVerifier, payload []byte, sig *trustschema.Signature) bool {
	if payload == nil || sig == nil {
		return false
	}
	return verifier.VerifySignature(payload, *sig)
}

// signableGenesis returns the canonical signing payload of a genesis record:
// the record with its signature field cleared.
func signableGenesis(genesis trustschema.GenesisRecord) []byte {
	signable := genesis
	signable.Signature = nil
	raw, err := json.Marshal(signable)
	if err != nil {
		return nil
	}
	return raw
}

func signableAttestation(attestation trustschema.CapabilityAttestation) []byte {
	signable := attestation
	signable.Signature = nil
	raw, err := json.Marshal(signable)
	if err != nil {
		return nil
	}
	return raw
}
