package trust

import "time"

// Schema identifiers for persisted EATP records. Records carry their own
// schema header so stored documents stay self-describing across versions.
const (
	GenesisSchemaID     = "eatp.trust.genesis_record"
	AttestationSchemaID = "eatp.trust.capability_attestation"
	DelegationSchemaID  = "eatp.trust.delegation_record"
	AnchorSchemaID      = "eatp.trust.audit_anchor"
	ChainSchemaID       = "eatp.trust.trust_chain"
	AuthoritySchemaID   = "eatp.trust.authority"
	RevocationSchemaID  = "eatp.trust.revocation_marker"

	SchemaV1 = "1.0.0"
)

// Authority types permitted to establish trust for agents.
const (
	AuthorityTypeOrganization = "organization"
	AuthorityTypeSystem       = "system"
	AuthorityTypeHuman        = "human"
)

// Capability types.
const (
	CapabilityTypeAccess     = "access"
	CapabilityTypeAction     = "action"
	CapabilityTypeDelegation = "delegation"
)

// Constraint types.
const (
	ConstraintResourceLimit     = "resource_limit"
	ConstraintTimeWindow        = "time_window"
	ConstraintDataScope         = "data_scope"
	ConstraintActionRestriction = "action_restriction"
)

// Record statuses. Revocation marks status, it never deletes records.
const (
	RecordStatusActive  = "active"
	RecordStatusRevoked = "revoked"
)

// Revocation target kinds.
const (
	TargetKindAgent     = "agent"
	TargetKindAuthority = "authority"
)

// Audit anchor actions and results.
const (
	AnchorActionEstablish = "establish"
	AnchorActionDelegate  = "delegate"
	AnchorActionRevoke    = "revoke"
	AnchorActionAudit     = "audit"

	AnchorResultAccepted = "accepted"
	AnchorResultDenied   = "denied"
)

type Signature struct {
	Alg          string `json:"alg"`
	KeyID        string `json:"key_id"`
	Sig          string `json:"sig"`
	SignedDigest string `json:"signed_digest,omitempty"`
}

// GenesisRecord is the root of trust for one agent. Exactly one exists per
// agent and it is immutable once created.
type GenesisRecord struct {
	SchemaID        string     `json:"schema_id"`
	SchemaVersion   string     `json:"schema_version"`
	CreatedAt       time.Time  `json:"created_at"`
	ProducerVersion string     `json:"producer_version"`
	AgentID         string     `json:"agent_id"`
	AuthorityID     string     `json:"authority_id"`
	AuthorityType   string     `json:"authority_type"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Signature       *Signature `json:"signature,omitempty"`
}

// Constraint is one behavioral limit on an agent. The populated fields depend
// on Type; window times are "HH:MM" in UTC.
type Constraint struct {
	ConstraintID   string   `json:"constraint_id"`
	Type           string   `json:"type"`
	Resource       string   `json:"resource,omitempty"`
	MaxValue       float64  `json:"max_value,omitempty"`
	WindowStart    string   `json:"window_start,omitempty"`
	WindowEnd      string   `json:"window_end,omitempty"`
	ScopePrefixes  []string `json:"scope_prefixes,omitempty"`
	AllowedActions []string `json:"allowed_actions,omitempty"`
}

// CapabilityAttestation grants one capability to an agent. Attestations are
// append-only; revocation flips Status to revoked.
type CapabilityAttestation struct {
	SchemaID        string       `json:"schema_id"`
	SchemaVersion   string       `json:"schema_version"`
	CreatedAt       time.Time    `json:"created_at"`
	ProducerVersion string       `json:"producer_version"`
	AttestationID   string       `json:"attestation_id"`
	AgentID         string       `json:"agent_id"`
	Capability      string       `json:"capability"`
	CapabilityType  string       `json:"capability_type"`
	Constraints     []Constraint `json:"constraints,omitempty"`
	AttestedBy      string       `json:"attested_by"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	Status          string       `json:"status"`
	Signature       *Signature   `json:"signature,omitempty"`
}

// DelegationRecord records a delegator passing a subset of its capabilities to
// a delegatee for a task. ParentDelegationID links sub-delegations into a tree.
type DelegationRecord struct {
	SchemaID           string       `json:"schema_id"`
	SchemaVersion      string       `json:"schema_version"`
	CreatedAt          time.Time    `json:"created_at"`
	ProducerVersion    string       `json:"producer_version"`
	DelegationID       string       `json:"delegation_id"`
	DelegatorID        string       `json:"delegator_id"`
	DelegateeID        string       `json:"delegatee_id"`
	TaskID             string       `json:"task_id,omitempty"`
	Capabilities       []string     `json:"capabilities_delegated"`
	ConstraintSubset   []Constraint `json:"constraint_subset,omitempty"`
	ParentDelegationID string       `json:"parent_delegation_id,omitempty"`
	ExpiresAt          *time.Time   `json:"expires_at,omitempty"`
	Status             string       `json:"status"`
	Signature          *Signature   `json:"signature,omitempty"`
}

// ConstraintEnvelope is the derived aggregate of all active constraints for an
// agent at a point in time. It is rebuilt, never patched.
type ConstraintEnvelope struct {
	AgentID     string       `json:"agent_id"`
	ComputedAt  time.Time    `json:"computed_at"`
	Constraints []Constraint `json:"constraints"`
}

// AuditAnchor links an action to the chain hash that authorized it. Anchors
// form a hash-linked chain through ParentAnchorID and ParentAnchorHash.
type AuditAnchor struct {
	SchemaID         string    `json:"schema_id"`
	SchemaVersion    string    `json:"schema_version"`
	CreatedAt        time.Time `json:"created_at"`
	ProducerVersion  string    `json:"producer_version"`
	AnchorID         string    `json:"anchor_id"`
	AgentID          string    `json:"agent_id"`
	Action           string    `json:"action"`
	ActorID          string    `json:"actor_id,omitempty"`
	Result           string    `json:"result"`
	ChainHash        string    `json:"chain_hash"`
	ParentAnchorID   string    `json:"parent_anchor_id,omitempty"`
	ParentAnchorHash string    `json:"parent_anchor_hash,omitempty"`
	AnchorHash       string    `json:"anchor_hash,omitempty"`
}

// TrustChain is the aggregate root owned per agent: one genesis record plus
// ordered capability, delegation, and anchor lists, the derived constraint
// envelope, and a chain hash over the whole structure.
type TrustChain struct {
	SchemaID        string                  `json:"schema_id"`
	SchemaVersion   string                  `json:"schema_version"`
	CreatedAt       time.Time               `json:"created_at"`
	ProducerVersion string                  `json:"producer_version"`
	AgentID         string                  `json:"agent_id"`
	Genesis         GenesisRecord           `json:"genesis"`
	Capabilities    []CapabilityAttestation `json:"capabilities,omitempty"`
	Delegations     []DelegationRecord      `json:"delegations,omitempty"`
	Anchors         []AuditAnchor           `json:"audit_anchors,omitempty"`
	Envelope        *ConstraintEnvelope     `json:"constraint_envelope,omitempty"`
	ChainHash       string                  `json:"chain_hash,omitempty"`
}

// Authority issues genesis records. Agents reference authorities by id only.
type Authority struct {
	SchemaID      string    `json:"schema_id"`
	SchemaVersion string    `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	AuthorityID   string    `json:"authority_id"`
	Name          string    `json:"name,omitempty"`
	Type          string    `json:"type"`
	PublicKey     string    `json:"public_key,omitempty"`
}

// RevocationMarker records that an agent or authority has been revoked. The
// underlying records stay in place; status derivations must honor the marker.
type RevocationMarker struct {
	SchemaID      string    `json:"schema_id"`
	SchemaVersion string    `json:"schema_version"`
	TargetID      string    `json:"target_id"`
	TargetKind    string    `json:"target_kind"`
	Reason        string    `json:"reason,omitempty"`
	RevokedAt     time.Time `json:"revoked_at"`
	RevokedBy     string    `json:"revoked_by,omitempty"`
}
