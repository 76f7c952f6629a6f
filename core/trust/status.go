package trust

import (
	"fmt"
	"strings"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

// Status is the resolved trust state of an agent. The zero value is
// StatusInvalid so an unset status never reads as trusted.
type Status int

const (
	StatusInvalid Status = iota
	StatusPending
	StatusValid
	StatusExpired
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "invalid"
	case StatusPending:
		return "pending"
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	case StatusRevoked:
		return "revoked"
	default:
		return "invalid"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Status) UnmarshalJSON(data []byte) error {
	parsed, err := ParseStatus(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "invalid":
		return StatusInvalid, nil
	case "pending":
		return StatusPending, nil
	case "valid":
		return StatusValid, nil
	case "expired":
		return StatusExpired, nil
	case "revoked":
		return StatusRevoked, nil
	default:
		return StatusInvalid, fmt.Errorf("unknown trust status: %q", value)
	}
}

// RevocationSet is the revocation-marker lookup supplied by the record source.
type RevocationSet map[string]trustschema.RevocationMarker

func NewRevocationSet(markers []trustschema.RevocationMarker) RevocationSet {
	set := make(RevocationSet, len(markers))
	for _, marker := range markers {
		id := strings.TrimSpace(marker.TargetID)
		if id == "" {
			continue
		}
		// First marker wins; re-revoking does not move the revocation time.
		if _, ok := set[id]; !ok {
			set[id] = marker
		}
	}
	return set
}

func (s RevocationSet) Has(targetID string) bool {
	_, ok := s[targetID]
	return ok
}

func (s RevocationSet) Lookup(targetID string) (trustschema.RevocationMarker, bool) {
	marker, ok := s[targetID]
	return marker, ok
}

// ResolveStatus computes the trust status of one agent's chain at an explicit
// time. Pure function of its inputs: identical chain, markers, and now always
// produce the same status.
//
// Priority order: revocation wins over everything, then genesis expiry, then
// structural validity, then the pending (unattested) state.
func ResolveStatus(chain trustschema.TrustChain, revoked RevocationSet, now time.Time) Status {
	if revoked.Has(chain.AgentID) || revoked.Has(chain.Genesis.AuthorityID) {
		return StatusRevoked
	}
	if expired(chain.Genesis.ExpiresAt, now) {
		return StatusExpired
	}
	if !genesisStructurallyValid(chain) {
		return StatusInvalid
	}
	if len(chain.Capabilities) == 0 {
		return StatusPending
	}
	return StatusValid
}

func genesisStructurallyValid(chain trustschema.TrustChain) bool {
	genesis := chain.Genesis
	if strings.TrimSpace(genesis.AgentID) == "" || strings.TrimSpace(genesis.AuthorityID) == "" {
		return false
	}
	if chain.AgentID != "" && genesis.AgentID != chain.AgentID {
		return false
	}
	if genesis.Signature == nil || strings.TrimSpace(genesis.Signature.Sig) == "" {
		return false
	}
	return true
}

func expired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && !expiresAt.IsZero() && !now.Before(expiresAt.UTC())
}
