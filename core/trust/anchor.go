package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/eatp-dev/eatp/core/jcs"
	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

// AnchorInput describes one auditable action to anchor: what happened, to
// which agent, by whom, and the chain hash that was current when it happened.
type AnchorInput struct {
	AgentID         string
	Action          string
	ActorID         string
	Result          string
	ChainHash       string
	ProducerVersion string
}

// NewAnchor builds an audit anchor linked to its parent. Passing a nil parent
// starts a new anchor chain; otherwise the new anchor carries the parent's id
// and hash so tampering with any earlier anchor breaks every later link.
func NewAnchor(input AnchorInput, parent *trustschema.AuditAnchor, createdAt time.Time) (trustschema.AuditAnchor, error) {
	anchor := trustschema.AuditAnchor{
		SchemaID:        trustschema.AnchorSchemaID,
		SchemaVersion:   trustschema.SchemaV1,
		CreatedAt:       createdAt.UTC(),
		ProducerVersion: normalizeProducerVersion(input.ProducerVersion),
		AgentID:         input.AgentID,
		Action:          input.Action,
		ActorID:         input.ActorID,
		Result:          input.Result,
		ChainHash:       input.ChainHash,
	}
	if parent != nil {
		anchor.ParentAnchorID = parent.AnchorID
		anchor.ParentAnchorHash = parent.AnchorHash
	}
	anchor.AnchorID = anchorID(anchor)
	hash, err := anchorHash(anchor)
	if err != nil {
		return trustschema.AuditAnchor{}, err
	}
	anchor.AnchorHash = hash
	return anchor, nil
}

// VerifyAnchorChain checks an ordered anchor sequence: every anchor's hash
// must recompute and every anchor after the first must reference the one
// before it.
func VerifyAnchorChain(anchors []trustschema.AuditAnchor) error {
	for i, anchor := range anchors {
		computed, err := anchorHash(anchor)
		if err != nil {
			return err
		}
		if computed != anchor.AnchorHash {
			return fmt.Errorf("anchor %s hash mismatch: stored %s, computed %s", anchor.AnchorID, anchor.AnchorHash, computed)
		}
		if i == 0 {
			continue
		}
		previous := anchors[i-1]
		if anchor.ParentAnchorID != previous.AnchorID {
			return fmt.Errorf("anchor %s parent id %s does not match preceding anchor %s", anchor.AnchorID, anchor.ParentAnchorID, previous.AnchorID)
		}
		if anchor.ParentAnchorHash != previous.AnchorHash {
			return fmt.Errorf("anchor %s parent hash does not match preceding anchor %s", anchor.AnchorID, previous.AnchorID)
		}
	}
	return nil
}

// anchorID derives a stable short id from the anchor's identifying fields so
// replaying the same action at the same instant mints the same id.
func anchorID(anchor trustschema.AuditAnchor) string {
	material := strings.Join([]string{
		anchor.AgentID,
		anchor.Action,
		anchor.ActorID,
		anchor.Result,
		anchor.ChainHash,
		anchor.ParentAnchorID,
		anchor.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, "\n")
	sum := sha256.Sum256([]byte(material))
	return "anc-" + hex.EncodeToString(sum[:12])
}

func anchorHash(anchor trustschema.AuditAnchor) (string, error) {
	anchor.AnchorHash = ""
	return jcs.DigestValue(anchor)
}
