package sign

import (
	"crypto/ed25519"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

// Verifier is the signature-checking capability the trust engine consumes.
// The engine never implements cryptography itself; it asks a Verifier whether
// a record's signature envelope matches its payload.
type Verifier interface {
	VerifySignature(payload []byte, sig trustschema.Signature) bool
}

// KeyRing is the ed25519 Verifier: a set of trusted public keys addressed by
// key id. Unknown key ids and malformed envelopes verify as false.
type KeyRing struct {
	keys map[string]ed25519.PublicKey
}

func NewKeyRing(keys ...ed25519.PublicKey) *KeyRing {
	ring := &KeyRing{keys: make(map[string]ed25519.PublicKey, len(keys))}
	for _, key := range keys {
		ring.Add(key)
	}
	return ring
}

func (r *KeyRing) Add(pub ed25519.PublicKey) {
	if len(pub) != ed25519.PublicKeySize {
		return
	}
	r.keys[KeyID(pub)] = pub
}

func (r *KeyRing) Len() int {
	return len(r.keys)
}

func (r *KeyRing) VerifySignature(payload []byte, sig trustschema.Signature) bool {
	pub, ok := r.keys[sig.KeyID]
	if !ok {
		return false
	}
	valid, err := VerifyRecord(pub, sig, payload)
	return err == nil && valid
}
