package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/eatp-dev/eatp/core/jcs"
	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

const AlgEd25519 = "ed25519"

type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// SignRecord canonicalizes a JSON payload (RFC 8785), signs its sha256 digest,
// and returns the signature envelope stored on trust records.
func SignRecord(priv ed25519.PrivateKey, payload []byte) (trustschema.Signature, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return trustschema.Signature{}, fmt.Errorf("invalid private key length: %d", len(priv))
	}
	digestHex, err := jcs.DigestBytes(payload)
	if err != nil {
		return trustschema.Signature{}, fmt.Errorf("digest payload: %w", err)
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return trustschema.Signature{}, fmt.Errorf("decode digest: %w", err)
	}
	raw := ed25519.Sign(priv, digest)
	return trustschema.Signature{
		Alg:          AlgEd25519,
		KeyID:        KeyID(priv.Public().(ed25519.PublicKey)),
		Sig:          base64.StdEncoding.EncodeToString(raw),
		SignedDigest: digestHex,
	}, nil
}

// VerifyRecord checks a signature envelope against a JSON payload using one
// explicit public key. Engine code should depend on the Verifier interface
// instead; this is the ed25519 implementation underneath it.
func VerifyRecord(pub ed25519.PublicKey, sig trustschema.Signature, payload []byte) (bool, error) {
	if sig.Alg != AlgEd25519 {
		return false, fmt.Errorf("unsupported alg: %s", sig.Alg)
	}
	if sig.KeyID != "" && sig.KeyID != KeyID(pub) {
		return false, fmt.Errorf("key id mismatch")
	}
	digestHex, err := jcs.DigestBytes(payload)
	if err != nil {
		return false, fmt.Errorf("digest payload: %w", err)
	}
	if sig.SignedDigest != "" && sig.SignedDigest != digestHex {
		return false, fmt.Errorf("signed digest mismatch")
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return false, fmt.Errorf("decode digest: %w", err)
	}
	rawSig, err := base64.StdEncoding.DecodeString(sig.Sig)
	if err != nil {
		return false, fmt.Errorf("decode sig: %w", err)
	}
	if len(rawSig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature length: %d", len(rawSig))
	}
	return ed25519.Verify(pub, digest, rawSig), nil
}

func LoadPrivateKeyBase64(path string) (ed25519.PrivateKey, error) {
	// #nosec G304 -- caller supplies local key path by design
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKeyBase64(strings.TrimSpace(string(b)))
}

func LoadPublicKeyBase64(path string) (ed25519.PublicKey, error) {
	// #nosec G304 -- caller supplies local key path by design
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParsePublicKeyBase64(strings.TrimSpace(string(b)))
}

func ParsePrivateKeyBase64(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if l := len(raw); l != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d", l)
	}
	return ed25519.PrivateKey(raw), nil
}

func PublicKeyBase64(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

func PrivateKeyBase64(priv ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(priv)
}

func ParsePublicKeyBase64(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if l := len(raw); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", l)
	}
	return ed25519.PublicKey(raw), nil
}
