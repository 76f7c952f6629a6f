package sign

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"
)

// KeyMode selects how a command obtains signing key material. Dev mode mints
// an ephemeral keypair per invocation so records can be produced without any
// provisioning; prod mode loads operator-provisioned base64 keys.
type KeyMode string

const (
	ModeDev  KeyMode = "dev"
	ModeProd KeyMode = "prod"
)

const DevKeyWarning = "dev mode: ephemeral keypair generated; signatures will not verify across machines"

// KeyConfig is the resolved key material configuration of one command: mode
// plus at most one source per key. Empty fields can be filled from project
// config via WithDefaults before loading.
type KeyConfig struct {
	Mode           KeyMode
	PrivateKeyPath string
	PublicKeyPath  string
	PrivateKeyEnv  string
	PublicKeyEnv   string
}

// WithDefaults overlays defaults (typically the project config keys section)
// under cfg. Fields already set on cfg win, so explicit flags always beat
// config.
func (cfg KeyConfig) WithDefaults(defaults KeyConfig) KeyConfig {
	if cfg.Mode == "" {
		cfg.Mode = defaults.Mode
	}
	if cfg.PrivateKeyPath == "" {
		cfg.PrivateKeyPath = defaults.PrivateKeyPath
	}
	if cfg.PublicKeyPath == "" {
		cfg.PublicKeyPath = defaults.PublicKeyPath
	}
	if cfg.PrivateKeyEnv == "" {
		cfg.PrivateKeyEnv = defaults.PrivateKeyEnv
	}
	if cfg.PublicKeyEnv == "" {
		cfg.PublicKeyEnv = defaults.PublicKeyEnv
	}
	return cfg
}

func (cfg KeyConfig) privateSource() keySource {
	return keySource{name: "private", path: cfg.PrivateKeyPath, env: cfg.PrivateKeyEnv}
}

func (cfg KeyConfig) publicSource() keySource {
	return keySource{name: "public", path: cfg.PublicKeyPath, env: cfg.PublicKeyEnv}
}

// LoadSigningKey resolves the keypair trust records are signed with. An empty
// mode is treated as prod so that an unset config never silently downgrades
// to ephemeral keys.
func LoadSigningKey(cfg KeyConfig) (KeyPair, []string, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeProd
	}
	switch mode {
	case ModeDev:
		if cfg.privateSource().configured() || cfg.publicSource().configured() {
			return KeyPair{}, nil, fmt.Errorf("dev mode does not accept explicit key sources")
		}
		keyPair, err := GenerateKeyPair()
		if err != nil {
			return KeyPair{}, nil, err
		}
		return keyPair, []string{DevKeyWarning}, nil
	case ModeProd:
		return loadProdKeyPair(cfg)
	default:
		return KeyPair{}, nil, fmt.Errorf("unsupported key mode: %q", cfg.Mode)
	}
}

func loadProdKeyPair(cfg KeyConfig) (KeyPair, []string, error) {
	source := cfg.privateSource()
	if !source.configured() {
		return KeyPair{}, nil, fmt.Errorf("prod mode requires a private key source")
	}
	encoded, err := source.read()
	if err != nil {
		return KeyPair{}, nil, err
	}
	priv, err := ParsePrivateKeyBase64(encoded)
	if err != nil {
		return KeyPair{}, nil, err
	}
	pub := priv.Public().(ed25519.PublicKey)
	if publicSource := cfg.publicSource(); publicSource.configured() {
		loaded, err := readPublicKey(publicSource)
		if err != nil {
			return KeyPair{}, nil, err
		}
		if !loaded.Equal(pub) {
			return KeyPair{}, nil, fmt.Errorf("public key does not match private key")
		}
		pub = loaded
	}
	return KeyPair{Public: pub, Private: priv}, nil, nil
}

// LoadVerifyKey resolves the public key signature checks run against. A
// private-only config is accepted; the public half is derived from it.
func LoadVerifyKey(cfg KeyConfig) (ed25519.PublicKey, error) {
	if source := cfg.publicSource(); source.configured() {
		return readPublicKey(source)
	}
	if source := cfg.privateSource(); source.configured() {
		encoded, err := source.read()
		if err != nil {
			return nil, err
		}
		priv, err := ParsePrivateKeyBase64(encoded)
		if err != nil {
			return nil, err
		}
		return priv.Public().(ed25519.PublicKey), nil
	}
	return nil, fmt.Errorf("public key not configured")
}

// keySource is one key's provenance: a file path or an env var, never both.
type keySource struct {
	name string
	path string
	env  string
}

func (s keySource) configured() bool {
	return s.path != "" || s.env != ""
}

func (s keySource) read() (string, error) {
	if s.path != "" && s.env != "" {
		return "", fmt.Errorf("%s key source: set either path or env", s.name)
	}
	if s.path != "" {
		// #nosec G304 -- caller supplies local key path by design
		raw, err := os.ReadFile(s.path)
		if err != nil {
			return "", fmt.Errorf("read %s key: %w", s.name, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	value, ok := os.LookupEnv(s.env)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s key env not set: %s", s.name, s.env)
	}
	return strings.TrimSpace(value), nil
}

func readPublicKey(source keySource) (ed25519.PublicKey, error) {
	encoded, err := source.read()
	if err != nil {
		return nil, err
	}
	return ParsePublicKeyBase64(encoded)
}
