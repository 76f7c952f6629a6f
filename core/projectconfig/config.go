package projectconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

const DefaultPath = ".eatp/config.yaml"

type Config struct {
	Store  StoreDefaults  `yaml:"store"`
	Keys   KeyDefaults    `yaml:"keys"`
	Verify VerifyDefaults `yaml:"verify"`
}

type StoreDefaults struct {
	Root       string `yaml:"root"`
	LedgerPath string `yaml:"ledger_path"`
}

type KeyDefaults struct {
	KeyMode       string `yaml:"key_mode"`
	PrivateKey    string `yaml:"private_key"` // #nosec G117 -- config key name documents expected secret input.
	PrivateKeyEnv string `yaml:"private_key_env"`
	PublicKey     string `yaml:"public_key"`
	PublicKeyEnv  string `yaml:"public_key_env"`
}

type VerifyDefaults struct {
	Level              string `yaml:"level"`
	ExpiringSoonWindow string `yaml:"expiring_soon_window"`
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read project config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, fmt.Errorf("parse project config: %w", err)
	}
	configuration.normalize()
	return configuration, nil
}

func (configuration *Config) normalize() {
	configuration.Store.Root = strings.TrimSpace(configuration.Store.Root)
	configuration.Store.LedgerPath = strings.TrimSpace(configuration.Store.LedgerPath)
	configuration.Keys.KeyMode = strings.ToLower(strings.TrimSpace(configuration.Keys.KeyMode))
	configuration.Keys.PrivateKey = strings.TrimSpace(configuration.Keys.PrivateKey)
	configuration.Keys.PrivateKeyEnv = strings.TrimSpace(configuration.Keys.PrivateKeyEnv)
	configuration.Keys.PublicKey = strings.TrimSpace(configuration.Keys.PublicKey)
	configuration.Keys.PublicKeyEnv = strings.TrimSpace(configuration.Keys.PublicKeyEnv)
	configuration.Verify.Level = strings.ToLower(strings.TrimSpace(configuration.Verify.Level))
	configuration.Verify.ExpiringSoonWindow = strings.TrimSpace(configuration.Verify.ExpiringSoonWindow)
}
