package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/eatp-dev/eatp/core/ledger"
	"github.com/eatp-dev/eatp/core/projectconfig"
	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
	"github.com/eatp-dev/eatp/core/sign"
	"github.com/eatp-dev/eatp/core/store"
	"github.com/eatp-dev/eatp/core/trust"
)

const (
	defaultStoreRoot  = ".eatp/records"
	defaultLedgerPath = ".eatp/ledger.db"
)

// workspace resolves the record store and ledger a command operates on:
// explicit flags win, then project config, then defaults.
type workspace struct {
	config     projectconfig.Config
	store      *store.Store
	ledgerPath string
}

func openWorkspace(configPath, storeRoot, ledgerPath string) (*workspace, error) {
	resolvedConfigPath := strings.TrimSpace(configPath)
	allowMissing := resolvedConfigPath == ""
	if resolvedConfigPath == "" {
		resolvedConfigPath = projectconfig.DefaultPath
	}
	configuration, err := projectconfig.Load(resolvedConfigPath, allowMissing)
	if err != nil {
		return nil, err
	}

	root := strings.TrimSpace(storeRoot)
	if root == "" {
		root = configuration.Store.Root
	}
	if root == "" {
		root = defaultStoreRoot
	}
	recordStore, err := store.Open(root)
	if err != nil {
		return nil, err
	}

	resolvedLedgerPath := strings.TrimSpace(ledgerPath)
	if resolvedLedgerPath == "" {
		resolvedLedgerPath = configuration.Store.LedgerPath
	}
	if resolvedLedgerPath == "" {
		resolvedLedgerPath = filepath.Join(filepath.Dir(root), filepath.Base(defaultLedgerPath))
	}

	return &workspace{
		config:     configuration,
		store:      recordStore,
		ledgerPath: resolvedLedgerPath,
	}, nil
}

// signingKeyConfig merges key flags over the config keys section; explicit
// flags win. An empty mode after the merge falls back to dev.
func (w *workspace) signingKeyConfig(mode, privateKeyPath, privateKeyEnv string) sign.KeyConfig {
	cfg := sign.KeyConfig{
		Mode:           sign.KeyMode(strings.ToLower(strings.TrimSpace(mode))),
		PrivateKeyPath: strings.TrimSpace(privateKeyPath),
		PrivateKeyEnv:  strings.TrimSpace(privateKeyEnv),
	}
	if cfg.Mode == "" {
		cfg.Mode = sign.KeyMode(w.config.Keys.KeyMode)
	}
	if cfg.Mode == "" {
		cfg.Mode = sign.ModeDev
	}
	// A dev override must not inherit config key sources; dev signing
	// rejects explicit key material.
	if cfg.Mode != sign.ModeDev {
		cfg = cfg.WithDefaults(sign.KeyConfig{
			PrivateKeyPath: w.config.Keys.PrivateKey,
			PrivateKeyEnv:  w.config.Keys.PrivateKeyEnv,
		})
	}
	return cfg
}

// verifyKeyConfig merges public key flags over the config keys section. The
// config's private key is carried too so a private-only setup can still
// verify with the derived public half.
func (w *workspace) verifyKeyConfig(publicKeyPath, publicKeyEnv string) sign.KeyConfig {
	return sign.KeyConfig{
		PublicKeyPath: strings.TrimSpace(publicKeyPath),
		PublicKeyEnv:  strings.TrimSpace(publicKeyEnv),
	}.WithDefaults(sign.KeyConfig{
		PublicKeyPath:  w.config.Keys.PublicKey,
		PublicKeyEnv:   w.config.Keys.PublicKeyEnv,
		PrivateKeyPath: w.config.Keys.PrivateKey,
		PrivateKeyEnv:  w.config.Keys.PrivateKeyEnv,
	})
}

// recordAnchor mints the next anchor for an agent and writes it to both the
// ledger and the agent's chain. The chain may be nil for agents without a
// chain document (denied actions, authority targets).
func (w *workspace) recordAnchor(ctx context.Context, chain *trustschema.TrustChain, input trust.AnchorInput, now time.Time) (trustschema.AuditAnchor, error) {
	anchorLedger, err := ledger.Open(w.ledgerPath)
	if err != nil {
		return trustschema.AuditAnchor{}, err
	}
	defer anchorLedger.Close()

	var parent *trustschema.AuditAnchor
	if head, err := anchorLedger.Head(ctx, input.AgentID); err == nil {
		parent = &head
	}
	input.ProducerVersion = version
	anchor, err := trust.NewAnchor(input, parent, now)
	if err != nil {
		return trustschema.AuditAnchor{}, err
	}
	if err := anchorLedger.Append(ctx, anchor); err != nil {
		return trustschema.AuditAnchor{}, err
	}
	if chain != nil {
		chain.Anchors = append(chain.Anchors, anchor)
	}
	return anchor, nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseNowFlag pins command time. Preview/apply pairs pass the same value so
// both runs resolve against an identical clock.
func parseNowFlag(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --now, expected RFC3339: %w", err)
	}
	return parsed.UTC(), nil
}

func parseTTLFlag(value string, now time.Time) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	duration, err := time.ParseDuration(trimmed)
	if err != nil || duration <= 0 {
		return nil, fmt.Errorf("invalid --ttl, expected positive duration")
	}
	expiry := now.Add(duration)
	return &expiry, nil
}
