package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/eatp-dev/eatp/core/errors"
	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
	"github.com/eatp-dev/eatp/core/sign"
	"github.com/eatp-dev/eatp/core/trust"
)

type establishOutput struct {
	OK           bool     `json:"ok"`
	AgentID      string   `json:"agent_id,omitempty"`
	AuthorityID  string   `json:"authority_id,omitempty"`
	Status       string   `json:"status,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	ChainHash    string   `json:"chain_hash,omitempty"`
	AnchorID     string   `json:"anchor_id,omitempty"`
	KeyID        string   `json:"key_id,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	ErrorCode    string   `json:"error_code,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func runEstablish(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Create an agent's trust chain: a signed genesis record from an establishing authority, optional initial capability attestations, and the first audit anchor.")
	}
	flagSet := flag.NewFlagSet("establish", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var agentID string
	var authorityID string
	var authorityName string
	var authorityType string
	var capabilities string
	var capabilityType string
	var ttl string
	var nowFlag string
	var keyMode string
	var privateKeyPath string
	var privateKeyEnv string
	var configPath string
	var storeRoot string
	var ledgerPath string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&agentID, "agent", "", "agent id to establish")
	flagSet.StringVar(&authorityID, "authority", "", "establishing authority id")
	flagSet.StringVar(&authorityName, "authority-name", "", "authority display name")
	flagSet.StringVar(&authorityType, "authority-type", trustschema.AuthorityTypeOrganization, "authority type: organization|system|human")
	flagSet.StringVar(&capabilities, "capabilities", "", "comma-separated initial capabilities")
	flagSet.StringVar(&capabilityType, "capability-type", trustschema.CapabilityTypeAction, "capability type: access|action|delegation")
	flagSet.StringVar(&ttl, "ttl", "", "genesis ttl (for example 720h); empty means no expiry")
	flagSet.StringVar(&nowFlag, "now", "", "pin command time (RFC3339)")
	flagSet.StringVar(&keyMode, "key-mode", "", "signing key mode: dev or prod (default dev, config keys.key_mode overrides)")
	flagSet.StringVar(&privateKeyPath, "private-key", "", "path to base64 private signing key")
	flagSet.StringVar(&privateKeyEnv, "private-key-env", "", "env var containing base64 private signing key")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	flagSet.StringVar(&storeRoot, "store", "", "record store root")
	flagSet.StringVar(&ledgerPath, "ledger", "", "audit ledger path")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitInvalidInput)
	}
	if helpFlag {
		printEstablishUsage()
		return exitOK
	}

	agentID = strings.TrimSpace(agentID)
	authorityID = strings.TrimSpace(authorityID)
	if agentID == "" || authorityID == "" {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: "--agent and --authority are required"}, exitInvalidInput)
	}
	if !validAuthorityType(authorityType) {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: fmt.Sprintf("invalid --authority-type %q", authorityType)}, exitInvalidInput)
	}
	now, err := parseNowFlag(nowFlag)
	if err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitInvalidInput)
	}
	expiresAt, err := parseTTLFlag(ttl, now)
	if err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitInvalidInput)
	}

	ws, err := openWorkspace(configPath, storeRoot, ledgerPath)
	if err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	if _, err := ws.store.LoadChain(agentID); err == nil {
		return writeEstablishOutput(jsonOutput, establishOutput{
			AgentID:   agentID,
			ErrorCode: "agent_already_established",
			Error:     fmt.Sprintf("agent %s already has a trust chain", agentID),
		}, exitInvalidInput)
	} else if coreerrors.CategoryOf(err) != coreerrors.CategoryInvalidInput {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}

	keyPair, warnings, err := sign.LoadSigningKey(ws.signingKeyConfig(keyMode, privateKeyPath, privateKeyEnv))
	if err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitInvalidInput)
	}

	genesis := trustschema.GenesisRecord{
		SchemaID:        trustschema.GenesisSchemaID,
		SchemaVersion:   trustschema.SchemaV1,
		CreatedAt:       now,
		ProducerVersion: version,
		AgentID:         agentID,
		AuthorityID:     authorityID,
		AuthorityType:   authorityType,
		ExpiresAt:       expiresAt,
	}
	if err := signGenesis(&genesis, keyPair); err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitInternalFailure)
	}

	chain, err := trust.NewChain(genesis, version, now)
	if err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitInternalFailure)
	}

	capabilityNames := parseCSV(capabilities)
	for _, capability := range capabilityNames {
		attestation := trustschema.CapabilityAttestation{
			SchemaID:        trustschema.AttestationSchemaID,
			SchemaVersion:   trustschema.SchemaV1,
			CreatedAt:       now,
			ProducerVersion: version,
			AttestationID:   "att-" + uuid.NewString(),
			AgentID:         agentID,
			Capability:      capability,
			CapabilityType:  capabilityType,
			AttestedBy:      authorityID,
			Status:          trustschema.RecordStatusActive,
		}
		if err := signAttestation(&attestation, keyPair); err != nil {
			return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitInternalFailure)
		}
		chain.Capabilities = append(chain.Capabilities, attestation)
	}
	chain, err = trust.RebuildChain(chain, now)
	if err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitInternalFailure)
	}

	anchor, err := ws.recordAnchor(context.Background(), &chain, trust.AnchorInput{
		AgentID:   agentID,
		Action:    trustschema.AnchorActionEstablish,
		ActorID:   authorityID,
		Result:    trustschema.AnchorResultAccepted,
		ChainHash: chain.ChainHash,
	}, now)
	if err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitInternalFailure)
	}
	chain, err = trust.RebuildChain(chain, now)
	if err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitInternalFailure)
	}
	if err := ws.store.SaveChain(chain); err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	if err := upsertAuthority(ws, authorityID, authorityName, authorityType, keyPair, now); err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}

	snapshot, err := ws.store.Snapshot()
	if err != nil {
		return writeEstablishOutput(jsonOutput, establishOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	return writeEstablishOutput(jsonOutput, establishOutput{
		OK:           true,
		AgentID:      agentID,
		AuthorityID:  authorityID,
		Status:       snapshot.Status(agentID, now).String(),
		Capabilities: capabilityNames,
		ChainHash:    chain.ChainHash,
		AnchorID:     anchor.AnchorID,
		KeyID:        sign.KeyID(keyPair.Public),
		Warnings:     warnings,
	}, exitOK)
}

func signGenesis(genesis *trustschema.GenesisRecord, keyPair sign.KeyPair) error {
	signable := *genesis
	signable.Signature = nil
	payload, err := json.Marshal(signable)
	if err != nil {
		return fmt.Errorf("encode genesis: %w", err)
	}
	signature, err := sign.SignRecord(keyPair.Private, payload)
	if err != nil {
		return fmt.Errorf("sign genesis: %w", err)
	}
	genesis.Signature = &signature
	return nil
}

func signAttestation(attestation *trustschema.CapabilityAttestation, keyPair sign.KeyPair) error {
	signable := *attestation
	signable.Signature = nil
	payload, err := json.Marshal(signable)
	if err != nil {
		return fmt.Errorf("encode attestation: %w", err)
	}
	signature, err := sign.SignRecord(keyPair.Private, payload)
	if err != nil {
		return fmt.Errorf("sign attestation: %w", err)
	}
	attestation.Signature = &signature
	return nil
}

func upsertAuthority(ws *workspace, authorityID, name, authorityType string, keyPair sign.KeyPair, now time.Time) error {
	authorities, err := ws.store.LoadAuthorities()
	if err != nil {
		return err
	}
	for _, authority := range authorities {
		if authority.AuthorityID == authorityID {
			return nil
		}
	}
	authorities = append(authorities, trustschema.Authority{
		SchemaID:      trustschema.AuthoritySchemaID,
		SchemaVersion: trustschema.SchemaV1,
		CreatedAt:     now,
		AuthorityID:   authorityID,
		Name:          strings.TrimSpace(name),
		Type:          authorityType,
		PublicKey:     sign.PublicKeyBase64(keyPair.Public),
	})
	return ws.store.SaveAuthorities(authorities)
}

func validAuthorityType(authorityType string) bool {
	switch authorityType {
	case trustschema.AuthorityTypeOrganization, trustschema.AuthorityTypeSystem, trustschema.AuthorityTypeHuman:
		return true
	}
	return false
}

func writeEstablishOutput(jsonOutput bool, output establishOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Println("establish failed:", output.Error)
		return exitCode
	}
	fmt.Printf("established %s under %s (status %s, %d capabilities)\n",
		output.AgentID, output.AuthorityID, output.Status, len(output.Capabilities))
	for _, warning := range output.Warnings {
		fmt.Println("warning:", warning)
	}
	return exitCode
}

func printEstablishUsage() {
	fmt.Println(`usage: eatp establish --agent <id> --authority <id> [flags]

flags:
  --agent             agent id to establish (required)
  --authority         establishing authority id (required)
  --authority-name    authority display name
  --authority-type    organization|system|human (default organization)
  --capabilities      comma-separated initial capabilities
  --capability-type   access|action|delegation (default action)
  --ttl               genesis ttl, for example 720h
  --now               pin command time (RFC3339)
  --key-mode          dev or prod (default dev; config keys section overrides)
  --private-key       path to base64 private signing key
  --private-key-env   env var containing base64 private signing key
  --config            project config path (default .eatp/config.yaml)
  --store             record store root (default .eatp/records)
  --ledger            audit ledger path (default .eatp/ledger.db)
  --json              emit JSON output`)
}
