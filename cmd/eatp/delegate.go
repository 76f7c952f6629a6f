package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
	"github.com/eatp-dev/eatp/core/sign"
	"github.com/eatp-dev/eatp/core/trust"
)

type delegateOutput struct {
	OK           bool     `json:"ok"`
	DelegationID string   `json:"delegation_id,omitempty"`
	DelegatorID  string   `json:"delegator_id,omitempty"`
	DelegateeID  string   `json:"delegatee_id,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	TaskID       string   `json:"task_id,omitempty"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
	ChainHash    string   `json:"chain_hash,omitempty"`
	AnchorID     string   `json:"anchor_id,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	ErrorCode    string   `json:"error_code,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func runDelegate(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Validate a proposed delegation against the trust record set and persist it on acceptance. Delegations can only pass capabilities the delegator holds, under equal-or-tighter constraints, within parent expiry bounds, without cycles.")
	}
	flagSet := flag.NewFlagSet("delegate", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var delegatorID string
	var delegateeID string
	var capabilities string
	var taskID string
	var parentDelegationID string
	var constraintsPath string
	var ttl string
	var nowFlag string
	var keyMode string
	var privateKeyPath string
	var privateKeyEnv string
	var configPath string
	var storeRoot string
	var ledgerPath string
	var anchorDenied bool
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&delegatorID, "delegator", "", "delegating agent id")
	flagSet.StringVar(&delegateeID, "delegatee", "", "receiving agent id")
	flagSet.StringVar(&capabilities, "capabilities", "", "comma-separated capabilities to delegate")
	flagSet.StringVar(&taskID, "task", "", "task id the delegation is scoped to")
	flagSet.StringVar(&parentDelegationID, "parent", "", "parent delegation id for sub-delegation")
	flagSet.StringVar(&constraintsPath, "constraints", "", "path to JSON constraint subset")
	flagSet.StringVar(&ttl, "ttl", "", "delegation ttl (for example 1h)")
	flagSet.StringVar(&nowFlag, "now", "", "pin command time (RFC3339)")
	flagSet.StringVar(&keyMode, "key-mode", "", "signing key mode: dev or prod (default dev, config keys.key_mode overrides)")
	flagSet.StringVar(&privateKeyPath, "private-key", "", "path to base64 private signing key")
	flagSet.StringVar(&privateKeyEnv, "private-key-env", "", "env var containing base64 private signing key")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	flagSet.StringVar(&storeRoot, "store", "", "record store root")
	flagSet.StringVar(&ledgerPath, "ledger", "", "audit ledger path")
	flagSet.BoolVar(&anchorDenied, "anchor-denied", false, "record a denied audit anchor when the delegation is rejected")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitInvalidInput)
	}
	if helpFlag {
		printDelegateUsage()
		return exitOK
	}

	now, err := parseNowFlag(nowFlag)
	if err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitInvalidInput)
	}
	expiresAt, err := parseTTLFlag(ttl, now)
	if err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitInvalidInput)
	}
	constraintSubset, err := loadConstraintSubset(constraintsPath)
	if err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitInvalidInput)
	}

	ws, err := openWorkspace(configPath, storeRoot, ledgerPath)
	if err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	snapshot, err := ws.store.Snapshot()
	if err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}

	candidate := trustschema.DelegationRecord{
		SchemaID:           trustschema.DelegationSchemaID,
		SchemaVersion:      trustschema.SchemaV1,
		CreatedAt:          now,
		ProducerVersion:    version,
		DelegationID:       "del-" + uuid.NewString(),
		DelegatorID:        strings.TrimSpace(delegatorID),
		DelegateeID:        strings.TrimSpace(delegateeID),
		TaskID:             strings.TrimSpace(taskID),
		Capabilities:       parseCSV(capabilities),
		ConstraintSubset:   constraintSubset,
		ParentDelegationID: strings.TrimSpace(parentDelegationID),
		ExpiresAt:          expiresAt,
		Status:             trustschema.RecordStatusActive,
	}

	if err := trust.ValidateDelegation(candidate, snapshot, now); err != nil {
		output := delegateOutput{
			DelegatorID: candidate.DelegatorID,
			DelegateeID: candidate.DelegateeID,
			ErrorCode:   errorCodeOf(err),
			Error:       err.Error(),
		}
		if anchorDenied {
			anchor, anchorErr := ws.recordAnchor(context.Background(), nil, trust.AnchorInput{
				AgentID:   candidate.DelegatorID,
				Action:    trustschema.AnchorActionDelegate,
				ActorID:   candidate.DelegatorID,
				Result:    trustschema.AnchorResultDenied,
				ChainHash: "",
			}, now)
			if anchorErr == nil {
				output.AnchorID = anchor.AnchorID
			}
		}
		return writeDelegateOutput(jsonOutput, output, exitCodeForError(err, exitDelegationBlocked))
	}

	keyPair, warnings, err := sign.LoadSigningKey(ws.signingKeyConfig(keyMode, privateKeyPath, privateKeyEnv))
	if err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitInvalidInput)
	}
	if err := signDelegation(&candidate, keyPair); err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitInternalFailure)
	}

	chain, err := ws.store.LoadChain(candidate.DelegatorID)
	if err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	chain.Delegations = append(chain.Delegations, candidate)
	chain, err = trust.RebuildChain(chain, now)
	if err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitInternalFailure)
	}

	anchor, err := ws.recordAnchor(context.Background(), &chain, trust.AnchorInput{
		AgentID:   candidate.DelegatorID,
		Action:    trustschema.AnchorActionDelegate,
		ActorID:   candidate.DelegatorID,
		Result:    trustschema.AnchorResultAccepted,
		ChainHash: chain.ChainHash,
	}, now)
	if err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitInternalFailure)
	}
	chain, err = trust.RebuildChain(chain, now)
	if err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitInternalFailure)
	}
	if err := ws.store.SaveChain(chain); err != nil {
		return writeDelegateOutput(jsonOutput, delegateOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}

	output := delegateOutput{
		OK:           true,
		DelegationID: candidate.DelegationID,
		DelegatorID:  candidate.DelegatorID,
		DelegateeID:  candidate.DelegateeID,
		Capabilities: candidate.Capabilities,
		TaskID:       candidate.TaskID,
		ChainHash:    chain.ChainHash,
		AnchorID:     anchor.AnchorID,
		Warnings:     warnings,
	}
	if candidate.ExpiresAt != nil {
		output.ExpiresAt = candidate.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return writeDelegateOutput(jsonOutput, output, exitOK)
}

func signDelegation(delegation *trustschema.DelegationRecord, keyPair sign.KeyPair) error {
	signable := *delegation
	signable.Signature = nil
	payload, err := json.Marshal(signable)
	if err != nil {
		return fmt.Errorf("encode delegation: %w", err)
	}
	signature, err := sign.SignRecord(keyPair.Private, payload)
	if err != nil {
		return fmt.Errorf("sign delegation: %w", err)
	}
	delegation.Signature = &signature
	return nil
}

func loadConstraintSubset(path string) ([]trustschema.Constraint, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	// #nosec G304 -- constraint file path is explicit local user input.
	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("read constraints: %w", err)
	}
	var constraints []trustschema.Constraint
	if err := json.Unmarshal(raw, &constraints); err != nil {
		return nil, fmt.Errorf("parse constraints: %w", err)
	}
	return constraints, nil
}

func writeDelegateOutput(jsonOutput bool, output delegateOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		if output.ErrorCode != "" {
			fmt.Printf("delegation rejected (%s): %s\n", output.ErrorCode, output.Error)
		} else {
			fmt.Println("delegate failed:", output.Error)
		}
		return exitCode
	}
	fmt.Printf("delegation %s recorded: %s -> %s (%s)\n",
		output.DelegationID, output.DelegatorID, output.DelegateeID, strings.Join(output.Capabilities, ", "))
	for _, warning := range output.Warnings {
		fmt.Println("warning:", warning)
	}
	return exitCode
}

func printDelegateUsage() {
	fmt.Println(`usage: eatp delegate --delegator <id> --delegatee <id> --capabilities <list> [flags]

flags:
  --delegator         delegating agent id (required)
  --delegatee         receiving agent id (required)
  --capabilities      comma-separated capabilities to delegate (required)
  --task              task id the delegation is scoped to
  --parent            parent delegation id for sub-delegation
  --constraints       path to JSON constraint subset
  --ttl               delegation ttl, for example 1h
  --now               pin command time (RFC3339)
  --key-mode          dev or prod (default dev; config keys section overrides)
  --private-key       path to base64 private signing key
  --private-key-env   env var containing base64 private signing key
  --config            project config path
  --store             record store root
  --ledger            audit ledger path
  --anchor-denied     record a denied audit anchor on rejection
  --json              emit JSON output`)
}
