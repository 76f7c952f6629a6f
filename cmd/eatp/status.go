package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/eatp-dev/eatp/core/sign"
	"github.com/eatp-dev/eatp/core/trust"
)

type agentStatusOutput struct {
	AgentID         string   `json:"agent_id"`
	Status          string   `json:"status"`
	AuthorityID     string   `json:"authority_id,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	ConstraintCount int      `json:"constraint_count,omitempty"`
	ExpiresAt       string   `json:"expires_at,omitempty"`
	SignatureErrors []string `json:"signature_errors,omitempty"`
}

type statusOutput struct {
	OK        bool                `json:"ok"`
	Agents    []agentStatusOutput `json:"agents,omitempty"`
	ErrorCode string              `json:"error_code,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func runStatus(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Resolve the trust status of one agent or every agent in the store: valid, pending, expired, revoked, or invalid, with effective capabilities. --verify-signatures additionally checks record signatures against a trusted public key.")
	}
	flagSet := flag.NewFlagSet("status", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var agentID string
	var nowFlag string
	var verifySignatures bool
	var publicKeyPath string
	var publicKeyEnv string
	var configPath string
	var storeRoot string
	var ledgerPath string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&agentID, "agent", "", "agent id; empty resolves every agent")
	flagSet.StringVar(&nowFlag, "now", "", "pin command time (RFC3339)")
	flagSet.BoolVar(&verifySignatures, "verify-signatures", false, "verify record signatures")
	flagSet.StringVar(&publicKeyPath, "public-key", "", "path to base64 public key for signature verification")
	flagSet.StringVar(&publicKeyEnv, "public-key-env", "", "env var containing base64 public key")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	flagSet.StringVar(&storeRoot, "store", "", "record store root")
	flagSet.StringVar(&ledgerPath, "ledger", "", "audit ledger path")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeStatusOutput(jsonOutput, statusOutput{Error: err.Error()}, exitInvalidInput)
	}
	if helpFlag {
		printStatusUsage()
		return exitOK
	}

	now, err := parseNowFlag(nowFlag)
	if err != nil {
		return writeStatusOutput(jsonOutput, statusOutput{Error: err.Error()}, exitInvalidInput)
	}

	ws, err := openWorkspace(configPath, storeRoot, ledgerPath)
	if err != nil {
		return writeStatusOutput(jsonOutput, statusOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	snapshot, err := ws.store.Snapshot()
	if err != nil {
		return writeStatusOutput(jsonOutput, statusOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}

	var verifier trust.SignatureVerifier
	if verifySignatures {
		publicKey, err := sign.LoadVerifyKey(ws.verifyKeyConfig(publicKeyPath, publicKeyEnv))
		if err != nil {
			return writeStatusOutput(jsonOutput, statusOutput{Error: err.Error()}, exitInvalidInput)
		}
		verifier = sign.NewKeyRing(publicKey)
	}

	agentID = strings.TrimSpace(agentID)
	var agentIDs []string
	if agentID != "" {
		if _, ok := snapshot.Chain(agentID); !ok {
			return writeStatusOutput(jsonOutput, statusOutput{
				ErrorCode: "chain_not_found",
				Error:     fmt.Sprintf("no trust chain for agent %s", agentID),
			}, exitInvalidInput)
		}
		agentIDs = []string{agentID}
	} else {
		for _, chain := range snapshot.Chains() {
			agentIDs = append(agentIDs, chain.AgentID)
		}
	}

	level := trust.LevelStandard
	if verifySignatures {
		level = trust.LevelFull
	}
	result := trust.ValidatePipeline(trust.PipelineRequest{
		AgentIDs: agentIDs,
		Level:    level,
		Verifier: verifier,
	}, snapshot, now)

	output := statusOutput{OK: true}
	allValid := true
	for _, agentStatus := range result.AgentStatuses {
		entry := agentStatusOutput{
			AgentID:         agentStatus.AgentID,
			Status:          agentStatus.Status.String(),
			Capabilities:    snapshot.EffectiveCapabilities(agentStatus.AgentID, now),
			ConstraintCount: len(snapshot.EffectiveConstraints(agentStatus.AgentID, now)),
			SignatureErrors: agentStatus.SignatureErrors,
		}
		if chain, ok := snapshot.Chain(agentStatus.AgentID); ok {
			entry.AuthorityID = chain.Genesis.AuthorityID
			if chain.Genesis.ExpiresAt != nil {
				entry.ExpiresAt = chain.Genesis.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00")
			}
		}
		if len(agentStatus.SignatureErrors) > 0 || agentStatus.Status != trust.StatusValid {
			allValid = false
		}
		output.Agents = append(output.Agents, entry)
	}

	exitCode := exitOK
	if verifySignatures && !allValid {
		exitCode = exitVerifyFailed
	}
	return writeStatusOutput(jsonOutput, output, exitCode)
}

func writeStatusOutput(jsonOutput bool, output statusOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Println("status failed:", output.Error)
		return exitCode
	}
	for _, agent := range output.Agents {
		fmt.Printf("%s: %s", agent.AgentID, agent.Status)
		if len(agent.Capabilities) > 0 {
			fmt.Printf(" [%s]", strings.Join(agent.Capabilities, ", "))
		}
		if agent.ExpiresAt != "" {
			fmt.Printf(" expires %s", agent.ExpiresAt)
		}
		fmt.Println()
		for _, signatureError := range agent.SignatureErrors {
			fmt.Println("  signature:", signatureError)
		}
	}
	return exitCode
}

func printStatusUsage() {
	fmt.Println(`usage: eatp status [--agent <id>] [flags]

flags:
  --agent              agent id; empty resolves every agent in the store
  --now                pin command time (RFC3339)
  --verify-signatures  verify record signatures (requires a public key source)
  --public-key         path to base64 public key
  --public-key-env     env var containing base64 public key
  --config             project config path
  --store              record store root
  --ledger             audit ledger path
  --json               emit JSON output`)
}
