package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/eatp-dev/eatp/core/ledger"
	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
	"github.com/eatp-dev/eatp/core/trust"
)

type auditOutput struct {
	OK        bool                      `json:"ok"`
	Anchors   []trustschema.AuditAnchor `json:"anchors,omitempty"`
	AgentID   string                    `json:"agent_id,omitempty"`
	Verified  int                       `json:"verified_anchors,omitempty"`
	ErrorCode string                    `json:"error_code,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

func runAudit(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Inspect the audit ledger: list recorded anchors with optional filters, or verify that an agent's anchor chain hashes and parent links are intact.")
	}
	if len(arguments) == 0 {
		printAuditUsage()
		return exitInvalidInput
	}
	switch arguments[0] {
	case "list":
		return runAuditList(arguments[1:])
	case "verify":
		return runAuditVerify(arguments[1:])
	case "--help", "-h", "help":
		printAuditUsage()
		return exitOK
	default:
		printAuditUsage()
		return exitInvalidInput
	}
}

func runAuditList(arguments []string) int {
	flagSet := flag.NewFlagSet("audit list", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var agentID string
	var action string
	var result string
	var limit int
	var configPath string
	var storeRoot string
	var ledgerPath string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&agentID, "agent", "", "filter by agent id")
	flagSet.StringVar(&action, "action", "", "filter by action (establish, delegate, revoke, audit)")
	flagSet.StringVar(&result, "result", "", "filter by result (accepted, denied)")
	flagSet.IntVar(&limit, "limit", 0, "maximum anchors to return")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	flagSet.StringVar(&storeRoot, "store", "", "record store root")
	flagSet.StringVar(&ledgerPath, "ledger", "", "audit ledger path")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeAuditOutput(jsonOutput, auditOutput{Error: err.Error()}, exitInvalidInput)
	}
	if helpFlag {
		printAuditUsage()
		return exitOK
	}

	ws, err := openWorkspace(configPath, storeRoot, ledgerPath)
	if err != nil {
		return writeAuditOutput(jsonOutput, auditOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	anchorLedger, err := ledger.Open(ws.ledgerPath)
	if err != nil {
		return writeAuditOutput(jsonOutput, auditOutput{Error: err.Error()}, exitInternalFailure)
	}
	defer anchorLedger.Close()

	anchors, err := anchorLedger.List(context.Background(), ledger.Filter{
		AgentID: strings.TrimSpace(agentID),
		Action:  strings.TrimSpace(action),
		Result:  strings.TrimSpace(result),
		Limit:   limit,
	})
	if err != nil {
		return writeAuditOutput(jsonOutput, auditOutput{Error: err.Error()}, exitInternalFailure)
	}
	return writeAuditOutput(jsonOutput, auditOutput{OK: true, Anchors: anchors}, exitOK)
}

func runAuditVerify(arguments []string) int {
	flagSet := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var agentID string
	var configPath string
	var storeRoot string
	var ledgerPath string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&agentID, "agent", "", "agent whose anchor chain to verify")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	flagSet.StringVar(&storeRoot, "store", "", "record store root")
	flagSet.StringVar(&ledgerPath, "ledger", "", "audit ledger path")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeAuditOutput(jsonOutput, auditOutput{Error: err.Error()}, exitInvalidInput)
	}
	if helpFlag {
		printAuditUsage()
		return exitOK
	}

	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return writeAuditOutput(jsonOutput, auditOutput{Error: "--agent is required"}, exitInvalidInput)
	}

	ws, err := openWorkspace(configPath, storeRoot, ledgerPath)
	if err != nil {
		return writeAuditOutput(jsonOutput, auditOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	anchorLedger, err := ledger.Open(ws.ledgerPath)
	if err != nil {
		return writeAuditOutput(jsonOutput, auditOutput{Error: err.Error()}, exitInternalFailure)
	}
	defer anchorLedger.Close()

	anchors, err := anchorLedger.List(context.Background(), ledger.Filter{AgentID: agentID})
	if err != nil {
		return writeAuditOutput(jsonOutput, auditOutput{Error: err.Error()}, exitInternalFailure)
	}
	if len(anchors) == 0 {
		return writeAuditOutput(jsonOutput, auditOutput{
			AgentID:   agentID,
			ErrorCode: "no_anchors",
			Error:     fmt.Sprintf("no anchors recorded for agent %s", agentID),
		}, exitInvalidInput)
	}
	if err := trust.VerifyAnchorChain(anchors); err != nil {
		return writeAuditOutput(jsonOutput, auditOutput{
			AgentID:   agentID,
			Verified:  len(anchors),
			ErrorCode: errorCodeOf(err),
			Error:     err.Error(),
		}, exitVerifyFailed)
	}
	return writeAuditOutput(jsonOutput, auditOutput{
		OK:       true,
		AgentID:  agentID,
		Verified: len(anchors),
	}, exitOK)
}

func writeAuditOutput(jsonOutput bool, output auditOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Println("audit failed:", output.Error)
		return exitCode
	}
	if output.AgentID != "" {
		fmt.Printf("anchor chain for %s: %d anchors, intact\n", output.AgentID, output.Verified)
		return exitCode
	}
	fmt.Printf("%d anchors\n", len(output.Anchors))
	for _, anchor := range output.Anchors {
		fmt.Printf("  %s  %s  %s/%s  %s\n",
			anchor.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			anchor.AgentID, anchor.Action, anchor.Result, anchor.AnchorID)
	}
	return exitCode
}

func printAuditUsage() {
	fmt.Println(`usage: eatp audit <list|verify> [flags]

subcommands:
  list     list recorded anchors
             --agent, --action, --result, --limit filters
  verify   verify an agent's anchor chain hashes and parent links
             --agent (required)

shared flags:
  --config   project config path
  --store    record store root
  --ledger   audit ledger path
  --json     emit JSON output`)
}
