package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/eatp-dev/eatp/core/sign"
	"github.com/eatp-dev/eatp/core/trust"
)

type pipelineOutput struct {
	OK        bool                       `json:"ok"`
	Level     string                     `json:"level,omitempty"`
	Result    *trust.PipelineTrustStatus `json:"result,omitempty"`
	ErrorCode string                     `json:"error_code,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

func runPipeline(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Validate every agent a pipeline depends on before it runs: trust status, required capability coverage, constraint evaluation, and (at the full level) record signatures. The pipeline is ready only when every agent passes.")
	}
	flagSet := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var requestPath string
	var level string
	var nowFlag string
	var publicKeyPath string
	var publicKeyEnv string
	var configPath string
	var storeRoot string
	var ledgerPath string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&requestPath, "file", "", "path to JSON pipeline request")
	flagSet.StringVar(&level, "level", "", "verification level: quick, standard, or full")
	flagSet.StringVar(&nowFlag, "now", "", "pin command time (RFC3339)")
	flagSet.StringVar(&publicKeyPath, "public-key", "", "path to base64 public key for full verification")
	flagSet.StringVar(&publicKeyEnv, "public-key-env", "", "env var containing base64 public key")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	flagSet.StringVar(&storeRoot, "store", "", "record store root")
	flagSet.StringVar(&ledgerPath, "ledger", "", "audit ledger path")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writePipelineOutput(jsonOutput, pipelineOutput{Error: err.Error()}, exitInvalidInput)
	}
	if helpFlag {
		printPipelineUsage()
		return exitOK
	}

	if strings.TrimSpace(requestPath) == "" {
		return writePipelineOutput(jsonOutput, pipelineOutput{Error: "--file is required"}, exitInvalidInput)
	}
	request, err := loadPipelineRequest(requestPath)
	if err != nil {
		return writePipelineOutput(jsonOutput, pipelineOutput{Error: err.Error()}, exitInvalidInput)
	}
	now, err := parseNowFlag(nowFlag)
	if err != nil {
		return writePipelineOutput(jsonOutput, pipelineOutput{Error: err.Error()}, exitInvalidInput)
	}

	ws, err := openWorkspace(configPath, storeRoot, ledgerPath)
	if err != nil {
		return writePipelineOutput(jsonOutput, pipelineOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	if level == "" {
		level = ws.config.Verify.Level
	}
	parsedLevel, err := trust.ParseVerificationLevel(level)
	if err != nil {
		return writePipelineOutput(jsonOutput, pipelineOutput{Error: err.Error()}, exitInvalidInput)
	}
	request.Level = parsedLevel

	if parsedLevel == trust.LevelFull {
		publicKey, err := sign.LoadVerifyKey(ws.verifyKeyConfig(publicKeyPath, publicKeyEnv))
		if err != nil {
			return writePipelineOutput(jsonOutput, pipelineOutput{Error: err.Error()}, exitInvalidInput)
		}
		request.Verifier = sign.NewKeyRing(publicKey)
	}

	snapshot, err := ws.store.Snapshot()
	if err != nil {
		return writePipelineOutput(jsonOutput, pipelineOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}

	result := trust.ValidatePipeline(request, snapshot, now)
	exitCode := exitOK
	if !result.IsReady {
		exitCode = exitVerifyFailed
	}
	return writePipelineOutput(jsonOutput, pipelineOutput{
		OK:     result.IsReady,
		Level:  parsedLevel.String(),
		Result: &result,
	}, exitCode)
}

func loadPipelineRequest(path string) (trust.PipelineRequest, error) {
	// #nosec G304 -- request file path is explicit local user input.
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return trust.PipelineRequest{}, fmt.Errorf("read pipeline request: %w", err)
	}
	var request trust.PipelineRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		return trust.PipelineRequest{}, fmt.Errorf("parse pipeline request: %w", err)
	}
	if strings.TrimSpace(request.PipelineID) == "" {
		return trust.PipelineRequest{}, fmt.Errorf("pipeline request missing pipeline_id")
	}
	return request, nil
}

func writePipelineOutput(jsonOutput bool, output pipelineOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Println("pipeline failed:", output.Error)
		return exitCode
	}
	result := output.Result
	verdict := "NOT READY"
	if result.IsReady {
		verdict = "READY"
	}
	fmt.Printf("pipeline %s: %s (%d/%d agents trusted, level %s)\n",
		result.PipelineID, verdict, result.TrustedAgents, result.TotalAgents, output.Level)
	for _, agent := range result.AgentStatuses {
		if agent.IsValid {
			fmt.Printf("  %s: ok\n", agent.AgentID)
			continue
		}
		fmt.Printf("  %s: %s\n", agent.AgentID, agent.Status)
		if len(agent.MissingCapabilities) > 0 {
			fmt.Printf("    missing: %s\n", strings.Join(agent.MissingCapabilities, ", "))
		}
		for _, violation := range agent.ConstraintViolations {
			fmt.Printf("    constraint %s: %s\n", violation.ConstraintID, violation.Reason)
		}
		for _, failure := range agent.SignatureErrors {
			fmt.Printf("    signature: %s\n", failure)
		}
	}
	return exitCode
}

func printPipelineUsage() {
	fmt.Println(`usage: eatp pipeline --file <request.json> [flags]

The request file names the pipeline, its agents, and the capabilities each
agent needs:

  {
    "pipeline_id": "pipe-1",
    "agent_ids": ["agent-a", "agent-b"],
    "required_capabilities": {"agent-a": ["read_data"]},
    "resource": "api_calls",
    "amount": 100
  }

flags:
  --file            path to JSON pipeline request (required)
  --level           quick, standard, or full (default standard)
  --now             pin command time (RFC3339)
  --public-key      path to base64 public key (full level)
  --public-key-env  env var containing base64 public key (full level)
  --config          project config path
  --store           record store root
  --ledger          audit ledger path
  --json            emit JSON output`)
}
