package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
	"github.com/eatp-dev/eatp/core/trust"
)

type graphOutput struct {
	OK        bool              `json:"ok"`
	Graph     *trust.TrustGraph `json:"graph,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func runGraph(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Project the trust record set into a renderer-neutral graph: authorities and agents as nodes, establishment and delegation as edges, with status, capability counts, and expiry flags on each node.")
	}
	flagSet := flag.NewFlagSet("graph", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var statusFilter string
	var expiringWindow string
	var nowFlag string
	var configPath string
	var storeRoot string
	var ledgerPath string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&statusFilter, "status-filter", "", "only include agents with this status (valid, pending, expired, revoked, invalid)")
	flagSet.StringVar(&expiringWindow, "expiring-window", "", "expiring-soon lookahead, for example 168h")
	flagSet.StringVar(&nowFlag, "now", "", "pin command time (RFC3339)")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	flagSet.StringVar(&storeRoot, "store", "", "record store root")
	flagSet.StringVar(&ledgerPath, "ledger", "", "audit ledger path")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeGraphOutput(jsonOutput, graphOutput{Error: err.Error()}, exitInvalidInput)
	}
	if helpFlag {
		printGraphUsage()
		return exitOK
	}

	now, err := parseNowFlag(nowFlag)
	if err != nil {
		return writeGraphOutput(jsonOutput, graphOutput{Error: err.Error()}, exitInvalidInput)
	}

	ws, err := openWorkspace(configPath, storeRoot, ledgerPath)
	if err != nil {
		return writeGraphOutput(jsonOutput, graphOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	snapshot, err := ws.store.Snapshot()
	if err != nil {
		return writeGraphOutput(jsonOutput, graphOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}

	if expiringWindow == "" {
		expiringWindow = ws.config.Verify.ExpiringSoonWindow
	}
	window := time.Duration(0)
	if strings.TrimSpace(expiringWindow) != "" {
		window, err = time.ParseDuration(strings.TrimSpace(expiringWindow))
		if err != nil || window <= 0 {
			return writeGraphOutput(jsonOutput, graphOutput{Error: "invalid --expiring-window, expected positive duration"}, exitInvalidInput)
		}
	}

	if strings.TrimSpace(statusFilter) != "" {
		wanted, err := trust.ParseStatus(statusFilter)
		if err != nil {
			return writeGraphOutput(jsonOutput, graphOutput{Error: err.Error()}, exitInvalidInput)
		}
		snapshot = filterSnapshotByStatus(snapshot, wanted, now)
	}

	graph := trust.BuildGraph(snapshot, trust.GraphOptions{
		Now:                now,
		ExpiringSoonWindow: window,
	})
	return writeGraphOutput(jsonOutput, graphOutput{OK: true, Graph: &graph}, exitOK)
}

// filterSnapshotByStatus rebuilds a snapshot from the chains whose resolved
// status matches. The authority and revocation registries carry over so the
// surviving chains still resolve the same way.
func filterSnapshotByStatus(snapshot *trust.Snapshot, wanted trust.Status, now time.Time) *trust.Snapshot {
	var kept []trustschema.TrustChain
	for _, chain := range snapshot.Chains() {
		if trust.ResolveStatus(chain, snapshot.Revocations(), now) == wanted {
			kept = append(kept, chain)
		}
	}
	var markers []trustschema.RevocationMarker
	for _, marker := range snapshot.Revocations() {
		markers = append(markers, marker)
	}
	return trust.NewSnapshot(kept, snapshot.Authorities(), markers)
}

func writeGraphOutput(jsonOutput bool, output graphOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Println("graph failed:", output.Error)
		return exitCode
	}
	graph := output.Graph
	fmt.Printf("trust graph: %d nodes, %d edges\n", len(graph.Nodes), len(graph.Edges))
	for _, node := range graph.Nodes {
		line := fmt.Sprintf("  [%s] %s", node.Kind, node.ID)
		if node.Status != "" {
			line += " (" + node.Status + ")"
		}
		if node.ExpiringSoon {
			line += " expiring soon"
		}
		fmt.Println(line)
	}
	for _, edge := range graph.Edges {
		line := fmt.Sprintf("  %s -%s-> %s", edge.Source, edge.Kind, edge.Target)
		if edge.Expired {
			line += " (expired)"
		}
		fmt.Println(line)
	}
	return exitCode
}

func printGraphUsage() {
	fmt.Println(`usage: eatp graph [flags]

flags:
  --status-filter     only include agents with this status
                      (valid, pending, expired, revoked, invalid)
  --expiring-window   expiring-soon lookahead, for example 168h
  --now               pin command time (RFC3339)
  --config            project config path
  --store             record store root
  --ledger            audit ledger path
  --json              emit JSON output`)
}
