package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	coreerrors "github.com/eatp-dev/eatp/core/errors"
	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
	"github.com/eatp-dev/eatp/core/store"
	"github.com/eatp-dev/eatp/core/trust"
)

type revokeOutput struct {
	OK         bool                  `json:"ok"`
	TargetID   string                `json:"target_id,omitempty"`
	TargetKind string                `json:"target_kind,omitempty"`
	Preview    bool                  `json:"preview,omitempty"`
	Affected   []trust.AffectedAgent `json:"affected,omitempty"`
	AnchorIDs  []string              `json:"anchor_ids,omitempty"`
	ErrorCode  string                `json:"error_code,omitempty"`
	Error      string                `json:"error,omitempty"`
}

func runRevoke(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Analyze the blast radius of revoking an agent or authority, then optionally apply it: record the revocation marker, revoke transitive delegations, and anchor the action per affected agent. Preview and apply share a pinned timestamp so both report the same cascade.")
	}
	flagSet := flag.NewFlagSet("revoke", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var targetID string
	var reason string
	var revokedBy string
	var nowFlag string
	var preview bool
	var configPath string
	var storeRoot string
	var ledgerPath string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&targetID, "target", "", "agent or authority id to revoke")
	flagSet.StringVar(&reason, "reason", "", "revocation reason")
	flagSet.StringVar(&revokedBy, "by", "", "actor recording the revocation")
	flagSet.StringVar(&nowFlag, "now", "", "pin command time (RFC3339)")
	flagSet.BoolVar(&preview, "preview", false, "print the cascade analysis without writing anything")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	flagSet.StringVar(&storeRoot, "store", "", "record store root")
	flagSet.StringVar(&ledgerPath, "ledger", "", "audit ledger path")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeRevokeOutput(jsonOutput, revokeOutput{Error: err.Error()}, exitInvalidInput)
	}
	if helpFlag {
		printRevokeUsage()
		return exitOK
	}

	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return writeRevokeOutput(jsonOutput, revokeOutput{Error: "--target is required"}, exitInvalidInput)
	}
	now, err := parseNowFlag(nowFlag)
	if err != nil {
		return writeRevokeOutput(jsonOutput, revokeOutput{Error: err.Error()}, exitInvalidInput)
	}

	ws, err := openWorkspace(configPath, storeRoot, ledgerPath)
	if err != nil {
		return writeRevokeOutput(jsonOutput, revokeOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	snapshot, err := ws.store.Snapshot()
	if err != nil {
		return writeRevokeOutput(jsonOutput, revokeOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}

	affected, err := trust.AnalyzeCascade(targetID, snapshot)
	if err != nil {
		return writeRevokeOutput(jsonOutput, revokeOutput{
			TargetID:  targetID,
			ErrorCode: errorCodeOf(err),
			Error:     err.Error(),
		}, exitCodeForError(err, exitInvalidInput))
	}
	targetKind := revocationTargetKind(targetID, snapshot)

	if preview {
		return writeRevokeOutput(jsonOutput, revokeOutput{
			OK:         true,
			TargetID:   targetID,
			TargetKind: targetKind,
			Preview:    true,
			Affected:   affected,
		}, exitOK)
	}

	if err := ws.store.AppendRevocation(trustschema.RevocationMarker{
		SchemaID:      trustschema.RevocationSchemaID,
		SchemaVersion: trustschema.SchemaV1,
		TargetID:      targetID,
		TargetKind:    targetKind,
		Reason:        strings.TrimSpace(reason),
		RevokedAt:     now,
		RevokedBy:     strings.TrimSpace(revokedBy),
	}); err != nil {
		return writeRevokeOutput(jsonOutput, revokeOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}
	// Every agent the cascade reached gets its own marker, so status
	// resolution never depends on re-walking the delegation graph.
	for _, agent := range affected {
		if agent.AgentID == targetID {
			continue
		}
		markerReason := strings.TrimSpace(reason)
		if agent.Reason == trust.ReasonTransitiveDelegation {
			markerReason = fmt.Sprintf("cascade from %s", agent.ParentID)
		}
		if err := ws.store.AppendRevocation(trustschema.RevocationMarker{
			SchemaID:      trustschema.RevocationSchemaID,
			SchemaVersion: trustschema.SchemaV1,
			TargetID:      agent.AgentID,
			TargetKind:    trustschema.TargetKindAgent,
			Reason:        markerReason,
			RevokedAt:     now,
			RevokedBy:     strings.TrimSpace(revokedBy),
		}); err != nil {
			return writeRevokeOutput(jsonOutput, revokeOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
		}
	}

	modified, err := revokeCascadeDelegations(ws, snapshot, affected)
	if err != nil {
		return writeRevokeOutput(jsonOutput, revokeOutput{Error: err.Error()}, exitCodeForError(err, exitInternalFailure))
	}

	anchorIDs := make([]string, 0, len(affected))
	for _, agent := range affected {
		chain := modified[agent.AgentID]
		anchor, err := ws.recordAnchor(context.Background(), chain, trust.AnchorInput{
			AgentID:   agent.AgentID,
			Action:    trustschema.AnchorActionRevoke,
			ActorID:   strings.TrimSpace(revokedBy),
			Result:    trustschema.AnchorResultAccepted,
			ChainHash: chainHashOf(chain),
		}, now)
		if err != nil {
			return writeRevokeOutput(jsonOutput, revokeOutput{Error: err.Error()}, exitInternalFailure)
		}
		anchorIDs = append(anchorIDs, anchor.AnchorID)
	}
	for agentID, chain := range modified {
		rebuilt, err := trust.RebuildChain(*chain, now)
		if err != nil {
			return writeRevokeOutput(jsonOutput, revokeOutput{Error: err.Error()}, exitInternalFailure)
		}
		if err := ws.store.SaveChain(rebuilt); err != nil {
			return writeRevokeOutput(jsonOutput, revokeOutput{Error: fmt.Sprintf("save chain %s: %v", agentID, err)}, exitCodeForError(err, exitInternalFailure))
		}
	}

	return writeRevokeOutput(jsonOutput, revokeOutput{
		OK:         true,
		TargetID:   targetID,
		TargetKind: targetKind,
		Affected:   affected,
		AnchorIDs:  anchorIDs,
	}, exitOK)
}

// revokeCascadeDelegations flips the delegation edges the cascade followed to
// revoked status, on every chain that records them. Returns chains keyed by
// agent id for every affected agent with a chain document, so later anchors
// land on the chain too.
func revokeCascadeDelegations(ws *workspace, snapshot *trust.Snapshot, affected []trust.AffectedAgent) (map[string]*trustschema.TrustChain, error) {
	type edge struct{ delegator, delegatee string }
	revokedEdges := make(map[edge]struct{})
	for _, agent := range affected {
		if agent.Reason == trust.ReasonTransitiveDelegation {
			revokedEdges[edge{agent.ParentID, agent.AgentID}] = struct{}{}
		}
	}

	chains := make(map[string]*trustschema.TrustChain)
	for _, agent := range affected {
		loaded, err := ws.store.LoadChain(agent.AgentID)
		if err != nil {
			if coreerrors.CodeOf(err) == store.CodeChainNotFound {
				continue
			}
			return nil, err
		}
		chain := loaded
		chains[agent.AgentID] = &chain
	}
	// Edges may also be recorded on chains outside the affected set.
	for _, chain := range snapshot.Chains() {
		if _, ok := chains[chain.AgentID]; ok {
			continue
		}
		for _, delegation := range chain.Delegations {
			if _, hit := revokedEdges[edge{delegation.DelegatorID, delegation.DelegateeID}]; hit {
				loaded, err := ws.store.LoadChain(chain.AgentID)
				if err != nil {
					return nil, err
				}
				extra := loaded
				chains[chain.AgentID] = &extra
				break
			}
		}
	}

	for _, chain := range chains {
		for i := range chain.Delegations {
			delegation := &chain.Delegations[i]
			if delegation.Status != trustschema.RecordStatusActive {
				continue
			}
			if _, hit := revokedEdges[edge{delegation.DelegatorID, delegation.DelegateeID}]; hit {
				delegation.Status = trustschema.RecordStatusRevoked
			}
		}
	}
	return chains, nil
}

func chainHashOf(chain *trustschema.TrustChain) string {
	if chain == nil {
		return ""
	}
	return chain.ChainHash
}

func revocationTargetKind(targetID string, snapshot *trust.Snapshot) string {
	if _, ok := snapshot.Authority(targetID); ok {
		return trustschema.TargetKindAuthority
	}
	if _, ok := snapshot.Chain(targetID); ok {
		return trustschema.TargetKindAgent
	}
	for _, chain := range snapshot.Chains() {
		if chain.Genesis.AuthorityID == targetID {
			return trustschema.TargetKindAuthority
		}
	}
	return trustschema.TargetKindAgent
}

func writeRevokeOutput(jsonOutput bool, output revokeOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Println("revoke failed:", output.Error)
		return exitCode
	}
	mode := "revoked"
	if output.Preview {
		mode = "would revoke"
	}
	fmt.Printf("%s %s (%s): %d agents affected\n", mode, output.TargetID, output.TargetKind, len(output.Affected))
	for _, agent := range output.Affected {
		if agent.Reason == trust.ReasonDirectRevocation {
			fmt.Printf("  %s (direct, depth %d)\n", agent.AgentID, agent.Depth)
		} else {
			fmt.Printf("  %s (via %s, depth %d)\n", agent.AgentID, agent.ParentID, agent.Depth)
		}
	}
	return exitCode
}

func printRevokeUsage() {
	fmt.Println(`usage: eatp revoke --target <id> [flags]

flags:
  --target    agent or authority id to revoke (required)
  --reason    revocation reason
  --by        actor recording the revocation
  --now       pin command time (RFC3339); preview and apply with the same
              value report the same cascade
  --preview   print the cascade analysis without writing anything
  --config    project config path
  --store     record store root
  --ledger    audit ledger path
  --json      emit JSON output`)
}
