package main

import (
	"fmt"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	if len(arguments) < 2 {
		fmt.Println("eatp", version)
		return exitOK
	}
	if arguments[1] == "--explain" {
		return writeExplain("eatp manages verifiable agent trust chains: establishment, constrained delegation, cascade revocation, pipeline readiness, and audit anchoring.")
	}

	switch arguments[1] {
	case "establish":
		return runEstablish(arguments[2:])
	case "delegate":
		return runDelegate(arguments[2:])
	case "revoke":
		return runRevoke(arguments[2:])
	case "status":
		return runStatus(arguments[2:])
	case "pipeline":
		return runPipeline(arguments[2:])
	case "graph":
		return runGraph(arguments[2:])
	case "audit":
		return runAudit(arguments[2:])
	case "keys":
		return runKeys(arguments[2:])
	case "version", "--version", "-v":
		if hasExplainFlag(arguments[2:]) {
			return writeExplain("Print the CLI version.")
		}
		fmt.Println("eatp", version)
		return exitOK
	default:
		printUsage()
		return exitInvalidInput
	}
}

func printUsage() {
	fmt.Println(`usage: eatp <command> [flags]

commands:
  establish   create an agent trust chain from an authority genesis
  delegate    validate and record a capability delegation
  revoke      analyze and apply cascade revocation
  status      resolve agent trust status
  pipeline    validate multi-agent pipeline readiness
  graph       emit the trust graph as JSON
  audit       list and verify audit anchors
  keys        generate and inspect signing keys
  version     print the CLI version

run 'eatp <command> --help' for command flags.`)
}
