package main

import (
	"crypto/ed25519"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/eatp-dev/eatp/core/sign"
)

type keysOutput struct {
	OK         bool   `json:"ok"`
	KeyID      string `json:"key_id,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

func runKeys(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Manage ed25519 signing keys for trust records: generate a fresh base64 keypair or inspect a public key's key id.")
	}
	if len(arguments) == 0 {
		printKeysUsage()
		return exitInvalidInput
	}
	switch arguments[0] {
	case "generate":
		return runKeysGenerate(arguments[1:])
	case "inspect":
		return runKeysInspect(arguments[1:])
	case "--help", "-h", "help":
		printKeysUsage()
		return exitOK
	default:
		printKeysUsage()
		return exitInvalidInput
	}
}

func runKeysGenerate(arguments []string) int {
	flagSet := flag.NewFlagSet("keys generate", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var jsonOutput bool
	var helpFlag bool
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeKeysOutput(jsonOutput, keysOutput{Error: err.Error()}, exitInvalidInput)
	}
	if helpFlag {
		printKeysUsage()
		return exitOK
	}

	keyPair, err := sign.GenerateKeyPair()
	if err != nil {
		return writeKeysOutput(jsonOutput, keysOutput{Error: err.Error()}, exitInternalFailure)
	}
	return writeKeysOutput(jsonOutput, keysOutput{
		OK:         true,
		KeyID:      sign.KeyID(keyPair.Public),
		PublicKey:  sign.PublicKeyBase64(keyPair.Public),
		PrivateKey: sign.PrivateKeyBase64(keyPair.Private),
	}, exitOK)
}

func runKeysInspect(arguments []string) int {
	flagSet := flag.NewFlagSet("keys inspect", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var publicKeyPath string
	var publicKeyValue string
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&publicKeyPath, "public-key", "", "path to base64 public key")
	flagSet.StringVar(&publicKeyValue, "public-key-value", "", "base64 public key inline")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeKeysOutput(jsonOutput, keysOutput{Error: err.Error()}, exitInvalidInput)
	}
	if helpFlag {
		printKeysUsage()
		return exitOK
	}

	publicKey, err := loadInspectKey(publicKeyPath, publicKeyValue)
	if err != nil {
		return writeKeysOutput(jsonOutput, keysOutput{Error: err.Error()}, exitInvalidInput)
	}
	return writeKeysOutput(jsonOutput, keysOutput{
		OK:        true,
		KeyID:     sign.KeyID(publicKey),
		PublicKey: sign.PublicKeyBase64(publicKey),
	}, exitOK)
}

func loadInspectKey(path, value string) (ed25519.PublicKey, error) {
	path = strings.TrimSpace(path)
	value = strings.TrimSpace(value)
	switch {
	case path != "" && value != "":
		return nil, fmt.Errorf("set --public-key or --public-key-value, not both")
	case path != "":
		return sign.LoadPublicKeyBase64(path)
	case value != "":
		return sign.ParsePublicKeyBase64(value)
	default:
		return nil, fmt.Errorf("a public key source is required")
	}
}

func writeKeysOutput(jsonOutput bool, output keysOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Println("keys failed:", output.Error)
		return exitCode
	}
	fmt.Println("key_id:    ", output.KeyID)
	if output.PublicKey != "" {
		fmt.Println("public_key:", output.PublicKey)
	}
	if output.PrivateKey != "" {
		fmt.Println("private_key:", output.PrivateKey)
	}
	return exitCode
}

func printKeysUsage() {
	fmt.Println(`usage: eatp keys <generate|inspect> [flags]

subcommands:
  generate   generate a fresh ed25519 keypair (base64) and its key id
  inspect    print the key id of an existing public key
               --public-key <path> or --public-key-value <base64>

flags:
  --json   emit JSON output`)
}
