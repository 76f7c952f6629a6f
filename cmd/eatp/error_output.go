package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	coreerrors "github.com/eatp-dev/eatp/core/errors"
	"github.com/eatp-dev/eatp/core/trust"
)

const (
	exitOK                = 0
	exitInternalFailure   = 1
	exitInvalidInput      = 2
	exitVerifyFailed      = 3
	exitDelegationBlocked = 4
)

func writeJSONOutput(output any, exitCode int) int {
	encoded, err := marshalOutputWithErrorEnvelope(output, exitCode)
	if err != nil {
		fmt.Println(`{"ok":false,"error":"failed to encode output","error_code":"encode_failed","error_category":"internal_failure","retryable":false}`)
		return exitInternalFailure
	}
	fmt.Println(string(encoded))
	return exitCode
}

func marshalOutputWithErrorEnvelope(output any, exitCode int) ([]byte, error) {
	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	result := map[string]any{}
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, err
	}
	errorText := strings.TrimSpace(asString(result["error"]))
	if errorText == "" {
		return json.Marshal(result)
	}
	if strings.TrimSpace(asString(result["error_code"])) == "" {
		result["error_code"] = defaultErrorCode(exitCode)
	}
	if strings.TrimSpace(asString(result["error_category"])) == "" {
		result["error_category"] = string(defaultErrorCategory(exitCode))
	}
	if _, exists := result["retryable"]; !exists {
		result["retryable"] = false
	}
	if strings.TrimSpace(asString(result["hint"])) == "" {
		result["hint"] = defaultHint(exitCode)
	}
	return json.Marshal(result)
}

func exitCodeForError(err error, fallbackExit int) int {
	if err == nil {
		return exitOK
	}
	var delegationErr *trust.DelegationError
	if stderrors.As(err, &delegationErr) {
		return exitDelegationBlocked
	}
	switch coreerrors.CategoryOf(err) {
	case coreerrors.CategoryInvalidInput:
		return exitInvalidInput
	case coreerrors.CategoryVerification:
		return exitVerifyFailed
	case coreerrors.CategoryDelegationBlocked, coreerrors.CategoryConstraintViolation:
		return exitDelegationBlocked
	case coreerrors.CategoryIOFailure, coreerrors.CategoryInternalFailure:
		return exitInternalFailure
	}
	return fallbackExit
}

func errorCodeOf(err error) string {
	var delegationErr *trust.DelegationError
	if stderrors.As(err, &delegationErr) {
		return delegationErr.Code
	}
	return coreerrors.CodeOf(err)
}

func defaultErrorCategory(exitCode int) coreerrors.Category {
	switch exitCode {
	case exitInvalidInput:
		return coreerrors.CategoryInvalidInput
	case exitVerifyFailed:
		return coreerrors.CategoryVerification
	case exitDelegationBlocked:
		return coreerrors.CategoryDelegationBlocked
	default:
		return coreerrors.CategoryInternalFailure
	}
}

func defaultErrorCode(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "invalid_input"
	case exitVerifyFailed:
		return "verification_failed"
	case exitDelegationBlocked:
		return "delegation_blocked"
	default:
		return "internal_failure"
	}
}

func defaultHint(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "check command usage and input schema"
	case exitVerifyFailed:
		return "inspect the record files and re-run with --verify-signatures"
	case exitDelegationBlocked:
		return "inspect the reason code; the delegation violates trust rules"
	default:
		return "retry after checking local environment and logs"
	}
}

func asString(value any) string {
	text, _ := value.(string)
	return text
}
