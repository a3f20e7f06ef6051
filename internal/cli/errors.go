// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types, display and exit codes for domainchat commands.
//
// Handlers always return errors; Run displays them once and maps them to
// an exit code.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Ananddd06/domainchat/internal/attachment"
	"github.com/Ananddd06/domainchat/internal/config"
	"github.com/Ananddd06/domainchat/internal/failure"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates a missing or rejected API key
	ExitAuthError = 4
	// ExitNetworkError indicates the model could not be reached or answered badly
	ExitNetworkError = 5
	// ExitNotFoundError indicates a file was not found or could not be read
	ExitNotFoundError = 7
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "serve", "usage")
	Action  string // Action being performed (e.g., "open ledger")
	Reason  string // Human-readable reason
	Err     error  // Underlying error (if any)
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation failure for user input.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was provided
	Reason  string // Why validation failed
	Example string // Example of valid value (optional)
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// AnswerFailedError is returned when the model answered with a failure
// message. The message has already been printed, so DisplayError skips it.
type AnswerFailedError struct {
	Kind failure.Kind
	Text string
}

func (e *AnswerFailedError) Error() string {
	return e.Text
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// NewValidationErrorWithExample creates a ValidationError with an example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason, Example: example}
}

// ErrMissingArgument creates an error for a missing required argument.
func ErrMissingArgument(argName, usage string) error {
	return &ValidationError{
		Field:   argName,
		Reason:  "required argument missing",
		Example: usage,
	}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to stderr, or as JSON to stdout in JSON mode.
func DisplayError(err error, jsonMode bool) {
	if err == nil {
		return
	}

	var answerErr *AnswerFailedError
	if errors.As(err, &answerErr) {
		return
	}

	if jsonMode {
		DisplayErrorJSON(err)
		return
	}

	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

// DisplayErrorJSON outputs an error as JSON.
func DisplayErrorJSON(err error) {
	output := map[string]interface{}{
		"error":   err.Error(),
		"success": false,
	}

	var cmdErr *CommandError
	var valErr *ValidationError
	switch {
	case errors.As(err, &valErr):
		output["error_type"] = "validation_error"
		output["field"] = valErr.Field
		output["value"] = valErr.Value
		output["reason"] = valErr.Reason
		if valErr.Example != "" {
			output["example"] = valErr.Example
		}
	case errors.As(err, &cmdErr):
		output["error_type"] = "command_error"
		output["command"] = cmdErr.Command
		output["action"] = cmdErr.Action
		output["reason"] = cmdErr.Reason
		if cmdErr.Err != nil {
			output["underlying_error"] = cmdErr.Err.Error()
		}
	default:
		output["error_type"] = "generic_error"
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output)
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var answerErr *AnswerFailedError
	if errors.As(err, &answerErr) {
		return exitCodeForKind(answerErr.Kind)
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ExitUsageError
	}

	var cfgErrs config.ValidateErrors
	var cfgErr config.ValidationError
	if errors.As(err, &cfgErrs) || errors.As(err, &cfgErr) {
		return ExitConfigError
	}

	if errors.Is(err, attachment.ErrUnreadable) || errors.Is(err, os.ErrNotExist) {
		return ExitNotFoundError
	}
	if errors.Is(err, attachment.ErrTooLarge) {
		return ExitUsageError
	}

	var f *failure.Failure
	if errors.As(err, &f) {
		return exitCodeForKind(f.Kind)
	}

	return ExitGeneralError
}

func exitCodeForKind(kind failure.Kind) int {
	switch kind {
	case failure.MissingCredential, failure.AuthFailure, failure.QuotaFailure:
		return ExitAuthError
	case failure.AttachmentTooLarge:
		return ExitUsageError
	case failure.AttachmentUnreadable:
		return ExitNotFoundError
	default:
		return ExitNetworkError
	}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
