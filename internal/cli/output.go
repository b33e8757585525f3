package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/ql"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Query failed to parse, plan or execute
	ExitCommandError = 2 // Command error (bad config, missing schema, database unreachable)
)

// ExitError carries an exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope for every command.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failed query or command.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Col     int    `json:"col,omitempty"`
}

// JSON writes a success envelope. Text output is handled per command.
func (f *OutputFormatter) JSON(data any) error {
	return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
}

// Error reports err in the configured format.
func (f *OutputFormatter) Error(err error) error {
	ce := describeError(err)
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: ce})
	}
	if ce.Line > 0 {
		fmt.Fprintf(f.Writer, "Error [%s] at %d:%d: %s\n", ce.Code, ce.Line, ce.Col, ce.Message)
		return nil
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", ce.Code, ce.Message)
	return nil
}

func describeError(err error) *CLIError {
	var lexErr *ql.LexerError
	if errors.As(err, &lexErr) {
		return &CLIError{Code: "lexer", Message: lexErr.Message, Line: lexErr.Line, Col: lexErr.Col}
	}
	var parseErr *ql.ParseError
	if errors.As(err, &parseErr) {
		msg := parseErr.Message
		if parseErr.Suggestion != "" {
			msg += " (" + parseErr.Suggestion + ")"
		}
		return &CLIError{Code: "parse", Message: msg, Line: parseErr.Line, Col: parseErr.Col}
	}
	if qe, ok := fault.As(err); ok {
		return &CLIError{Code: string(qe.Code()), Message: qe.Message()}
	}
	return &CLIError{Code: "error", Message: err.Error()}
}

// queryFailed reports err and returns an ExitFailure for the command.
func queryFailed(f *OutputFormatter, err error) error {
	if outErr := f.Error(err); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "query failed", err)
}
