package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess      Code = 0
	CodeInternal     Code = 1
	CodeUsage        Code = 2
	CodeAuth         Code = 10
	CodeRateLimited  Code = 11
	CodeUnavailable  Code = 12
	CodeUnsupported  Code = 13
	CodeBlocked      Code = 16
	CodePrecondition Code = 20
	CodeRemote       Code = 21
	CodeChain        Code = 22
	CodeSigner       Code = 23
	CodeTimeout      Code = 24
)

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	typed, ok := As(err)
	return ok && typed.Code == code
}

// Message returns the user-facing message of err without the cause chain.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if typed, ok := As(err); ok {
		return typed.Message
	}
	return err.Error()
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName maps a code to the error type reported in output envelopes.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "service_unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeBlocked:
		return "command_blocked"
	case CodePrecondition:
		return "precondition_failed"
	case CodeRemote:
		return "remote_error"
	case CodeChain:
		return "chain_error"
	case CodeSigner:
		return "signer_error"
	case CodeTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}
