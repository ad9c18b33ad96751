package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the dispatcher.
type ErrorCode string

// Validation error codes. Surfaced before execution, never retried.
const (
	ErrUnknownSkill     ErrorCode = "UNKNOWN_SKILL"
	ErrMissingField     ErrorCode = "MISSING_FIELD"
	ErrTypeMismatch     ErrorCode = "TYPE_MISMATCH"
	ErrInvalidEnumValue ErrorCode = "INVALID_ENUM_VALUE"
)

// Registry error codes. Surfaced at load/registration time; a registry that
// fails to build is never frozen, so these are unreachable during execution.
const (
	ErrDuplicateSkill    ErrorCode = "DUPLICATE_SKILL"
	ErrDuplicateAgent    ErrorCode = "DUPLICATE_AGENT"
	ErrAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	ErrCyclicBond        ErrorCode = "CYCLIC_BOND"
	ErrInvalidDescriptor ErrorCode = "INVALID_DESCRIPTOR"
)

// Execution error codes. Retried per the step's policy.
const (
	ErrHandlerFailure ErrorCode = "HANDLER_FAILURE"
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrCancelled      ErrorCode = "CANCELLED"
)

// Escalation error codes. Terminal.
const (
	ErrFallbackExhausted ErrorCode = "FALLBACK_EXHAUSTED"
	ErrNoEscalationPath  ErrorCode = "NO_ESCALATION_PATH"
)

// Dispatch and supporting error codes.
const (
	ErrDuplicateTrace    ErrorCode = "DUPLICATE_TRACE"
	ErrManifestInvalid   ErrorCode = "MANIFEST_INVALID"
	ErrStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrExecutionNotFound ErrorCode = "EXECUTION_NOT_FOUND"
	ErrInternal          ErrorCode = "INTERNAL"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Agent      string    `json:"agent,omitempty"`
	Skill      string    `json:"skill,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAgent sets the agent the error concerns.
func (e *Error) WithAgent(agentID string) *Error {
	e.Agent = agentID
	return e
}

// WithSkill sets the skill the error concerns.
func (e *Error) WithSkill(skill string) *Error {
	e.Skill = skill
	return e
}

// IsRetryable checks if an error is retryable, unwrapping as needed.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// AsError extracts the structured error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// CLI exit codes preserved from the command contracts of the content pack.
const (
	ExitOK               = 0
	ExitInvalidSkill     = 1
	ExitSkillNotFound    = 2
	ExitAgentUnavailable = 3
)

// ExitCode maps an error to the invocation surface's exit-code contract:
// 0 success, 1 invalid_skill, 2 skill_not_found, 3 agent_unavailable.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch GetErrorCode(err) {
	case ErrUnknownSkill:
		return ExitSkillNotFound
	case ErrAgentNotFound:
		return ExitAgentUnavailable
	default:
		return ExitInvalidSkill
	}
}
