// Package errors provides the typed error taxonomy shared by every netscope probe.
// Probes never return raw errors across their boundary: anything that goes wrong
// is classified into one of the codes below so the executor can decide between
// retrying and finalizing, and so reports can group failures by cause.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"net"
	"os/exec"
	"syscall"
)

// ErrorCode represents the class of a failure.
type ErrorCode string

const (
	// Probe failure taxonomy.
	CodeToolUnavailable  ErrorCode = "TOOL_UNAVAILABLE"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeTransientNetwork ErrorCode = "TRANSIENT_NETWORK"
	CodeMalformedOutput  ErrorCode = "MALFORMED_OUTPUT"
	CodeInvalidTarget    ErrorCode = "INVALID_TARGET"
	CodePolicyViolation  ErrorCode = "POLICY_VIOLATION"

	// Execution errors.
	CodeCanceled   ErrorCode = "CANCELED"
	CodeProbePanic ErrorCode = "PROBE_PANIC"
	CodeUnknown    ErrorCode = "UNKNOWN"

	// Configuration errors.
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"

	// Result storage errors.
	CodeStorage ErrorCode = "STORAGE"
)

// ProbeError is the classified failure attached to a probe result.
type ProbeError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Target  string                 `json:"target,omitempty"`
	Probe   string                 `json:"probe,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, msg, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ProbeError) WithContext(key string, value interface{}) *ProbeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithTarget sets the target the failure applies to.
func (e *ProbeError) WithTarget(target string) *ProbeError {
	e.Target = target
	return e
}

// WithProbe sets the probe kind that produced the failure.
func (e *ProbeError) WithProbe(probe string) *ProbeError {
	e.Probe = probe
	return e
}

// New creates a probe error with the specified code and message.
func New(code ErrorCode, message string) *ProbeError {
	return &ProbeError{Code: code, Message: message}
}

// Wrap wraps an existing error as a probe error with an explicit code.
func Wrap(code ErrorCode, message string, err error) *ProbeError {
	return &ProbeError{Code: code, Message: message, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field, Value: value}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{Code: code, Message: message, Cause: err}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var pe *ProbeError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	var ce *ConfigError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether another attempt could plausibly succeed.
// Timeouts are retryable here; the executor additionally checks that the
// probe still has budget left before acting on it.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTransientNetwork, CodeTimeout:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether the failure cannot change by retrying.
func IsPermanent(err error) bool {
	switch GetCode(err) {
	case CodeToolUnavailable, CodePermissionDenied, CodeInvalidTarget,
		CodeMalformedOutput, CodePolicyViolation, CodeCanceled, CodeProbePanic,
		CodeValidation, CodeConfiguration:
		return true
	default:
		return false
	}
}

// Classify maps an arbitrary error into the taxonomy. Errors that are already
// classified are returned unchanged.
func Classify(err error) *ProbeError {
	if err == nil {
		return nil
	}
	var pe *ProbeError
	if stderrors.As(err, &pe) {
		return pe
	}

	switch {
	case stderrors.Is(err, context.Canceled):
		return Wrap(CodeCanceled, "probe canceled", err)
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, syscall.ETIMEDOUT):
		return Wrap(CodeTimeout, "probe timed out", err)
	case stderrors.Is(err, exec.ErrNotFound):
		return Wrap(CodeToolUnavailable, "required tool not found", err)
	case stderrors.Is(err, fs.ErrPermission), stderrors.Is(err, syscall.EPERM), stderrors.Is(err, syscall.EACCES):
		return Wrap(CodePermissionDenied, "insufficient privileges", err)
	case stderrors.Is(err, syscall.ECONNRESET), stderrors.Is(err, syscall.ECONNREFUSED),
		stderrors.Is(err, syscall.ENETUNREACH), stderrors.Is(err, syscall.EHOSTUNREACH):
		return Wrap(CodeTransientNetwork, "network error", err)
	}

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return Wrap(CodeInvalidTarget, "name does not resolve", err)
		}
		if dnsErr.IsTimeout {
			return Wrap(CodeTimeout, "name resolution timed out", err)
		}
		return Wrap(CodeTransientNetwork, "name resolution failed", err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(CodeTimeout, "network operation timed out", err)
		}
		return Wrap(CodeTransientNetwork, "network error", err)
	}

	return Wrap(CodeUnknown, "probe failed", err)
}

// ErrInvalidTarget creates an error for unparseable or out-of-range targets.
func ErrInvalidTarget(target, reason string) *ProbeError {
	return New(CodeInvalidTarget, reason).WithTarget(target)
}

// ErrTimeout creates an error for a probe that exceeded its budget.
func ErrTimeout(target string) *ProbeError {
	return New(CodeTimeout, "probe exceeded its timeout").WithTarget(target)
}

// ErrToolUnavailable creates an error for a missing external binary.
func ErrToolUnavailable(tool string, err error) *ProbeError {
	return Wrap(CodeToolUnavailable, fmt.Sprintf("%s is not installed or not on PATH", tool), err).
		WithContext("tool", tool)
}

// ErrMalformedOutput creates an error for tool output that could not be parsed.
func ErrMalformedOutput(tool string, err error) *ProbeError {
	return Wrap(CodeMalformedOutput, fmt.Sprintf("could not parse %s output", tool), err).
		WithContext("tool", tool)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}
