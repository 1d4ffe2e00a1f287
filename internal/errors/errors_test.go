package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"testing"
)

func TestProbeError(t *testing.T) {
	t.Run("basic error creation", func(t *testing.T) {
		err := New(CodeMalformedOutput, "bad output")
		if err.Code != CodeMalformedOutput {
			t.Errorf("Expected code %s, got %s", CodeMalformedOutput, err.Code)
		}
		expected := "[MALFORMED_OUTPUT] bad output"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("error with target", func(t *testing.T) {
		err := ErrTimeout("10.0.0.1")
		expected := "[TIMEOUT] probe exceeded its timeout (target: 10.0.0.1)"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("wrapped error", func(t *testing.T) {
		cause := fmt.Errorf("connection reset")
		err := Wrap(CodeTransientNetwork, "network issue", cause)
		if err.Unwrap() != cause {
			t.Error("Unwrap should return the cause")
		}
		if !errors.Is(err, cause) {
			t.Error("errors.Is should find the cause")
		}
	})

	t.Run("with context", func(t *testing.T) {
		err := ErrToolUnavailable("traceroute", exec.ErrNotFound)
		if err.Context["tool"] != "traceroute" {
			t.Errorf("Expected tool context, got %v", err.Context)
		}
	})
}

func TestGetCodeThroughWrapping(t *testing.T) {
	inner := New(CodeInvalidTarget, "bad cidr")
	outer := fmt.Errorf("resolve: %w", inner)

	if GetCode(outer) != CodeInvalidTarget {
		t.Errorf("Expected %s, got %s", CodeInvalidTarget, GetCode(outer))
	}
	if !IsCode(outer, CodeInvalidTarget) {
		t.Error("IsCode should see through fmt.Errorf wrapping")
	}
	if GetCode(fmt.Errorf("plain")) != CodeUnknown {
		t.Error("plain errors should report CodeUnknown")
	}
}

func TestRetryablePermanent(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		retryable bool
		permanent bool
	}{
		{CodeTransientNetwork, true, false},
		{CodeTimeout, true, false},
		{CodeToolUnavailable, false, true},
		{CodePermissionDenied, false, true},
		{CodeInvalidTarget, false, true},
		{CodeMalformedOutput, false, true},
		{CodePolicyViolation, false, true},
		{CodeCanceled, false, true},
		{CodeUnknown, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "x")
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable(%s) = %v, want %v", tt.code, IsRetryable(err), tt.retryable)
			}
			if IsPermanent(err) != tt.permanent {
				t.Errorf("IsPermanent(%s) = %v, want %v", tt.code, IsPermanent(err), tt.permanent)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"canceled", context.Canceled, CodeCanceled},
		{"missing binary", &exec.Error{Name: "nmap", Err: exec.ErrNotFound}, CodeToolUnavailable},
		{"permission", os.ErrPermission, CodePermissionDenied},
		{"eperm", &net.OpError{Op: "listen", Err: os.NewSyscallError("socket", syscall.EPERM)}, CodePermissionDenied},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, CodeTransientNetwork},
		{"net timeout", timeoutErr{}, CodeTimeout},
		{"dns not found", &net.DNSError{Err: "no such host", Name: "x.invalid", IsNotFound: true}, CodeInvalidTarget},
		{"dns temporary", &net.DNSError{Err: "server misbehaving", Name: "x", IsTemporary: true}, CodeTransientNetwork},
		{"unknown", fmt.Errorf("boom"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Code != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got.Code, tt.want)
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}

	pe := New(CodeMalformedOutput, "x")
	if Classify(pe) != pe {
		t.Error("already classified errors should be returned unchanged")
	}
}

func TestConfigError(t *testing.T) {
	err := ErrConfigInvalid("executor.workers", 0)
	expected := "[VALIDATION] Invalid configuration value (field: executor.workers)"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
	if !IsCode(err, CodeValidation) {
		t.Error("expected validation code")
	}
}
