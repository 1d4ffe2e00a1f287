package probes

import (
	"bytes"
	"context"
	stderrors "errors"
	"os/exec"
	"strings"
	"time"

	"github.com/anstrom/netscope/internal/errors"
)

// CommandRunner runs an external tool and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. The process is killed when ctx ends
// and its pipes are abandoned after WaitDelay.
type ExecRunner struct {
	WaitDelay time.Duration
}

// Run implements CommandRunner.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, errors.ErrToolUnavailable(name, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...) // #nosec G204 -- fixed tool names, validated targets
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 100 * time.Millisecond
	}

	err = cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), errors.Classify(ctxErr).WithContext("tool", name)
	}
	if err != nil {
		return stdout.Bytes(), classifyExit(name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// classifyExit maps a failed tool run onto the taxonomy using its stderr.
func classifyExit(tool string, err error, stderr string) *errors.ProbeError {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)

	var code errors.ErrorCode
	switch {
	case strings.Contains(lower, "operation not permitted"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "requires root"):
		code = errors.CodePermissionDenied
	case strings.Contains(lower, "name or service not known"),
		strings.Contains(lower, "unknown host"),
		strings.Contains(lower, "cannot handle"),
		strings.Contains(lower, "failed to resolve"):
		code = errors.CodeInvalidTarget
	case strings.Contains(lower, "network is unreachable"),
		strings.Contains(lower, "temporary failure"),
		strings.Contains(lower, "connection reset"):
		code = errors.CodeTransientNetwork
	default:
		var exitErr *exec.ExitError
		if !stderrors.As(err, &exitErr) {
			return errors.Classify(err).WithContext("tool", tool)
		}
		code = errors.CodeUnknown
	}

	if msg == "" {
		msg = tool + " failed"
	}
	return errors.Wrap(code, msg, err).WithContext("tool", tool)
}
