package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/rrockerd/rrockerd/pkg/isolate"
	"github.com/rrockerd/rrockerd/pkg/pipe"
)

// execThunkName identifies the one thunk this package registers: the
// completion of §4.9 operation 1, "the actual exec of user cmd/args
// inside the isolated child" that spec.md leaves as an extension
// point. Its parameters travel through the child's environment rather
// than a closure, since a Thunk cannot carry arguments across the
// re-exec boundary (see pkg/isolate).
const execThunkName = "exec-user-command"

const (
	envExecCmd      = "RROCKERD_EXEC_CMD"
	envExecArgsJSON = "RROCKERD_EXEC_ARGS_JSON"
)

// execResult is the C1 payload the child sends back: the user
// command's exit code, nothing more. QueryTask's status/code come
// from here by way of the registry's Task.
type execResult struct {
	Code int
}

func init() {
	pipe.Register(execResult{})
	isolate.Register(execThunkName, runUserCommand)
}

// runUserCommand execs the command the parent placed in the
// environment, with the child's (already pivoted, already mapped)
// stdout/stderr, which are in turn the parent's capture pipes — so
// nothing here needs its own I/O plumbing beyond exec.Cmd's defaults.
func runUserCommand(ctx context.Context) (any, error) {
	name := os.Getenv(envExecCmd)
	if name == "" {
		return nil, fmt.Errorf("invalid-input: no command given to isolated child")
	}

	var args []string
	if raw := os.Getenv(envExecArgsJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("invalid-input: decoding exec args: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return execResult{Code: 0}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return execResult{Code: exitErr.ExitCode()}, nil
	}
	return nil, fmt.Errorf("os: exec %s: %w", name, err)
}

func execArgsEnv(cmd string, args []string) ([]string, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("invalid-input: encoding exec args: %w", err)
	}
	return []string{
		envExecCmd + "=" + cmd,
		envExecArgsJSON + "=" + string(argsJSON),
	}, nil
}
