// Package isolate implements the namespace cloner (C2) and the
// isolated process façade (C5). It composes pkg/idmap (C4) and
// pkg/fsprep (C3) into a single "run this thunk in an isolated
// environment" primitive.
package isolate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/rrockerd/rrockerd/pkg/idmap"
	"github.com/rrockerd/rrockerd/pkg/pipe"
)

const (
	// childSentinel is the argv[1] a re-exec'd process checks for
	// before any normal command-line parsing runs. See reexec.go.
	childSentinel = "__rrockerd_isolated_child__"

	envThunk        = "RROCKERD_THUNK"
	envRootDir      = "RROCKERD_ROOT_DIR"
	envMountCgroup2 = "RROCKERD_MOUNT_CGROUP2"
	envOutsideUID   = "RROCKERD_OUTSIDE_UID"
	envOutsideGID   = "RROCKERD_OUTSIDE_GID"
)

// DefaultNamespaceMask is the namespace set spec.md §4.2 requires:
// new PID, mount, net, user, UTS, and cgroup namespaces. CLONE_VM is
// deliberately never included — the child must not share the parent's
// address space, or namespace setup inside the child would corrupt
// the daemon's own memory.
const DefaultNamespaceMask = unix.CLONE_NEWPID |
	unix.CLONE_NEWNS |
	unix.CLONE_NEWNET |
	unix.CLONE_NEWUSER |
	unix.CLONE_NEWUTS |
	unix.CLONE_NEWCGROUP

// SpawnOptions configures one isolated child.
type SpawnOptions struct {
	// ThunkName selects a Thunk registered with Register.
	ThunkName string
	// RootDir is the pre-provisioned filesystem tree the child
	// pivots into (§4.3 step 2).
	RootDir string
	// MountCgroup2 enables the optional cgroup v2 mount.
	MountCgroup2 bool
	// NamespaceMask overrides DefaultNamespaceMask when non-zero.
	NamespaceMask uintptr

	Stdout, Stderr *os.File

	// ExtraEnv is appended to the child's environment, on top of the
	// fixed variables Spawn always sets. A Thunk's signature carries
	// no parameters across the re-exec boundary, so callers that need
	// to parameterize their thunk (e.g. which command to run) pass
	// those parameters here.
	ExtraEnv []string
}

// Spawn realizes C2+C5's execute(): it re-execs the current binary
// into a fresh namespace set and runs the named thunk after the C3/C4
// prelude completes. On success it returns a Result carrying the
// child's PID (the caller must reap it to avoid a zombie — see
// Result.Wait) and the pipe.Reader that yields the thunk's outcome.
func Spawn(ctx context.Context, opts SpawnOptions) (*Result, error) {
	if _, ok := lookup(opts.ThunkName); !ok {
		return nil, fmt.Errorf("isolate: unknown thunk %q", opts.ThunkName)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("os: resolving self executable: %w", err)
	}

	r, w, err := pipe.New()
	if err != nil {
		return nil, err
	}

	outside := idmap.CaptureOutside()

	mask := opts.NamespaceMask
	if mask == 0 {
		mask = DefaultNamespaceMask
	}

	cmd := exec.CommandContext(ctx, self, childSentinel)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.ExtraFiles = []*os.File{w.File()}
	cmd.Env = append(os.Environ(),
		envThunk+"="+opts.ThunkName,
		envRootDir+"="+opts.RootDir,
		envOutsideUID+"="+strconv.Itoa(outside.UID),
		envOutsideGID+"="+strconv.Itoa(outside.GID),
	)
	if opts.MountCgroup2 {
		cmd.Env = append(cmd.Env, envMountCgroup2+"=1")
	}
	cmd.Env = append(cmd.Env, opts.ExtraEnv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: uintptr(mask),
		Pdeathsig:  syscall.SIGKILL,
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("os: starting isolated child: %w", err)
	}

	// The parent's copy of the write end was only needed for the
	// fork+exec call above; closing it here means the pipe's read end
	// observes EOF once the child's own copy closes (on exit or on an
	// explicit Close), not before.
	w.File().Close()

	return &Result{cmd: cmd, reader: r}, nil
}

// CheckSupport probes whether the host kernel permits the namespace
// set rrockerd isolates with, without going through the thunk registry
// or C3/C4 prelude: it clones a trivial child with DefaultNamespaceMask
// and waits for it to exit. A failure here (commonly EPERM, or ENOSYS
// when user namespaces are compiled out or
// /proc/sys/kernel/unprivileged_userns_clone is disabled) means C2
// cannot isolate anything on this host, which readiness needs to know
// before reporting the daemon ready.
func CheckSupport() error {
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: uintptr(DefaultNamespaceMask)}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("isolate: namespace probe failed: %w", err)
	}
	return nil
}

// Result is the parent's handle on a spawned isolated child: its PID,
// for reaping and signaling, and the C1 reader for its outcome.
type Result struct {
	cmd    *exec.Cmd
	reader *pipe.Reader
}

// PID returns the child's process id.
func (r *Result) PID() int {
	return r.cmd.Process.Pid
}

// Recv blocks for the child's C1 outcome.
func (r *Result) Recv() (any, error) {
	return r.reader.Recv()
}

// Wait reaps the child. The caller must always call Wait (directly or
// via Recv's caller doing so afterward) to avoid leaving a zombie;
// spec.md §4.5 allows wrapping this into the reader's drop, which a
// finalizer is a poor substitute for in Go, so callers must call it
// explicitly.
func (r *Result) Wait() error {
	return r.cmd.Wait()
}

// Signal delivers a signal to the child, used by StopTask's escalation
// ladder (pkg/service).
func (r *Result) Signal(sig syscall.Signal) error {
	if r.cmd.Process == nil {
		return fmt.Errorf("os: child process not started")
	}
	return r.cmd.Process.Signal(sig)
}
