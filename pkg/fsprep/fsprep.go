// Package fsprep implements the filesystem preparer (C3): the
// pivot-root and virtual-filesystem mount sequence that runs inside an
// isolated child before its work thunk executes.
package fsprep

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/cgroups/v3/cgroup2"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"github.com/moby/sys/mountinfo"
)

// Options configures a Prepare call.
type Options struct {
	// NewRoot is the pre-provisioned directory to pivot into.
	NewRoot string
	// MountCgroup2 enables the optional cgroup v2 mount at
	// /sys/fs/cgroup (§4.3 step 5, off by default).
	MountCgroup2 bool
}

// descriptor pairs a mount point with the runtime-spec Mount
// describing how to mount it, matching the type the teacher's volume
// layer already uses to describe bind mounts.
type descriptor struct {
	target string
	mount  specs.Mount
}

// Prepare runs the full ordered C3 sequence: privacy remount, pivot
// root, mount /proc, mount /sys, and optionally mount cgroup2. It must
// run inside the child, before the work thunk, and after the mount
// namespace has been unshared.
func Prepare(opts Options) error {
	if err := privateRemount(); err != nil {
		return err
	}
	if err := pivotRoot(opts.NewRoot); err != nil {
		return err
	}
	if err := mountProc(); err != nil {
		return err
	}
	if err := mountSys(); err != nil {
		return err
	}
	if opts.MountCgroup2 {
		if err := mountCgroup2(); err != nil {
			return err
		}
	}
	return nil
}

// privateRemount recursively remounts / as private so none of the
// mounts performed below propagate back to the host mount namespace.
func privateRemount() error {
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("fs: making / private: %w", err)
	}
	return nil
}

// pivotRoot bind-mounts newRoot onto itself (a precondition of
// pivot_root), pivots into it via the fd-based fchdir dance, and
// lazily detaches the old root.
func pivotRoot(newRoot string) error {
	if err := unix.Mount(newRoot, newRoot, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("fs: bind-mounting new root onto itself: %w", err)
	}

	oldRootRel := ".old_root"
	oldRootAbs := filepath.Join(newRoot, oldRootRel)
	if err := os.MkdirAll(oldRootAbs, 0700); err != nil {
		return fmt.Errorf("fs: creating old root mount point: %w", err)
	}

	newRootFD, err := unix.Open(newRoot, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("fs: opening new root: %w", err)
	}
	defer unix.Close(newRootFD)

	if err := unix.PivotRoot(newRoot, oldRootAbs); err != nil {
		return fmt.Errorf("fs: pivot_root: %w", err)
	}

	if err := unix.Fchdir(newRootFD); err != nil {
		return fmt.Errorf("fs: fchdir to new root: %w", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("fs: chdir /: %w", err)
	}

	oldRoot := "/" + oldRootRel
	if err := unix.Mount("", oldRoot, "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("fs: marking old root slave: %w", err)
	}
	if err := unix.Unmount(oldRoot, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("fs: detaching old root: %w", err)
	}
	if err := os.RemoveAll(oldRoot); err != nil {
		return fmt.Errorf("fs: removing old root mount point: %w", err)
	}

	return nil
}

func mountProc() error {
	d := descriptor{
		target: "/proc",
		mount:  specs.Mount{Destination: "/proc", Type: "proc", Source: "proc"},
	}
	return mountIdempotent(d)
}

func mountSys() error {
	d := descriptor{
		target: "/sys",
		mount:  specs.Mount{Destination: "/sys", Type: "sysfs", Source: "sysfs"},
	}
	return mountIdempotent(d)
}

// taskCgroup is the sub-group every isolated child joins once cgroup2
// is mounted. No resource limits are set on it — CPU/memory accounting
// is out of scope here — joining it only gives the child's own cgroup
// namespace a leaf group to see as its root, matching what the mounted
// cgroup2 filesystem expects to find populated.
const taskCgroup = "/rrockerd-task"

func mountCgroup2() error {
	d := descriptor{
		target: "/sys/fs/cgroup",
		mount:  specs.Mount{Destination: "/sys/fs/cgroup", Type: "cgroup2", Source: "cgroup2"},
	}
	if err := mountIdempotent(d); err != nil {
		return err
	}
	return joinTaskCgroup()
}

func joinTaskCgroup() error {
	mgr, err := cgroup2.NewManager("/sys/fs/cgroup", taskCgroup, &cgroup2.Resources{})
	if err != nil {
		return fmt.Errorf("fs: creating cgroup2 manager: %w", err)
	}
	if err := mgr.AddProc(uint64(os.Getpid())); err != nil {
		return fmt.Errorf("fs: joining %s: %w", taskCgroup, err)
	}
	return nil
}

// mountIdempotent creates the mount point directory only if it does
// not exist, then performs the mount. The mount call itself is never
// repeated for the same directory within one child's lifetime — the
// mountinfo check here guards against a caller invoking Prepare twice
// by accident, which would otherwise stack mounts silently.
func mountIdempotent(d descriptor) error {
	if err := os.MkdirAll(d.target, 0755); err != nil {
		return fmt.Errorf("fs: creating mount point %s: %w", d.target, err)
	}

	already, err := mountinfo.Mounted(d.target)
	if err != nil {
		return fmt.Errorf("fs: checking mount state of %s: %w", d.target, err)
	}
	if already {
		return nil
	}

	if err := unix.Mount(d.mount.Source, d.mount.Destination, d.mount.Type, 0, ""); err != nil {
		return fmt.Errorf("fs: mounting %s at %s: %w", d.mount.Type, d.target, err)
	}
	return nil
}
