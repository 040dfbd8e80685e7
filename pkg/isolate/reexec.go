package isolate

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/rrockerd/rrockerd/pkg/fsprep"
	"github.com/rrockerd/rrockerd/pkg/idmap"
	"github.com/rrockerd/rrockerd/pkg/pipe"
)

// MaybeRunChild detects the re-exec sentinel and, if present, runs the
// child-side prelude and thunk, then terminates the process. It must
// be called first thing in main(), before cobra's command tree is
// executed — this is the Go re-exec analogue of the original
// clone(2) callback boundary: everything after this call in the
// parent's main is normal daemon startup, and everything the child
// does happens here instead.
//
// It returns normally (a no-op) when the process was not invoked as a
// re-exec'd child.
func MaybeRunChild() {
	if len(os.Args) < 2 || os.Args[1] != childSentinel {
		return
	}
	runChild()
	// runChild always calls os.Exit; this is unreachable.
}

func runChild() {
	w := pipe.NewFromFile(os.NewFile(3, "result-pipe-w"))

	rootDir := os.Getenv(envRootDir)
	mountCgroup2 := os.Getenv(envMountCgroup2) == "1"
	thunkName := os.Getenv(envThunk)

	outsideUID, err := strconv.Atoi(os.Getenv(envOutsideUID))
	if err != nil {
		failChild(w, fmt.Errorf("protocol: malformed outside uid: %w", err))
	}
	outsideGID, err := strconv.Atoi(os.Getenv(envOutsideGID))
	if err != nil {
		failChild(w, fmt.Errorf("protocol: malformed outside gid: %w", err))
	}

	// Ordering per the isolated process façade (C5): privacy remount,
	// pivot root, mount /proc, mount /sys, (optional cgroup2), deny
	// setgroups, write uid map, write gid map, then the user thunk. Namespace creation
	// grants full capabilities within the new user namespace
	// immediately, before uid_map/gid_map are written, which is why
	// the mount work can run first.
	if err := fsprep.Prepare(fsprep.Options{NewRoot: rootDir, MountCgroup2: mountCgroup2}); err != nil {
		failChild(w, err)
	}

	if err := idmap.Apply(idmap.Outside{UID: outsideUID, GID: outsideGID}); err != nil {
		failChild(w, err)
	}

	fn, ok := lookup(thunkName)
	if !ok {
		failChild(w, fmt.Errorf("isolate: unknown thunk %q in child", thunkName))
	}

	value, err := fn(context.Background())
	if err != nil {
		failChild(w, err)
	}

	if err := w.Send(value); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

// failChild reports err through the result pipe and exits nonzero.
// Any unwind inside the thunk or the prelude is converted to the
// error case of C1 this way, per spec.md §4.2.
func failChild(w *pipe.Writer, err error) {
	_ = w.SendError(err)
	os.Exit(1)
}
