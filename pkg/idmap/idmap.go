// Package idmap implements the identity mapper (C4): writing the
// single-entry uid/gid maps that give a freshly unshared user
// namespace a root-in-namespace identity backed by the daemon's real
// uid/gid on the host side.
package idmap

import (
	"fmt"
	"os"
)

// Outside is the host-side uid/gid pair that must be captured before
// the namespace transition: once the child is running inside the new
// user namespace it can no longer observe its own original identity.
type Outside struct {
	UID int
	GID int
}

// CaptureOutside reads the calling process's real uid/gid. Call this
// in the parent before cloning, never in the child.
func CaptureOutside() Outside {
	return Outside{UID: os.Getuid(), GID: os.Getgid()}
}

// Apply writes /proc/self/{setgroups,uid_map,gid_map} from inside the
// child, mapping inside-namespace uid/gid 0 (root) to the captured
// outside identity. setgroups must be disabled before the gid map is
// written; the kernel enforces this ordering and rejects the gid_map
// write otherwise.
func Apply(outside Outside) error {
	if err := os.WriteFile("/proc/self/setgroups", []byte("deny"), 0); err != nil {
		return fmt.Errorf("os: disabling setgroups: %w", err)
	}

	uidMap := fmt.Sprintf("0 %d 1", outside.UID)
	if err := os.WriteFile("/proc/self/uid_map", []byte(uidMap), 0); err != nil {
		return fmt.Errorf("os: writing uid_map: %w", err)
	}

	gidMap := fmt.Sprintf("0 %d 1", outside.GID)
	if err := os.WriteFile("/proc/self/gid_map", []byte(gidMap), 0); err != nil {
		return fmt.Errorf("os: writing gid_map: %w", err)
	}

	return nil
}
