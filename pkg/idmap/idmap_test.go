package idmap

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaptureOutsideMatchesProcess(t *testing.T) {
	o := CaptureOutside()
	assert.Equal(t, os.Getuid(), o.UID)
	assert.Equal(t, os.Getgid(), o.GID)
}

// TestApplyOutsideCurrentNamespaceFails documents the expected failure
// mode rather than exercising the success path: writing uid_map/gid_map
// requires actually being inside a freshly unshared user namespace
// (CLONE_NEWUSER), which this unit test does not create. Running Apply
// in the test process's own (non-namespace) context is expected to
// fail, since /proc/self/{uid_map,gid_map} for the initial namespace
// cannot be remapped this way.
func TestApplyOutsideCurrentNamespaceFails(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root can write the initial namespace's maps; this check only holds for an unprivileged test runner")
	}
	err := Apply(Outside{UID: os.Getuid(), GID: os.Getgid()})
	assert.Error(t, err)
}
