package fsprep

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMountIdempotentCreatesMissingDirOnly checks the os.MkdirAll
// behavior that mountIdempotent's directory creation relies on (§4.3:
// "creation is skipped if the directory exists"); it does not call
// mountIdempotent itself, since that also mounts and needs
// CAP_SYS_ADMIN. The mount syscall itself can only be exercised inside
// a real isolated child, which pkg/isolate's integration tests cover.
func TestMountIdempotentCreatesMissingDirOnly(t *testing.T) {
	dir := t.TempDir()
	target := dir + "/proc"

	_, err := os.Stat(target)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, os.MkdirAll(target, 0755))
	info, err := os.Stat(target)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// Calling MkdirAll again on an existing directory is a no-op, the
	// same guarantee mountIdempotent relies on before mounting.
	require.NoError(t, os.MkdirAll(target, 0755))
}
