package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThenLookupByOwner(t *testing.T) {
	r := New()
	auth := ClientAuth{ID: "c1", Group: "client"}

	task := r.Create(auth, "sleep", []string{"1"})

	got, err := r.Lookup(auth, task.Handle)
	require.NoError(t, err)
	assert.Equal(t, task.Handle, got.Handle)
}

// TestLookupByOtherPrincipalIsInvalidHandle is scenario S1: a
// different client looking up someone else's handle gets the same
// error as an unknown handle.
func TestLookupByOtherPrincipalIsInvalidHandle(t *testing.T) {
	r := New()
	owner := ClientAuth{ID: "c1", Group: "client"}
	other := ClientAuth{ID: "c2", Group: "client"}

	task := r.Create(owner, "sleep", []string{"1"})

	_, err := r.Lookup(other, task.Handle)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

// TestAdminSeesAnyTask is scenario S2.
func TestAdminSeesAnyTask(t *testing.T) {
	r := New()
	owner := ClientAuth{ID: "c1", Group: "client"}
	admin := ClientAuth{ID: "a1", Group: "admin"}

	task := r.Create(owner, "sleep", []string{"1"})

	got, err := r.Lookup(admin, task.Handle)
	require.NoError(t, err)
	assert.Equal(t, task.Handle, got.Handle)
}

func TestLookupUnknownHandleIsInvalid(t *testing.T) {
	r := New()
	auth := ClientAuth{ID: "c1", Group: "client"}
	task := r.Create(auth, "x", nil)
	r.Remove(task.Handle)

	_, err := r.Lookup(auth, task.Handle)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

// TestVerifyMatchesInvariant is testable property 1: verify(p, h) is
// true iff p is admin or h is in owners[p.id].
func TestVerifyMatchesInvariant(t *testing.T) {
	r := New()
	owner := ClientAuth{ID: "c1", Group: "client"}
	other := ClientAuth{ID: "c2", Group: "client"}
	admin := ClientAuth{ID: "a1", Group: "admin"}

	task := r.Create(owner, "x", nil)

	assert.True(t, r.Verify(owner, task.Handle))
	assert.False(t, r.Verify(other, task.Handle))
	assert.True(t, r.Verify(admin, task.Handle))
}

// TestIterateSkipsRemovedTask exercises the boundary behavior: a
// removed task whose handle is still in the owner index (Remove leaves
// it there) is skipped, not errored.
func TestIterateSkipsRemovedTask(t *testing.T) {
	r := New()
	auth := ClientAuth{ID: "c1", Group: "client"}

	keep := r.Create(auth, "a", nil)
	remove := r.Create(auth, "b", nil)

	r.Remove(remove.Handle)

	tasks := r.Iterate(auth)
	require.Len(t, tasks, 1)
	assert.Equal(t, keep.Handle, tasks[0].Handle)
}

func TestIterateAdminSeesAllOwners(t *testing.T) {
	r := New()
	c1 := ClientAuth{ID: "c1", Group: "client"}
	c2 := ClientAuth{ID: "c2", Group: "client"}
	admin := ClientAuth{ID: "a1", Group: "admin"}

	r.Create(c1, "a", nil)
	r.Create(c2, "b", nil)

	assert.Len(t, r.Iterate(admin), 2)
	assert.Len(t, r.Iterate(c1), 1)
}

// TestConcurrentCreateAndLookup exercises the registry's concurrency
// discipline: many goroutines creating and looking up tasks under
// distinct principals never corrupt either map.
func TestConcurrentCreateAndLookup(t *testing.T) {
	r := New()
	const n = 200

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			auth := ClientAuth{ID: string(rune('a' + i%26)), Group: "client"}
			task := r.Create(auth, "x", nil)
			_, err := r.Lookup(auth, task.Handle)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}
