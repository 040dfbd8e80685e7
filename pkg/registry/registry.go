// Package registry implements the task registry and authorization
// fabric (C8): handle allocation, owner indexing, and per-request
// authorization with an admin override, under concurrent access.
package registry

import (
	"errors"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"

	"github.com/rrockerd/rrockerd/pkg/fanout"
)

// ErrInvalidHandle is returned both when a handle does not exist and
// when it exists but is not visible to the calling principal. The two
// cases are deliberately indistinguishable on the wire (§4.8): a
// 404-vs-403 split would let a client probe for the existence of
// other tenants' tasks.
var ErrInvalidHandle = errors.New("invalid task handle")

// Status is a task's last-known lifecycle state.
type Status int

const (
	Running Status = iota
	Exited
	Failed
)

// Task is created when a start request is admitted and lives until
// explicit removal. It is never mutated to change ownership.
type Task struct {
	Handle uuid.UUID
	Owner  string
	Cmd    string
	Args   []string

	Log    *fanout.Log
	Writer *fanout.Writer

	mu     sync.Mutex
	pid    int
	status Status
	code   int
}

func (t *Task) SetPID(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pid = pid
}

func (t *Task) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pid
}

// SetExit records the task's terminal state once the child has been
// reaped. QueryTask's status/code are read from here (§4.9.3).
func (t *Task) SetExit(status Status, code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	t.code = code
}

// Snapshot returns the task's current status and exit code.
func (t *Task) Snapshot() (Status, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.code
}

type ownerSet struct {
	mu      sync.Mutex
	handles map[uuid.UUID]struct{}
}

func (o *ownerSet) add(h uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handles[h] = struct{}{}
}

func (o *ownerSet) contains(h uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.handles[h]
	return ok
}

func (o *ownerSet) snapshot() []uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]uuid.UUID, 0, len(o.handles))
	for h := range o.handles {
		out = append(out, h)
	}
	return out
}

// Registry holds the two mappings described in spec.md §3: tasks is
// the single source of truth for existence, owners is an index into
// it that is allowed to run stale (see Remove).
type Registry struct {
	tasks  *stripedMap[uuid.UUID, *Task]
	owners *stripedMap[string, *ownerSet]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		tasks:  newStripedMap[uuid.UUID, *Task](hashUUID),
		owners: newStripedMap[string, *ownerSet](hashString),
	}
}

func hashUUID(id uuid.UUID) uint32 {
	h := fnv.New32a()
	h.Write(id[:])
	return h.Sum32()
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// Create generates a v4 handle, inserts the Task, then adds the
// handle to the owner's index. Between these two steps a concurrent
// Lookup for the same handle may briefly not find it via the owner
// index; this is tolerated because the handle has not yet been
// returned to any caller (§4.8).
func (r *Registry) Create(auth ClientAuth, cmd string, args []string) *Task {
	handle := uuid.New()
	l := fanout.New()
	task := &Task{
		Handle: handle,
		Owner:  auth.ID,
		Cmd:    cmd,
		Args:   args,
		Log:    l,
		Writer: l.NewWriter(),
	}

	r.tasks.Set(handle, task)

	owners := r.owners.GetOrCreate(auth.ID, func() *ownerSet {
		return &ownerSet{handles: make(map[uuid.UUID]struct{})}
	})
	owners.add(handle)

	return task
}

// Verify reports whether auth may act on handle: always true for
// admins, otherwise true iff handle is present in auth's own owner
// index. This is testable property 1.
func (r *Registry) Verify(auth ClientAuth, handle uuid.UUID) bool {
	if auth.IsAdmin() {
		return true
	}
	owners, ok := r.owners.Get(auth.ID)
	if !ok {
		return false
	}
	return owners.contains(handle)
}

// Lookup fetches the task for handle and checks auth may see it.
func (r *Registry) Lookup(auth ClientAuth, handle uuid.UUID) (*Task, error) {
	task, ok := r.tasks.Get(handle)
	if !ok {
		return nil, ErrInvalidHandle
	}
	if !r.Verify(auth, handle) {
		return nil, ErrInvalidHandle
	}
	return task, nil
}

// Iterate yields every task visible to auth as of the moment it is
// called. No lock on either map is held across a yield: handles are
// snapshotted first, then looked up one at a time after releasing
// every bucket lock, so a task removed mid-iteration is simply
// skipped rather than causing an error or a deadlock.
func (r *Registry) Iterate(auth ClientAuth) []*Task {
	var handles []uuid.UUID
	if auth.IsAdmin() {
		handles = r.tasks.Keys()
	} else if owners, ok := r.owners.Get(auth.ID); ok {
		handles = owners.snapshot()
	}

	out := make([]*Task, 0, len(handles))
	for _, h := range handles {
		if task, ok := r.tasks.Get(h); ok {
			out = append(out, task)
		}
	}
	return out
}

// CountByStatus tallies every task in the registry by lifecycle status,
// independent of any principal's visibility. It exists for the metrics
// collector, which reports daemon-wide gauges rather than a single
// tenant's view.
func (r *Registry) CountByStatus() (running, exited, failed int) {
	for _, h := range r.tasks.Keys() {
		task, ok := r.tasks.Get(h)
		if !ok {
			continue
		}
		switch status, _ := task.Snapshot(); status {
		case Running:
			running++
		case Exited:
			exited++
		case Failed:
			failed++
		}
	}
	return running, exited, failed
}

// Remove deletes handle from tasks. The owners index may temporarily
// retain the now-dangling handle; it is never visible because Lookup
// and Iterate both join through tasks.
func (r *Registry) Remove(handle uuid.UUID) {
	r.tasks.Delete(handle)
}
