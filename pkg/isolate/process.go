package isolate

import "context"

// IsolatedProcess composes C2-C4 into the single "run this thunk in an
// isolated environment" primitive spec.md §4.5 names. Construction
// only captures configuration; Execute does the actual spawn.
type IsolatedProcess struct {
	opts SpawnOptions
}

// New captures the thunk selection and root filesystem configuration
// for a later Execute call. It does not spawn anything yet.
func New(opts SpawnOptions) *IsolatedProcess {
	return &IsolatedProcess{opts: opts}
}

// Execute spawns the child and returns its PID plus the C1 result
// reader, wrapped as a Result. Any failure in the C3/C4 prelude
// surfaces through the result pipe as an error outcome; the child
// still exits nonzero either way, so the caller always reaps it via
// Result.Wait.
func (p *IsolatedProcess) Execute(ctx context.Context) (*Result, error) {
	return Spawn(ctx, p.opts)
}
