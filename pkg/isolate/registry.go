package isolate

import "context"

// Thunk is the unit of work executed exactly once inside an isolated
// child, after namespace, filesystem, and identity setup completes.
// Its return value must be a type registered with pipe.Register so it
// can cross the result pipe.
//
// Go cannot carry a closure across an exec() boundary the way the
// original clone(2)-based design carries a callback across a raw
// fork: the re-exec'd child is a brand new process image. A thunk is
// therefore looked up by name rather than passed by value; callers
// register their work functions from an init() in the package that
// defines them, and Spawn is given the name to run.
type Thunk func(ctx context.Context) (any, error)

var thunks = map[string]Thunk{}

// Register names a thunk so a re-exec'd child can select it. Panics
// on a duplicate name, which can only happen from a programming error
// since registration always happens at package init time.
func Register(name string, fn Thunk) {
	if _, exists := thunks[name]; exists {
		panic("isolate: thunk already registered: " + name)
	}
	thunks[name] = fn
}

func lookup(name string) (Thunk, bool) {
	fn, ok := thunks[name]
	return fn, ok
}
