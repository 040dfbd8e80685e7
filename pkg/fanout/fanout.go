// Package fanout implements the fan-out output log (C7): an
// append-only, multi-subscriber buffer of output chunks where every
// reader — no matter when it attaches — replays every chunk from the
// beginning and then blocks for new ones until the writer closes.
package fanout

import (
	"sync"
)

// Stream discriminates which descriptor a chunk's bytes came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// Chunk is a single unit of task output.
type Chunk struct {
	Line   string
	Stream Stream
}

// Log is the shared state behind one task's output. Construct one
// with New, obtain a Writer from it (there is exactly one per task),
// and hand out Readers to as many subscribers as attach.
type Log struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks []Chunk
	closed bool
}

// New allocates an empty, open log.
func New() *Log {
	l := &Log{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Writer is the single-producer handle on a Log.
type Writer struct {
	log *Log
}

// NewWriter returns the log's writer. There should be exactly one per
// Log; spec.md's invariants describe its lifetime as the log's own.
func (l *Log) NewWriter() *Writer {
	return &Writer{log: l}
}

// Write appends a chunk and wakes every reader currently suspended.
// It never blocks and never fails: per spec.md §4.7, a full writer
// lock is held only briefly, and there is no backpressure from slow
// readers since each chunk is retained by reference, not copied per
// reader.
func (w *Writer) Write(c Chunk) {
	w.log.mu.Lock()
	if w.log.closed {
		w.log.mu.Unlock()
		return
	}
	w.log.chunks = append(w.log.chunks, c)
	w.log.mu.Unlock()
	w.log.cond.Broadcast()
}

// Close transitions the log to closed. Any reader that has consumed
// every existing chunk then observes end-of-stream; this is
// idempotent since a dropped writer in the original design can only
// close once.
func (w *Writer) Close() {
	w.log.mu.Lock()
	w.log.closed = true
	w.log.mu.Unlock()
	w.log.cond.Broadcast()
}

// Reader is an independent subscriber positioned at some index into
// the log. A Reader created at any point still observes every chunk
// written before it was created, since NewReader always starts at
// index 0 (testable property 4).
type Reader struct {
	log *Log
	idx int
}

// NewReader returns a fresh reader at index 0.
func (l *Log) NewReader() *Reader {
	return &Reader{log: l}
}

// Next blocks until the reader's index is populated (returning the
// chunk and true) or the log is closed with no more chunks to
// deliver (returning false). This is the condition-variable
// realization spec.md §9 names for runtimes without coroutines: a
// suspending reader re-checks readiness after taking the lock, which
// closes the lost-wakeup window between the initial check and going
// to sleep.
func (r *Reader) Next() (Chunk, bool) {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()

	for {
		if r.idx < len(r.log.chunks) {
			c := r.log.chunks[r.idx]
			r.idx++
			return c, true
		}
		if r.log.closed {
			return Chunk{}, false
		}
		r.log.cond.Wait()
	}
}
