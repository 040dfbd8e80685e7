// Package pipe implements the one-shot, out-of-address-space result
// channel (C1) that carries a typed success-or-failure outcome from an
// isolated child process back to its parent.
//
// The child runs after a re-exec and possibly inside fresh namespaces,
// so an ordinary in-process error return cannot work: there is no
// shared memory and no shared Go runtime between the two. A unidirectional
// OS pipe, opened close-on-exec, is the conduit. The child gob-encodes
// its outcome and writes it to the write end; the parent decodes from
// the read end. gob is this repository's analogue of the original
// bincode encoding: it needs no schema compiler and round-trips any
// Go value the caller registers, including the flattened message chain
// used for the error case, since a native error type cannot cross a
// process boundary with its call stack intact.
package pipe

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Outcome is the wire envelope written by the child and read by the
// parent. Exactly one of Value or ErrChain is meaningful, discriminated
// by Failed.
type Outcome struct {
	Failed   bool
	Value    any
	ErrChain []string // outermost cause first
}

// Reader is the parent-side handle on a result pipe.
type Reader struct {
	f *os.File
}

// Writer is the child-side handle on a result pipe.
type Writer struct {
	f *os.File
}

// New allocates the underlying OS pipe with both ends close-on-exec,
// so no process the daemon execs inherits the descriptors unless it is
// handed the write end explicitly through exec.Cmd.ExtraFiles, as
// pkg/isolate's re-exec does.
func New() (*Reader, *Writer, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, fmt.Errorf("os: creating result pipe: %w", err)
	}
	r := os.NewFile(uintptr(fds[0]), "result-pipe-r")
	w := os.NewFile(uintptr(fds[1]), "result-pipe-w")
	return &Reader{f: r}, &Writer{f: w}, nil
}

// NewFromFile wraps an inherited file descriptor (e.g. received over
// ExtraFiles after a re-exec) as a Writer.
func NewFromFile(f *os.File) *Writer {
	return &Writer{f: f}
}

// Send encodes value and writes it as a success outcome. The child is
// expected to exit immediately afterward.
func (w *Writer) Send(value any) error {
	return w.write(Outcome{Value: value})
}

// SendError encodes err as a failure outcome, flattening its chain of
// causes (outermost first) into a portable message list.
func (w *Writer) SendError(err error) error {
	return w.write(Outcome{Failed: true, ErrChain: chain(err)})
}

func (w *Writer) write(o Outcome) error {
	defer w.f.Close()

	// gob requires concrete types behind an any field to be registered;
	// callers that send custom types are responsible for gob.Register.
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(o); err != nil {
		return fmt.Errorf("protocol: encoding child outcome: %w", err)
	}
	if _, err := w.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("os: writing child outcome: %w", err)
	}
	return nil
}

func chain(err error) []string {
	var out []string
	for err != nil {
		out = append(out, err.Error())
		err = unwrap(err)
	}
	return out
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

// Close closes the write end without sending, e.g. on a parent-side
// error path where the child was never started. Send and SendError
// already close the write end themselves.
func (w *Writer) Close() error {
	return w.f.Close()
}

// File exposes the underlying write-end descriptor so a caller can
// place it into exec.Cmd.ExtraFiles before a re-exec.
func (w *Writer) File() *os.File {
	return w.f
}

// Close closes the read end without waiting for a child outcome, used
// on a parent-side error path before the child has even been started.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Recv blocks until the child writes its outcome or closes the pipe,
// then decodes it. A short read (truncated encoding, or the child
// exiting before writing anything) is reported as a protocol error.
// On success it returns the child's value; the caller type-asserts it
// to whatever concrete type the thunk is known to produce.
func (r *Reader) Recv() (any, error) {
	defer r.f.Close()

	data, err := io.ReadAll(r.f)
	if err != nil {
		return nil, fmt.Errorf("os: reading child outcome: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("protocol: child closed result pipe without writing an outcome")
	}

	var o Outcome
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&o); err != nil {
		return nil, fmt.Errorf("protocol: decoding child outcome: %w", err)
	}
	if o.Failed {
		return nil, &ChildError{Chain: o.ErrChain}
	}
	return o.Value, nil
}

// ChildError represents a failure outcome received from the child,
// reconstructed as a message chain rather than a typed Go error since
// the original type cannot cross the process boundary.
type ChildError struct {
	Chain []string
}

func (e *ChildError) Error() string {
	if len(e.Chain) == 0 {
		return "child reported a failure with no message"
	}
	s := e.Chain[0]
	for _, c := range e.Chain[1:] {
		s += ": " + c
	}
	return s
}

// Register makes a concrete type encodable inside an Outcome.Value.
// Callers must register every type they intend to send through a
// result pipe, mirroring gob's usual discipline for interface values.
func Register(value any) {
	gob.Register(value)
}
