package fanout

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReplayFromStart exercises testable property 4: a reader created
// after some chunks were already written still observes all of them,
// in order, then end-of-stream once the writer closes.
func TestReplayFromStart(t *testing.T) {
	l := New()
	w := l.NewWriter()

	w.Write(Chunk{Line: "hello\n", Stream: Stdout})
	w.Write(Chunk{Line: "warn\n", Stream: Stderr})

	r := l.NewReader()

	c1, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, Chunk{Line: "hello\n", Stream: Stdout}, c1)

	c2, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, Chunk{Line: "warn\n", Stream: Stderr}, c2)

	w.Close()

	_, ok = r.Next()
	assert.False(t, ok)
}

// TestLateJoinerSeesEverything is scenario S3: a subscriber attaching
// after the writer has already produced output and closed still sees
// every chunk before end-of-stream.
func TestLateJoinerSeesEverything(t *testing.T) {
	l := New()
	w := l.NewWriter()
	w.Write(Chunk{Line: "hello\n", Stream: Stdout})
	w.Write(Chunk{Line: "warn\n", Stream: Stderr})
	w.Close()

	r := l.NewReader()
	var got []Chunk
	for {
		c, ok := r.Next()
		if !ok {
			break
		}
		got = append(got, c)
	}
	assert.Equal(t, []Chunk{
		{Line: "hello\n", Stream: Stdout},
		{Line: "warn\n", Stream: Stderr},
	}, got)
}

// TestSuspendedReaderWakesOnWrite exercises the suspend/resume path: a
// reader blocked past the current tail resumes once a concurrent
// writer appends.
func TestSuspendedReaderWakesOnWrite(t *testing.T) {
	l := New()
	w := l.NewWriter()
	r := l.NewReader()

	done := make(chan Chunk, 1)
	go func() {
		c, ok := r.Next()
		if ok {
			done <- c
		}
	}()

	w.Write(Chunk{Line: "x\n", Stream: Stdout})

	select {
	case c := <-done:
		assert.Equal(t, Chunk{Line: "x\n", Stream: Stdout}, c)
	}
}

// TestSuspendedReaderSeesClose exercises the boundary behavior:
// dropping the writer while a reader is suspended resolves that
// reader to end-of-stream rather than hanging forever.
func TestSuspendedReaderSeesClose(t *testing.T) {
	l := New()
	w := l.NewWriter()
	r := l.NewReader()

	done := make(chan bool, 1)
	go func() {
		_, ok := r.Next()
		done <- ok
	}()

	w.Close()
	assert.False(t, <-done)
}

// TestPrefixConsistency exercises testable property 3: two readers of
// the same log, once both have emitted k items, emitted the same
// first k items.
func TestPrefixConsistency(t *testing.T) {
	l := New()
	w := l.NewWriter()
	for i := 0; i < 100; i++ {
		w.Write(Chunk{Line: "line", Stream: Stdout})
	}
	w.Close()

	r1 := l.NewReader()
	r2 := l.NewReader()

	var wg sync.WaitGroup
	var out1, out2 []Chunk
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			c, ok := r1.Next()
			if !ok {
				return
			}
			out1 = append(out1, c)
		}
	}()
	go func() {
		defer wg.Done()
		for {
			c, ok := r2.Next()
			if !ok {
				return
			}
			out2 = append(out2, c)
		}
	}()
	wg.Wait()

	assert.Equal(t, out1, out2)
	assert.Len(t, out1, 100)
}

// TestWriteAfterCloseIsIgnored checks the append-only invariant holds
// even against a misbehaving caller that writes after closing.
func TestWriteAfterCloseIsIgnored(t *testing.T) {
	l := New()
	w := l.NewWriter()
	w.Close()
	w.Write(Chunk{Line: "too late", Stream: Stdout})

	r := l.NewReader()
	_, ok := r.Next()
	assert.False(t, ok)
}
