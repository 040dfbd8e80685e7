package service

import (
	"context"

	"github.com/rrockerd/rrockerd/pkg/fanout"
	"github.com/rrockerd/rrockerd/pkg/metrics"
)

// TaskOutputReply is the Go-level shape of TaskOutputReply (§6).
type TaskOutputReply struct {
	Line   string
	Stream string
}

// OutputSender is the minimal surface a server stream needs to
// satisfy for TaskOutputStream to forward chunks onto it. cmd/rrockerd's dispatch layer adapts the real stream type to
// this interface; tests can supply a trivial slice-collecting one.
type OutputSender interface {
	Send(TaskOutputReply) error
}

// TaskOutputStream validates handle, then forwards every chunk from
// the task's log — from the beginning, regardless of when the stream
// attaches — until the log closes. A disconnecting consumer (ctx
// cancelled) simply stops the forwarding loop; the log itself is
// unaffected and keeps accepting writes for any other subscriber.
func (s *Service) TaskOutputStream(ctx context.Context, handle TaskHandle, send OutputSender) error {
	_, task, err := s.lookup(ctx, handle.UUID)
	if err != nil {
		return err
	}

	reader := task.Log.NewReader()
	metrics.FanoutActiveReaders.Inc()
	defer metrics.FanoutActiveReaders.Dec()
	for {
		chunk, ok := nextWithCancel(ctx, reader)
		if !ok {
			return ctx.Err()
		}
		if err := send.Send(TaskOutputReply{Line: chunk.Line, Stream: streamString(chunk.Stream)}); err != nil {
			return err
		}
	}
}

// nextWithCancel lets a blocking Reader.Next be abandoned when ctx is
// cancelled. The spawned goroutine may outlive the cancellation (it
// only returns once the log produces its next chunk or closes); this
// is the same tolerated leak spec.md §5 describes for a dropped
// stream reader, bounded by the task's own lifetime.
func nextWithCancel(ctx context.Context, r *fanout.Reader) (fanout.Chunk, bool) {
	type outcome struct {
		chunk fanout.Chunk
		ok    bool
	}
	done := make(chan outcome, 1)
	go func() {
		c, ok := r.Next()
		done <- outcome{c, ok}
	}()

	select {
	case o := <-done:
		return o.chunk, o.ok
	case <-ctx.Done():
		return fanout.Chunk{}, false
	}
}
