package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rrockerd/rrockerd/pkg/auth"
	"github.com/rrockerd/rrockerd/pkg/registry"
)

type fakeSender struct {
	got []TaskOutputReply
}

func (f *fakeSender) Send(r TaskOutputReply) error {
	f.got = append(f.got, r)
	return nil
}

func ctxAs(a registry.ClientAuth) context.Context {
	return auth.WithClientAuth(context.Background(), a)
}

func TestStartTaskRequiresClientAuth(t *testing.T) {
	svc := New(Config{RootDir: t.TempDir()})
	_, err := svc.StartTask(context.Background(), StartTaskRequest{Cmd: "true"})
	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Internal, st.Code())
}

func TestStopTaskRejectsMalformedUUID(t *testing.T) {
	svc := New(Config{RootDir: t.TempDir()})
	ctx := ctxAs(registry.ClientAuth{ID: "c1", Group: "client"})

	err := svc.StopTask(ctx, TaskHandle{UUID: "not-a-uuid"})
	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	assert.Equal(t, "TaskHandle.uuid is not a valid UUIDv4", st.Message())
}

func TestQueryTaskRejectsUnknownHandle(t *testing.T) {
	svc := New(Config{RootDir: t.TempDir()})
	ctx := ctxAs(registry.ClientAuth{ID: "c1", Group: "client"})

	_, err := svc.QueryTask(ctx, TaskHandle{UUID: "b3f1c9d0-7f1a-4b1a-9b1a-7f1a4b1a9b1a"})
	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	assert.Equal(t, "Invalid task handle", st.Message())
}

// TestQueryTaskOtherPrincipalSameErrorAsMissing is scenario S1b: a
// different client's lookup of a real handle produces the identical
// error message as an unknown handle.
func TestQueryTaskOtherPrincipalSameErrorAsMissing(t *testing.T) {
	svc := New(Config{RootDir: t.TempDir()})
	owner := ctxAs(registry.ClientAuth{ID: "c1", Group: "client"})

	reply, err := svc.StartTask(owner, StartTaskRequest{Cmd: "true"})
	require.NoError(t, err)

	other := ctxAs(registry.ClientAuth{ID: "c2", Group: "client"})
	_, err = svc.QueryTask(other, reply.Handle)
	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	assert.Equal(t, "Invalid task handle", st.Message())
}
