package main

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/rrockerd/rrockerd/pkg/metrics"
	"github.com/rrockerd/rrockerd/pkg/service"
)

// serviceDesc is the hand-built stand-in for what protoc-gen-go-grpc
// would otherwise generate from api/proto/rrockerd.proto. Each handler
// below decodes through the registered wire codec (pkg/wire) into the
// plain Go request/reply types pkg/service already speaks, and runs
// the call through the same grpc.UnaryServerInterceptor/
// StreamServerInterceptor chain a generated stub would.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "rrockerd.RrockerService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartTask", Handler: startTaskHandler},
		{MethodName: "StopTask", Handler: stopTaskHandler},
		{MethodName: "QueryTask", Handler: queryTaskHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "TaskOutputStream", Handler: taskOutputStreamHandler, ServerStreams: true},
	},
	Metadata: "api/proto/rrockerd.proto",
}

// recordRPC tallies APIRequestsTotal/APIRequestDuration for method,
// labeling the count with the gRPC status code err maps to (codes.OK
// for a nil err). Every handler below defers this at entry so every
// RPC is counted exactly once regardless of which return path it takes.
func recordRPC(method string, timer *metrics.Timer, err error) {
	metrics.APIRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, method)
}

func startTaskHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (resp any, err error) {
	timer := metrics.NewTimer()
	defer func() { recordRPC("StartTask", timer, err) }()

	var req service.StartTaskRequest
	if err = dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*service.Service).StartTask(ctx, req.(service.StartTaskRequest))
	}
	if interceptor == nil {
		resp, err = handler(ctx, req)
		return resp, err
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rrockerd.RrockerService/StartTask"}
	resp, err = interceptor(ctx, req, info, handler)
	return resp, err
}

// stopTaskReply is serviceDesc's wire-level stand-in for the
// empty StopTaskReply message (api/proto/rrockerd.proto); pkg/service
// itself has nothing to return beyond success.
type stopTaskReply struct{}

func stopTaskHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (resp any, err error) {
	timer := metrics.NewTimer()
	defer func() { recordRPC("StopTask", timer, err) }()

	var req service.TaskHandle
	if err = dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		if err := srv.(*service.Service).StopTask(ctx, req.(service.TaskHandle)); err != nil {
			return nil, err
		}
		return stopTaskReply{}, nil
	}
	if interceptor == nil {
		resp, err = handler(ctx, req)
		return resp, err
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rrockerd.RrockerService/StopTask"}
	resp, err = interceptor(ctx, req, info, handler)
	return resp, err
}

func queryTaskHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (resp any, err error) {
	timer := metrics.NewTimer()
	defer func() { recordRPC("QueryTask", timer, err) }()

	var req service.TaskHandle
	if err = dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*service.Service).QueryTask(ctx, req.(service.TaskHandle))
	}
	if interceptor == nil {
		resp, err = handler(ctx, req)
		return resp, err
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rrockerd.RrockerService/QueryTask"}
	resp, err = interceptor(ctx, req, info, handler)
	return resp, err
}

func taskOutputStreamHandler(srv any, stream grpc.ServerStream) (err error) {
	timer := metrics.NewTimer()
	defer func() { recordRPC("TaskOutputStream", timer, err) }()

	var req service.TaskHandle
	if err = stream.RecvMsg(&req); err != nil {
		return err
	}
	err = srv.(*service.Service).TaskOutputStream(stream.Context(), req, grpcOutputSender{stream})
	return err
}

type grpcOutputSender struct {
	stream grpc.ServerStream
}

func (s grpcOutputSender) Send(reply service.TaskOutputReply) error {
	return s.stream.SendMsg(&reply)
}
