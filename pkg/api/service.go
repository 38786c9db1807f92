package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "paramd.v1.ParamService"

// Full method names
const (
	MethodGetParameter   = "/" + ServiceName + "/GetParameter"
	MethodSetParameter   = "/" + ServiceName + "/SetParameter"
	MethodGetCommitID    = "/" + ServiceName + "/GetCommitId"
	MethodListParameters = "/" + ServiceName + "/ListParameters"
	MethodWaitParameter  = "/" + ServiceName + "/WaitParameter"
)

// paramServer is the server side of the ParamService. Messages are protobuf
// well-known types:
//
//	GetParameter(StringValue name) Struct{name, value, commit_id}
//	SetParameter(Struct{name, value}) Struct{name, value, commit_id}
//	GetCommitId(StringValue name) UInt32Value     // empty name: system commit id
//	ListParameters(StringValue prefix) ListValue  // of entry structs
//	WaitParameter(Struct{name, value, timeout_ms}) Struct{name, value, commit_id}
type paramServer interface {
	GetParameter(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	SetParameter(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCommitId(context.Context, *wrapperspb.StringValue) (*wrapperspb.UInt32Value, error)
	ListParameters(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	WaitParameter(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*paramServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetParameter", Handler: unary(MethodGetParameter, paramServer.GetParameter)},
		{MethodName: "SetParameter", Handler: unary(MethodSetParameter, paramServer.SetParameter)},
		{MethodName: "GetCommitId", Handler: unary(MethodGetCommitID, paramServer.GetCommitId)},
		{MethodName: "ListParameters", Handler: unary(MethodListParameters, paramServer.ListParameters)},
		{MethodName: "WaitParameter", Handler: unary(MethodWaitParameter, paramServer.WaitParameter)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "paramd/v1/param.proto",
}

// unary builds a method handler the way protoc-gen-go-grpc does
func unary[Req any, Resp any](method string, call func(paramServer, context.Context, *Req) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(paramServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(paramServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
