package trace

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor continues the caller's trace from incoming metadata
// and logs each call with its status code.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extractMetadata(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		Logger(ctx).Debug("grpc call", "method", info.FullMethod, "code", status.Code(err), "elapsed", time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor does the same for streaming calls.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := extractMetadata(ss.Context())
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		Logger(ctx).Debug("grpc stream closed", "method", info.FullMethod, "code", status.Code(err))
		return err
	}
}

// UnaryClientInterceptor injects trace context into outgoing gRPC calls.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(injectMetadata(ctx), method, req, reply, cc, opts...)
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

func extractMetadata(ctx context.Context) context.Context {
	m := map[string]string{}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, k := range []string{TraceIDKey, SpanIDKey} {
			if v := md.Get(k); len(v) > 0 {
				m[k] = v[0]
			}
		}
	}
	return WithContext(ctx, FromMap(m))
}

// injectMetadata adds trace context to outgoing gRPC metadata.
func injectMetadata(ctx context.Context) context.Context {
	ctx, tc := EnsureContext(ctx)

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.New(nil)
	} else {
		md = md.Copy()
	}
	for k, v := range tc.ToMap() {
		md.Set(k, v)
	}
	return metadata.NewOutgoingContext(ctx, md)
}
