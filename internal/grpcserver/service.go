package grpcserver

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/greenscreen/internal/errors"
	"github.com/GriffinCanCode/greenscreen/internal/protocol"
	"github.com/GriffinCanCode/greenscreen/internal/trace"
	"github.com/GriffinCanCode/greenscreen/internal/worker"
)

// Full method names of the configuration service.
const (
	MethodGetConfig        = "/" + ServiceName + "/GetConfig"
	MethodUpdateConfig     = "/" + ServiceName + "/UpdateConfig"
	MethodRemoveBackground = "/" + ServiceName + "/RemoveBackground"
)

// configServer is the handler interface of the configuration service.
// Settings travel as google.protobuf.Struct with the same keys as the
// WebSocket updateBackground message; replies carry "config" and "warnings".
type configServer interface {
	GetConfig(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	UpdateConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveBackground(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var compositorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*configServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetConfig", Handler: unaryHandler(MethodGetConfig, newEmpty, configServer.GetConfig)},
		{MethodName: "UpdateConfig", Handler: unaryHandler(MethodUpdateConfig, newStruct, configServer.UpdateConfig)},
		{MethodName: "RemoveBackground", Handler: unaryHandler(MethodRemoveBackground, newEmpty, configServer.RemoveBackground)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "greenscreen/compositor.proto",
}

func newEmpty() *emptypb.Empty   { return &emptypb.Empty{} }
func newStruct() *structpb.Struct { return &structpb.Struct{} }

func unaryHandler[T proto.Message](
	fullMethod string,
	newReq func() T,
	call func(configServer, context.Context, T) (*structpb.Struct, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(configServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(configServer), ctx, req.(T))
		})
	}
}

// errorInterceptor turns AppErrors into statuses carrying an ErrorInfo detail.
func errorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		st := apperrors.ToStatus(err)
		trace.Logger(ctx).Warn("grpc call failed", "method", info.FullMethod, "code", st.Code().String(), "error", err)
		return nil, st.Err()
	}
}

type configService struct {
	comp Compositor
}

func (s *configService) GetConfig(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap, err := s.comp.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return configStruct(worker.Result{Snapshot: snap})
}

func (s *configService) UpdateConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "cannot read settings")
	}
	upd, err := protocol.DecodeUpdate(raw)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, upd)
}

func (s *configService) RemoveBackground(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.run(ctx, worker.RemoveBackgroundImage{})
}

func (s *configService) run(ctx context.Context, cmd worker.Command) (*structpb.Struct, error) {
	res, err := s.comp.Do(ctx, cmd)
	if err == nil {
		err = res.Err
	}
	if err != nil {
		return nil, err
	}
	return configStruct(res)
}

func configStruct(res worker.Result) (*structpb.Struct, error) {
	reply := struct {
		Config   protocol.ConfigView     `json:"config"`
		Warnings []protocol.ErrorMessage `json:"warnings,omitempty"`
	}{Config: protocol.View(res.Snapshot)}
	for _, w := range res.Warnings {
		reply.Warnings = append(reply.Warnings, protocol.ErrorReply(w, res.Action))
	}

	raw, err := json.Marshal(reply)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "cannot encode config")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "cannot encode config")
	}
	return out, nil
}
