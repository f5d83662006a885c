package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/ppv-access-service/internal/application"
	"github.com/viralforge/ppv-access-service/internal/domain"
)

const serviceName = "viralforge.ppv.v1.AccessService"

// AccessService is consumed by the stream delivery edge.
type AccessService interface {
	VerifyAccess(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPublicKeys(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type AccessServer struct {
	service *application.Service
}

func NewAccessServer(service *application.Service) *AccessServer {
	return &AccessServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc AccessService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*AccessService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "VerifyAccess",
				Handler:    verifyAccessHandler(svc),
			},
			{
				MethodName: "GetPublicKeys",
				Handler:    getPublicKeysHandler(svc),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "ppv/access/v1/access_service.proto",
	}, svc)
}

func stringField(req *structpb.Struct, name string) string {
	v := req.GetFields()[name]
	if v == nil {
		return ""
	}
	return v.GetStringValue()
}

func (s *AccessServer) VerifyAccess(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token := stringField(req, "token")
	deviceID := stringField(req, "device_id")
	if token == "" || deviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "token and device_id are required")
	}

	grant, err := s.service.VerifyAccess(ctx, application.VerifyAccessRequest{
		Token: token,
		Device: application.DeviceContext{
			DeviceID:  deviceID,
			OriginIP:  stringField(req, "origin_ip"),
			UserAgent: stringField(req, "user_agent"),
		},
	})
	if err != nil {
		return nil, toStatus(err)
	}

	fields := map[string]any{
		"admitted":       true,
		"event_id":       grant.Event.EventID,
		"stream_url":     grant.Event.StreamLocator,
		"expires_at":     grant.ExpiresAt.Unix(),
		"active_devices": grant.ActiveDevices,
		"max_devices":    grant.MaxDevices,
		"playback_token": grant.PlaybackToken,
	}
	if grant.PlaybackExpiresAt != nil {
		fields["playback_expires_at"] = grant.PlaybackExpiresAt.Unix()
	}
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *AccessServer) GetPublicKeys(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	keys, err := s.service.PublicJWKs()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get keys: %v", err)
	}
	list := make([]any, 0, len(keys))
	for _, k := range keys {
		list = append(list, k)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"keys": list,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

// toStatus keeps the HTTP taxonomy: lifecycle errors are terminal for the
// credential, device denials are retryable after the wait.
func toStatus(err error) error {
	var denied *domain.DeviceDeniedError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &denied):
		return status.Error(codes.ResourceExhausted, denied.Error())
	case errors.Is(err, domain.ErrTokenNotFound), errors.Is(err, domain.ErrEventNotFound):
		return status.Error(codes.NotFound, "access not found")
	case errors.Is(err, domain.ErrTokenExpired), errors.Is(err, domain.ErrTokenRevoked), errors.Is(err, domain.ErrEventFinished):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func verifyAccessHandler(svc AccessService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.VerifyAccess(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/VerifyAccess",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.VerifyAccess(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func getPublicKeysHandler(svc AccessService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &emptypb.Empty{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.GetPublicKeys(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/GetPublicKeys",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*emptypb.Empty)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.GetPublicKeys(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
