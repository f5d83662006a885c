package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/ppv-access-service/internal/adapters/memory"
	"github.com/viralforge/ppv-access-service/internal/adapters/payment"
	"github.com/viralforge/ppv-access-service/internal/adapters/security"
	"github.com/viralforge/ppv-access-service/internal/application"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

func newService(t *testing.T) (*application.Service, string) {
	t.Helper()
	repos := memory.NewRepositories()
	signer, err := security.NewEphemeralPlaybackSigner("", "ppv-test")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	svc := application.NewService(application.Dependencies{
		Events:      repos.Events,
		Purchases:   repos.Purchases,
		Tokens:      repos.Tokens,
		Violations:  repos.Violations,
		Outbox:      repos.Outbox,
		Locker:      memory.NewLocker(),
		Revocations: memory.NewRevocationStore(),
		Payments:    payment.NewDevProvider(true),
		TokenGen:    security.NewRandomTokenGenerator(),
		Playback:    signer,
	})
	ctx := context.Background()
	if err := svc.SeedCatalog(ctx, []domain.Event{{
		EventID: "bif-1", Title: "Final", PriceMinor: 1500, Currency: "eur",
		StreamLocator: "https://cdn.example/bif-1.m3u8", Status: domain.EventStatusLive,
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err := svc.InitiatePurchase(ctx, application.InitiatePurchaseRequest{
		EventID: "bif-1",
		Email:   "edge@x.com",
		Security: ports.SecurityContext{
			IPAddress: "198.51.100.9",
			UserAgent: "Mozilla/5.0",
		},
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	return svc, res.AccessToken
}

func dial(t *testing.T, svc *application.Service) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	Register(server, NewAccessServer(svc))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestVerifyAccessOverGRPC(t *testing.T) {
	t.Parallel()

	svc, token := newService(t)
	conn := dial(t, svc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := structpb.NewStruct(map[string]any{"token": token, "device_id": "edge-dev-1"})
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/"+serviceName+"/VerifyAccess", req, resp); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !resp.GetFields()["admitted"].GetBoolValue() {
		t.Fatalf("expected admitted, got %v", resp)
	}
	if resp.GetFields()["stream_url"].GetStringValue() == "" {
		t.Fatalf("expected stream url")
	}

	other, _ := structpb.NewStruct(map[string]any{"token": token, "device_id": "edge-dev-2"})
	err := conn.Invoke(ctx, "/"+serviceName+"/VerifyAccess", other, &structpb.Struct{})
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted for second device, got %v", err)
	}

	unknown, _ := structpb.NewStruct(map[string]any{"token": "nope", "device_id": "d"})
	err = conn.Invoke(ctx, "/"+serviceName+"/VerifyAccess", unknown, &structpb.Struct{})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound for unknown token, got %v", err)
	}

	keys := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/"+serviceName+"/GetPublicKeys", &emptypb.Empty{}, keys); err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys.GetFields()["keys"].GetListValue().GetValues()) != 1 {
		t.Fatalf("expected one key, got %v", keys)
	}
}

func TestVerifyAccessRequiresFields(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	server := NewAccessServer(svc)
	req, _ := structpb.NewStruct(map[string]any{"token": "abc"})
	_, err := server.VerifyAccess(context.Background(), req)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestToStatusMapsLifecycleErrors(t *testing.T) {
	t.Parallel()

	cases := map[error]codes.Code{
		domain.ErrTokenExpired:  codes.PermissionDenied,
		domain.ErrTokenRevoked:  codes.PermissionDenied,
		domain.ErrEventFinished: codes.PermissionDenied,
		domain.ErrTokenNotFound: codes.NotFound,
		domain.ErrConflict:      codes.Internal,
		&domain.DeviceDeniedError{ActiveDevices: 1, MaxDevices: 1}: codes.ResourceExhausted,
	}
	for err, want := range cases {
		if got := status.Code(toStatus(err)); got != want {
			t.Fatalf("%v: expected %v, got %v", err, want, got)
		}
	}
}
