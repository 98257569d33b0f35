package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"qazna.org/console/internal/credstore"
	"qazna.org/console/internal/nav"
)

const bufSize = 1024 * 1024

// seenMetadata captures what the server received on its last call.
type seenMetadata struct {
	mu        sync.Mutex
	auth      []string
	requestID []string
}

func (s *seenMetadata) record(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	s.mu.Lock()
	s.auth = md.Get("authorization")
	s.requestID = md.Get("x-request-id")
	s.mu.Unlock()
}

func startBufGRPC(t *testing.T, factory *Factory, accept string) (*grpc.ClientConn, *seenMetadata) {
	t.Helper()

	seen := &seenMetadata{}
	check := func(ctx context.Context) error {
		seen.record(ctx)
		md, _ := metadata.FromIncomingContext(ctx)
		if vals := md.Get("authorization"); len(vals) == 0 || vals[0] != "Bearer "+accept {
			return status.Error(codes.Unauthenticated, "invalid credential")
		}
		return nil
	}

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(
		grpc.UnaryInterceptor(func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			if err := check(ctx); err != nil {
				return nil, err
			}
			return handler(ctx, req)
		}),
		grpc.StreamInterceptor(func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			if err := check(ss.Context()); err != nil {
				return err
			}
			return handler(srv, ss)
		}),
	)
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	opts := append([]grpc.DialOption{
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, factory.DialOptions("health")...)
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		server.Stop()
		_ = conn.Close()
		_ = listener.Close()
	})
	return conn, seen
}

func TestUnaryInterceptorAttachesCredential(t *testing.T) {
	store := credstore.NewMemory()
	_ = store.Set(context.Background(), "good")
	navigator := &countingNavigator{location: "/dashboard"}
	factory := NewFactory(store, navigator)
	conn, seen := startBufGRPC(t, factory, "good")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status %v", resp.GetStatus())
	}
	seen.mu.Lock()
	defer seen.mu.Unlock()
	if len(seen.auth) != 1 || seen.auth[0] != "Bearer good" {
		t.Fatalf("unexpected authorization metadata %v", seen.auth)
	}
	if len(seen.requestID) != 1 || seen.requestID[0] == "" {
		t.Fatalf("expected request id metadata, got %v", seen.requestID)
	}
	if len(navigator.navigations()) != 0 {
		t.Fatalf("unexpected navigation")
	}
}

func TestUnaryInterceptorTearsDownOnUnauthenticated(t *testing.T) {
	store := credstore.NewMemory()
	_ = store.Set(context.Background(), "revoked")
	navigator := &countingNavigator{location: "/usage"}
	factory := NewFactory(store, navigator)
	var hooks int
	factory.OnInvalidate(func() { hooks++ })
	conn, _ := startBufGRPC(t, factory, "good")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := healthpb.NewHealthClient(conn)
	for i := 0; i < 3; i++ {
		_, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("expected Unauthenticated, got %v", err)
		}
	}
	if _, err := store.Get(context.Background()); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("expected store cleared, got %v", err)
	}
	if got := navigator.navigations(); len(got) != 1 || got[0] != nav.LoginPath {
		t.Fatalf("expected one navigation to login, got %v", got)
	}
	if hooks != 1 {
		t.Fatalf("expected one hook call, got %d", hooks)
	}
}

func TestStreamInterceptorTearsDownOnUnauthenticated(t *testing.T) {
	store := credstore.NewMemory()
	_ = store.Set(context.Background(), "revoked")
	navigator := &countingNavigator{location: "/keys"}
	factory := NewFactory(store, navigator)
	conn, _ := startBufGRPC(t, factory, "good")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := healthpb.NewHealthClient(conn).Watch(ctx, &healthpb.HealthCheckRequest{})
	if err == nil {
		_, err = stream.Recv()
	}
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if _, err := store.Get(context.Background()); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("expected store cleared, got %v", err)
	}
	if got := navigator.navigations(); len(got) != 1 {
		t.Fatalf("expected one navigation, got %v", got)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	cases := map[codes.Code]int{
		codes.OK:               200,
		codes.Unauthenticated:  401,
		codes.PermissionDenied: 403,
		codes.NotFound:         404,
		codes.Unavailable:      0,
		codes.Internal:         500,
	}
	for code, want := range cases {
		var err error
		if code != codes.OK {
			err = status.Error(code, "x")
		}
		if got := grpcCode(err); got != want {
			t.Fatalf("grpcCode(%v) = %d, want %d", code, got, want)
		}
	}
}
