package devserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"qazna.org/console/internal/obs"
)

// GRPCServer returns a gRPC server exposing the standard health service
// behind bearer-token authentication.
func (s *Server) GRPCServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.unaryAuth),
		grpc.ChainStreamInterceptor(s.streamAuth),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

func (s *Server) unaryAuth(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := s.authenticateRPC(ctx, info.FullMethod); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *Server) streamAuth(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := s.authenticateRPC(ss.Context(), info.FullMethod); err != nil {
		return err
	}
	return handler(srv, ss)
}

func (s *Server) authenticateRPC(ctx context.Context, method string) error {
	md, _ := metadata.FromIncomingContext(ctx)
	var header string
	if vals := md.Get("authorization"); len(vals) > 0 {
		header = vals[0]
	}
	rid := ""
	if vals := md.Get("x-request-id"); len(vals) > 0 {
		rid = vals[0]
	}
	token, err := extractBearerToken(header)
	if err == nil {
		var claims *Claims
		if claims, err = s.tokens.Parse(token); err == nil {
			_, err = s.users.Get(claims.Subject)
		}
	}
	if err != nil {
		obs.Log(obs.LevelInfo, "rpc_unauthenticated", map[string]any{
			"method":     method,
			"request_id": rid,
		})
		return status.Error(codes.Unauthenticated, "could not validate credentials")
	}
	return nil
}
