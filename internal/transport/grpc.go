package transport

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"qazna.org/console/internal/credstore"
	"qazna.org/console/internal/ids"
	"qazna.org/console/internal/obs"
)

const (
	grpcAuthKey      = "authorization"
	grpcRequestIDKey = "x-request-id"
)

// UnaryClientInterceptor applies the credential contract to unary gRPC calls.
func (f *Factory) UnaryClientInterceptor(name string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		ctx, token := f.outgoing(ctx, name)
		done := obs.ClientRequestStarted(name, method)
		err := invoker(ctx, method, req, reply, cc, opts...)
		done(grpcCode(err))
		if status.Code(err) == codes.Unauthenticated {
			f.teardown.Invalidate(ctx, token)
		}
		return err
	}
}

// StreamClientInterceptor applies the credential contract to streaming calls.
// A rejection is detected when the stream is opened or on its first failing
// receive.
func (f *Factory) StreamClientInterceptor(name string) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		ctx, token := f.outgoing(ctx, name)
		done := obs.ClientRequestStarted(name, method)
		stream, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			done(grpcCode(err))
			if status.Code(err) == codes.Unauthenticated {
				f.teardown.Invalidate(ctx, token)
			}
			return nil, err
		}
		done(grpcCode(nil))
		return &watchedStream{ClientStream: stream, factory: f, ctx: ctx, token: token}, nil
	}
}

// DialOptions returns the interceptors for a gRPC connection named name.
func (f *Factory) DialOptions(name string) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(f.UnaryClientInterceptor(name)),
		grpc.WithChainStreamInterceptor(f.StreamClientInterceptor(name)),
	}
}

func (f *Factory) outgoing(ctx context.Context, name string) (context.Context, string) {
	token, err := f.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			obs.Log(obs.LevelWarn, "credential_read_failed", map[string]any{
				"client": name,
				"error":  err.Error(),
			})
		}
		token = ""
	}
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if token != "" {
		md.Set(grpcAuthKey, bearer+token)
	}
	if len(md.Get(grpcRequestIDKey)) == 0 {
		md.Set(grpcRequestIDKey, ids.NewRequestID())
	}
	return metadata.NewOutgoingContext(ctx, md), token
}

// grpcCode maps a call result onto the HTTP-style code used by client metrics.
func grpcCode(err error) int {
	switch status.Code(err) {
	case codes.OK:
		return 200
	case codes.Unauthenticated:
		return 401
	case codes.PermissionDenied:
		return 403
	case codes.NotFound:
		return 404
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return 0
	default:
		return 500
	}
}

type watchedStream struct {
	grpc.ClientStream
	factory *Factory
	ctx     context.Context
	token   string
}

func (s *watchedStream) RecvMsg(m any) error {
	err := s.ClientStream.RecvMsg(m)
	if status.Code(err) == codes.Unauthenticated {
		s.factory.teardown.Invalidate(s.ctx, s.token)
	}
	return err
}
