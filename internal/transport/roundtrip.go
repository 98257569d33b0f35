package transport

import (
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"qazna.org/console/internal/credstore"
	"qazna.org/console/internal/ids"
	"qazna.org/console/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type credentialTransport struct {
	name     string
	store    credstore.Store
	teardown *Teardown
	limiter  *rate.Limiter
	next     http.RoundTripper
}

func (t *credentialTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	token, err := t.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			obs.Log(obs.LevelWarn, "credential_read_failed", map[string]any{
				"client": t.name,
				"error":  err.Error(),
			})
		}
		token = ""
	}

	out := req.Clone(ctx)
	if token != "" {
		out.Header.Set(authHeader, bearer+token)
	}
	if out.Header.Get(ids.RequestIDHeader) == "" {
		out.Header.Set(ids.RequestIDHeader, ids.NewRequestID())
	}

	ctx, span := obs.Tracer().Start(ctx, "console.client "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("console.client", t.name),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
			attribute.Bool("console.authenticated", token != ""),
		),
	)
	defer span.End()
	out = out.WithContext(ctx)

	done := obs.ClientRequestStarted(t.name, req.Method)
	resp, err := t.next.RoundTrip(out)
	if err != nil {
		done(0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	done(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized {
		span.SetStatus(codes.Error, "credential rejected")
		t.teardown.Invalidate(ctx, token)
	}
	return resp, nil
}
