// Package auth implements the peer authenticator (C6): a gRPC
// interceptor pair that extracts the caller's identity and group from
// its mTLS client certificate and attaches a registry.ClientAuth to
// the request context, or rejects the request with unauthenticated.
package auth

import (
	"context"
	"unicode/utf8"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/rrockerd/rrockerd/pkg/log"
	"github.com/rrockerd/rrockerd/pkg/metrics"
	"github.com/rrockerd/rrockerd/pkg/registry"
)

// validGroups is the closed allowlist from spec.md §4.6: unknown
// groups must never silently acquire privileges.
var validGroups = map[string]bool{
	"client": true,
	"admin":  true,
}

type clientAuthKey struct{}

// FromContext retrieves the ClientAuth a successful authentication
// attached to ctx. The service surface (C9) treats its absence as a
// programming error (internal, "Missing ClientAuth extension").
func FromContext(ctx context.Context) (registry.ClientAuth, bool) {
	a, ok := ctx.Value(clientAuthKey{}).(registry.ClientAuth)
	return a, ok
}

// WithClientAuth attaches a into ctx the same way a successful
// authentication attempt does. Exported so callers that bypass the
// interceptors entirely — tests, and any in-process caller of
// pkg/service — can still construct an authenticated context.
func WithClientAuth(ctx context.Context, a registry.ClientAuth) context.Context {
	return context.WithValue(ctx, clientAuthKey{}, a)
}

// authenticate runs the five checks of §4.6 in order against the
// gRPC peer information carried by ctx.
func authenticate(ctx context.Context) (registry.ClientAuth, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return registry.ClientAuth{}, status.Error(codes.Unauthenticated, "Missing certs")
	}

	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(tlsInfo.State.PeerCertificates) == 0 {
		return registry.ClientAuth{}, status.Error(codes.Unauthenticated, "Missing certs")
	}

	cert := tlsInfo.State.PeerCertificates[0]
	if cert == nil {
		return registry.ClientAuth{}, status.Error(codes.Unauthenticated, "One or more certs are invalid")
	}

	cn := cert.Subject.CommonName
	if cn == "" {
		return registry.ClientAuth{}, status.Error(codes.Unauthenticated, "Cert doesn't contain common name")
	}
	if !utf8.ValidString(cn) {
		return registry.ClientAuth{}, status.Error(codes.Unauthenticated, "Invalid common name")
	}

	if len(cert.Subject.Organization) == 0 {
		return registry.ClientAuth{}, status.Error(codes.Unauthenticated, "Cert doesn't contain organization")
	}
	org := cert.Subject.Organization[0]
	if !utf8.ValidString(org) {
		return registry.ClientAuth{}, status.Error(codes.Unauthenticated, "Invalid organization")
	}

	if !validGroups[org] {
		log.WithComponent("auth").Warn().Str("organization", org).Msg("rejected certificate with invalid organization")
		metrics.AuthRejectionsTotal.WithLabelValues("invalid_organization").Inc()
		return registry.ClientAuth{}, status.Error(codes.Unauthenticated, "The organization of the provided cert is not valid")
	}

	return registry.ClientAuth{ID: cn, Group: org}, nil
}

// UnaryInterceptor authenticates a unary RPC before invoking its
// handler, attaching ClientAuth to the handler's context.
func UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	a, err := authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return handler(WithClientAuth(ctx, a), req)
}

// StreamInterceptor authenticates a streaming RPC's initial context
// and wraps the stream so handler code sees the authenticated
// context via Context().
func StreamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	a, err := authenticate(ss.Context())
	if err != nil {
		return err
	}
	return handler(srv, &authenticatedStream{ServerStream: ss, ctx: WithClientAuth(ss.Context(), a)})
}

type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context {
	return s.ctx
}
