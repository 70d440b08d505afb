package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// HTTPMiddleware returns middleware that rejects unauthenticated requests
// and stores the Result on the request context otherwise.
func (d *Dispatcher) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := d.Authenticate(r)
			if !res.Authenticated() {
				d.logger.WithContext(r.Context()).Warn("authentication failed",
					observability.String("path", r.URL.Path),
					observability.String("method", r.Method),
					observability.String("kind", res.Kind().String()),
				)
				WriteUnauthenticated(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithResult(r.Context(), res)))
		})
	}
}

// WriteUnauthenticated writes the generic 401. The failure kind is never
// revealed to the client.
func WriteUnauthenticated(w http.ResponseWriter) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.Header().Set(HeaderWWWAuthenticate, AuthSchemeBearer)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": unauthenticatedMessage})
}

// UnaryInterceptor returns a unary server interceptor for authentication.
func (d *Dispatcher) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx, err := d.authenticateGRPC(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a stream server interceptor for authentication.
func (d *Dispatcher) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := d.authenticateGRPC(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func (d *Dispatcher) authenticateGRPC(ctx context.Context) (context.Context, error) {
	res := d.AuthenticateCredentials(ctx, d.extractor.FromMetadata(ctx))
	if !res.Authenticated() {
		return ctx, status.Error(codes.Unauthenticated, unauthenticatedMessage)
	}
	return ContextWithResult(ctx, res), nil
}

// authenticatedServerStream wraps a grpc.ServerStream with an authenticated context.
type authenticatedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the authenticated context.
func (s *authenticatedServerStream) Context() context.Context {
	return s.ctx
}
