// ABOUTME: gRPC unary interceptor applying the gateway token policy to query calls
// ABOUTME: Reads "authorization: Bearer <jwt>" from incoming metadata

package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}

// UnaryInterceptor authenticates unary calls. Methods listed in skip (full method names)
// bypass authentication.
func UnaryInterceptor(verifier TokenVerifier, required bool, logger *slog.Logger, skip ...string) grpc.UnaryServerInterceptor {
	bypass := make(map[string]bool, len(skip))
	for _, m := range skip {
		bypass[m] = true
	}

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if verifier == nil || bypass[info.FullMethod] {
			return handler(ctx, req)
		}

		token := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 {
				var errMsg string
				token, errMsg = extractBearerToken(values[0])
				if errMsg != "" {
					logAuthFailure(logger, ctx, errMsg, "method", info.FullMethod)
					return nil, status.Error(codes.Unauthenticated, errMsg)
				}
			}
		}

		if token == "" {
			if required {
				logAuthFailure(logger, ctx, "missing token", "method", info.FullMethod)
				return nil, status.Error(codes.Unauthenticated, "missing token")
			}
			return handler(ctx, req)
		}

		p, err := verifier.Verify(token)
		if err != nil {
			logAuthFailure(logger, ctx, "invalid token", "method", info.FullMethod, "error", err)
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(WithPrincipal(ctx, p), req)
	}
}
