// ABOUTME: Tests for the gRPC unary authentication interceptor
// ABOUTME: Drives the interceptor directly with synthetic incoming metadata

package auth

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptor(t *testing.T) {
	verifier := newTestVerifier(t)
	good, err := verifier.Generate("cli", RoleOperator, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	handler := func(ctx context.Context, req any) (any, error) {
		p, _ := FromContext(ctx)
		return p.Subject, nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/args.v1.Query/Stats"}

	tests := []struct {
		name     string
		required bool
		md       metadata.MD
		method   string
		wantCode codes.Code
		wantSub  string
	}{
		{name: "valid token", required: true, md: metadata.Pairs("authorization", "Bearer "+good), wantCode: codes.OK, wantSub: "cli"},
		{name: "missing token required", required: true, wantCode: codes.Unauthenticated},
		{name: "missing token optional", required: false, wantCode: codes.OK},
		{name: "bad token", required: false, md: metadata.Pairs("authorization", "Bearer junk"), wantCode: codes.Unauthenticated},
		{name: "bad header format", required: false, md: metadata.Pairs("authorization", "Token junk"), wantCode: codes.Unauthenticated},
		{name: "skipped method", required: true, method: "/grpc.health.v1.Health/Check", wantCode: codes.OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor := UnaryInterceptor(verifier, tt.required, nil, "/grpc.health.v1.Health/Check")
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			callInfo := info
			if tt.method != "" {
				callInfo = &grpc.UnaryServerInfo{FullMethod: tt.method}
			}

			resp, err := interceptor(ctx, nil, callInfo, handler)
			if got := status.Code(err); got != tt.wantCode {
				t.Fatalf("code = %v, want %v (err = %v)", got, tt.wantCode, err)
			}
			if tt.wantSub != "" && resp != tt.wantSub {
				t.Errorf("subject = %v, want %q", resp, tt.wantSub)
			}
		})
	}
}
