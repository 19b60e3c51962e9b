// ABOUTME: Tests for the Gateway orchestrator lifecycle and the gRPC query service
// ABOUTME: Uses real listeners on loopback ports and a real gRPC client

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/args-gateway/internal/auth"
	"github.com/2389/args-gateway/internal/config"
	"github.com/2389/args-gateway/internal/hub"
	"github.com/2389/args-gateway/internal/protocol"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func envelope(t *testing.T, event string, data any) protocol.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return protocol.Envelope{Event: event, Data: raw}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// testConfig creates a minimal config for testing with available ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.HTTPAddr = freeAddr(t)
	cfg.Server.GRPCAddr = freeAddr(t)
	cfg.Database.Path = ":memory:"
	cfg.Simulation.StepUnit = time.Millisecond
	return cfg
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.ledger == nil {
		t.Error("ledger should be open when database.path is set")
	}
	if gw.grpcServer == nil {
		t.Error("grpcServer should exist when grpc_addr is set")
	}
	if gw.promReg == nil {
		t.Error("metrics registry should exist when metrics are enabled")
	}
	if gw.verifier != nil {
		t.Error("verifier should be nil without a jwt secret")
	}
	if !gw.hub.Accepting() {
		t.Error("hub should accept connections after New")
	}
}

func TestGatewayNew_OptionalComponents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GRPCAddr = ""
	cfg.Database.Path = ""
	cfg.Metrics.Enabled = false

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.Nil(t, gw.grpcServer)
	assert.Nil(t, gw.ledger)
	assert.Nil(t, gw.promReg)
}

func TestGatewayNew_WeakSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	_, err := New(cfg, testLogger())
	require.ErrorIs(t, err, auth.ErrWeakSecret)
}

// startGateway runs gw until the test ends and waits for the HTTP listener.
func startGateway(t *testing.T, gw *Gateway) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() returned error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})

	url := "http://" + gw.config.Server.HTTPAddr + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "gateway did not start")
}

func dialGRPC(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRun_QueryServiceAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	startGateway(t, gw)

	gw.Coordinator().OnConnect(context.Background(), hub.Client{ID: "virtual"})
	require.NoError(t, gw.Coordinator().Handle(context.Background(), "virtual",
		envelope(t, protocol.EventJoinSession, map[string]any{"sessionId": "s1"})))
	require.NoError(t, gw.Coordinator().Handle(context.Background(), "virtual",
		envelope(t, protocol.EventRegisterAgent, map[string]any{"id": "a1", "type": "nlp", "capabilities": []string{"nlp"}})))

	conn := dialGRPC(t, cfg.Server.GRPCAddr)
	client := NewQueryClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(1), stats["active_sessions"])
	assert.Equal(t, float64(1), stats["registered_agents"])

	sessions, err := client.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"s1"}, sessions["ids"])

	agents, err := client.ListAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"nlp": []any{"a1"}}, agents["agent_types"])

	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: QueryServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())
}

func TestRun_QueryServiceRequiresToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.RequireToken = true
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	startGateway(t, gw)

	conn := dialGRPC(t, cfg.Server.GRPCAddr)
	client := NewQueryClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = client.Stats(ctx)
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	// health stays open for probes
	_, err = healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)

	token, err := gw.verifier.Generate("ops", auth.RoleOperator, time.Hour)
	require.NoError(t, err)
	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	stats, err := client.Stats(authed)
	require.NoError(t, err)
	assert.Contains(t, stats, "uptime")
}

func TestShutdown_Idempotent(t *testing.T) {
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	require.NoError(t, gw.Shutdown(context.Background()))
	require.NoError(t, gw.Shutdown(context.Background()))
	assert.False(t, gw.hub.Accepting())
}

func TestApplyConfig_ChangesLevel(t *testing.T) {
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	var level slog.LevelVar
	gw.WatchConfig("unused.yaml", &level)

	cfg := config.Default()
	cfg.Logging.Level = "error"
	gw.applyConfig(cfg)
	assert.Equal(t, slog.LevelError, level.Level())

	cfg.Logging.Level = "nonsense"
	gw.applyConfig(cfg)
	assert.Equal(t, slog.LevelError, level.Level(), "invalid levels are ignored")
}
