// ABOUTME: Minimal fake agent for E2E testing: joins a session over WebSocket and works assigned tasks.
// ABOUTME: Usage: fake-agent [-url ws://localhost:8080/ws] [-session demo] [-id e2e-agent] [-caps nlp,echo]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/args-gateway/internal/protocol"
)

type options struct {
	url       string
	token     string
	sessionID string
	agentID   string
	agentType string
	caps      []string
	steps     int
	delay     time.Duration
}

func main() {
	var opts options
	var caps string
	flag.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "gateway WebSocket URL")
	flag.StringVar(&opts.token, "token", os.Getenv("ARGS_TOKEN"), "bearer token")
	flag.StringVar(&opts.sessionID, "session", "demo", "session to join")
	flag.StringVar(&opts.agentID, "id", "e2e-agent", "agent ID")
	flag.StringVar(&opts.agentType, "type", "echo", "agent type")
	flag.StringVar(&caps, "caps", "nlp,echo", "comma-separated capabilities")
	flag.IntVar(&opts.steps, "steps", 3, "progress reports per task")
	flag.DurationVar(&opts.delay, "delay", 200*time.Millisecond, "delay between progress reports")
	flag.Parse()
	opts.caps = strings.Split(caps, ",")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		log.Fatal(err)
	}
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func send(ctx context.Context, c *websocket.Conn, event string, data any) error {
	return wsjson.Write(ctx, c, protocol.Message{Event: event, Data: data})
}

func run(ctx context.Context, opts options) error {
	u, err := url.Parse(opts.url)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if opts.token != "" {
		q := u.Query()
		q.Set("token", opts.token)
		u.RawQuery = q.Encode()
	}

	c, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer c.CloseNow()

	if err := send(ctx, c, protocol.EventJoinSession, protocol.JoinSession{SessionID: opts.sessionID}); err != nil {
		return fmt.Errorf("failed to join: %w", err)
	}
	if err := send(ctx, c, protocol.EventRegisterAgent, protocol.RegisterAgent{
		ID:           opts.agentID,
		Type:         opts.agentType,
		Capabilities: opts.caps,
		Status:       "idle",
		Metadata:     map[string]any{"maxConcurrentTasks": 1, "hostname": "e2e-test"},
	}); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	for {
		var f frame
		if err := wsjson.Read(ctx, c, &f); err != nil {
			if ctx.Err() != nil {
				c.Close(websocket.StatusNormalClosure, "")
				return nil // graceful shutdown
			}
			if websocket.CloseStatus(err) != -1 {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		switch f.Event {
		case protocol.EventWelcome:
			var w protocol.Welcome
			if err := json.Unmarshal(f.Data, &w); err == nil {
				fmt.Fprintf(os.Stderr, "connected as %s (%s %s)\n", w.ConnectionID, w.Protocol, w.Version)
			}
		case protocol.EventAuthError:
			return errors.New("gateway rejected token")
		case protocol.EventError:
			log.Printf("gateway error: %s", f.Data)
		case protocol.EventTaskAssigned:
			var ta protocol.TaskAssigned
			if err := json.Unmarshal(f.Data, &ta); err != nil {
				log.Printf("bad task-assigned: %v", err)
				continue
			}
			if ta.AgentID != opts.agentID {
				continue
			}
			log.Printf("assigned task %s", ta.TaskID)
			if err := work(ctx, c, opts, ta); err != nil {
				log.Printf("task %s: %v", ta.TaskID, err)
			}
		}
	}
}

// work reports progress on a task and then completes it.
func work(ctx context.Context, c *websocket.Conn, opts options, ta protocol.TaskAssigned) error {
	report := func(status string, extra map[string]any) error {
		data := map[string]any{
			"sessionId": opts.sessionID,
			"taskId":    ta.TaskID,
			"agentId":   opts.agentID,
			"status":    status,
		}
		for k, v := range extra {
			data[k] = v
		}
		return send(ctx, c, protocol.EventAgentProgress, data)
	}

	for i := 1; i <= opts.steps; i++ {
		if err := report("processing", map[string]any{
			"step":     i,
			"progress": i * 100 / (opts.steps + 1),
			"message":  fmt.Sprintf("step %d of %d", i, opts.steps),
		}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.delay):
		}
	}

	return report("completed", map[string]any{
		"progress": 100,
		"result":   map[string]any{"status": "success", "echo": json.RawMessage(ta.TaskDefinition)},
	})
}
