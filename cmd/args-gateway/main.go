// ABOUTME: Entry point for the args-gateway coordination server
// ABOUTME: Serves agents and clients, and provides init, token and query subcommands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/2389/args-gateway/internal/auth"
	"github.com/2389/args-gateway/internal/config"
	"github.com/2389/args-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __ _ _ __ __ _ ___        __ _  __ _| |_ _____      ____ _ _   _
 / _' | '__/ _' / __|_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| | | | (_| \__ \_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__,_|_|  \__, |___/      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
           |___/           |___/                             |___/
`

// getConfigPath returns the path to the gateway config file and whether it was set explicitly.
// Priority: ARGS_CONFIG env var > XDG_CONFIG_HOME/args/gateway.yaml > ~/.config/args/gateway.yaml
func getConfigPath() (string, bool) {
	if envPath := os.Getenv("ARGS_CONFIG"); envPath != "" {
		return envPath, true
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml", false
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "args", "gateway.yaml"), false
}

// getDataPath returns the path to the args data directory.
// Priority: XDG_DATA_HOME/args > ~/.local/share/args
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "args")
}

// loadConfig loads the config file. A missing file at the default location yields the
// development defaults so the gateway runs without any setup.
func loadConfig() (*config.Config, string, error) {
	path, explicit := getConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), "(defaults)", nil
	}
	return nil, path, fmt.Errorf("loading config: %w", err)
}

func usage() {
	fmt.Println("Usage: args-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the gateway server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  token --sub NAME [--role R]    Issue a token (roles: agent, client, operator)")
	fmt.Println("  health                         Check gateway health")
	fmt.Println("  stats                          Show gateway statistics over gRPC")
	fmt.Println("  agents                         List registered agents")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "stats":
		err = runStats(ctx)
	case "agents":
		err = runAgents(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	logger := setupLogger(cfg.Logging, level, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:      %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Environment: %s\n", cfg.Server.Environment)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:        %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:        %s\n", cfg.Server.GRPCAddr)
	}
	if cfg.Database.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:      %s\n", cfg.Database.Path)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale:   ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! auth disabled, set auth.jwt_secret to require tokens")
	}

	fmt.Println()

	logger.Info("starting args-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"environment", cfg.Server.Environment,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	if configPath != "(defaults)" {
		gw.WatchConfig(configPath, level)
	}

	return gw.Run(ctx)
}

// parseFlags parses subcommand flags, reporting errors instead of exiting.
func parseFlags(fset *flag.FlagSet, args []string) error {
	fset.SetOutput(io.Discard)
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fset.Arg(0))
	}
	return nil
}

// runToken issues a signed token for the configured secret.
func runToken(args []string, out io.Writer) error {
	fset := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fset.String("sub", "", "token subject")
	role := fset.String("role", string(auth.RoleClient), "token role: agent, client or operator")
	ttl := fset.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := parseFlags(fset, args); err != nil {
		return err
	}

	*subject = strings.TrimSpace(*subject)
	if *subject == "" {
		return fmt.Errorf("--sub flag is required")
	}
	r := auth.Role(*role)
	switch r {
	case auth.RoleAgent, auth.RoleClient, auth.RoleOperator:
	default:
		return fmt.Errorf("unknown role %q", *role)
	}

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s", configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(*subject, r, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}

// bearerToken returns ARGS_TOKEN for CLI requests against a protected gateway.
func bearerToken() string {
	return strings.TrimSpace(os.Getenv("ARGS_TOKEN"))
}

func getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if token := bearerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var health struct {
		Status  string  `json:"status"`
		Version string  `json:"version"`
		Uptime  float64 `json:"uptime"`
	}
	if err := getJSON(ctx, fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr), &health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Printf("%s (version %s, up %s)\n", health.Status, health.Version,
		(time.Duration(health.Uptime) * time.Second).String())
	return nil
}

func runAgents(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var listing struct {
		Count  int `json:"count"`
		Agents []struct {
			ID                 string   `json:"id"`
			Type               string   `json:"type"`
			Status             string   `json:"status"`
			Capabilities       []string `json:"capabilities"`
			CurrentTasks       int      `json:"currentTasks"`
			MaxConcurrentTasks int      `json:"maxConcurrentTasks"`
		} `json:"agents"`
	}
	if err := getJSON(ctx, fmt.Sprintf("http://%s/api/ws/agents", cfg.Server.HTTPAddr), &listing); err != nil {
		return fmt.Errorf("listing agents failed: %w", err)
	}

	if listing.Count == 0 {
		fmt.Println("no agents registered")
		return nil
	}
	for _, a := range listing.Agents {
		fmt.Printf("%-24s %-16s %-8s %d/%d  %s\n", a.ID, a.Type, a.Status,
			a.CurrentTasks, a.MaxConcurrentTasks, strings.Join(a.Capabilities, ","))
	}
	return nil
}

// runStats queries the gRPC query service.
func runStats(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.GRPCAddr == "" {
		return fmt.Errorf("server.grpc_addr is not configured")
	}

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	if token := bearerToken(); token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stats, err := gateway.NewQueryClient(conn).Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats query failed: %w", err)
	}

	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-24s %v\n", k, stats[k])
	}
	return nil
}

// generateSecret returns a random base64 secret long enough for the JWT verifier.
func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("args-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultConfigPath, _ := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "ledger.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	environment := prompt(reader, "Environment (development/staging/production)", config.EnvDevelopment)
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	grpcAddr := prompt(reader, "gRPC address (empty to disable)", "localhost:50051")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "Task ledger path (empty to disable)", defaultDbPath)

	fmt.Println("\n--- Auth Configuration ---")
	requireToken := yes(prompt(reader, "Require tokens for every connection?", "no"))

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "args-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	var cfg strings.Builder
	cfg.WriteString("# args-gateway configuration\n")
	cfg.WriteString("# Generated by args-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  environment: %q\n", environment)
	fmt.Fprintf(&cfg, "  http_addr: %q\n", httpAddr)
	fmt.Fprintf(&cfg, "  grpc_addr: %q\n\n", grpcAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n", secret)
	fmt.Fprintf(&cfg, "  require_token: %t\n\n", requireToken)

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		if tsAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", tsAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", tsEphemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  idle_ttl: \"30m\"\n")
	cfg.WriteString("  sweep_interval: \"1m\"\n")
	cfg.WriteString("  max_sessions: 1000\n\n")

	cfg.WriteString("tasks:\n")
	cfg.WriteString("  assignment_timeout: \"10m\"\n\n")

	cfg.WriteString("simulation:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n\n", environment != config.EnvProduction)

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", logFormat)

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if _, err := config.Parse([]byte(cfg.String()), ".yaml"); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// the file holds the jwt secret
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  args-gateway serve")
	fmt.Println("To issue an operator token:")
	fmt.Println("  args-gateway token --sub you --role operator")

	return nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
