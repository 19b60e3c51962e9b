// Package config handles configuration loading for args-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension) with
// environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ARGS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/args/gateway.yaml
//  3. ~/.config/args/gateway.yaml
//
// A missing file at the default location is not an error; Default() is used.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${ARGS_JWT_SECRET}"
//
// The ENVIRONMENT variable overrides server.environment.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"       # WebSocket, REST API, metrics
//	  grpc_addr: "0.0.0.0:50051"      # query service (optional)
//	  environment: "development"      # development, staging, production
//	  allowed_origins: ["app.example.com"]
//
//	database:
//	  path: "/var/lib/args/ledger.db" # task ledger; empty disables it
//
//	auth:
//	  jwt_secret: "${ARGS_JWT_SECRET}" # at least 32 bytes
//	  require_token: true              # forced on in production
//
//	sessions:
//	  idle_ttl: "30m"                 # 0 keeps idle sessions forever
//	  max_sessions: 1000
//	  sweep_interval: "1m"
//
//	tasks:
//	  assignment_timeout: "10m"       # 0 disables expiry
//
//	simulation:
//	  enabled: true
//	  step_unit: "1s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Reloading
//
// Watch re-reads the file on change. Only settings that are safe to change at runtime
// (currently the log level) are applied by the server.
package config
