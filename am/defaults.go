package am

import (
	"fmt"
	"sort"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Database
	v.SetDefault("database.path", "gateway.db")

	// Server
	v.SetDefault("server.port", DefaultGatewayPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	// Logging
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.theme", "everforest")

	// Transfer state machine timeouts
	v.SetDefault("transfer.meta_wait_timeout_seconds", 30)
	v.SetDefault("transfer.accept_wait_timeout_seconds", 60)
	v.SetDefault("transfer.chunk_size_bytes", 64*1024)

	// Async-exec completion pipeline
	v.SetDefault("async_exec.initial_backoff_seconds", 1)
	v.SetDefault("async_exec.max_backoff_seconds", 60)
	v.SetDefault("async_exec.ttl_hours", 24)

	// Cron / heartbeat scheduler
	v.SetDefault("cron.tick_interval_seconds", 1)
	v.SetDefault("cron.default_timezone", "UTC")
	v.SetDefault("cron.heartbeat_interval_seconds", 30)

	// FS blob surface
	v.SetDefault("fs.backend", "local")
	v.SetDefault("fs.local_root", "./blobs")

	// Auth
	v.SetDefault("auth.token_expiry", "15m")
	v.SetDefault("auth.tls.enabled", false)

	// Session-key canonicalization
	v.SetDefault("agent.default_agent_id", "default")
	v.SetDefault("agent.main_key", "main")

	// Node capability probes
	v.SetDefault("probe.gc_after_seconds", 600)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to
// environment variables, bypassing the GATEWAY_ prefix auto-binding so the
// names match what operators expect from deployment tooling.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "GATEWAY_DATABASE_PATH")
	v.BindEnv("auth.jwt_secret", "GATEWAY_JWT_SECRET")
	v.BindEnv("fs.s3_bucket", "GATEWAY_FS_S3_BUCKET")
	v.BindEnv("fs.s3_region", "GATEWAY_FS_S3_REGION")
}

// GetServerPort returns the configured gateway port, or DefaultGatewayPort
// if config failed to load.
func GetServerPort() int {
	cfg, err := Load()
	if err != nil {
		return DefaultGatewayPort
	}
	return cfg.Server.Port
}

// GetDatabasePath returns the configured database path.
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "gateway.db"
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS/WebSocket origins,
// merging configured origins with secure defaults so localhost access
// always works even if a project config omits it.
func (c *Config) GetServerAllowedOrigins() []string {
	defaults := []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	}

	if len(c.Server.AllowedOrigins) == 0 {
		return defaults
	}

	originSet := make(map[string]bool)
	for _, origin := range defaults {
		originSet[origin] = true
	}
	for _, origin := range c.Server.AllowedOrigins {
		originSet[origin] = true
	}

	merged := make([]string, 0, len(originSet))
	for origin := range originSet {
		merged = append(merged, origin)
	}
	sort.Strings(merged)

	return merged
}

// GetServerLogTheme returns the console log theme (default: everforest).
func (c *Config) GetServerLogTheme() string {
	if c.Logging.Theme == "" {
		return "everforest"
	}
	return c.Logging.Theme
}

// String returns a redacted string representation of the config, suitable
// for startup logging: never prints auth.jwt_secret.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {Port: %d, LogTheme: %s}, FS: {Backend: %s}}",
		c.Database.Path, c.Server.Port, c.Logging.Theme, c.FS.Backend)
}
