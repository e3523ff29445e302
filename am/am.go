package am

// Config represents the gateway's top-level configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Transfer  TransferConfig  `mapstructure:"transfer"`
	AsyncExec AsyncExecConfig `mapstructure:"async_exec"`
	Cron      CronConfig      `mapstructure:"cron"`
	FS        FSConfig        `mapstructure:"fs"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Agent     AgentConfig     `mapstructure:"agent"`
}

// AgentConfig configures session-key canonicalization (spec §4.11): which
// agent owns bare/ambiguous session keys, and which single key is the
// configured "main" DM scope that's returned unchanged rather than
// prefixed.
type AgentConfig struct {
	DefaultAgentID string `mapstructure:"default_agent_id"`
	MainKey        string `mapstructure:"main_key"`
}

// AuthConfig configures fs.authorize's scoped bearer-token mechanism.
type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwt_secret"`      // secret for signing fs access tokens (fs.authorize fails if empty)
	TokenExpiry    string `mapstructure:"token_expiry"`     // scoped token lifetime (default: 15m)
	TLS            AuthTLSConfig `mapstructure:"tls"`
}

// AuthTLSConfig configures TLS/HTTPS for the gateway's HTTP surface.
type AuthTLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig configures the SQLite-backed persistence adapter.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the gateway's WebSocket/HTTP listener.
type ServerConfig struct {
	Port           int      `mapstructure:"port"` // Gateway port (default: 877)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Gateway port constants
const (
	DefaultGatewayPort  = 877  // Easy to type; below 1024, so privileged on most systems
	FallbackGatewayPort = 7878 // Production fallback port
)

// LoggingConfig configures the ambient logging stack (zap + minimalEncoder).
type LoggingConfig struct {
	JSON  bool   `mapstructure:"json"`
	Theme string `mapstructure:"theme"` // gruvbox, everforest
}

// TransferConfig configures the binary transfer state machine's timeouts.
type TransferConfig struct {
	MetaWaitTimeoutSeconds   int `mapstructure:"meta_wait_timeout_seconds"`
	AcceptWaitTimeoutSeconds int `mapstructure:"accept_wait_timeout_seconds"`
	ChunkSizeBytes           int `mapstructure:"chunk_size_bytes"`
}

// AsyncExecConfig configures the async-exec completion pipeline's retry
// and expiry behavior.
type AsyncExecConfig struct {
	InitialBackoffSeconds int `mapstructure:"initial_backoff_seconds"` // default 1
	MaxBackoffSeconds     int `mapstructure:"max_backoff_seconds"`     // default 60
	TTLHours              int `mapstructure:"ttl_hours"`               // default 24
}

// CronConfig configures the cron/heartbeat scheduler.
type CronConfig struct {
	TickIntervalSeconds  int    `mapstructure:"tick_interval_seconds"` // default 1
	DefaultTimezone      string `mapstructure:"default_timezone"`      // default "UTC"
	HeartbeatIntervalSec int    `mapstructure:"heartbeat_interval_seconds"`
}

// FSConfig configures the blob-access HTTP surface (/fs, /media).
type FSConfig struct {
	Backend   string `mapstructure:"backend"` // "local" or "s3"
	LocalRoot string `mapstructure:"local_root"`
	S3Bucket  string `mapstructure:"s3_bucket"`
	S3Region  string `mapstructure:"s3_region"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // rwxr-xr-x
	DefaultFilePermissions = 0644 // rw-r--r--
	ExecutablePermissions  = 0755 // rwxr-xr-x
)
