package am

import "fmt"

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}

	if c.Cron.TickIntervalSeconds < 0 {
		return fmt.Errorf("cron.tick_interval_seconds must be >= 0 (0 = disabled), got %d", c.Cron.TickIntervalSeconds)
	}
	if c.Cron.HeartbeatIntervalSec < 0 {
		return fmt.Errorf("cron.heartbeat_interval_seconds must be >= 0, got %d", c.Cron.HeartbeatIntervalSec)
	}

	if c.AsyncExec.InitialBackoffSeconds <= 0 {
		return fmt.Errorf("async_exec.initial_backoff_seconds must be > 0, got %d", c.AsyncExec.InitialBackoffSeconds)
	}
	if c.AsyncExec.MaxBackoffSeconds < c.AsyncExec.InitialBackoffSeconds {
		return fmt.Errorf("async_exec.max_backoff_seconds (%d) must be >= initial_backoff_seconds (%d)",
			c.AsyncExec.MaxBackoffSeconds, c.AsyncExec.InitialBackoffSeconds)
	}
	if c.AsyncExec.TTLHours <= 0 {
		return fmt.Errorf("async_exec.ttl_hours must be > 0, got %d", c.AsyncExec.TTLHours)
	}

	if c.Transfer.ChunkSizeBytes <= 0 {
		return fmt.Errorf("transfer.chunk_size_bytes must be > 0, got %d", c.Transfer.ChunkSizeBytes)
	}

	switch c.FS.Backend {
	case "", "local":
	case "s3":
		if c.FS.S3Bucket == "" {
			return fmt.Errorf("fs.s3_bucket cannot be empty when fs.backend is \"s3\"")
		}
	default:
		return fmt.Errorf("fs.backend must be \"local\" or \"s3\", got %q", c.FS.Backend)
	}

	if c.Auth.TLS.Enabled {
		if c.Auth.TLS.CertFile == "" || c.Auth.TLS.KeyFile == "" {
			return fmt.Errorf("auth.tls.cert_file and auth.tls.key_file are required when auth.tls.enabled is true")
		}
	}

	return nil
}
