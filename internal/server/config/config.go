// Package config handles configuration for the relay server, including
// defaults, environment, JSON overlay, and command-line flags.
package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/protocol"
)

// Config holds runtime settings for the relay server.
//
// Fields:
//   - HTTPAddr / WebSocketAddr / GRPCAddr: bind addresses of the upstream API,
//     the print-client endpoint and the health endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty keeps job records in memory.
//   - SecretKey: HMAC secret for client tokens (HS256). Do not use the default in prod.
//   - StorageURL: mem://, file://<dir> or s3://<bucket>.
//   - S3User / S3Password / S3Region / S3Endpoint: S3-compatible backend settings.
//   - RedisAddr / RedisPassword: client status cache. Empty addr keeps it in memory.
//   - Workers: processing pool size, 0 means one per CPU.
//   - ChunkSize / SendTimeout: chunked transfer parameters.
//   - CleanupSchedule / CleanupMaxAge: orphaned upload janitor.
type Config struct {
	HTTPAddr             string
	WebSocketAddr        string
	GRPCAddr             string
	DatabaseDSN          string
	SecretKey            string
	StorageURL           string
	S3User               string
	S3Password           string
	S3Region             string
	S3Endpoint           string
	RedisAddr            string
	RedisPassword        string
	Workers              int
	SessionTimeout       time.Duration
	SessionSweepInterval time.Duration
	LivenessInterval     time.Duration
	AuthGrace            time.Duration
	ChunkSize            int
	SendTimeout          time.Duration
	CleanupSchedule      string
	CleanupMaxAge        time.Duration
	GhostscriptBinary    string
	MaxUploadSize        int64
	TokenValidity        time.Duration
	TraceExporter        string
	LogLevel             string
}

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey is insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":5000"
	c.WebSocketAddr = ":5553"
	c.GRPCAddr = ":50051"
	c.DatabaseDSN = ""
	c.SecretKey = "secretKey"
	c.StorageURL = "file://./uploads"
	c.S3Region = "us-east-1"
	c.Workers = 0
	c.SessionTimeout = 30 * time.Minute
	c.SessionSweepInterval = 10 * time.Minute
	c.LivenessInterval = 30 * time.Second
	c.AuthGrace = 10 * time.Second
	c.ChunkSize = 1 << 20
	c.SendTimeout = 30 * time.Second
	c.CleanupSchedule = "0 */12 * * *"
	c.CleanupMaxAge = 12 * time.Hour
	c.GhostscriptBinary = "gs"
	c.MaxUploadSize = 10 << 20
	c.TokenValidity = 720 * time.Hour
	c.TraceExporter = ""
	c.LogLevel = "info"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from the environment (and a .env file), an optional JSON file and finally
// command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	if c.ChunkSize < 0 || c.ChunkSize > protocol.MaxChunkSize {
		return fmt.Errorf("chunk size %d out of range (0..%d)", c.ChunkSize, protocol.MaxChunkSize)
	}
	return nil
}
