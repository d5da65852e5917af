package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "PRINTRELAY_"

// parseEnv loads .env from the working directory when present, then reads
// PRINTRELAY_* variables. Variables already set in the process environment
// take precedence over .env. Malformed numbers and durations panic.
func parseEnv(config *Config) {
	_ = godotenv.Load()

	envString("HTTP_ADDR", &config.HTTPAddr)
	envString("WS_ADDR", &config.WebSocketAddr)
	envString("GRPC_ADDR", &config.GRPCAddr)
	envString("DATABASE_DSN", &config.DatabaseDSN)
	envString("SECRET_KEY", &config.SecretKey)
	envString("STORAGE_URL", &config.StorageURL)
	envString("S3_USER", &config.S3User)
	envString("S3_PASSWORD", &config.S3Password)
	envString("S3_REGION", &config.S3Region)
	envString("S3_ENDPOINT", &config.S3Endpoint)
	envString("REDIS_ADDR", &config.RedisAddr)
	envString("REDIS_PASSWORD", &config.RedisPassword)
	envInt("WORKERS", &config.Workers)
	envDuration("SESSION_TIMEOUT", &config.SessionTimeout)
	envDuration("SESSION_SWEEP_INTERVAL", &config.SessionSweepInterval)
	envDuration("LIVENESS_INTERVAL", &config.LivenessInterval)
	envDuration("AUTH_GRACE", &config.AuthGrace)
	envInt("CHUNK_SIZE", &config.ChunkSize)
	envDuration("SEND_TIMEOUT", &config.SendTimeout)
	envString("CLEANUP_SCHEDULE", &config.CleanupSchedule)
	envDuration("CLEANUP_MAX_AGE", &config.CleanupMaxAge)
	envString("GHOSTSCRIPT", &config.GhostscriptBinary)
	if v, ok := os.LookupEnv(envPrefix + "MAX_UPLOAD_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			panic(err)
		}
		config.MaxUploadSize = n
	}
	envDuration("TOKEN_VALIDITY", &config.TokenValidity)
	envString("TRACE_EXPORTER", &config.TraceExporter)
	envString("LOG_LEVEL", &config.LogLevel)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			panic(err)
		}
		*dst = n
	}
}

func envDuration(name string, dst *time.Duration) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(err)
		}
		*dst = d
	}
}
