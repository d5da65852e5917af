package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "PRINTRELAY_"

// parseEnv loads .env when present, then reads PRINTRELAY_* variables.
// Malformed numbers and durations panic.
func parseEnv(cfg *Config) {
	_ = godotenv.Load()

	envString("SERVER_URL", &cfg.ServerURL)
	envString("SERVER_ENDPOINT_ADDR", &cfg.ServerEndpointAddr)
	envDuration("ONLINE_CHECK_INTERVAL", &cfg.OnlineCheckInterval)
	envString("DATA_DIR", &cfg.DataDir)
	envInt("MAX_RETRIES", &cfg.MaxRetries)
	envDuration("HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	envDuration("PONG_TIMEOUT", &cfg.PongTimeout)
	envDuration("BACKOFF_BASE", &cfg.BackoffBase)
	envDuration("BACKOFF_CAP", &cfg.BackoffCap)
	envDuration("REASSEMBLY_TTL", &cfg.ReassemblyTTL)
	envDuration("STATUS_CACHE_TTL", &cfg.StatusCacheTTL)
	envDuration("STATUS_REPORT_INTERVAL", &cfg.StatusReportInterval)
	envString("PREFERENCES_FILE", &cfg.PreferencesFile)
	envString("LP", &cfg.LPBinary)
	envString("LPSTAT", &cfg.LPStatBinary)
	envBool("TOKEN_IN_QUERY", &cfg.TokenInQuery)
	envString("PASSPHRASE", &cfg.Passphrase)
	envString("LOG_LEVEL", &cfg.LogLevel)
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

func envBool(name string, dst *bool) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			panic(err)
		}
		*dst = b
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
