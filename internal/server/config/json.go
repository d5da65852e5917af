package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/flagx"
	"github.com/dmitrijs2005/printrelay/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// Fields are pointers so that keys absent from the file leave the current
// value alone.
type JsonConfig struct {
	HTTPAddr             *string         `json:"http_addr"`
	WebSocketAddr        *string         `json:"ws_addr"`
	GRPCAddr             *string         `json:"grpc_addr"`
	DatabaseDSN          *string         `json:"database_dsn"`
	SecretKey            *string         `json:"secret_key"`
	StorageURL           *string         `json:"storage_url"`
	S3User               *string         `json:"s3_user"`
	S3Password           *string         `json:"s3_password"`
	S3Region             *string         `json:"s3_region"`
	S3Endpoint           *string         `json:"s3_endpoint"`
	RedisAddr            *string         `json:"redis_addr"`
	RedisPassword        *string         `json:"redis_password"`
	Workers              *int            `json:"workers"`
	SessionTimeout       *timex.Duration `json:"session_timeout"`
	SessionSweepInterval *timex.Duration `json:"session_sweep_interval"`
	LivenessInterval     *timex.Duration `json:"liveness_interval"`
	AuthGrace            *timex.Duration `json:"auth_grace"`
	ChunkSize            *int            `json:"chunk_size"`
	SendTimeout          *timex.Duration `json:"send_timeout"`
	CleanupSchedule      *string         `json:"cleanup_schedule"`
	CleanupMaxAge        *timex.Duration `json:"cleanup_max_age"`
	GhostscriptBinary    *string         `json:"ghostscript"`
	MaxUploadSize        *int64          `json:"max_upload_size"`
	TokenValidity        *timex.Duration `json:"token_validity"`
	TraceExporter        *string         `json:"trace_exporter"`
	LogLevel             *string         `json:"log_level"`
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDur(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flag into config. Without the flag nothing is loaded. If the file
// cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	set(&config.HTTPAddr, c.HTTPAddr)
	set(&config.WebSocketAddr, c.WebSocketAddr)
	set(&config.GRPCAddr, c.GRPCAddr)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.SecretKey, c.SecretKey)
	set(&config.StorageURL, c.StorageURL)
	set(&config.S3User, c.S3User)
	set(&config.S3Password, c.S3Password)
	set(&config.S3Region, c.S3Region)
	set(&config.S3Endpoint, c.S3Endpoint)
	set(&config.RedisAddr, c.RedisAddr)
	set(&config.RedisPassword, c.RedisPassword)
	set(&config.Workers, c.Workers)
	setDur(&config.SessionTimeout, c.SessionTimeout)
	setDur(&config.SessionSweepInterval, c.SessionSweepInterval)
	setDur(&config.LivenessInterval, c.LivenessInterval)
	setDur(&config.AuthGrace, c.AuthGrace)
	set(&config.ChunkSize, c.ChunkSize)
	setDur(&config.SendTimeout, c.SendTimeout)
	set(&config.CleanupSchedule, c.CleanupSchedule)
	setDur(&config.CleanupMaxAge, c.CleanupMaxAge)
	set(&config.GhostscriptBinary, c.GhostscriptBinary)
	set(&config.MaxUploadSize, c.MaxUploadSize)
	setDur(&config.TokenValidity, c.TokenValidity)
	set(&config.TraceExporter, c.TraceExporter)
	set(&config.LogLevel, c.LogLevel)
}
