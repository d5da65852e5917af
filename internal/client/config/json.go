package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/flagx"
	"github.com/dmitrijs2005/printrelay/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds. Keys missing from the file
// leave the current value unchanged.
type JsonConfig struct {
	ServerURL            *string         `json:"server_url"`
	ServerEndpointAddr   *string         `json:"server_endpoint_addr"`
	OnlineCheckInterval  *timex.Duration `json:"online_check_interval"`
	DataDir              *string         `json:"data_dir"`
	MaxRetries           *int            `json:"max_retries"`
	HeartbeatInterval    *timex.Duration `json:"heartbeat_interval"`
	PongTimeout          *timex.Duration `json:"pong_timeout"`
	BackoffBase          *timex.Duration `json:"backoff_base"`
	BackoffCap           *timex.Duration `json:"backoff_cap"`
	ReassemblyTTL        *timex.Duration `json:"reassembly_ttl"`
	StatusCacheTTL       *timex.Duration `json:"status_cache_ttl"`
	StatusReportInterval *timex.Duration `json:"status_report_interval"`
	PreferencesFile      *string         `json:"preferences_file"`
	LPBinary             *string         `json:"lp"`
	LPStatBinary         *string         `json:"lpstat"`
	TokenInQuery         *bool           `json:"token_in_query"`
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

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Panics on read or unmarshal errors. The passphrase is deliberately not
// accepted from JSON.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	set(&cfg.ServerURL, jc.ServerURL)
	set(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setDur(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	set(&cfg.DataDir, jc.DataDir)
	set(&cfg.MaxRetries, jc.MaxRetries)
	setDur(&cfg.HeartbeatInterval, jc.HeartbeatInterval)
	setDur(&cfg.PongTimeout, jc.PongTimeout)
	setDur(&cfg.BackoffBase, jc.BackoffBase)
	setDur(&cfg.BackoffCap, jc.BackoffCap)
	setDur(&cfg.ReassemblyTTL, jc.ReassemblyTTL)
	setDur(&cfg.StatusCacheTTL, jc.StatusCacheTTL)
	setDur(&cfg.StatusReportInterval, jc.StatusReportInterval)
	set(&cfg.PreferencesFile, jc.PreferencesFile)
	set(&cfg.LPBinary, jc.LPBinary)
	set(&cfg.LPStatBinary, jc.LPStatBinary)
	set(&cfg.TokenInQuery, jc.TokenInQuery)
	set(&cfg.LogLevel, jc.LogLevel)
}
