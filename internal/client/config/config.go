package config

import "time"

// Config holds runtime settings for the print client.
//
// Fields:
//   - ServerURL: WebSocket endpoint of the relay (ws:// or wss://).
//   - ServerEndpointAddr: host:port of the relay's gRPC health endpoint.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - DataDir: directory holding the local database and the print spool.
//   - MaxRetries: reconnect attempts before giving up.
//   - HeartbeatInterval / PongTimeout: liveness of the WebSocket connection.
//   - BackoffBase / BackoffCap: reconnect delay is min(BackoffBase*2^n, BackoffCap).
//   - ReassemblyTTL: incomplete transfers older than this are discarded.
//   - StatusCacheTTL: how long a printer status snapshot is reused.
//   - StatusReportInterval: period of unsolicited printer-status reports.
//   - PreferencesFile: optional YAML seed imported on start.
//   - LPBinary / LPStatBinary: CUPS command-line tools.
//   - TokenInQuery: send the token as ?token= instead of a header.
//   - Passphrase: unlocks stored credentials; prompted for when empty.
type Config struct {
	ServerURL            string
	ServerEndpointAddr   string
	OnlineCheckInterval  time.Duration
	DataDir              string
	MaxRetries           int
	HeartbeatInterval    time.Duration
	PongTimeout          time.Duration
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	ReassemblyTTL        time.Duration
	StatusCacheTTL       time.Duration
	StatusReportInterval time.Duration
	PreferencesFile      string
	LPBinary             string
	LPStatBinary         string
	TokenInQuery         bool
	Passphrase           string
	LogLevel             string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "ws://localhost:5553/ws"
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 30 * time.Second
	c.DataDir = "printrelay-data"
	c.MaxRetries = 5
	c.HeartbeatInterval = 15 * time.Second
	c.PongTimeout = 5 * time.Second
	c.BackoffBase = time.Second
	c.BackoffCap = 300 * time.Second
	c.ReassemblyTTL = 60 * time.Second
	c.StatusCacheTTL = 5 * time.Second
	c.StatusReportInterval = 60 * time.Second
	c.LPBinary = "lp"
	c.LPStatBinary = "lpstat"
	c.LogLevel = "info"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// the environment, JSON (if present) and command-line flags (if present).
// Later sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
