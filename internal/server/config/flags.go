package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/flagx"
)

// ValueFlags are the command-line flags that take a value.
var ValueFlags = []string{"-a", "-w", "-g", "-d", "-s", "-b", "-r", "-n", "-t", "-l"}

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP API bind address (e.g., ":5000")
//	-w string   WebSocket bind address (e.g., ":5553")
//	-g string   gRPC health bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-b string   storage URL (mem://, file://dir, s3://bucket)
//	-r string   Redis address
//	-n int      worker count (0 = number of CPUs)
//	-t int      session timeout, minutes
//	-l string   log level (debug, info, warn, error)
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - The session timeout is accepted as an integer in minutes.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], ValueFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP API address")
	fs.StringVar(&config.WebSocketAddr, "w", config.WebSocketAddr, "WebSocket address")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC health address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.StorageURL, "b", config.StorageURL, "storage URL")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.IntVar(&config.Workers, "n", config.Workers, "worker count")

	sessionTimeout := fs.Int("t", int(config.SessionTimeout.Minutes()), "session timeout (in minutes)")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTimeout = time.Duration(*sessionTimeout) * time.Minute
}
