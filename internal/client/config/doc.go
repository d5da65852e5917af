// Package config loads runtime configuration for the print client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Environment variables prefixed PRINTRELAY_, optionally from a .env file
//     in the working directory (see parseEnv).
//  3. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  4. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-u string   WebSocket URL of the relay
//	-a string   address:port of the relay gRPC health endpoint
//	-i int      online status check interval (seconds)
//	-d string   data directory
//	-r int      reconnect attempts before giving up
//	-p string   preferences YAML seed file
//	-l string   log level
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "3s" or integer nanoseconds:
//
//	{
//	  "server_url": "wss://relay.example.com/ws",
//	  "server_endpoint_addr": "relay.example.com:50051",
//	  "heartbeat_interval": "15s",
//	  "max_retries": 8
//	}
package config
