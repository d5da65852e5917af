// Package client contains the print client's link to the relay server
// outside the WebSocket session, and its local database bootstrap.
//
// GRPCClient talks to the relay's gRPC health service: Ping is open to
// anyone, Services needs the client's bearer token, which an interceptor
// attaches to every call. gRPC status codes are mapped to ErrUnavailable
// and ErrUnauthorized.
//
// InitDatabase opens the SQLite file under the data directory and applies
// the embedded goose migrations.
package client
