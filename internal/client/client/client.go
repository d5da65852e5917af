package client

import (
	"context"
)

// Client probes the relay server out of band of the WebSocket session.
type Client interface {
	Close() error
	// Ping checks the relay's overall health.
	Ping(ctx context.Context) error
	// Services reports the serving state of every relay component. It needs
	// a valid token.
	Services(ctx context.Context) (map[string]bool, error)
}
