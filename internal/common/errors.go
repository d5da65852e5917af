// Package common defines sentinel errors and protocol constants shared by
// the relay server and the print client. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Auth errors.
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")

	// Precondition violations, surfaced before any side effect.
	ErrNoAuthenticatedClient = errors.New("no authenticated client for target identity")
	ErrSessionNotFound       = errors.New("session not found")
	ErrFileNotFound          = errors.New("file not found in session")
	ErrInvalidSettings       = errors.New("invalid print settings")
	ErrUnsupportedFileType   = errors.New("unsupported file type")
	ErrFileTooLarge          = errors.New("file too large")
	ErrFileNotProcessed      = errors.New("file has not been processed")
	ErrNoFiles               = errors.New("session has no files")

	// Transfer errors.
	ErrSendTimeout        = errors.New("send timeout")
	ErrUnknownJob         = errors.New("unknown job")
	ErrFrameOutOfOrder    = errors.New("frame out of order")
	ErrTransferIncomplete = errors.New("transfer incomplete")

	// Worker pool errors.
	ErrPoolClosed = errors.New("worker pool closed")

	// Scheduler errors.
	ErrNoPrinterAvailable = errors.New("no printer available")
	ErrPrinterNotReady    = errors.New("printer not ready")
	ErrJobNotQueued       = errors.New("job is not queued")
	ErrJobExists          = errors.New("job already queued")
	ErrSchedulerClosed    = errors.New("scheduler closed")

	// Job record errors.
	ErrInvalidStatusTransition = errors.New("invalid job status transition")

	// Client connection errors.
	ErrNotConnected  = errors.New("not connected")
	ErrGaveUp        = errors.New("reconnect attempts exhausted")
	ErrNoCredentials = errors.New("client credentials not found")
	ErrAuthRejected  = errors.New("authentication rejected by server")
	ErrOutboxFull    = errors.New("outbound message queue is full")
)
