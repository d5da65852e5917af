// Package models defines server-side data models persisted in the database.
package models

import (
	"time"

	"github.com/dmitrijs2005/printrelay/internal/printsettings"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
)

// PrintJob is the server's record of one artifact delivered to a print
// client, and of the last status the client reported for it.
type PrintJob struct {
	ID       string
	ClientID string
	// ArtifactKey is the storage key of the merged artifact that was sent.
	ArtifactKey string
	Settings    printsettings.Settings
	// PageCount of the artifact, zero when unknown.
	PageCount int
	Status    protocol.JobStatus
	// Message carries the human-readable failure reason, if any.
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
