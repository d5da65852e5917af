package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/printrelay/internal/printsettings"
)

type MessageType string

const (
	TypeAuth           MessageType = "auth"
	TypeAuthResult     MessageType = "auth_result"
	TypePrint          MessageType = "print"
	TypePrintJobUpdate MessageType = "print_job_update"
	TypePrinterStatus  MessageType = "printer-status"
	TypeGetPrinters    MessageType = "get-printers"
	TypeCancelJob      MessageType = "cancel-job"
	TypeError          MessageType = "error"
)

// JobStatus is the lifecycle state reported by the print client.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusPrinting  JobStatus = "printing"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPrinting, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Envelope is decoded first to find out which concrete message follows.
type Envelope struct {
	Type MessageType `json:"type"`
}

type AuthMessage struct {
	Type          MessageType `json:"type"`
	ClientID      string      `json:"clientId"`
	Authenticated bool        `json:"authenticated"`
}

type AuthResult struct {
	Type          MessageType `json:"type"`
	Authenticated bool        `json:"authenticated"`
	Message       string      `json:"message,omitempty"`
}

// PrintFrame carries one chunk of an artifact, or the terminal marker when
// Done is set.
type PrintFrame struct {
	Type     MessageType            `json:"type"`
	JobID    string                 `json:"jobId"`
	Chunk    string                 `json:"chunk,omitempty"`
	Offset   int64                  `json:"offset"`
	Total    int64                  `json:"total"`
	Done     bool                   `json:"done,omitempty"`
	Settings printsettings.Settings `json:"settings"`
}

type JobUpdateData struct {
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

type JobUpdate struct {
	Type MessageType   `json:"type"`
	Data JobUpdateData `json:"data"`
}

// Printer is one device as seen by the client's print subsystem.
type Printer struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
	IsOffline bool   `json:"isOffline"`
	IsBusy    bool   `json:"isBusy"`
	HasError  bool   `json:"hasError"`
}

// Ready reports whether the device can accept a job right now.
func (p Printer) Ready() bool {
	return !p.IsOffline && !p.IsBusy && !p.HasError
}

type QueueInfo struct {
	Queued   int  `json:"queued"`
	Printing bool `json:"printing"`
}

type PrinterStatusData struct {
	Printers       []Printer            `json:"printers"`
	DefaultPrinter string               `json:"defaultPrinter,omitempty"`
	QueueStatus    map[string]QueueInfo `json:"queueStatus,omitempty"`
}

type PrinterStatusMessage struct {
	Type MessageType       `json:"type"`
	Data PrinterStatusData `json:"data"`
}

type GetPrinters struct {
	Type MessageType `json:"type"`
}

type CancelJob struct {
	Type  MessageType `json:"type"`
	JobID string      `json:"jobId"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewAuth(clientID string) AuthMessage {
	return AuthMessage{Type: TypeAuth, ClientID: clientID, Authenticated: true}
}

func NewJobUpdate(jobID string, status JobStatus, message string) JobUpdate {
	return JobUpdate{Type: TypePrintJobUpdate, Data: JobUpdateData{JobID: jobID, Status: status, Message: message}}
}

func NewPrinterStatus(data PrinterStatusData) PrinterStatusMessage {
	return PrinterStatusMessage{Type: TypePrinterStatus, Data: data}
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// PeekType returns the discriminator of a raw message.
func PeekType(raw []byte) (MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("malformed message: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("malformed message: missing type")
	}
	return env.Type, nil
}
