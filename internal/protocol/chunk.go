package protocol

import (
	"encoding/base64"

	"github.com/dmitrijs2005/printrelay/internal/printsettings"
)

const (
	// DefaultChunkSize is the payload size of one frame before base64 encoding.
	DefaultChunkSize = 1 << 20

	// MaxFrameSize is the read limit both ends apply to a single message.
	MaxFrameSize = 4 << 20

	// frameOverhead bounds the JSON envelope of a print frame: ids, offsets
	// and settings.
	frameOverhead = 16 << 10

	// MaxChunkSize is the largest chunk whose encoded frame fits MaxFrameSize.
	MaxChunkSize = (MaxFrameSize - frameOverhead) / 4 * 3
)

// Split cuts payload into frames of at most chunkSize bytes. The terminal
// frame is not included, see DoneFrame.
func Split(jobID string, payload []byte, chunkSize int, settings printsettings.Settings) []PrintFrame {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	total := int64(len(payload))
	frames := make([]PrintFrame, 0, (len(payload)+chunkSize-1)/chunkSize)

	for offset := 0; offset < len(payload); offset += chunkSize {
		end := min(offset+chunkSize, len(payload))
		frames = append(frames, PrintFrame{
			Type:     TypePrint,
			JobID:    jobID,
			Chunk:    base64.StdEncoding.EncodeToString(payload[offset:end]),
			Offset:   int64(offset),
			Total:    total,
			Settings: settings,
		})
	}

	return frames
}

// DoneFrame builds the terminal message of a transfer.
func DoneFrame(jobID string, total int64, settings printsettings.Settings) PrintFrame {
	return PrintFrame{Type: TypePrint, JobID: jobID, Done: true, Total: total, Settings: settings}
}
