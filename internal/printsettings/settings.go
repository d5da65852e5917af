// Package printsettings describes how an artifact should be rendered and
// printed. The same value travels from the upload session, through the
// worker pool and the transfer frames, to the client scheduler.
package printsettings

import (
	"fmt"

	"github.com/dmitrijs2005/printrelay/internal/common"
)

type Color string

const (
	ColorMono  Color = "b&w"
	ColorColor Color = "color"
)

type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// Priority orders jobs within one printer queue. Empty means normal.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank is lower for more urgent priorities.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	}
	return 1
}

// Settings is the JSON object carried in print frames and job requests.
type Settings struct {
	Color         Color       `json:"color"`
	Orientation   Orientation `json:"orientation"`
	PagesPerSheet int         `json:"pagesPerSheet,omitempty"`
	Copies        int         `json:"copies,omitempty"`
	Priority      Priority    `json:"priority,omitempty"`
}

var allowedPagesPerSheet = map[int]struct{}{1: {}, 2: {}, 4: {}, 9: {}}

// Default returns monochrome portrait, one page per sheet, one copy.
func Default() Settings {
	return Settings{Color: ColorMono, Orientation: Portrait, PagesPerSheet: 1, Copies: 1}
}

// WithDefaults fills zero-valued fields from Default.
func (s Settings) WithDefaults() Settings {
	d := Default()
	if s.Color == "" {
		s.Color = d.Color
	}
	if s.Orientation == "" {
		s.Orientation = d.Orientation
	}
	if s.PagesPerSheet == 0 {
		s.PagesPerSheet = d.PagesPerSheet
	}
	if s.Copies == 0 {
		s.Copies = d.Copies
	}
	return s
}

// Validate reports common.ErrInvalidSettings wrapped with the offending field.
// Zero values are accepted and mean "use the default".
func (s Settings) Validate() error {
	switch s.Color {
	case "", ColorMono, ColorColor:
	default:
		return fmt.Errorf("%w: color %q", common.ErrInvalidSettings, s.Color)
	}

	switch s.Orientation {
	case "", Portrait, Landscape:
	default:
		return fmt.Errorf("%w: orientation %q", common.ErrInvalidSettings, s.Orientation)
	}

	if s.PagesPerSheet != 0 {
		if _, ok := allowedPagesPerSheet[s.PagesPerSheet]; !ok {
			return fmt.Errorf("%w: pagesPerSheet %d", common.ErrInvalidSettings, s.PagesPerSheet)
		}
	}

	switch s.Priority {
	case "", PriorityHigh, PriorityNormal, PriorityLow:
	default:
		return fmt.Errorf("%w: priority %q", common.ErrInvalidSettings, s.Priority)
	}

	if s.Copies < 0 {
		return fmt.Errorf("%w: copies %d", common.ErrInvalidSettings, s.Copies)
	}

	return nil
}

// IsColor reports whether the job needs a color-capable printer.
func (s Settings) IsColor() bool {
	return s.Color == ColorColor
}
