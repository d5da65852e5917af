package printers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/printrelay/internal/printsettings"
)

// Dispatcher hands a spooled file to a physical printer.
type Dispatcher interface {
	Print(ctx context.Context, printer, path string, s printsettings.Settings) error
}

// LPDispatcher submits jobs with the CUPS lp command.
type LPDispatcher struct {
	lp  string
	run CommandRunner
}

func NewLPDispatcher(lp string) *LPDispatcher {
	if lp == "" {
		lp = "lp"
	}
	return &LPDispatcher{lp: lp, run: execRunner}
}

func (d *LPDispatcher) Print(ctx context.Context, printer, path string, s printsettings.Settings) error {
	out, err := d.run(ctx, d.lp, lpArgs(printer, path, s)...)
	if err != nil {
		return fmt.Errorf("lp %s: %w: %s", printer, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Orientation and pages per sheet are already applied to the artifact by
// the server, so only copies and color mode reach lp.
func lpArgs(printer, path string, s printsettings.Settings) []string {
	s = s.WithDefaults()

	args := []string{"-d", printer, "-n", strconv.Itoa(s.Copies)}
	if s.IsColor() {
		args = append(args, "-o", "print-color-mode=color")
	} else {
		args = append(args, "-o", "print-color-mode=monochrome")
	}

	return append(args, path)
}
