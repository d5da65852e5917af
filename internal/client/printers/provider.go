package printers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
)

// CommandRunner executes an external program and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Snapshot is one reading of the print subsystem. DefaultPrinter is empty
// when the system has no default or it could not be determined.
type Snapshot struct {
	Printers       []protocol.Printer
	DefaultPrinter string
}

// Find returns the printer called name.
func (s Snapshot) Find(name string) (protocol.Printer, bool) {
	for _, p := range s.Printers {
		if p.Name == name {
			return p, true
		}
	}
	return protocol.Printer{}, false
}

// Provider reports the current printer status.
type Provider interface {
	Status(ctx context.Context) (Snapshot, error)
}

// CUPSProvider reads printer state with lpstat.
type CUPSProvider struct {
	lpstat string
	run    CommandRunner
	log    logging.Logger
}

func NewCUPSProvider(lpstat string, logger logging.Logger) *CUPSProvider {
	if lpstat == "" {
		lpstat = "lpstat"
	}
	return &CUPSProvider{lpstat: lpstat, run: execRunner, log: logger.With("module", "printers")}
}

// Status lists printers and the system default. lpstat exiting with an
// error means no destinations are configured and yields an empty list. A
// failing default lookup only leaves DefaultPrinter empty.
func (p *CUPSProvider) Status(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	out, err := p.run(ctx, p.lpstat, "-p")
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Snapshot{}, fmt.Errorf("lpstat -p: %w", err)
		}
		p.log.Debug(ctx, "no printers reported", "output", strings.TrimSpace(string(out)))
		out = nil
	}
	snap.Printers = parsePrinters(out)

	def, err := p.run(ctx, p.lpstat, "-d")
	if err != nil {
		p.log.Warn(ctx, "default printer lookup failed", "error", err)
	} else {
		snap.DefaultPrinter = parseDefault(def)
	}

	for i := range snap.Printers {
		snap.Printers[i].IsDefault = snap.Printers[i].Name == snap.DefaultPrinter
	}

	return snap, nil
}

// parsePrinters understands lpstat -p output:
//
//	printer Office is idle.  enabled since ...
//	printer Color now printing Color-12.  enabled since ...
//	printer Old disabled since ... -
//		Paper jam error
func parsePrinters(out []byte) []protocol.Printer {
	printers := []protocol.Printer{}
	sc := bufio.NewScanner(bytes.NewReader(out))

	for sc.Scan() {
		line := sc.Text()

		if strings.HasPrefix(line, "printer ") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			rest := strings.Join(fields[2:], " ")
			printers = append(printers, protocol.Printer{
				Name:      fields[1],
				IsBusy:    strings.HasPrefix(rest, "now printing"),
				IsOffline: strings.HasPrefix(rest, "disabled"),
			})
			continue
		}

		// Indented lines are alerts for the printer above.
		if len(printers) > 0 && (strings.HasPrefix(line, "\t") || strings.HasPrefix(line, " ")) {
			alert := strings.ToLower(line)
			if strings.Contains(alert, "error") || strings.Contains(alert, "unable") {
				printers[len(printers)-1].HasError = true
			}
		}
	}

	return printers
}

func parseDefault(out []byte) string {
	const prefix = "system default destination:"
	for _, line := range strings.Split(string(out), "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), prefix); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
