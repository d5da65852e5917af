package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/printrelay/internal/client/models"
	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/printsettings"
)

// selection is the outcome of choosing a printer for one job.
type selection struct {
	printer  string
	degraded bool
}

// selectPrinter picks a device for a job:
//
//  1. the job needs color or monochrome;
//  2. preferences and printer status are fetched;
//  3. preferences that cannot serve the job or are unknown to the print
//     subsystem are dropped;
//  4. candidates are ranked by queue length, then by descending priority;
//  5. the first ready candidate wins;
//  6. otherwise the system default is used and the choice is degraded;
//  7. an empty preference list goes straight to the system default.
func (s *Scheduler) selectPrinter(ctx context.Context, settings printsettings.Settings) (selection, error) {
	color := settings.IsColor()

	prefs, err := s.prefs.List(ctx)
	if err != nil {
		return selection{}, fmt.Errorf("load printer preferences: %w", err)
	}

	snap, err := s.provider.Status(ctx)
	if err != nil {
		return selection{}, fmt.Errorf("printer status: %w", err)
	}

	if len(prefs) == 0 {
		if snap.DefaultPrinter == "" {
			return selection{}, common.ErrNoPrinterAvailable
		}
		return selection{printer: snap.DefaultPrinter}, nil
	}

	candidates := make([]models.Preference, 0, len(prefs))
	for _, p := range prefs {
		if !p.Supports(color) {
			continue
		}
		if _, known := snap.Find(p.PrinterName); !known {
			continue
		}
		candidates = append(candidates, p)
	}

	lengths := s.queueLengths()
	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := lengths[candidates[i].PrinterName], lengths[candidates[j].PrinterName]
		if li != lj {
			return li < lj
		}
		return candidates[i].Priority > candidates[j].Priority
	})

	for _, c := range candidates {
		if p, _ := snap.Find(c.PrinterName); p.Ready() {
			return selection{printer: c.PrinterName}, nil
		}
	}

	if snap.DefaultPrinter == "" {
		return selection{}, common.ErrNoPrinterAvailable
	}
	return selection{printer: snap.DefaultPrinter, degraded: true}, nil
}

// queueLengths counts waiting plus in-flight jobs per printer.
func (s *Scheduler) queueLengths() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.queues))
	for name, q := range s.queues {
		n := len(q.jobs)
		if q.current != nil {
			n++
		}
		out[name] = n
	}
	return out
}
