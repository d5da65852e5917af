package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/disiqueira/gotree/v3"
	"github.com/dmitrijs2005/printrelay/internal/client/models"
	"github.com/dmitrijs2005/printrelay/internal/client/printers"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
)

// Printers shows every local printer with its state, preference and queue.
func (a *App) Printers(ctx context.Context) error {
	snap, err := a.provider.Status(ctx)
	if err != nil {
		fmt.Fprintln(a.out, "Printer status unavailable:", err)
		return err
	}
	prefs, err := a.prefs.List(ctx)
	if err != nil {
		return err
	}

	var queues map[string]protocol.QueueInfo
	if g := a.runningAgent(); g != nil {
		queues = g.sched.QueueStatus()
	}

	fmt.Fprint(a.out, renderPrinters(snap, prefs, queues))
	return nil
}

func printerState(p protocol.Printer) string {
	switch {
	case p.IsOffline:
		return "offline"
	case p.HasError:
		return "error"
	case p.IsBusy:
		return "busy"
	}
	return "idle"
}

func renderPrinters(snap printers.Snapshot, prefs []models.Preference, queues map[string]protocol.QueueInfo) string {
	byName := make(map[string]models.Preference, len(prefs))
	for _, p := range prefs {
		byName[p.PrinterName] = p
	}

	root := gotree.New(fmt.Sprintf("printers (%d)", len(snap.Printers)))
	for _, p := range snap.Printers {
		label := p.Name
		if p.IsDefault {
			label += " [default]"
		}
		node := root.Add(label)
		node.Add("state: " + printerState(p))
		if pref, ok := byName[p.Name]; ok {
			node.Add(fmt.Sprintf("preference: priority %d, %s", pref.Priority, capabilities(pref)))
		}
		if q, ok := queues[p.Name]; ok {
			node.Add(fmt.Sprintf("queue: %d waiting, printing %t", q.Queued, q.Printing))
		}
	}

	// Preferences naming printers CUPS does not know about.
	var missing []string
	for _, p := range prefs {
		if _, ok := snap.Find(p.PrinterName); !ok {
			missing = append(missing, p.PrinterName)
		}
	}
	if len(missing) > 0 {
		unknown := root.Add("not installed")
		for _, name := range missing {
			unknown.Add(name)
		}
	}

	return root.Print()
}

func capabilities(p models.Preference) string {
	var caps []string
	if p.Color {
		caps = append(caps, "color")
	}
	if p.Mono {
		caps = append(caps, "mono")
	}
	return strings.Join(caps, "+")
}

// Prefs manages printer preferences:
//
//	prefs list
//	prefs set <printer> <color|mono|both> [priority]
//	prefs rm <printer>
//	prefs import <file.yaml>
func (a *App) Prefs(ctx context.Context, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}

	switch args[0] {
	case "list", "ls":
		list, err := a.prefs.List(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(a.out, "No printer preferences, the system default printer is used")
			return nil
		}
		for _, p := range list {
			fmt.Fprintf(a.out, "%-24s %-10s priority %d\n", p.PrinterName, capabilities(p), p.Priority)
		}
		return nil

	case "set":
		if len(args) < 3 {
			fmt.Fprintln(a.out, "Usage: prefs set <printer> <color|mono|both> [priority]")
			return nil
		}
		p := models.Preference{PrinterName: args[1]}
		switch args[2] {
		case "color":
			p.Color = true
		case "mono":
			p.Mono = true
		case "both":
			p.Color, p.Mono = true, true
		default:
			fmt.Fprintln(a.out, "Capability must be color, mono or both")
			return nil
		}
		if len(args) > 3 {
			n, err := strconv.Atoi(args[3])
			if err != nil {
				fmt.Fprintln(a.out, "Priority must be a number")
				return err
			}
			p.Priority = n
		}
		if err := a.prefs.Set(ctx, p); err != nil {
			fmt.Fprintln(a.out, "Error:", err)
			return err
		}
		fmt.Fprintln(a.out, "Saved", p.PrinterName)
		return nil

	case "rm", "delete":
		if len(args) < 2 {
			fmt.Fprintln(a.out, "Usage: prefs rm <printer>")
			return nil
		}
		if err := a.prefs.Remove(ctx, args[1]); err != nil {
			fmt.Fprintln(a.out, "Error:", err)
			return err
		}
		fmt.Fprintln(a.out, "Removed", args[1])
		return nil

	case "import":
		if len(args) < 2 {
			fmt.Fprintln(a.out, "Usage: prefs import <file.yaml>")
			return nil
		}
		f, err := os.Open(args[1])
		if err != nil {
			fmt.Fprintln(a.out, "Error:", err)
			return err
		}
		defer f.Close()
		n, err := a.prefs.Import(ctx, f)
		if err != nil {
			fmt.Fprintln(a.out, "Error:", err)
			return err
		}
		fmt.Fprintf(a.out, "Imported %d preferences\n", n)
		return nil
	}

	fmt.Fprintln(a.out, "Unknown prefs command:", args[0])
	return nil
}

// Queue prints the scheduler's per-printer queues.
func (a *App) Queue(ctx context.Context) error {
	g := a.runningAgent()
	if g == nil {
		fmt.Fprintln(a.out, "Agent is not running")
		return nil
	}
	qs := g.sched.QueueStatus()
	if len(qs) == 0 {
		fmt.Fprintln(a.out, "No jobs")
		return nil
	}
	names := make([]string, 0, len(qs))
	for name := range qs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		q := qs[name]
		fmt.Fprintf(a.out, "%-24s waiting %d, printing %t\n", name, q.Queued, q.Printing)
	}
	return nil
}

// Cancel removes a waiting job from its queue.
func (a *App) Cancel(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.out, "Usage: cancel <job-id>")
		return nil
	}
	g := a.runningAgent()
	if g == nil {
		fmt.Fprintln(a.out, "Agent is not running")
		return nil
	}
	if err := g.CancelJob(ctx, args[0]); err != nil {
		fmt.Fprintln(a.out, "Error:", err)
		return err
	}
	fmt.Fprintln(a.out, "Cancelled", args[0])
	return nil
}

// Ping probes the relay's health endpoint and lists its components.
func (a *App) Ping(ctx context.Context) error {
	if err := a.Unlock(ctx); err != nil {
		return err
	}
	h := a.healthClient()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.Ping(ctx); err != nil {
		a.setMode(ModeOffline)
		fmt.Fprintln(a.out, "Server unavailable:", err)
		return err
	}
	a.setMode(ModeOnline)

	services, err := h.Services(ctx)
	if err != nil {
		fmt.Fprintln(a.out, "Server is up, components unavailable:", err)
		return err
	}
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := "serving"
		if !services[name] {
			state = "not serving"
		}
		label := name
		if label == "" {
			label = "(overall)"
		}
		fmt.Fprintf(a.out, "%-24s %s\n", label, state)
	}
	return nil
}
