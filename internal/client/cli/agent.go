package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/printrelay/internal/client/printers"
	"github.com/dmitrijs2005/printrelay/internal/client/scheduler"
	"github.com/dmitrijs2005/printrelay/internal/client/wsclient"
	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
)

const spoolDirName = "spool"

var errAgentRunning = errors.New("agent already running")

type jobReporter interface {
	ReportJob(jobID string, status protocol.JobStatus, message string)
}

// agent connects the relay session to the local scheduler. It implements
// wsclient.Handler and forwards scheduler events as job-status reports.
type agent struct {
	sched    *scheduler.Scheduler
	provider printers.Provider
	reporter jobReporter
	log      logging.Logger

	cancel context.CancelFunc
	done   chan error
}

func (g *agent) observe(e scheduler.Event) {
	switch e.Kind {
	case scheduler.EventQueued, scheduler.EventStatus, scheduler.EventCancelled:
		if g.reporter != nil {
			g.reporter.ReportJob(e.JobID, e.Status, e.Message)
		}
	case scheduler.EventDegraded:
		g.log.Warn(context.Background(), "job sent to system default printer", "job_id", e.JobID, "printer", e.Printer)
	}
}

func (g *agent) HandleArtifact(ctx context.Context, a *protocol.Artifact) error {
	_, err := g.sched.AddJob(ctx, a)
	if errors.Is(err, common.ErrSchedulerClosed) && g.reporter != nil {
		g.reporter.ReportJob(a.JobID, protocol.StatusFailed, err.Error())
	}
	return err
}

func (g *agent) PrinterStatus(ctx context.Context) (protocol.PrinterStatusData, error) {
	snap, err := g.provider.Status(ctx)
	if err != nil {
		return protocol.PrinterStatusData{}, err
	}
	return protocol.PrinterStatusData{
		Printers:       snap.Printers,
		DefaultPrinter: snap.DefaultPrinter,
		QueueStatus:    g.sched.QueueStatus(),
	}, nil
}

func (g *agent) CancelJob(ctx context.Context, jobID string) error {
	return g.sched.Cancel(jobID)
}

// seedPreferences imports the configured YAML file, if any.
func (a *App) seedPreferences(ctx context.Context) error {
	if a.config.PreferencesFile == "" {
		return nil
	}
	f, err := os.Open(a.config.PreferencesFile)
	if err != nil {
		return fmt.Errorf("preferences file: %w", err)
	}
	defer f.Close()

	n, err := a.prefs.Import(ctx, f)
	if err != nil {
		return fmt.Errorf("preferences file %s: %w", a.config.PreferencesFile, err)
	}
	a.log.Info(ctx, "printer preferences imported", "file", a.config.PreferencesFile, "count", n)
	return nil
}

// startAgent unlocks credentials, builds the scheduler and the relay session
// and runs the session in the background.
func (a *App) startAgent(ctx context.Context) (*agent, error) {
	a.mu.Lock()
	running := a.agent != nil
	a.mu.Unlock()
	if running {
		return nil, errAgentRunning
	}

	if err := a.Unlock(ctx); err != nil {
		return nil, err
	}
	if err := a.seedPreferences(ctx); err != nil {
		return nil, err
	}

	g := &agent{provider: a.provider, log: a.log.With("module", "agent")}

	sched, err := scheduler.New(filepath.Join(a.config.DataDir, spoolDirName), a.prefs, a.provider, a.dispatcher, g.observe, a.log)
	if err != nil {
		return nil, err
	}
	g.sched = sched

	ws := wsclient.New(wsclient.Config{
		URL:            a.config.ServerURL,
		ClientID:       a.credentials.ClientID,
		Token:          a.credentials.Token,
		TokenInQuery:   a.config.TokenInQuery,
		MaxRetries:     a.config.MaxRetries,
		Heartbeat:      a.config.HeartbeatInterval,
		PongTimeout:    a.config.PongTimeout,
		BackoffBase:    a.config.BackoffBase,
		BackoffCap:     a.config.BackoffCap,
		ReassemblyTTL:  a.config.ReassemblyTTL,
		StatusInterval: a.config.StatusReportInterval,
	}, g, a.log)
	g.reporter = ws

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan error, 1)

	a.mu.Lock()
	a.agent = g
	a.mu.Unlock()

	go func() {
		err := ws.Run(runCtx)
		sched.Close()
		if err != nil {
			a.log.Error(runCtx, "relay session ended", "error", err)
		}
		a.mu.Lock()
		if a.agent == g {
			a.agent = nil
		}
		a.mu.Unlock()
		g.done <- err
	}()

	a.log.Info(ctx, "print agent started", "server", a.config.ServerURL)
	return g, nil
}

// RunAgent runs the print agent until ctx is done or the relay session
// gives up.
func (a *App) RunAgent(ctx context.Context) error {
	g, err := a.startAgent(ctx)
	if err != nil {
		return err
	}
	select {
	case err := <-g.done:
		return err
	case <-ctx.Done():
		g.cancel()
		return <-g.done
	}
}

// Start runs the agent in the background of the REPL.
func (a *App) Start(ctx context.Context) error {
	if _, err := a.startAgent(ctx); err != nil {
		fmt.Fprintln(a.out, "Agent not started:", err)
		return err
	}
	fmt.Fprintln(a.out, "Agent started")
	return nil
}

// Stop stops a background agent.
func (a *App) Stop(ctx context.Context) error {
	if !a.stopAgent() {
		fmt.Fprintln(a.out, "Agent is not running")
		return nil
	}
	fmt.Fprintln(a.out, "Agent stopped")
	return nil
}

func (a *App) stopAgent() bool {
	a.mu.Lock()
	g := a.agent
	a.mu.Unlock()
	if g == nil {
		return false
	}
	g.cancel()
	<-g.done
	return true
}

func (a *App) runningAgent() *agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agent
}
