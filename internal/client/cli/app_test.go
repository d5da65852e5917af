package cli

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/client/config"
	"github.com/dmitrijs2005/printrelay/internal/client/models"
	"github.com/dmitrijs2005/printrelay/internal/client/printers"
	"github.com/dmitrijs2005/printrelay/internal/client/scheduler"
	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/printsettings"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	snap printers.Snapshot
	err  error
}

func (p *stubProvider) Status(ctx context.Context) (printers.Snapshot, error) {
	return p.snap, p.err
}

type stubDispatcher struct {
	mu    sync.Mutex
	paths []string
}

func (d *stubDispatcher) Print(ctx context.Context, printer, path string, s printsettings.Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = append(d.paths, printer+":"+filepath.Base(path))
	return nil
}

type reportRecorder struct {
	mu      sync.Mutex
	reports []string
}

func (r *reportRecorder) ReportJob(jobID string, status protocol.JobStatus, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, jobID+":"+string(status))
}

func (r *reportRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reports...)
}

func bufioReader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()
	cfg.Passphrase = "correct horse"

	app, err := NewApp(cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	var out bytes.Buffer
	app.out = &out
	app.provider = &stubProvider{snap: printers.Snapshot{
		Printers: []protocol.Printer{
			{Name: "office", IsDefault: true},
			{Name: "lab", IsBusy: true},
		},
		DefaultPrinter: "office",
	}}
	app.dispatcher = &stubDispatcher{}
	return app, &out
}

func TestNewApp_CreatesDatabase(t *testing.T) {
	app, _ := newTestApp(t)

	_, err := os.Stat(filepath.Join(app.config.DataDir, dbFileName))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(app.config.DataDir))
}

func TestIsUnlocked(t *testing.T) {
	app := &App{}
	assert.False(t, app.isUnlocked())

	app.credentials = &models.Credentials{ClientID: "c1"}
	assert.True(t, app.isUnlocked())
}

func TestSetMode_ChangesAndLogsOnce(t *testing.T) {
	app := &App{}
	var buf bytes.Buffer

	old := log.Default().Writer()
	defer log.SetOutput(old)
	log.SetOutput(&buf)

	app.setMode(ModeOnline)
	assert.Equal(t, ModeOnline, app.Mode)
	assert.NotEmpty(t, buf.String())

	buf.Reset()
	app.setMode(ModeOnline)
	assert.Empty(t, buf.String(), "no log when mode does not change")

	app.setMode(ModeOffline)
	assert.Equal(t, ModeOffline, app.Mode)
	assert.NotEmpty(t, buf.String())
}

func TestLoginThenUnlock(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()

	err := app.Unlock(ctx)
	require.ErrorIs(t, err, common.ErrNoCredentials)
	assert.Contains(t, out.String(), "No credentials stored")

	require.NoError(t, app.Login(ctx, []string{"client-7", "tok-abc"}))
	assert.False(t, app.isUnlocked())

	require.NoError(t, app.Unlock(ctx))
	assert.Equal(t, "client-7", app.credentials.ClientID)
	assert.Equal(t, "tok-abc", app.credentials.Token)
	assert.NotNil(t, app.healthClient())
	assert.Equal(t, "(client-7 )", app.getStatus())
}

func TestUnlock_WrongPassphrase(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.Login(ctx, []string{"client-7", "tok-abc"}))

	app.config.Passphrase = "wrong"
	err := app.Unlock(ctx)
	require.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Contains(t, out.String(), "Wrong passphrase")
	assert.False(t, app.isUnlocked())
}

func TestLogin_PromptsWhenArgsMissing(t *testing.T) {
	app, _ := newTestApp(t)
	app.reader = bufioReader("client-9\ntoken-9\n")
	ctx := context.Background()

	require.NoError(t, app.Login(ctx, nil))
	require.NoError(t, app.Unlock(ctx))
	assert.Equal(t, "client-9", app.credentials.ClientID)
}

func TestLogout_ClearsCredentials(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.Login(ctx, []string{"c", "t"}))
	require.NoError(t, app.Unlock(ctx))
	require.NoError(t, app.Logout(ctx))

	assert.False(t, app.isUnlocked())
	require.ErrorIs(t, app.Unlock(ctx), common.ErrNoCredentials)
}

func TestPrefsCommands(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.Prefs(ctx, nil))
	assert.Contains(t, out.String(), "No printer preferences")

	require.NoError(t, app.Prefs(ctx, []string{"set", "office", "both", "5"}))
	require.NoError(t, app.Prefs(ctx, []string{"set", "lab", "mono"}))

	list, err := app.prefs.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.Preference{PrinterName: "office", Color: true, Mono: true, Priority: 5}, list[0])

	out.Reset()
	require.NoError(t, app.Prefs(ctx, []string{"list"}))
	assert.Contains(t, out.String(), "color+mono")

	require.Error(t, app.Prefs(ctx, []string{"set", "lab", "mono", "high"}))

	require.NoError(t, app.Prefs(ctx, []string{"rm", "lab"}))
	require.ErrorIs(t, app.Prefs(ctx, []string{"rm", "lab"}), common.ErrorNotFound)
}

func TestPrefsImport(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`printers:
  - name: office
    color: true
    priority: 2
  - name: lab
    mono: true
`), 0o600))

	require.NoError(t, app.Prefs(ctx, []string{"import", path}))
	assert.Contains(t, out.String(), "Imported 2 preferences")

	list, err := app.prefs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRenderPrinters(t *testing.T) {
	snap := printers.Snapshot{
		Printers: []protocol.Printer{
			{Name: "office", IsDefault: true},
			{Name: "lab", IsOffline: true},
		},
		DefaultPrinter: "office",
	}
	prefs := []models.Preference{
		{PrinterName: "office", Color: true, Priority: 3},
		{PrinterName: "attic", Mono: true},
	}
	queues := map[string]protocol.QueueInfo{"office": {Queued: 2, Printing: true}}

	got := renderPrinters(snap, prefs, queues)

	assert.Contains(t, got, "printers (2)")
	assert.Contains(t, got, "office [default]")
	assert.Contains(t, got, "state: idle")
	assert.Contains(t, got, "state: offline")
	assert.Contains(t, got, "preference: priority 3, color")
	assert.Contains(t, got, "queue: 2 waiting, printing true")
	assert.Contains(t, got, "not installed")
	assert.Contains(t, got, "attic")
}

func TestPrinterState(t *testing.T) {
	tests := []struct {
		p    protocol.Printer
		want string
	}{
		{protocol.Printer{}, "idle"},
		{protocol.Printer{IsBusy: true}, "busy"},
		{protocol.Printer{HasError: true, IsBusy: true}, "error"},
		{protocol.Printer{IsOffline: true, HasError: true}, "offline"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, printerState(tt.p))
	}
}

func TestAgent_ForwardsSchedulerEvents(t *testing.T) {
	app, _ := newTestApp(t)
	rec := &reportRecorder{}
	g := &agent{provider: app.provider, reporter: rec, log: logging.Nop()}

	sched, err := scheduler.New(t.TempDir(), app.prefs, app.provider, app.dispatcher, g.observe, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(sched.Close)
	g.sched = sched

	ctx := context.Background()
	require.NoError(t, g.HandleArtifact(ctx, &protocol.Artifact{
		JobID:    "job-1",
		Payload:  []byte("%PDF-1.7"),
		Settings: printsettings.Default(),
	}))

	require.Eventually(t, func() bool {
		r := rec.snapshot()
		return len(r) > 0 && r[len(r)-1] == "job-1:completed"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"job-1:pending", "job-1:printing", "job-1:completed"}, rec.snapshot())

	status, err := g.PrinterStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "office", status.DefaultPrinter)
	assert.Len(t, status.Printers, 2)
	assert.Contains(t, status.QueueStatus, "office")

	require.ErrorIs(t, g.CancelJob(ctx, "missing"), common.ErrJobNotQueued)
}

func TestAgent_ClosedSchedulerReportsFailure(t *testing.T) {
	app, _ := newTestApp(t)
	rec := &reportRecorder{}
	g := &agent{provider: app.provider, reporter: rec, log: logging.Nop()}

	sched, err := scheduler.New(t.TempDir(), app.prefs, app.provider, app.dispatcher, g.observe, logging.Nop())
	require.NoError(t, err)
	g.sched = sched
	sched.Close()

	err = g.HandleArtifact(context.Background(), &protocol.Artifact{JobID: "late", Settings: printsettings.Default()})
	require.ErrorIs(t, err, common.ErrSchedulerClosed)
	assert.Equal(t, []string{"late:failed"}, rec.snapshot())
}

func TestQueueAndCancel_AgentNotRunning(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.Queue(ctx))
	require.NoError(t, app.Cancel(ctx, []string{"job"}))
	require.NoError(t, app.Stop(ctx))
	assert.Equal(t, 3, strings.Count(out.String(), "Agent is not running"))
}

func TestRunAgent_AuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	app, _ := newTestApp(t)
	app.config.ServerURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx := context.Background()
	require.NoError(t, app.Login(ctx, []string{"c1", "tok"}))

	err := app.RunAgent(ctx)
	require.ErrorIs(t, err, common.ErrAuthRejected)
	assert.Nil(t, app.runningAgent())
}

func TestRunAgent_SeedsPreferences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	app, _ := newTestApp(t)
	app.config.ServerURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("printers:\n  - name: office\n    color: true\n"), 0o600))
	app.config.PreferencesFile = path

	ctx := context.Background()
	require.NoError(t, app.Login(ctx, []string{"c1", "tok"}))
	require.ErrorIs(t, app.RunAgent(ctx), common.ErrAuthRejected)

	list, err := app.prefs.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "office", list[0].PrinterName)
}

func TestStartAgent_RequiresCredentials(t *testing.T) {
	app, out := newTestApp(t)

	require.ErrorIs(t, app.Start(context.Background()), common.ErrNoCredentials)
	assert.Contains(t, out.String(), "Agent not started")
}
