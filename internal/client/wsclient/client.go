// Package wsclient keeps the print client's WebSocket session with the
// relay server.
//
// The client dials with its bearer token (header or query parameter), confirms its identity with an
// auth message and then serves relay messages: print frames are reassembled
// and handed to the Handler, get-printers is answered with a printer-status
// report and cancel-job is forwarded. Liveness is checked with pings; a
// missing pong closes the connection. Lost connections are retried with
// exponential backoff until MaxRetries consecutive attempts fail.
//
// Messages sent while disconnected wait in a bounded outbox and are flushed,
// in order, right after the next successful auth.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/netx"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxRetries     = 5
	DefaultHeartbeat      = 15 * time.Second
	DefaultPongTimeout    = 5 * time.Second
	DefaultBackoffBase    = time.Second
	DefaultBackoffCap     = 300 * time.Second
	DefaultStatusInterval = 60 * time.Second
	DefaultOutboxSize     = 256
	DefaultWriteWait      = 10 * time.Second
	DefaultMaxMessageSize = protocol.MaxFrameSize
)

// Handler is the client-side consumer of relay messages.
type Handler interface {
	HandleArtifact(ctx context.Context, a *protocol.Artifact) error
	PrinterStatus(ctx context.Context) (protocol.PrinterStatusData, error)
	CancelJob(ctx context.Context, jobID string) error
}

type Config struct {
	URL      string
	ClientID string
	Token    string

	// TokenInQuery sends the token as a URL query parameter instead of an
	// Authorization header, for proxies that strip the header.
	TokenInQuery bool

	MaxRetries     int
	Heartbeat      time.Duration
	PongTimeout    time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	ReassemblyTTL  time.Duration
	StatusInterval time.Duration
	OutboxSize     int
	WriteWait      time.Duration
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.ReassemblyTTL <= 0 {
		c.ReassemblyTTL = protocol.DefaultReassemblyTTL
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = DefaultOutboxSize
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	return c
}

type Client struct {
	cfg     Config
	handler Handler
	log     logging.Logger
	dialer  *websocket.Dialer
	reasm   *protocol.Reassembler

	mu     sync.Mutex
	conn   *websocket.Conn // set while authenticated
	outbox [][]byte

	wmu sync.Mutex
}

func New(cfg Config, handler Handler, logger logging.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		handler: handler,
		log:     logger.With("module", "ws_client"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 << 10,
			WriteBufferSize:  64 << 10,
		},
		reasm: protocol.NewReassembler(cfg.ReassemblyTTL),
	}
}

// Connected reports whether an authenticated session is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run keeps a session open until ctx is done, which returns nil. It returns
// an error wrapping common.ErrAuthRejected when the server refuses the
// credentials and common.ErrGaveUp after MaxRetries failed attempts in a row.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.reasm.RunReaper(ctx, reapInterval(c.cfg.ReassemblyTTL), func(ids []string) {
		for _, id := range ids {
			c.log.Warn(ctx, "transfer abandoned", "job_id", id)
			c.ReportJob(id, protocol.StatusFailed, "transfer incomplete")
		}
	})

	attempt := 0
	for {
		err := c.session(ctx, func() { attempt = 0 })
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, common.ErrAuthRejected) {
			c.log.Error(ctx, "server rejected credentials", "error", err)
			return err
		}
		if attempt >= c.cfg.MaxRetries {
			return fmt.Errorf("%w after %d attempts: %v", common.ErrGaveUp, attempt, err)
		}

		delay := Backoff(attempt, c.cfg.BackoffBase, c.cfg.BackoffCap)
		attempt++
		c.log.Warn(ctx, "connection lost, reconnecting", "attempt", attempt, "delay", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}

func reapInterval(ttl time.Duration) time.Duration {
	return max(ttl/4, 10*time.Millisecond)
}

// session runs one connection until it fails. onAuth is called once the
// server accepts the auth message.
func (c *Client) session(ctx context.Context, onAuth func()) error {
	target, header, err := c.handshake()
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if herr := netx.HandshakeError(resp); herr != nil {
			return herr
		}
		return err
	}
	defer conn.Close()

	conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.log.Info(ctx, "connected", "url", c.cfg.URL)

	g, gctx := errgroup.WithContext(ctx)
	defer c.detach(conn)

	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})

	hb := &heartbeat{}
	conn.SetPongHandler(func(string) error {
		hb.stop()
		return nil
	})

	authed := make(chan struct{})

	g.Go(func() error {
		return c.readLoop(gctx, conn, authed, onAuth)
	})
	g.Go(func() error {
		return c.pingLoop(gctx, conn, hb)
	})
	g.Go(func() error {
		select {
		case <-authed:
		case <-gctx.Done():
			return nil
		}
		return c.statusLoop(gctx, conn)
	})

	return g.Wait()
}

// handshake returns the dial URL and headers carrying the token.
func (c *Client) handshake() (string, http.Header, error) {
	if !c.cfg.TokenInQuery {
		return c.cfg.URL, netx.BearerHeader(c.cfg.Token), nil
	}
	target, err := netx.WithQuery(c.cfg.URL, common.TokenQueryParam, c.cfg.Token)
	if err != nil {
		return "", nil, fmt.Errorf("server url: %w", err)
	}
	return target, nil, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, authed chan struct{}, onAuth func()) error {
	if err := c.write(conn, protocol.NewAuth(c.cfg.ClientID)); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	isAuthed := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		typ, err := protocol.PeekType(data)
		if err != nil {
			c.log.Warn(ctx, "malformed message from server", "error", err)
			continue
		}

		if typ == protocol.TypeAuthResult {
			if isAuthed {
				continue
			}
			var res protocol.AuthResult
			if err := json.Unmarshal(data, &res); err != nil {
				return fmt.Errorf("decode auth result: %w", err)
			}
			if !res.Authenticated {
				return fmt.Errorf("%w: %s", common.ErrAuthRejected, res.Message)
			}
			if err := c.attach(conn); err != nil {
				return err
			}
			isAuthed = true
			onAuth()
			close(authed)
			c.log.Info(ctx, "authenticated", "client_id", c.cfg.ClientID)
			continue
		}

		c.dispatch(ctx, conn, typ, data)
	}
}

func (c *Client) dispatch(ctx context.Context, conn *websocket.Conn, typ protocol.MessageType, data []byte) {
	switch typ {
	case protocol.TypePrint:
		var f protocol.PrintFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn(ctx, "undecodable print frame", "error", err)
			return
		}
		c.handleFrame(ctx, f)

	case protocol.TypeGetPrinters:
		c.reportStatus(ctx, conn)

	case protocol.TypeCancelJob:
		var msg protocol.CancelJob
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn(ctx, "undecodable cancel-job", "error", err)
			return
		}
		if err := c.handler.CancelJob(ctx, msg.JobID); err != nil {
			c.log.Info(ctx, "cancel refused", "job_id", msg.JobID, "error", err)
			_ = c.write(conn, protocol.NewError(fmt.Sprintf("cancel %s: %v", msg.JobID, err)))
		}

	case protocol.TypeError:
		var msg protocol.ErrorMessage
		_ = json.Unmarshal(data, &msg)
		c.log.Warn(ctx, "server reported error", "message", msg.Message)

	default:
		_ = c.write(conn, protocol.NewError("unknown message type: "+string(typ)))
	}
}

func (c *Client) handleFrame(ctx context.Context, f protocol.PrintFrame) {
	a, err := c.reasm.Accept(f)
	if err != nil {
		c.log.Warn(ctx, "transfer failed", "job_id", f.JobID, "error", err)
		c.ReportJob(f.JobID, protocol.StatusFailed, err.Error())
		return
	}
	if a == nil {
		return
	}

	c.log.Info(ctx, "artifact received", "job_id", a.JobID, "bytes", len(a.Payload))
	if err := c.handler.HandleArtifact(ctx, a); err != nil {
		c.log.Warn(ctx, "artifact not queued", "job_id", a.JobID, "error", err)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, hb *heartbeat) error {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()
	defer hb.stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			hb.arm(c.cfg.PongTimeout, func() {
				c.log.Warn(ctx, "pong timeout, closing connection")
				_ = conn.Close()
			})
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) statusLoop(ctx context.Context, conn *websocket.Conn) error {
	c.reportStatus(ctx, conn)

	ticker := time.NewTicker(c.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.reportStatus(ctx, conn)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) reportStatus(ctx context.Context, conn *websocket.Conn) {
	data, err := c.handler.PrinterStatus(ctx)
	if err != nil {
		c.log.Warn(ctx, "printer status unavailable", "error", err)
		return
	}
	if err := c.write(conn, protocol.NewPrinterStatus(data)); err != nil {
		c.log.Debug(ctx, "printer status not sent", "error", err)
	}
}

// ReportJob sends a job status update, queueing it while disconnected.
func (c *Client) ReportJob(jobID string, status protocol.JobStatus, message string) {
	if err := c.Send(protocol.NewJobUpdate(jobID, status, message)); err != nil {
		c.log.Error(context.Background(), "job update dropped", "job_id", jobID, "status", status, "error", err)
	}
}

// Send writes msg on the authenticated connection or queues it for the
// next one. It fails with common.ErrOutboxFull when the queue is full.
func (c *Client) Send(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.writeRaw(conn, b); err == nil {
			return nil
		}
	}
	return c.enqueue(b)
}

func (c *Client) enqueue(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.outbox) >= c.cfg.OutboxSize {
		return common.ErrOutboxFull
	}
	c.outbox = append(c.outbox, b)
	return nil
}

// attach flushes the outbox and then publishes conn for Send. Messages
// queued during the flush are written before conn becomes visible, which
// keeps them in order.
func (c *Client) attach(conn *websocket.Conn) error {
	for {
		c.mu.Lock()
		if len(c.outbox) == 0 {
			c.conn = conn
			c.mu.Unlock()
			return nil
		}
		pending := c.outbox
		c.outbox = nil
		c.mu.Unlock()

		for i, b := range pending {
			if err := c.writeRaw(conn, b); err != nil {
				c.mu.Lock()
				c.outbox = append(pending[i:], c.outbox...)
				c.mu.Unlock()
				return fmt.Errorf("flush outbox: %w", err)
			}
		}
	}
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) write(conn *websocket.Conn, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.writeRaw(conn, b)
}

// writeRaw serializes writers; gorilla allows only one at a time.
func (c *Client) writeRaw(conn *websocket.Conn, b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// heartbeat holds the pending pong deadline.
type heartbeat struct {
	mu    sync.Mutex
	timer *time.Timer
}

// arm starts a deadline unless one is already pending.
func (h *heartbeat) arm(d time.Duration, onExpire func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer == nil {
		h.timer = time.AfterFunc(d, onExpire)
	}
}

func (h *heartbeat) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
