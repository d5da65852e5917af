// Package ws is the relay's WebSocket endpoint for print clients.
//
// A client presents its bearer token when it connects. The token is checked
// before the upgrade; the connection is then registered and must confirm its
// identity with an auth message within the grace period, or it is closed
// with a policy-violation code.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/dmitrijs2005/printrelay/internal/server/auth"
	"github.com/dmitrijs2005/printrelay/internal/server/registry"
	"github.com/gorilla/websocket"
)

const (
	Path = "/ws"

	DefaultAuthGrace      = 10 * time.Second
	DefaultWriteWait      = 10 * time.Second
	DefaultMaxMessageSize = protocol.MaxFrameSize
)

// JobUpdater applies print_job_update reports.
type JobUpdater interface {
	ApplyUpdate(ctx context.Context, clientID string, upd protocol.JobUpdateData) error
}

// StatusReporter receives printer-status reports.
type StatusReporter interface {
	ReportPrinters(ctx context.Context, clientID string, data protocol.PrinterStatusData)
}

type Config struct {
	Secret         []byte
	AuthGrace      time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

type Server struct {
	cfg      Config
	registry *registry.Registry
	jobs     JobUpdater
	status   StatusReporter
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewServer(cfg Config, reg *registry.Registry, jobs JobUpdater, status StatusReporter, logger logging.Logger) *Server {
	if cfg.AuthGrace <= 0 {
		cfg.AuthGrace = DefaultAuthGrace
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = DefaultWriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Server{
		cfg:      cfg,
		registry: reg,
		jobs:     jobs,
		status:   status,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			// Print clients are not browsers; identity comes from the token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("module", "ws_server"),
	}
}

// Handler returns a mux serving the endpoint at Path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	return mux
}

// Run serves on address until ctx is done.
func (s *Server) Run(ctx context.Context, address string) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping WebSocket server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting WebSocket server", "address", address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func tokenFromRequest(r *http.Request) string {
	if tok, ok := auth.BearerToken(r.Header.Get(common.AuthorizationHeaderName)); ok {
		return tok
	}
	return r.URL.Query().Get(common.TokenQueryParam)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientID, err := auth.GetClientIDFromToken(tokenFromRequest(r), s.cfg.Secret)
	if err != nil {
		s.logger.Warn(ctx, "rejected connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Warn(ctx, "upgrade failed", "client_id", clientID, "error", err)
		return
	}

	s.serveConn(ctx, clientID, wsConn)
}

func (s *Server) serveConn(ctx context.Context, clientID string, wsConn *websocket.Conn) {
	log := s.logger.With("client_id", clientID)
	c := newConn(wsConn, s.cfg.WriteWait)

	s.registry.Add(ctx, clientID, c)
	log.Info(ctx, "client connected", "remote", wsConn.RemoteAddr().String())

	wsConn.SetReadLimit(s.cfg.MaxMessageSize)
	wsConn.SetPongHandler(func(string) error {
		s.registry.MarkAlive(clientID, c)
		return nil
	})

	var authenticated atomic.Bool
	grace := time.AfterFunc(s.cfg.AuthGrace, func() {
		if !authenticated.Load() {
			log.Warn(ctx, "no auth message within grace period")
			_ = c.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
		}
	})

	defer func() {
		grace.Stop()
		s.registry.Release(ctx, clientID, c)
		log.Info(ctx, "client disconnected")
	}()

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.Open() {
				log.Debug(ctx, "read failed", "error", err)
			}
			return
		}
		s.registry.MarkAlive(clientID, c)

		if !s.dispatch(ctx, log, clientID, c, data, &authenticated) {
			return
		}
	}
}

// dispatch handles one inbound message. It returns false when the
// connection must be torn down.
func (s *Server) dispatch(ctx context.Context, log logging.Logger, clientID string, c *conn, data []byte, authenticated *atomic.Bool) bool {
	typ, err := protocol.PeekType(data)
	if err != nil {
		log.Warn(ctx, "malformed message", "error", err)
		_ = c.Send(ctx, protocol.NewError("malformed message"))
		_ = c.closeWith(websocket.CloseUnsupportedData, "malformed message")
		return false
	}

	if typ == protocol.TypeAuth {
		return s.handleAuth(ctx, log, clientID, c, data, authenticated)
	}

	if !authenticated.Load() {
		_ = c.Send(ctx, protocol.NewError("not authenticated"))
		return true
	}

	switch typ {
	case protocol.TypePrintJobUpdate:
		var msg protocol.JobUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return s.protocolError(ctx, log, c, err)
		}
		if err := s.jobs.ApplyUpdate(ctx, clientID, msg.Data); err != nil {
			log.Warn(ctx, "job update rejected", "job_id", msg.Data.JobID, "status", msg.Data.Status, "error", err)
			_ = c.Send(ctx, protocol.NewError(updateErrorText(err)))
		}
	case protocol.TypePrinterStatus:
		var msg protocol.PrinterStatusMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return s.protocolError(ctx, log, c, err)
		}
		s.status.ReportPrinters(ctx, clientID, msg.Data)
	case protocol.TypeError:
		var msg protocol.ErrorMessage
		_ = json.Unmarshal(data, &msg)
		log.Warn(ctx, "client reported error", "message", msg.Message)
	default:
		_ = c.Send(ctx, protocol.NewError("unknown message type: "+string(typ)))
	}
	return true
}

func (s *Server) handleAuth(ctx context.Context, log logging.Logger, clientID string, c *conn, data []byte, authenticated *atomic.Bool) bool {
	var msg protocol.AuthMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return s.protocolError(ctx, log, c, err)
	}

	if msg.ClientID != clientID {
		log.Warn(ctx, "auth identity mismatch", "claimed", msg.ClientID)
		_ = c.Send(ctx, protocol.AuthResult{Type: protocol.TypeAuthResult, Message: "client id does not match token"})
		_ = c.closeWith(websocket.ClosePolicyViolation, "identity mismatch")
		return false
	}

	if !s.registry.Authenticate(ctx, clientID, c) {
		// Replaced or dropped by a liveness sweep in the meantime.
		_ = c.closeWith(websocket.ClosePolicyViolation, "connection replaced")
		return false
	}
	authenticated.Store(true)

	log.Info(ctx, "client authenticated")
	return c.Send(ctx, protocol.AuthResult{Type: protocol.TypeAuthResult, Authenticated: true}) == nil
}

func (s *Server) protocolError(ctx context.Context, log logging.Logger, c *conn, err error) bool {
	log.Warn(ctx, "undecodable message", "error", err)
	_ = c.Send(ctx, protocol.NewError("malformed message"))
	_ = c.closeWith(websocket.CloseUnsupportedData, "malformed message")
	return false
}

func updateErrorText(err error) string {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return "unknown job"
	case errors.Is(err, common.ErrorUnauthorized):
		return "job belongs to another client"
	case errors.Is(err, common.ErrInvalidStatusTransition):
		return "invalid status transition"
	}
	return "job update failed"
}
