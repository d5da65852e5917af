package services

import (
	"context"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/dmitrijs2005/printrelay/internal/server/clientstatus"
	"github.com/dmitrijs2005/printrelay/internal/server/registry"
)

// ConnectedClients is the part of the registry ClientService needs.
type ConnectedClients interface {
	GetAuthenticated(identity string) (registry.Conn, bool)
	ListAuthenticated() []registry.Client
}

// ClientService answers questions about print clients and sends them
// control messages.
type ClientService struct {
	clients ConnectedClients
	status  clientstatus.Store
	log     logging.Logger
}

func NewClientService(clients ConnectedClients, status clientstatus.Store, logger logging.Logger) *ClientService {
	return &ClientService{clients: clients, status: status, log: logger.With("module", "clients")}
}

// Status merges the live connection state with the cached report.
func (s *ClientService) Status(ctx context.Context, clientID string) (clientstatus.Status, error) {
	st, err := s.status.Get(ctx, clientID)
	if err != nil {
		return st, err
	}
	_, st.Online = s.clients.GetAuthenticated(clientID)
	return st, nil
}

// Online lists the identities with an authenticated connection.
func (s *ClientService) Online() []string {
	list := s.clients.ListAuthenticated()
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.Identity)
	}
	return ids
}

// RequestPrinters asks the client to report its printer status.
func (s *ClientService) RequestPrinters(ctx context.Context, clientID string) error {
	return s.send(ctx, clientID, protocol.GetPrinters{Type: protocol.TypeGetPrinters})
}

// CancelJob asks the client to drop a job that has not reached its printer.
func (s *ClientService) CancelJob(ctx context.Context, clientID, jobID string) error {
	return s.send(ctx, clientID, protocol.CancelJob{Type: protocol.TypeCancelJob, JobID: jobID})
}

func (s *ClientService) send(ctx context.Context, clientID string, msg any) error {
	conn, ok := s.clients.GetAuthenticated(clientID)
	if !ok || !conn.Open() {
		return common.ErrNoAuthenticatedClient
	}
	if err := conn.Send(ctx, msg); err != nil {
		s.log.Warn(ctx, "control message failed", "client_id", clientID, "error", err)
		return err
	}
	return nil
}
