// Package clientstatus caches what the server knows about each print
// client: whether it is connected and the last printer status it reported.
package clientstatus

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/protocol"
)

const DefaultTTL = 10 * time.Minute

// Status is the cached view of one client. Printers is nil until the client
// has reported at least once within the TTL.
type Status struct {
	ClientID   string                      `json:"clientId"`
	Online     bool                        `json:"online"`
	Printers   *protocol.PrinterStatusData `json:"printers,omitempty"`
	ReportedAt time.Time                   `json:"reportedAt,omitempty"`
}

// Store persists client status. Get never fails for unknown clients; it
// returns an offline Status without printers.
type Store interface {
	SetOnline(ctx context.Context, clientID string, online bool) error
	SetPrinters(ctx context.Context, clientID string, data protocol.PrinterStatusData) error
	Get(ctx context.Context, clientID string) (Status, error)
}

type printersRecord struct {
	Data       protocol.PrinterStatusData `json:"data"`
	ReportedAt time.Time                  `json:"reportedAt"`
}

type memoryItem struct {
	online    bool
	printers  *printersRecord
	expiresAt time.Time
}

// MemoryStore is a Store kept in process memory. Entries expire ttl after
// their last write.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memoryItem
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{items: make(map[string]*memoryItem), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) item(clientID string) *memoryItem {
	it, ok := s.items[clientID]
	if !ok || s.now().After(it.expiresAt) {
		it = &memoryItem{}
		s.items[clientID] = it
	}
	it.expiresAt = s.now().Add(s.ttl)
	return it
}

func (s *MemoryStore) SetOnline(_ context.Context, clientID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.item(clientID).online = online
	return nil
}

func (s *MemoryStore) SetPrinters(_ context.Context, clientID string, data protocol.PrinterStatusData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.item(clientID).printers = &printersRecord{Data: data, ReportedAt: s.now()}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, clientID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{ClientID: clientID}
	it, ok := s.items[clientID]
	if !ok || s.now().After(it.expiresAt) {
		delete(s.items, clientID)
		return st, nil
	}
	st.Online = it.online
	if it.printers != nil {
		data := it.printers.Data
		st.Printers = &data
		st.ReportedAt = it.printers.ReportedAt
	}
	return st, nil
}
