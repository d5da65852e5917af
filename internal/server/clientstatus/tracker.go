package clientstatus

import (
	"context"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/dmitrijs2005/printrelay/internal/server/registry"
)

const writeTimeout = 2 * time.Second

type update struct {
	clientID string
	online   *bool
	printers *protocol.PrinterStatusData
}

// Tracker feeds a Store from registry events and printer-status reports.
// Writes are applied in arrival order by Run so callers never block on the
// store.
type Tracker struct {
	store   Store
	updates chan update
	log     logging.Logger
}

func NewTracker(store Store, buffer int, logger logging.Logger) *Tracker {
	if buffer <= 0 {
		buffer = 256
	}
	return &Tracker{
		store:   store,
		updates: make(chan update, buffer),
		log:     logger.With("module", "clientstatus"),
	}
}

func (t *Tracker) Store() Store { return t.store }

// RegistryEvent implements registry.Observer.
func (t *Tracker) RegistryEvent(ctx context.Context, ev registry.Event) {
	var online bool
	switch ev.Kind {
	case registry.EventAuthenticated:
		online = true
	case registry.EventRemoved:
		online = false
	default:
		return
	}
	t.enqueue(ctx, update{clientID: ev.Identity, online: &online})
}

// ReportPrinters records the printer status a client sent.
func (t *Tracker) ReportPrinters(ctx context.Context, clientID string, data protocol.PrinterStatusData) {
	t.enqueue(ctx, update{clientID: clientID, printers: &data})
}

func (t *Tracker) enqueue(ctx context.Context, u update) {
	select {
	case t.updates <- u:
	default:
		t.log.Warn(ctx, "status update dropped, queue full", "client_id", u.clientID)
	}
}

// Run applies queued updates until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-t.updates:
			t.apply(ctx, u)
		}
	}
}

func (t *Tracker) apply(ctx context.Context, u update) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var err error
	if u.online != nil {
		err = t.store.SetOnline(wctx, u.clientID, *u.online)
	}
	if err == nil && u.printers != nil {
		err = t.store.SetPrinters(wctx, u.clientID, *u.printers)
	}
	if err != nil {
		t.log.Error(ctx, "status store write failed", "client_id", u.clientID, "error", err)
	}
}
