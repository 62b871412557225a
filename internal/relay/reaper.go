package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/relaymetrics"
)

// reapInterval is how often the sweep runs. It must be well under
// InactivityTimeout so a stale connection is never left hanging much
// past its 5-second budget.
const reapInterval = 1 * time.Second

// runReaper sweeps the connection table on a ticker, closing any
// connection whose last-activity exceeds InactivityTimeout and
// notifying its partner, per spec.md §4.5 "Liveness and reaping". This
// single ticker loop doubles as the original relay.c sweep that also
// enforced the duplicate-ID grace window — here that half of the job is
// handled inline in Registry.Register instead, since it only needs to
// run at registration time, not on a timer.
func runReaper(ctx context.Context, srv *Server) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(srv)
		}
	}
}

func sweep(srv *Server) {
	now := time.Now()
	for _, c := range srv.registry.Snapshot() {
		if c.state() == ConnDisconnected {
			continue
		}
		if now.Sub(c.lastSeen()) < InactivityTimeout {
			continue
		}
		srv.logger.Log(EventTimeout, fmt.Sprintf("id=%d idle>=%s", c.ID, InactivityTimeout))
		reap(srv, c)
	}
}

// reap closes a timed-out connection's socket, notifies its partner with
// ReasonTimeout, and removes it from the table. Closing the socket wakes
// that connection's worker.run() blocking read, which runs the rest of
// its own cleanup.
func reap(srv *Server, c *Conn) {
	c.mu.Lock()
	partner := c.Partner
	wasPaired := c.State == ConnPaired
	c.Partner = nil
	c.State = ConnDisconnected
	c.mu.Unlock()

	if partner != nil {
		notifyPartnerTimeout(partner, c.ID)
		relaymetrics.PairingsActive.Dec()
	} else if wasPaired {
		relaymetrics.PairingsActive.Dec()
	}

	relaymetrics.ConnectionsReapedTotal.Inc()

	if closer, ok := c.raw.(interface{ Close() error }); ok {
		closer.Close()
	}
}
