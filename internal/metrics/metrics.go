// Package metrics is a small set of atomic counters the event loop
// updates as it runs and the CLI logs when the server stops, giving the poller and the
// hash/TTL bookkeeping something to report without pulling in an
// external metrics sink (see DESIGN.md for why that's declined here).
package metrics

import "sync/atomic"

// Counters holds every counter the server tracks. The zero value is
// ready to use.
type Counters struct {
	ConnectionsAccepted atomic.Int64
	ConnectionsClosed   atomic.Int64
	ConnectionsReaped   atomic.Int64
	CommandsExecuted    atomic.Int64
	KeysExpired         atomic.Int64
	HashResizeTicks     atomic.Int64
}

// Snapshot is a point-in-time, non-atomic copy of Counters, suitable
// for logging.
type Snapshot struct {
	ConnectionsAccepted int64
	ConnectionsClosed   int64
	ConnectionsReaped   int64
	CommandsExecuted    int64
	KeysExpired         int64
	HashResizeTicks     int64
}

// Snapshot reads every counter's current value.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsAccepted: c.ConnectionsAccepted.Load(),
		ConnectionsClosed:   c.ConnectionsClosed.Load(),
		ConnectionsReaped:   c.ConnectionsReaped.Load(),
		CommandsExecuted:    c.CommandsExecuted.Load(),
		KeysExpired:         c.KeysExpired.Load(),
		HashResizeTicks:     c.HashResizeTicks.Load(),
	}
}
