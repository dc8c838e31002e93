package dial

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kverner/dialdeck/internal/logging"
	"github.com/kverner/dialdeck/internal/protocol"
	"github.com/kverner/dialdeck/internal/transport"
)

// DefaultReconcileInterval is deliberately lazy: the check exists to catch
// a dial that power-cycled mid-session, not to poll the bus hard
const DefaultReconcileInterval = 30 * time.Second

// Reconciler periodically verifies that each cached UID still answers at
// its claimed index and triggers rediscovery on a mismatch. Discovery
// itself stays reactive and simple; this task is optional and pluggable,
// for deployments that cannot wait for the next failed command to notice a
// mid-session power loss.
type Reconciler struct {
	c        *Controller
	interval time.Duration
}

// NewReconciler creates a reconciler over a controller. A non-positive
// interval selects the default.
func NewReconciler(c *Controller, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{c: c, interval: interval}
}

// Run blocks until the context ends, sweeping the registry once per
// interval. Call it on its own goroutine.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if mismatch := r.sweep(ctx); mismatch {
				logging.Warn("Identity mismatch detected, rediscovering bus")
				if err := r.c.Discover(ctx); err != nil {
					logging.Error("Rediscovery after mismatch failed", zap.Error(err))
				}
			}
		}
	}
}

// sweep spot-checks every cached dial with one cheap UID read. Returns
// true if any dial answered with a different UID than cached or stopped
// answering entirely.
func (r *Reconciler) sweep(ctx context.Context) bool {
	reg, err := r.c.registry()
	if err != nil {
		return false // not connected; nothing to verify
	}

	for _, dev := range reg.Snapshot() {
		if ctx.Err() != nil {
			return false
		}

		req, err := protocol.NewGetUID(dev.Index)
		if err != nil {
			continue
		}
		resp, err := r.c.bus.Exchange(req, transport.QueryTimeout)
		if err != nil {
			r.c.events.publish(Event{Type: EventIdentityMismatch, UID: dev.UID, Err: err})
			return true
		}

		uid, err := protocol.ParseUID(resp.Payload)
		if err != nil || uid != dev.UID {
			logging.LogDevice("identity_mismatch", string(dev.UID),
				zap.Int("index", dev.Index),
				zap.String("found", string(uid)),
			)
			r.c.events.publish(Event{Type: EventIdentityMismatch, UID: dev.UID})
			return true
		}
	}
	return false
}
