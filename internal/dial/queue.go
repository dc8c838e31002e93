package dial

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kverner/dialdeck/internal/display"
	"github.com/kverner/dialdeck/internal/logging"
	"github.com/kverner/dialdeck/internal/protocol"
	"github.com/kverner/dialdeck/internal/transport"
)

// maxTransferAttempts bounds how often the drain loop retries one queued
// image before dropping it. Re-sending pixels is side-effect free, unlike
// value writes, so a bounded retry is safe here.
const maxTransferAttempts = 3

// pendingImage is one queued display transfer. At most one exists per UID:
// a newer image replaces an older pending one outright, it never queues
// behind it.
type pendingImage struct {
	uid      protocol.UID
	buf      *display.Buffer
	attempts int
}

// imageQueue holds at most one pending transfer per UID, drained in FIFO
// order of first enqueue
type imageQueue struct {
	mu      sync.Mutex
	entries map[protocol.UID]*pendingImage
	order   []protocol.UID
	wake    chan struct{}
}

func newImageQueue() *imageQueue {
	return &imageQueue{
		entries: make(map[protocol.UID]*pendingImage),
		wake:    make(chan struct{}, 1),
	}
}

// put enqueues or replaces the pending transfer for a UID
func (q *imageQueue) put(uid protocol.UID, buf *display.Buffer) {
	q.mu.Lock()
	if _, pending := q.entries[uid]; !pending {
		q.order = append(q.order, uid)
	}
	q.entries[uid] = &pendingImage{uid: uid, buf: buf}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes and returns the oldest pending transfer
func (q *imageQueue) pop() (*pendingImage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.order) > 0 {
		uid := q.order[0]
		q.order = q.order[1:]

		if entry, ok := q.entries[uid]; ok {
			delete(q.entries, uid)
			return entry, true
		}
	}
	return nil, false
}

// requeue puts a failed transfer back unless a newer image for the same
// UID arrived while it was in flight
func (q *imageQueue) requeue(entry *pendingImage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, replaced := q.entries[entry.uid]; replaced {
		return false
	}
	q.entries[entry.uid] = entry
	q.order = append(q.order, entry.uid)
	return true
}

// drainLoop processes queued display transfers until the context ends.
// It owns no lock across a whole transfer: each chunk is its own transport
// exchange with a sleep in between, so value and backlight writes from
// other goroutines interleave freely with a long transfer.
func (c *Controller) drainLoop(ctx context.Context) {
	defer close(c.drainDone)

	for {
		entry, ok := c.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.queue.wake:
				continue
			}
		}

		if err := c.transfer(ctx, entry); err != nil {
			if ctx.Err() != nil {
				return
			}
			entry.attempts++
			if entry.attempts >= maxTransferAttempts {
				logging.Error("Dropping image transfer after repeated failures",
					zap.String("uid", string(entry.uid)),
					zap.Int("attempts", entry.attempts),
					zap.Error(err),
				)
				c.noteFailure(entry.uid, err)
				continue
			}
			logging.Warn("Image transfer failed, will retry",
				zap.String("uid", string(entry.uid)),
				zap.Int("attempt", entry.attempts),
				zap.Error(err),
			)
			c.queue.requeue(entry)

			// Back off before touching the bus again
			select {
			case <-ctx.Done():
				return
			case <-time.After(display.InterChunkDelay * 5):
			}
		}
	}
}

// transfer runs one full display update: clear, seek to origin, chunks in
// order with the mandatory inter-chunk delay, then the refresh trigger.
// Cancellation is honored between chunks, never mid-frame. The refresh
// itself takes seconds; that latency is expected, not a fault.
func (c *Controller) transfer(ctx context.Context, entry *pendingImage) error {
	reg, err := c.registry()
	if err != nil {
		return err
	}
	index, err := reg.Resolve(entry.uid)
	if err != nil {
		return err
	}

	clearReq, err := protocol.NewDisplayClear(index)
	if err != nil {
		return err
	}
	if err := c.exchangeOK(clearReq, transport.DisplayTimeout); err != nil {
		return err
	}

	seekReq, err := protocol.NewDisplaySeek(index, 0)
	if err != nil {
		return err
	}
	if err := c.exchangeOK(seekReq, transport.WriteTimeout); err != nil {
		return err
	}

	for _, chunk := range entry.buf.Chunks(display.MaxChunkBytes) {
		if err := ctx.Err(); err != nil {
			return err
		}

		write, err := protocol.NewDisplayWrite(index, chunk)
		if err != nil {
			return err
		}
		if err := c.exchangeOK(write, transport.WriteTimeout); err != nil {
			return err
		}

		// Yield the bus between chunks: the dial needs the pause to drain
		// its receive buffer, and any waiting value write gets the
		// transport meanwhile.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(display.InterChunkDelay):
		}
	}

	show, err := protocol.NewDisplayShow(index)
	if err != nil {
		return err
	}
	if err := c.exchangeOK(show, transport.DisplayTimeout); err != nil {
		return err
	}

	logging.LogDevice("image_shown", string(entry.uid), zap.Int("index", index))
	c.events.publish(Event{Type: EventImageShown, UID: entry.uid})
	return nil
}

// exchangeOK sends one frame and requires a status-OK response
func (c *Controller) exchangeOK(req protocol.Frame, timeout time.Duration) error {
	resp, err := c.bus.Exchange(req, timeout)
	if err != nil {
		return err
	}
	status, err := resp.Status()
	if err != nil {
		return err
	}
	return status.Err()
}
