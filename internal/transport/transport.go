package transport

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kverner/dialdeck/internal/logging"
	"github.com/kverner/dialdeck/internal/protocol"
)

// Transport is the single request/response channel to the hub. One physical
// serial line means one in-flight request: all callers serialize on an
// internal mutex and queue rather than race.
type Transport struct {
	mu   sync.Mutex
	port Port
	path string

	connected           atomic.Bool
	consecutiveTimeouts atomic.Uint32
}

// New wraps an already-open port. Use Open or Detect for real hardware.
func New(port Port, path string) *Transport {
	t := &Transport{port: port, path: path}
	t.connected.Store(true)
	return t
}

// Open opens the hub at an explicit serial port path and verifies it with
// the protocol-version handshake
func Open(path string) (*Transport, error) {
	port, err := OpenPort(path)
	if err != nil {
		return nil, err
	}

	t := New(port, path)
	if err := t.handshake(); err != nil {
		t.Close()
		return nil, protocol.NewHandshakeFailedError("no hub answered at "+path, err)
	}
	return t, nil
}

// Path returns the serial port path the transport is bound to
func (t *Transport) Path() string {
	return t.path
}

// Connected reports whether the serial link is still usable
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// ConsecutiveTimeouts returns the number of exchanges that have timed out
// since the last successful one. A steadily climbing count usually means
// the hub has been unplugged or wedged.
func (t *Transport) ConsecutiveTimeouts() int {
	return int(t.consecutiveTimeouts.Load())
}

// Close releases the serial port. Subsequent calls fail fast with a
// disconnected error rather than blocking.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected.Swap(false) {
		return nil
	}
	logging.Info("Closing hub transport", zap.String("port", t.path))
	return t.port.Close()
}

// Exchange writes one request frame and accumulates the response until the
// declared-length-complete frame is recognized or the timeout expires.
// Exactly one exchange runs at a time; concurrent callers queue.
func (t *Transport) Exchange(req protocol.Frame, timeout time.Duration) (protocol.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected.Load() {
		return protocol.Frame{}, protocol.NewDisconnectedError(nil)
	}

	wire, err := req.Encode()
	if err != nil {
		return protocol.Frame{}, err
	}

	logging.LogFrame("send", t.path, wire)

	if _, err := t.port.Write(wire); err != nil {
		t.drop(err)
		return protocol.Frame{}, protocol.NewDisconnectedError(err)
	}

	resp, err := t.receive(req.Cmd, timeout)
	if err != nil {
		return protocol.Frame{}, err
	}

	t.consecutiveTimeouts.Store(0)
	return resp, nil
}

// receive runs the accumulation state machine until a complete frame for
// the given command or the deadline. A complete frame answering a different
// command is a late response to an exchange that already timed out; it is
// discarded so it can never be taken as the current request's answer.
// Caller holds the mutex.
func (t *Transport) receive(cmd protocol.Command, timeout time.Duration) (protocol.Frame, error) {
	deadline := time.Now().Add(timeout)
	rcv := newReceiver()
	buf := make([]byte, 256)

	for {
		if time.Now().After(deadline) {
			n := t.consecutiveTimeouts.Add(1)
			logging.Warn("Exchange timed out",
				zap.String("port", t.path),
				zap.Duration("timeout", timeout),
				zap.Uint32("consecutive_timeouts", n),
			)
			return protocol.Frame{}, protocol.NewTimeoutError("no complete response within deadline")
		}

		n, err := t.port.Read(buf)
		if err != nil && n == 0 {
			// The native port reports its short poll timeout as an empty
			// EOF-ish read; keep polling until our own deadline. Anything
			// else means the link itself died.
			if errors.Is(err, io.EOF) || os.IsTimeout(err) {
				continue
			}
			t.drop(err)
			return protocol.Frame{}, protocol.NewDisconnectedError(err)
		}

		for _, b := range buf[:n] {
			done, ferr := rcv.feed(b)
			if ferr != nil {
				logging.Warn("Dropping malformed response", zap.String("port", t.path), zap.Error(ferr))
				return protocol.Frame{}, ferr
			}
			if done {
				frame, derr := rcv.frame()
				if derr != nil {
					return protocol.Frame{}, derr
				}
				logging.LogFrame("recv", t.path, rcv.line)
				if frame.Cmd != cmd {
					logging.Warn("Discarding stale response",
						zap.String("port", t.path),
						zap.String("want", protocol.CommandName(cmd)),
						zap.String("got", protocol.CommandName(frame.Cmd)),
					)
					rcv = newReceiver()
					continue
				}
				return frame, nil
			}
		}
	}
}

// handshake probes the port with a hub protocol-version query
func (t *Transport) handshake() error {
	resp, err := t.Exchange(protocol.NewHubProtocolVersion(), HandshakeTimeout)
	if err != nil {
		return err
	}
	logging.Info("Hub handshake complete",
		zap.String("port", t.path),
		zap.String("protocol_version", string(resp.Payload)),
	)
	return nil
}

// drop marks the link dead after an I/O failure so later calls fail fast
func (t *Transport) drop(err error) {
	if t.connected.Swap(false) {
		logging.Error("Serial link lost", zap.String("port", t.path), zap.Error(err))
		_ = t.port.Close()
	}
}
