package transport

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kverner/dialdeck/internal/protocol"
)

// fakePort is a scripted serial port: every Write appends to sent, every
// Read drains the next queued response a few bytes at a time.
type fakePort struct {
	mu      sync.Mutex
	sent    bytes.Buffer
	pending bytes.Buffer
	closed  bool
}

func (p *fakePort) queue(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.Write(data)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.sent.Write(b)
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Len() == 0 {
		// Mimic the native port's poll timeout
		return 0, nil
	}
	// Dribble a handful of bytes per poll to exercise reassembly
	limit := 3
	if limit > len(b) {
		limit = len(b)
	}
	return p.pending.Read(b[:limit])
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func respond(t *testing.T, f protocol.Frame) []byte {
	t.Helper()
	wire, err := f.EncodeResponse()
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	return wire
}

func TestExchangeRoundTrip(t *testing.T) {
	port := &fakePort{}
	tr := New(port, "fake")

	resp := protocol.Frame{Cmd: protocol.CmdSetValue, Shape: protocol.ShapeStatus, Payload: []byte{0x00, 0x00}}
	port.queue(respond(t, resp))

	req, err := protocol.NewSetValue(3, 50)
	if err != nil {
		t.Fatalf("NewSetValue() error = %v", err)
	}

	got, err := tr.Exchange(req, time.Second)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	status, err := got.Status()
	if err != nil || status != protocol.StatusOK {
		t.Errorf("response status = %v (err %v), want StatusOK", status, err)
	}

	wantSent, _ := req.Encode()
	if !bytes.Equal(port.sent.Bytes(), wantSent) {
		t.Errorf("wrote %q, want %q", port.sent.Bytes(), wantSent)
	}
	if tr.ConsecutiveTimeouts() != 0 {
		t.Errorf("consecutive timeouts = %d, want 0", tr.ConsecutiveTimeouts())
	}
}

func TestExchangeDiscardsLeadingGarbage(t *testing.T) {
	port := &fakePort{}
	tr := New(port, "fake")

	resp := protocol.Frame{Cmd: protocol.CmdGetUID, Shape: protocol.ShapeRecord, Payload: bytes.Repeat([]byte{0xAB}, 12)}
	port.queue([]byte("\r\nnoise*&!"))
	port.queue(respond(t, resp))

	req, _ := protocol.NewGetUID(0)
	got, err := tr.Exchange(req, time.Second)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if !bytes.Equal(got.Payload, resp.Payload) {
		t.Errorf("payload = % X, want % X", got.Payload, resp.Payload)
	}
}

func TestExchangeDiscardsStaleResponse(t *testing.T) {
	port := &fakePort{}
	tr := New(port, "fake")

	// A SetValue exchange times out with nothing queued, then the hub's
	// late answer lands in the buffer before the next exchange starts.
	setReq, _ := protocol.NewSetValue(3, 50)
	if _, err := tr.Exchange(setReq, 30*time.Millisecond); !protocol.IsType(err, protocol.ErrTypeTimeout) {
		t.Fatalf("Exchange() error = %v, want timeout", err)
	}
	port.queue(respond(t, protocol.Frame{Cmd: protocol.CmdSetValue, Shape: protocol.ShapeStatus, Payload: []byte{0x00, 0x00}}))

	// The next exchange must skip the stale SetValue status and keep
	// accumulating until its own answer arrives; a stale OK confirming a
	// different command would corrupt the caller's cache.
	uid := bytes.Repeat([]byte{0xCD}, 12)
	port.queue(respond(t, protocol.Frame{Cmd: protocol.CmdGetUID, Shape: protocol.ShapeRecord, Payload: uid}))

	getReq, _ := protocol.NewGetUID(3)
	got, err := tr.Exchange(getReq, time.Second)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if got.Cmd != protocol.CmdGetUID || !bytes.Equal(got.Payload, uid) {
		t.Errorf("response = %s payload % X, want the GetUID record", got, got.Payload)
	}
}

func TestExchangeTimesOutWhenOnlyStaleFramesArrive(t *testing.T) {
	port := &fakePort{}
	tr := New(port, "fake")

	port.queue(respond(t, protocol.Frame{Cmd: protocol.CmdSetValue, Shape: protocol.ShapeStatus, Payload: []byte{0x00, 0x00}}))

	req, _ := protocol.NewGetUID(0)
	_, err := tr.Exchange(req, 50*time.Millisecond)
	if !protocol.IsType(err, protocol.ErrTypeTimeout) {
		t.Fatalf("Exchange() error = %v, want timeout", err)
	}
}

func TestExchangeTimeoutCounting(t *testing.T) {
	port := &fakePort{}
	tr := New(port, "fake")

	req, _ := protocol.NewGetUID(0)

	for i := 1; i <= 2; i++ {
		_, err := tr.Exchange(req, 30*time.Millisecond)
		if !protocol.IsType(err, protocol.ErrTypeTimeout) {
			t.Fatalf("Exchange() error = %v, want timeout", err)
		}
		if tr.ConsecutiveTimeouts() != i {
			t.Errorf("consecutive timeouts = %d, want %d", tr.ConsecutiveTimeouts(), i)
		}
	}

	// A successful exchange resets the counter
	port.queue(respond(t, protocol.Frame{Cmd: protocol.CmdGetUID, Shape: protocol.ShapeRecord, Payload: bytes.Repeat([]byte{1}, 12)}))
	if _, err := tr.Exchange(req, time.Second); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if tr.ConsecutiveTimeouts() != 0 {
		t.Errorf("consecutive timeouts = %d after success, want 0", tr.ConsecutiveTimeouts())
	}
}

func TestExchangeShortPayloadIsParseError(t *testing.T) {
	port := &fakePort{}
	tr := New(port, "fake")

	// Declares 4 payload bytes but the line ends after 2: the terminator
	// arrives mid-payload and must surface as a parse error, not hang or
	// silently truncate.
	port.queue([]byte("<04030004AABB\r\n"))

	req, _ := protocol.NewGetUID(0)
	_, err := tr.Exchange(req, time.Second)
	if !protocol.IsType(err, protocol.ErrTypeParse) {
		t.Fatalf("Exchange() error = %v, want parse error", err)
	}
}

func TestExchangeAfterCloseFailsFast(t *testing.T) {
	port := &fakePort{}
	tr := New(port, "fake")
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	req, _ := protocol.NewGetUID(0)

	start := time.Now()
	_, err := tr.Exchange(req, 5*time.Second)
	if !protocol.IsType(err, protocol.ErrTypeDisconnected) {
		t.Fatalf("Exchange() error = %v, want disconnected", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Exchange() took %v after close, want fail-fast", elapsed)
	}
}

func TestExchangeWriteFailureMarksDisconnected(t *testing.T) {
	port := &fakePort{}
	port.closed = true
	tr := New(port, "fake")

	req, _ := protocol.NewGetUID(0)
	_, err := tr.Exchange(req, time.Second)
	if !protocol.IsType(err, protocol.ErrTypeDisconnected) {
		t.Fatalf("Exchange() error = %v, want disconnected", err)
	}
	if tr.Connected() {
		t.Error("transport still reports connected after write failure")
	}
}

func TestExchangeSerializesCallers(t *testing.T) {
	port := &fakePort{}
	tr := New(port, "fake")

	// Queue matched responses for every concurrent caller; serialization
	// means each exchange consumes exactly one.
	const callers = 8
	for i := 0; i < callers; i++ {
		port.queue(respond(t, protocol.Frame{Cmd: protocol.CmdSetValue, Shape: protocol.ShapeStatus, Payload: []byte{0x00, 0x00}}))
	}

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			req, _ := protocol.NewSetValue(idx, 10)
			_, err := tr.Exchange(req, 2*time.Second)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Exchange() error = %v", err)
		}
	}
}

func TestReceiverZeroLengthFrame(t *testing.T) {
	r := newReceiver()
	var done bool
	var err error
	for _, b := range []byte("<01000000") {
		done, err = r.feed(b)
		if err != nil {
			t.Fatalf("feed(%q) error = %v", b, err)
		}
	}
	if !done {
		t.Fatal("zero-length frame never completed")
	}

	f, err := r.frame()
	if err != nil {
		t.Fatalf("frame() error = %v", err)
	}
	if f.Cmd != protocol.CmdRescan || len(f.Payload) != 0 {
		t.Errorf("frame = %s payload % X", f, f.Payload)
	}
}

func TestReceiverRejectsOversizedDeclaredLength(t *testing.T) {
	r := newReceiver()
	var err error
	for _, b := range []byte("<0101FFFF") {
		if _, err = r.feed(b); err != nil {
			break
		}
	}
	if !protocol.IsType(err, protocol.ErrTypeParse) {
		t.Fatalf("feed() error = %v, want parse error", err)
	}
}
