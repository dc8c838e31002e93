package dial

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kverner/dialdeck/internal/config"
	"github.com/kverner/dialdeck/internal/display"
	"github.com/kverner/dialdeck/internal/protocol"
)

// fakeBus simulates the hub and its dials well enough to drive the full
// controller: discovery, writes with fault injection, and display
// transfers.
type fakeBus struct {
	mu        sync.Mutex
	connected bool
	exchanges int

	dials []*fakeDial

	// failNextWrites makes the next n mutating exchanges answer with the
	// given status instead of OK
	failNextWrites int
	failStatus     protocol.Status
}

type fakeDial struct {
	uid   protocol.UID
	index int // -1 while unprovisioned

	value     int
	backlight [4]int

	screen   []byte // accumulated display writes since last clear
	shown    [][]byte
	transfer struct {
		cleared bool
		sought  bool
	}
}

func newFakeBus(uids ...protocol.UID) *fakeBus {
	b := &fakeBus{connected: true}
	for _, uid := range uids {
		b.dials = append(b.dials, &fakeDial{uid: uid, index: -1})
	}
	return b
}

func (b *fakeBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *fakeBus) at(index int) *fakeDial {
	for _, d := range b.dials {
		if d.index == index {
			return d
		}
	}
	return nil
}

func (b *fakeBus) status(cmd protocol.Command, s protocol.Status) (protocol.Frame, error) {
	return protocol.Frame{Cmd: cmd, Shape: protocol.ShapeStatus, Payload: []byte{byte(s >> 8), byte(s)}}, nil
}

func (b *fakeBus) record(cmd protocol.Command, payload []byte) (protocol.Frame, error) {
	return protocol.Frame{Cmd: cmd, Shape: protocol.ShapeRecord, Payload: payload}, nil
}

func (b *fakeBus) Exchange(req protocol.Frame, timeout time.Duration) (protocol.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return protocol.Frame{}, protocol.NewDisconnectedError(nil)
	}
	b.exchanges++

	mutating := req.Cmd >= protocol.CmdSetValue
	if mutating && b.failNextWrites > 0 {
		b.failNextWrites--
		if b.failStatus == protocol.StatusTimeout {
			return protocol.Frame{}, protocol.NewTimeoutError("injected")
		}
		return b.status(req.Cmd, b.failStatus)
	}

	switch req.Cmd {
	case protocol.CmdRescan:
		return b.status(req.Cmd, protocol.StatusOK)

	case protocol.CmdOnlineBitmap:
		flags := make([]byte, protocol.MaxDevices)
		for _, d := range b.dials {
			if d.index >= 0 {
				flags[d.index] = 1
			}
		}
		return b.record(req.Cmd, flags)

	case protocol.CmdProvision:
		for _, d := range b.dials {
			if d.index < 0 {
				d.index = int(req.Payload[0])
				raw, _ := d.uid.Bytes()
				return b.record(req.Cmd, append([]byte{byte(d.index)}, raw...))
			}
		}
		return b.status(req.Cmd, protocol.StatusDeviceOffline)

	case protocol.CmdGetUID:
		d := b.at(int(req.Payload[0]))
		if d == nil {
			return b.status(req.Cmd, protocol.StatusDeviceOffline)
		}
		raw, _ := d.uid.Bytes()
		return b.record(req.Cmd, raw)

	case protocol.CmdFirmwareVersion, protocol.CmdHardwareVersion, protocol.CmdProtocolVersion:
		return b.record(req.Cmd, []byte("3.1.0"))

	case protocol.CmdSetValue:
		if d := b.at(int(req.Payload[0])); d != nil {
			d.value = int(req.Payload[1])
			return b.status(req.Cmd, protocol.StatusOK)
		}
		return b.status(req.Cmd, protocol.StatusDeviceOffline)

	case protocol.CmdSetBacklight:
		if d := b.at(int(req.Payload[0])); d != nil {
			for i := 0; i < 4; i++ {
				d.backlight[i] = int(req.Payload[1+i])
			}
			return b.status(req.Cmd, protocol.StatusOK)
		}
		return b.status(req.Cmd, protocol.StatusDeviceOffline)

	case protocol.CmdSetDialEasing, protocol.CmdSetBacklightEasing, protocol.CmdPower, protocol.CmdResetConfig:
		if b.at(int(req.Payload[0])) != nil {
			return b.status(req.Cmd, protocol.StatusOK)
		}
		return b.status(req.Cmd, protocol.StatusDeviceOffline)

	case protocol.CmdDisplayClear:
		if d := b.at(int(req.Payload[0])); d != nil {
			d.screen = nil
			d.transfer.cleared = true
			return b.status(req.Cmd, protocol.StatusOK)
		}
		return b.status(req.Cmd, protocol.StatusDeviceOffline)

	case protocol.CmdDisplaySeek:
		if d := b.at(int(req.Payload[0])); d != nil {
			d.transfer.sought = true
			return b.status(req.Cmd, protocol.StatusOK)
		}
		return b.status(req.Cmd, protocol.StatusDeviceOffline)

	case protocol.CmdDisplayWrite:
		if d := b.at(int(req.Payload[0])); d != nil {
			d.screen = append(d.screen, req.Payload[1:]...)
			return b.status(req.Cmd, protocol.StatusOK)
		}
		return b.status(req.Cmd, protocol.StatusDeviceOffline)

	case protocol.CmdDisplayShow:
		if d := b.at(int(req.Payload[0])); d != nil {
			shown := make([]byte, len(d.screen))
			copy(shown, d.screen)
			d.shown = append(d.shown, shown)
			return b.status(req.Cmd, protocol.StatusOK)
		}
		return b.status(req.Cmd, protocol.StatusDeviceOffline)

	default:
		return b.status(req.Cmd, protocol.StatusFail)
	}
}

const testUID = protocol.UID("0123456789ABCDEF01234567")

func newTestController(t *testing.T, bus *fakeBus) *Controller {
	t.Helper()

	store, err := config.Load(filepath.Join(t.TempDir(), "dials.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	c := New(store, WithBus(bus))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	return c
}

func TestSetValueUpdatesCacheOnlyOnOK(t *testing.T) {
	bus := newFakeBus(testUID)
	c := newTestController(t, bus)

	if err := c.SetValue(testUID, 66); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	dev, _ := c.Device(testUID)
	if dev.Value != 66 {
		t.Errorf("cached value = %d, want 66", dev.Value)
	}

	// A timed-out write must leave the cache at last known good
	bus.mu.Lock()
	bus.failNextWrites = 1
	bus.failStatus = protocol.StatusTimeout
	bus.mu.Unlock()

	err := c.SetValue(testUID, 10)
	if !protocol.IsType(err, protocol.ErrTypeTimeout) {
		t.Fatalf("SetValue() error = %v, want timeout", err)
	}
	dev, _ = c.Device(testUID)
	if dev.Value != 66 {
		t.Errorf("cached value = %d after timeout, want unchanged 66", dev.Value)
	}
}

func TestSetValueIdempotent(t *testing.T) {
	bus := newFakeBus(testUID)
	c := newTestController(t, bus)

	if err := c.SetValue(testUID, 50); err != nil {
		t.Fatalf("first SetValue() error = %v", err)
	}
	if err := c.SetValue(testUID, 50); err != nil {
		t.Fatalf("repeated SetValue() error = %v", err)
	}

	dev, _ := c.Device(testUID)
	if dev.Value != 50 {
		t.Errorf("cached value = %d, want 50", dev.Value)
	}
}

func TestSetValueBoundaries(t *testing.T) {
	bus := newFakeBus(testUID)
	c := newTestController(t, bus)

	for _, v := range []int{0, 100} {
		if err := c.SetValue(testUID, v); err != nil {
			t.Errorf("SetValue(%d) error = %v", v, err)
		}
	}

	bus.mu.Lock()
	before := bus.exchanges
	bus.mu.Unlock()

	err := c.SetValue(testUID, 101)
	if !protocol.IsType(err, protocol.ErrTypeInvalidArgument) {
		t.Fatalf("SetValue(101) error = %v, want invalid-argument", err)
	}

	bus.mu.Lock()
	after := bus.exchanges
	bus.mu.Unlock()
	if after != before {
		t.Error("out-of-range value reached the wire")
	}
}

func TestSetCalibrationScalesWireValues(t *testing.T) {
	bus := newFakeBus(testUID)
	c := newTestController(t, bus)

	cal := config.CalibrationMeta{Zero: 10, FullScale: 90}
	if err := c.SetCalibration(testUID, cal); err != nil {
		t.Fatalf("SetCalibration() error = %v", err)
	}
	dev, _ := c.Device(testUID)
	if dev.Calibration != cal {
		t.Errorf("snapshot calibration = %+v, want %+v", dev.Calibration, cal)
	}

	// Logical endpoints land on the calibrated travel; the cache keeps
	// the logical value.
	for _, tc := range []struct{ logical, wire int }{
		{0, 10},
		{50, 50},
		{100, 90},
	} {
		if err := c.SetValue(testUID, tc.logical); err != nil {
			t.Fatalf("SetValue(%d) error = %v", tc.logical, err)
		}
		bus.mu.Lock()
		wire := bus.at(0).value
		bus.mu.Unlock()
		if wire != tc.wire {
			t.Errorf("SetValue(%d) put %d on the wire, want %d", tc.logical, wire, tc.wire)
		}
		dev, _ = c.Device(testUID)
		if dev.Value != tc.logical {
			t.Errorf("cached value = %d, want logical %d", dev.Value, tc.logical)
		}
	}
}

func TestSetCalibrationRejectsInvertedRange(t *testing.T) {
	bus := newFakeBus(testUID)
	c := newTestController(t, bus)

	err := c.SetCalibration(testUID, config.CalibrationMeta{Zero: 60, FullScale: 40})
	if !protocol.IsType(err, protocol.ErrTypeInvalidArgument) {
		t.Errorf("SetCalibration() error = %v, want invalid-argument", err)
	}
	err = c.SetCalibration("FFFFFFFFFFFFFFFFFFFFFFFF", config.CalibrationMeta{Zero: 0, FullScale: 100})
	if !protocol.IsType(err, protocol.ErrTypeUnknownDevice) {
		t.Errorf("SetCalibration() error = %v, want unknown-device", err)
	}
}

func TestSetBacklightReflectedAfterOK(t *testing.T) {
	bus := newFakeBus(testUID)
	c := newTestController(t, bus)

	if err := c.SetBacklight(testUID, 100, 0, 0, 0); err != nil {
		t.Fatalf("SetBacklight() error = %v", err)
	}
	dev, _ := c.Device(testUID)
	if dev.Backlight.R != 100 || dev.Backlight.G != 0 {
		t.Errorf("cached backlight = %+v, want R=100", dev.Backlight)
	}

	bus.mu.Lock()
	bus.failNextWrites = 1
	bus.failStatus = protocol.StatusDeviceOffline
	bus.mu.Unlock()

	if err := c.SetBacklight(testUID, 0, 100, 0, 0); err == nil {
		t.Fatal("SetBacklight() succeeded despite injected offline status")
	}
	dev, _ = c.Device(testUID)
	if dev.Backlight.R != 100 {
		t.Errorf("cached backlight = %+v after failure, want unchanged", dev.Backlight)
	}
}

func TestUnknownUIDFailsBeforeWire(t *testing.T) {
	bus := newFakeBus(testUID)
	c := newTestController(t, bus)

	bus.mu.Lock()
	before := bus.exchanges
	bus.mu.Unlock()

	err := c.SetValue("FFFFFFFFFFFFFFFFFFFFFFFF", 50)
	if !protocol.IsType(err, protocol.ErrTypeUnknownDevice) {
		t.Fatalf("SetValue() error = %v, want unknown-device", err)
	}

	bus.mu.Lock()
	if bus.exchanges != before {
		t.Error("command for unknown UID reached the wire")
	}
	bus.mu.Unlock()
}

func TestNotConnectedFailsFast(t *testing.T) {
	store, err := config.Load(filepath.Join(t.TempDir(), "dials.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	c := New(store, WithBus(newFakeBus(testUID)))

	// Connect never called
	if err := c.SetValue(testUID, 50); !protocol.IsType(err, protocol.ErrTypeNotConnected) {
		t.Errorf("SetValue() error = %v, want not-connected", err)
	}
	if err := c.Discover(context.Background()); !protocol.IsType(err, protocol.ErrTypeNotConnected) {
		t.Errorf("Discover() error = %v, want not-connected", err)
	}
}

func waitForShown(t *testing.T, bus *fakeBus, uid protocol.UID, want int) *fakeDial {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		bus.mu.Lock()
		for _, d := range bus.dials {
			if d.uid == uid && len(d.shown) >= want {
				bus.mu.Unlock()
				return d
			}
		}
		bus.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dial %s never showed %d image(s)", uid, want)
	return nil
}

func TestQueueImageTransfersFullBuffer(t *testing.T) {
	bus := newFakeBus(testUID)
	c := newTestController(t, bus)

	packed := bytes.Repeat([]byte{0x5A}, display.BufferSize)
	buf, err := display.NewBuffer(packed)
	if err != nil {
		t.Fatal(err)
	}

	events, cancel := c.Subscribe()
	defer cancel()

	if err := c.QueueImage(testUID, buf); err != nil {
		t.Fatalf("QueueImage() error = %v", err)
	}

	d := waitForShown(t, bus, testUID, 1)

	bus.mu.Lock()
	shown := d.shown[0]
	cleared, sought := d.transfer.cleared, d.transfer.sought
	bus.mu.Unlock()

	if !cleared || !sought {
		t.Error("transfer skipped clear or seek")
	}
	if !bytes.Equal(shown, packed) {
		t.Errorf("displayed %d bytes, want the full %d byte buffer intact", len(shown), len(packed))
	}

	// An image_shown event must reach subscribers
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventImageShown && ev.UID == testUID {
				return
			}
		case <-deadline:
			t.Fatal("no EventImageShown received")
		}
	}
}

// Two queued images for the same UID in quick succession: only the second
// may ever reach the panel.
func TestQueueImageReplacesPendingEntry(t *testing.T) {
	bus := newFakeBus(testUID)

	store, err := config.Load(filepath.Join(t.TempDir(), "dials.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	c := New(store, WithBus(bus))

	first, _ := display.NewBuffer(bytes.Repeat([]byte{0x11}, display.BufferSize))
	second, _ := display.NewBuffer(bytes.Repeat([]byte{0x22}, display.BufferSize))

	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Discover(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The drain loop is parked on wake while the queue is empty. Insert
	// both entries before waking it so the replacement happens strictly
	// before any transfer can start.
	c.queue.mu.Lock()
	c.queue.entries[testUID] = &pendingImage{uid: testUID, buf: first}
	c.queue.order = append(c.queue.order, testUID)
	c.queue.entries[testUID] = &pendingImage{uid: testUID, buf: second}
	c.queue.mu.Unlock()
	select {
	case c.queue.wake <- struct{}{}:
	default:
	}

	d := waitForShown(t, bus, testUID, 1)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(d.shown) != 1 {
		t.Fatalf("panel refreshed %d times, want 1", len(d.shown))
	}
	if d.shown[0][0] != 0x22 {
		t.Errorf("panel shows image %#x, want the replacement 0x22", d.shown[0][0])
	}
}

func TestQueueImageRetriesThenDrops(t *testing.T) {
	bus := newFakeBus(testUID)
	c := newTestController(t, bus)

	// Every write fails: the drain loop must retry a bounded number of
	// times and then drop the entry without wedging.
	bus.mu.Lock()
	bus.failNextWrites = 1 << 20
	bus.failStatus = protocol.StatusI2CError
	bus.mu.Unlock()

	buf, _ := display.NewBuffer(make([]byte, display.BufferSize))
	if err := c.QueueImage(testUID, buf); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.queue.mu.Lock()
		pending := len(c.queue.entries)
		c.queue.mu.Unlock()
		if pending == 0 {
			// Give the final attempt a moment to finish, then verify the
			// panel never refreshed
			time.Sleep(50 * time.Millisecond)
			bus.mu.Lock()
			defer bus.mu.Unlock()
			if len(bus.dials[0].shown) != 0 {
				t.Error("panel refreshed despite injected failures")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("failed transfer still pending; retry bound not honored")
}

func TestReconcilerDetectsMismatch(t *testing.T) {
	bus := newFakeBus(testUID)
	c := newTestController(t, bus)

	// Swap the dial's identity behind the registry's back
	bus.mu.Lock()
	bus.dials[0].uid = "89ABCDEF0123456789ABCDEF"
	bus.mu.Unlock()

	r := NewReconciler(c, time.Hour)
	if !r.sweep(context.Background()) {
		t.Error("sweep() missed a swapped UID")
	}

	// After rediscovery the new UID resolves and the old one is gone
	if err := c.Discover(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Device("89ABCDEF0123456789ABCDEF"); !ok {
		t.Error("swapped-in UID not discovered")
	}
	if _, ok := c.Device(testUID); ok {
		t.Error("stale UID survived rediscovery")
	}
}

func TestCloseStopsDrainLoop(t *testing.T) {
	bus := newFakeBus(testUID)
	c := newTestController(t, bus)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-c.drainDone:
	case <-time.After(time.Second):
		t.Fatal("drain loop still running after Close")
	}

	if err := c.SetValue(testUID, 5); err == nil {
		t.Error("SetValue() succeeded after Close")
	}
}
