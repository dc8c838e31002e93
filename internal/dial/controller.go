package dial

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kverner/dialdeck/internal/config"
	"github.com/kverner/dialdeck/internal/display"
	"github.com/kverner/dialdeck/internal/logging"
	"github.com/kverner/dialdeck/internal/protocol"
	"github.com/kverner/dialdeck/internal/registry"
	"github.com/kverner/dialdeck/internal/transport"
)

// Bus is the connected hub channel the controller drives.
// *transport.Transport satisfies it; tests and embedders with custom
// transports can supply their own.
type Bus interface {
	Exchange(req protocol.Frame, timeout time.Duration) (protocol.Frame, error)
	Connected() bool
	Close() error
}

// Controller is the engine's public facade. Create one with New, call
// Connect then Discover, and address every dial by its UID from then on.
type Controller struct {
	mu    sync.Mutex
	store *config.Store
	port  string // explicit serial port; empty means auto-detect

	bus    Bus
	reg    *registry.Registry
	events *eventBus
	queue  *imageQueue

	drainCancel context.CancelFunc
	drainDone   chan struct{}
}

// Option configures a Controller
type Option func(*Controller)

// WithPort pins the hub to an explicit serial port path instead of
// auto-detection
func WithPort(path string) Option {
	return func(c *Controller) { c.port = path }
}

// WithBus supplies an already-connected bus; Connect skips detection
func WithBus(bus Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// New creates a Controller over a metadata store
func New(store *config.Store, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		events: newEventBus(),
		queue:  newImageQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe returns a channel of controller events and a cancel function.
// Slow subscribers lose events rather than blocking the engine.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// Connect opens the hub (auto-detect unless pinned to a port or given a
// bus), builds the registry and starts the image drain loop
func (c *Controller) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bus != nil && c.bus.Connected() && c.reg != nil {
		return nil // already connected
	}

	if c.bus == nil || !c.bus.Connected() {
		var tr *transport.Transport
		var err error
		if c.port != "" {
			tr, err = transport.Open(c.port)
		} else {
			tr, err = transport.Detect()
		}
		if err != nil {
			return err
		}
		c.bus = tr
	}

	c.reg = registry.New(c.bus, c.store)

	ctx, cancel := context.WithCancel(context.Background())
	c.drainCancel = cancel
	c.drainDone = make(chan struct{})
	go c.drainLoop(ctx)

	c.events.publish(Event{Type: EventConnected})
	return nil
}

// Close stops the drain loop, releases the serial port and wakes every
// subscriber with a disconnect
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drainCancel != nil {
		c.drainCancel()
		<-c.drainDone
		c.drainCancel = nil
	}

	var err error
	if c.bus != nil {
		err = c.bus.Close()
	}

	c.events.publish(Event{Type: EventDisconnected})
	c.events.closeAll()
	return err
}

// Connected reports whether the hub link is up
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bus != nil && c.bus.Connected()
}

// Discover runs the full discovery sequence: rescan, provision, identify
// and configure every dial on the bus. Cancellation is honored between
// provisioning exchanges and between dials, never mid-frame.
func (c *Controller) Discover(ctx context.Context) error {
	reg, err := c.registry()
	if err != nil {
		return err
	}

	if err := reg.Rescan(); err != nil {
		return err
	}
	if err := reg.Provision(ctx); err != nil {
		return err
	}
	if err := reg.IdentifyAll(ctx); err != nil {
		return err
	}

	devices := reg.Snapshot()
	logging.Info("Discovery complete", zap.Int("dials", len(devices)))
	c.events.publish(Event{Type: EventDiscovered, Devices: devices})
	return nil
}

// Devices returns a value-copy snapshot of every identified dial
func (c *Controller) Devices() []registry.Device {
	reg, err := c.registry()
	if err != nil {
		return nil
	}
	return reg.Snapshot()
}

// Device returns a value-copy snapshot of one dial
func (c *Controller) Device(uid protocol.UID) (registry.Device, bool) {
	reg, err := c.registry()
	if err != nil {
		return registry.Device{}, false
	}
	return reg.Get(uid)
}

// SetValue moves a dial's needle to a percentage of full scale. The cached
// value changes only on a confirmed OK status; any other outcome leaves
// the snapshot at the last known good state.
func (c *Controller) SetValue(uid protocol.UID, percent int) error {
	if percent < 0 || percent > protocol.MaxPercent {
		return protocol.NewInvalidArgumentError(fmt.Sprintf("value %d out of range 0-%d", percent, protocol.MaxPercent))
	}
	return c.mutate(uid, func(index int) (protocol.Frame, error) {
		return protocol.NewSetValue(index, c.calibrated(uid, percent))
	}, func(reg *registry.Registry) {
		reg.UpdateValue(uid, percent)
	})
}

// calibrated maps a logical percentage onto the needle travel recorded
// for a dial, so 0 and 100 land on the face's printed endpoints even
// when the movement overshoots or undershoots them. The factory
// calibration is the identity mapping.
func (c *Controller) calibrated(uid protocol.UID, percent int) int {
	dev, ok := c.Device(uid)
	if !ok {
		return percent
	}
	cal := dev.Calibration
	if cal.Zero == 0 && cal.FullScale == 0 {
		return percent
	}
	span := cal.FullScale - cal.Zero
	return cal.Zero + (percent*span+protocol.MaxPercent/2)/protocol.MaxPercent
}

// SetBacklight sets a dial's RGBW backlight, each channel 0-100
func (c *Controller) SetBacklight(uid protocol.UID, r, g, b, w int) error {
	return c.mutate(uid, func(index int) (protocol.Frame, error) {
		return protocol.NewSetBacklight(index, r, g, b, w)
	}, func(reg *registry.Registry) {
		reg.UpdateBacklight(uid, registry.Backlight{R: r, G: g, B: b, W: w})
	})
}

// SetDialEasing configures needle smoothing and persists it against the
// UID so it survives power cycles
func (c *Controller) SetDialEasing(uid protocol.UID, easing config.EasingMeta) error {
	err := c.mutate(uid, func(index int) (protocol.Frame, error) {
		return protocol.NewSetEasing(protocol.CmdSetDialEasing, index, easing.Step, easing.PeriodMs)
	}, func(reg *registry.Registry) {
		reg.UpdateDialEasing(uid, easing)
	})
	if err != nil {
		return err
	}
	return c.store.SetDialEasing(string(uid), easing)
}

// SetBacklightEasing configures backlight smoothing and persists it
// against the UID
func (c *Controller) SetBacklightEasing(uid protocol.UID, easing config.EasingMeta) error {
	err := c.mutate(uid, func(index int) (protocol.Frame, error) {
		return protocol.NewSetEasing(protocol.CmdSetBacklightEasing, index, easing.Step, easing.PeriodMs)
	}, func(reg *registry.Registry) {
		reg.UpdateBacklightEasing(uid, easing)
	})
	if err != nil {
		return err
	}
	return c.store.SetBacklightEasing(string(uid), easing)
}

// SetName renames a dial. Names are host-side metadata only; no wire
// traffic is involved.
func (c *Controller) SetName(uid protocol.UID, name string) error {
	reg, err := c.registry()
	if err != nil {
		return err
	}
	if _, ok := reg.Get(uid); !ok {
		return protocol.NewUnknownDeviceError(uid)
	}
	if err := c.store.SetName(string(uid), name); err != nil {
		return err
	}
	reg.UpdateName(uid, name)
	c.publishDeviceUpdate(uid)
	return nil
}

// SetCalibration records a dial's needle calibration. Like names, the
// calibration is host-side metadata: the host scales requested values
// before they reach the wire, so nothing is sent here.
func (c *Controller) SetCalibration(uid protocol.UID, cal config.CalibrationMeta) error {
	if cal.Zero < 0 || cal.FullScale > protocol.MaxPercent || cal.Zero >= cal.FullScale {
		return protocol.NewInvalidArgumentError("calibration: need 0 <= zero < full_scale <= 100")
	}
	reg, err := c.registry()
	if err != nil {
		return err
	}
	if _, ok := reg.Get(uid); !ok {
		return protocol.NewUnknownDeviceError(uid)
	}
	if err := c.store.SetCalibration(string(uid), cal); err != nil {
		return err
	}
	reg.UpdateCalibration(uid, cal)
	c.publishDeviceUpdate(uid)
	return nil
}

// Power switches a dial on or off
func (c *Controller) Power(uid protocol.UID, on bool) error {
	return c.mutate(uid, func(index int) (protocol.Frame, error) {
		return protocol.NewPower(index, on)
	}, nil)
}

// ResetConfig restores a dial's firmware configuration to factory values
func (c *Controller) ResetConfig(uid protocol.UID) error {
	return c.mutate(uid, func(index int) (protocol.Frame, error) {
		return protocol.NewResetConfig(index)
	}, nil)
}

// mutate is the common write path: resolve the UID, build the frame (all
// argument validation happens here, before wire traffic), exchange with
// the write-class timeout, and apply the cache update only on status OK.
// Mutating commands are never auto-retried.
func (c *Controller) mutate(uid protocol.UID, build func(index int) (protocol.Frame, error), onOK func(*registry.Registry)) error {
	reg, err := c.registry()
	if err != nil {
		return err
	}

	index, err := reg.Resolve(uid)
	if err != nil {
		return err
	}

	req, err := build(index)
	if err != nil {
		return err
	}

	resp, err := c.bus.Exchange(req, transport.WriteTimeout)
	if err != nil {
		c.noteFailure(uid, err)
		return err
	}

	status, err := resp.Status()
	if err != nil {
		return err
	}
	if serr := status.Err(); serr != nil {
		c.noteFailure(uid, serr)
		return serr
	}

	if onOK != nil {
		onOK(reg)
	}
	c.publishDeviceUpdate(uid)
	return nil
}

// QueueImage enqueues a display transfer for a dial. The transfer runs on
// the background drain loop; a newer image for the same UID replaces a
// still-pending older one rather than queueing behind it.
func (c *Controller) QueueImage(uid protocol.UID, buf *display.Buffer) error {
	reg, err := c.registry()
	if err != nil {
		return err
	}
	if _, ok := reg.Get(uid); !ok {
		return protocol.NewUnknownDeviceError(uid)
	}

	c.queue.put(uid, buf)
	logging.LogDevice("image_queued", string(uid))
	return nil
}

func (c *Controller) registry() (*registry.Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus == nil || !c.bus.Connected() || c.reg == nil {
		return nil, protocol.NewNotConnectedError()
	}
	return c.reg, nil
}

func (c *Controller) publishDeviceUpdate(uid protocol.UID) {
	if reg, err := c.registry(); err == nil {
		if dev, ok := reg.Get(uid); ok {
			c.events.publish(Event{Type: EventDeviceUpdated, UID: uid, Device: &dev})
		}
	}
}

func (c *Controller) noteFailure(uid protocol.UID, err error) {
	if protocol.IsType(err, protocol.ErrTypeDeviceOffline) || protocol.IsType(err, protocol.ErrTypeTimeout) {
		c.events.publish(Event{Type: EventDeviceOffline, UID: uid, Err: err})
	}
}
