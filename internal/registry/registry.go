package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kverner/dialdeck/internal/config"
	"github.com/kverner/dialdeck/internal/logging"
	"github.com/kverner/dialdeck/internal/protocol"
	"github.com/kverner/dialdeck/internal/transport"
)

// Provisioning parameters. Three attempts with a short pause is the
// empirical minimum for a fully populated bus; the loop usually exits early
// once an offer goes unanswered.
const (
	ProvisionAttempts   = 3
	ProvisionRetryDelay = 200 * time.Millisecond
)

// Phase is the registry's position in the discovery state machine
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseScanning
	PhaseProvisioning
	PhaseEnumerated
)

// String returns a human-readable name for the phase
func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "Unknown"
	case PhaseScanning:
		return "Scanning"
	case PhaseProvisioning:
		return "Provisioning"
	case PhaseEnumerated:
		return "Enumerated"
	default:
		return "Invalid"
	}
}

// Exchanger is the one-request-at-a-time channel the registry drives.
// *transport.Transport satisfies it; tests substitute a scripted hub.
type Exchanger interface {
	Exchange(req protocol.Frame, timeout time.Duration) (protocol.Frame, error)
}

// Registry maps permanent UIDs to volatile runtime indices and caches
// per-dial state. It is safe for concurrent use; the embedding controller
// is the single writer.
type Registry struct {
	mu    sync.RWMutex
	ex    Exchanger
	store *config.Store

	phase   Phase
	byIndex map[int]*Device
	byUID   map[protocol.UID]*Device
}

// New creates an empty registry over an exchanger and a metadata store
func New(ex Exchanger, store *config.Store) *Registry {
	return &Registry{
		ex:      ex,
		store:   store,
		phase:   PhaseUnknown,
		byIndex: make(map[int]*Device),
		byUID:   make(map[protocol.UID]*Device),
	}
}

// Phase returns the registry's current discovery phase
func (r *Registry) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Rescan asks the hub to walk its bus, reads the online bitmap and
// replaces the working set with exactly what is reported. Previously known
// indices that are no longer online are gone afterwards; their UIDs
// resolve again only once Identify sees them at whatever index they hold
// now.
func (r *Registry) Rescan() error {
	r.setPhase(PhaseScanning)

	if _, err := r.ex.Exchange(protocol.NewRescan(), transport.WriteTimeout); err != nil {
		return err
	}

	resp, err := r.ex.Exchange(protocol.NewOnlineBitmap(), transport.QueryTimeout)
	if err != nil {
		return err
	}
	if len(resp.Payload) > protocol.MaxDevices {
		return protocol.NewParseError(fmt.Sprintf("online bitmap carries %d flags, at most %d possible", len(resp.Payload), protocol.MaxDevices))
	}

	fresh := make(map[int]*Device)
	for index, flag := range resp.Payload {
		if flag != 0 {
			fresh[index] = &Device{Index: index, Stage: StageEnumerated}
		}
	}

	r.mu.Lock()
	r.byIndex = fresh
	r.byUID = make(map[protocol.UID]*Device)
	r.mu.Unlock()

	logging.Info("Bus rescan complete", zap.Int("online", len(fresh)))
	return nil
}

// Provision moves dials still parked on the factory default address onto
// free runtime indices, one per exchange. Cancellation is honored between
// exchanges and attempts, never mid-frame.
func (r *Registry) Provision(ctx context.Context) error {
	r.setPhase(PhaseProvisioning)

	for attempt := 1; attempt <= ProvisionAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		claimed, silent, err := r.provisionSweep(ctx)
		if err != nil {
			return err
		}
		if claimed > 0 {
			logging.Info("Provisioning sweep claimed dials",
				zap.Int("attempt", attempt),
				zap.Int("claimed", claimed),
			)
		}

		// A sweep that claimed nothing and ended in silence means nobody
		// is left waiting at the default address; later attempts exist
		// only to catch slow joiners after a claiming sweep.
		if silent && claimed == 0 {
			break
		}
		if attempt < ProvisionAttempts {
			select {
			case <-time.After(ProvisionRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	r.setPhase(PhaseEnumerated)
	return nil
}

// provisionSweep offers free indices until an offer goes unanswered.
// Returns how many dials claimed an offer and whether the sweep ended in
// silence.
func (r *Registry) provisionSweep(ctx context.Context) (claimed int, silent bool, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return claimed, false, err
		}

		offer, ok := r.freeIndex()
		if !ok {
			return claimed, false, nil // bus is full
		}

		req, err := protocol.NewProvision(offer)
		if err != nil {
			return claimed, false, err
		}

		resp, err := r.ex.Exchange(req, transport.WriteTimeout)
		if err != nil {
			if protocol.IsType(err, protocol.ErrTypeTimeout) {
				return claimed, true, nil
			}
			return claimed, false, err
		}

		if resp.Shape == protocol.ShapeStatus {
			status, serr := resp.Status()
			if serr != nil {
				return claimed, false, serr
			}
			if status == protocol.StatusDeviceOffline {
				return claimed, true, nil // nobody waiting at the default address
			}
			return claimed, false, status.Err()
		}

		// A claim: {claimed index, 12 UID bytes}
		if len(resp.Payload) != 1+protocol.UIDLen {
			return claimed, false, protocol.NewParseError(fmt.Sprintf("provision claim payload is %d bytes, want %d", len(resp.Payload), 1+protocol.UIDLen))
		}
		index := int(resp.Payload[0])
		uid, perr := protocol.ParseUID(resp.Payload[1:])
		if perr != nil {
			return claimed, false, perr
		}

		r.mu.Lock()
		r.byIndex[index] = &Device{Index: index, Stage: StageEnumerated}
		r.mu.Unlock()

		claimed++
		logging.LogDevice("provisioned", string(uid),
			zap.Int("index", index),
			zap.Int("bus_addr", protocol.RuntimeAddress(index)),
		)
	}
}

// Identify reads the UID and version strings at an index and attaches the
// metadata persisted against that UID, creating defaults for a dial never
// seen before.
func (r *Registry) Identify(index int) (Device, error) {
	req, err := protocol.NewGetUID(index)
	if err != nil {
		return Device{}, err
	}
	resp, err := r.ex.Exchange(req, transport.QueryTimeout)
	if err != nil {
		return Device{}, err
	}
	if err := statusReplyErr(resp); err != nil {
		return Device{}, err
	}
	uid, err := protocol.ParseUID(resp.Payload)
	if err != nil {
		return Device{}, err
	}

	versions := make(map[protocol.Command]string, 3)
	for _, cmd := range []protocol.Command{protocol.CmdFirmwareVersion, protocol.CmdHardwareVersion, protocol.CmdProtocolVersion} {
		vq, err := protocol.NewVersionQuery(cmd, index)
		if err != nil {
			return Device{}, err
		}
		vr, err := r.ex.Exchange(vq, transport.QueryTimeout)
		if err != nil {
			return Device{}, err
		}
		if err := statusReplyErr(vr); err != nil {
			return Device{}, err
		}
		versions[cmd] = string(vr.Payload)
	}

	meta, err := r.store.Ensure(string(uid))
	if err != nil {
		return Device{}, err
	}

	dev := &Device{
		UID:      uid,
		Index:    index,
		Stage:    StageIdentified,
		Name:     meta.Name,
		Firmware: versions[protocol.CmdFirmwareVersion],
		Hardware: versions[protocol.CmdHardwareVersion],
		Protocol: versions[protocol.CmdProtocolVersion],
		LastSeen: time.Now(),
	}
	if meta.DialEasing != nil {
		dev.DialEasing = *meta.DialEasing
	}
	if meta.BacklightEasing != nil {
		dev.BacklightEasing = *meta.BacklightEasing
	}
	if meta.Calibration != nil {
		dev.Calibration = *meta.Calibration
	}

	r.mu.Lock()
	r.byIndex[index] = dev
	r.byUID[uid] = dev
	r.mu.Unlock()

	logging.LogDevice("identified", string(uid),
		zap.Int("index", index),
		zap.String("firmware", dev.Firmware),
	)
	return *dev, nil
}

// Configure pushes the persisted easing back to the dial at an index and
// advances it to StageConfigured
func (r *Registry) Configure(index int) error {
	r.mu.RLock()
	dev, ok := r.byIndex[index]
	if !ok || dev.Stage < StageIdentified {
		r.mu.RUnlock()
		return protocol.NewInvalidArgumentError(fmt.Sprintf("index %d has not been identified", index))
	}
	dialEasing, lightEasing := dev.DialEasing, dev.BacklightEasing
	uid := dev.UID
	r.mu.RUnlock()

	for _, e := range []struct {
		cmd    protocol.Command
		easing config.EasingMeta
	}{
		{protocol.CmdSetDialEasing, dialEasing},
		{protocol.CmdSetBacklightEasing, lightEasing},
	} {
		req, err := protocol.NewSetEasing(e.cmd, index, e.easing.Step, e.easing.PeriodMs)
		if err != nil {
			return err
		}
		resp, err := r.ex.Exchange(req, transport.WriteTimeout)
		if err != nil {
			return err
		}
		status, err := resp.Status()
		if err != nil {
			return err
		}
		if serr := status.Err(); serr != nil {
			return serr
		}
	}

	r.mu.Lock()
	if dev, ok := r.byIndex[index]; ok {
		dev.Stage = StageConfigured
		dev.LastSeen = time.Now()
	}
	r.mu.Unlock()

	logging.LogDevice("configured", string(uid), zap.Int("index", index))
	return nil
}

// IdentifyAll identifies and configures every enumerated index.
// Cancellation is honored between dials.
func (r *Registry) IdentifyAll(ctx context.Context) error {
	for _, index := range r.OnlineIndices() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.Identify(index); err != nil {
			return err
		}
		if err := r.Configure(index); err != nil {
			return err
		}
	}
	return nil
}

// Resolve maps a UID to its current runtime index. The index is only valid
// until the next rescan; callers must re-resolve on every operation rather
// than holding onto it.
func (r *Registry) Resolve(uid protocol.UID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.byUID[uid]
	if !ok {
		return 0, protocol.NewUnknownDeviceError(uid)
	}
	return dev.Index, nil
}

// OnlineIndices returns the currently enumerated indices in ascending order
func (r *Registry) OnlineIndices() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	indices := make([]int, 0, len(r.byIndex))
	for index := range r.byIndex {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

// Snapshot returns value copies of every identified dial, ordered by index
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.byUID))
	for _, dev := range r.byUID {
		devices = append(devices, *dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices
}

// Get returns a value copy of one dial's cached state
func (r *Registry) Get(uid protocol.UID) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.byUID[uid]
	if !ok {
		return Device{}, false
	}
	return *dev, true
}

// UpdateValue records a confirmed needle position for a UID. Called only
// after a status-OK round trip.
func (r *Registry) UpdateValue(uid protocol.UID, value int) {
	r.update(uid, func(d *Device) { d.Value = value })
}

// UpdateBacklight records a confirmed backlight setting for a UID
func (r *Registry) UpdateBacklight(uid protocol.UID, bl Backlight) {
	r.update(uid, func(d *Device) { d.Backlight = bl })
}

// UpdateName records a new display name for a UID
func (r *Registry) UpdateName(uid protocol.UID, name string) {
	r.update(uid, func(d *Device) { d.Name = name })
}

// UpdateDialEasing records a confirmed needle easing for a UID
func (r *Registry) UpdateDialEasing(uid protocol.UID, easing config.EasingMeta) {
	r.update(uid, func(d *Device) { d.DialEasing = easing })
}

// UpdateBacklightEasing records a confirmed backlight easing for a UID
func (r *Registry) UpdateBacklightEasing(uid protocol.UID, easing config.EasingMeta) {
	r.update(uid, func(d *Device) { d.BacklightEasing = easing })
}

// UpdateCalibration records a new needle calibration for a UID
func (r *Registry) UpdateCalibration(uid protocol.UID, cal config.CalibrationMeta) {
	r.update(uid, func(d *Device) { d.Calibration = cal })
}

func (r *Registry) update(uid protocol.UID, apply func(*Device)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dev, ok := r.byUID[uid]; ok {
		apply(dev)
		dev.LastSeen = time.Now()
	}
}

// statusReplyErr maps a status-shaped reply to a query into its typed
// error. Queries answer with data frames; a status frame here is the hub
// reporting why it could not, and must surface as that outcome rather
// than as a parse failure on the payload.
func statusReplyErr(resp protocol.Frame) error {
	if resp.Shape != protocol.ShapeStatus {
		return nil
	}
	status, err := resp.Status()
	if err != nil {
		return err
	}
	return status.Err()
}

func (r *Registry) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

// freeIndex returns the lowest runtime index not currently occupied
func (r *Registry) freeIndex() (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := 0; i < protocol.MaxDevices; i++ {
		if _, taken := r.byIndex[i]; !taken {
			return i, true
		}
	}
	return 0, false
}
