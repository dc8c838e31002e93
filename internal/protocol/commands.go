package protocol

import "fmt"

// Command bytes understood by the hub firmware
const (
	CmdRescan             Command = 0x01 // walk the bus, refresh the online bitmap
	CmdProvision          Command = 0x02 // offer an index to one unaddressed device
	CmdOnlineBitmap       Command = 0x03 // read one online flag byte per index
	CmdGetUID             Command = 0x04 // read the UID at a runtime index
	CmdFirmwareVersion    Command = 0x05
	CmdHardwareVersion    Command = 0x06
	CmdProtocolVersion    Command = 0x07
	CmdSetValue           Command = 0x10 // dial needle position, 0-100
	CmdSetBacklight       Command = 0x11 // RGBW backlight, four 0-100 channels
	CmdSetDialEasing      Command = 0x12
	CmdSetBacklightEasing Command = 0x13
	CmdDisplayClear       Command = 0x20
	CmdDisplaySeek        Command = 0x21
	CmdDisplayWrite       Command = 0x22
	CmdDisplayShow        Command = 0x23
	CmdResetConfig        Command = 0x30
	CmdPower              Command = 0x31
)

// Bus addressing. Commands carry runtime indices; the hub maps an index to
// its I2C address as AddrRuntimeBase + index. All unprovisioned devices
// listen on AddrDefault, which is why provisioning must move them off it
// one at a time.
const (
	AddrBroadcast   = 0x00
	AddrBootloader  = 0x01 // reserved for a future firmware update path
	AddrDefault     = 0x02
	AddrRuntimeBase = 0x10

	// MaxDevices is the size of the runtime index range
	MaxDevices = 100

	// HubIndex is the pseudo-index the hub answers for itself, used by the
	// connect handshake
	HubIndex = 0xFF

	// MaxPercent is the upper bound for dial values and backlight channels
	MaxPercent = 100
)

// RuntimeAddress returns the I2C bus address for a runtime index
func RuntimeAddress(index int) int {
	return AddrRuntimeBase + index
}

// Shapes is the authoritative {command -> required shape tag} table.
// The firmware drops frames whose shape tag does not match this table, so
// builders must read their tag from here rather than choosing one inline.
var Shapes = map[Command]Shape{
	CmdRescan:             ShapeEmpty,
	CmdProvision:          ShapeSingle,
	CmdOnlineBitmap:       ShapeEmpty,
	CmdGetUID:             ShapeSingle,
	CmdFirmwareVersion:    ShapeSingle,
	CmdHardwareVersion:    ShapeSingle,
	CmdProtocolVersion:    ShapeSingle,
	CmdSetValue:           ShapePair,
	CmdSetBacklight:       ShapeRecord,
	CmdSetDialEasing:      ShapeRecord,
	CmdSetBacklightEasing: ShapeRecord,
	CmdDisplayClear:       ShapeSingle,
	CmdDisplaySeek:        ShapeRecord,
	CmdDisplayWrite:       ShapeRecord,
	CmdDisplayShow:        ShapeSingle,
	CmdResetConfig:        ShapeSingle,
	CmdPower:              ShapePair,
}

// CommandName returns a human-readable name for a command byte
func CommandName(c Command) string {
	switch c {
	case CmdRescan:
		return "Rescan"
	case CmdProvision:
		return "Provision"
	case CmdOnlineBitmap:
		return "OnlineBitmap"
	case CmdGetUID:
		return "GetUID"
	case CmdFirmwareVersion:
		return "FirmwareVersion"
	case CmdHardwareVersion:
		return "HardwareVersion"
	case CmdProtocolVersion:
		return "ProtocolVersion"
	case CmdSetValue:
		return "SetValue"
	case CmdSetBacklight:
		return "SetBacklight"
	case CmdSetDialEasing:
		return "SetDialEasing"
	case CmdSetBacklightEasing:
		return "SetBacklightEasing"
	case CmdDisplayClear:
		return "DisplayClear"
	case CmdDisplaySeek:
		return "DisplaySeek"
	case CmdDisplayWrite:
		return "DisplayWrite"
	case CmdDisplayShow:
		return "DisplayShow"
	case CmdResetConfig:
		return "ResetConfig"
	case CmdPower:
		return "Power"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", byte(c))
	}
}

func build(cmd Command, payload []byte) Frame {
	return Frame{Cmd: cmd, Shape: Shapes[cmd], Payload: payload}
}

func checkIndex(index int) error {
	if index < 0 || index >= MaxDevices {
		return NewInvalidArgumentError(fmt.Sprintf("runtime index %d out of range 0-%d", index, MaxDevices-1))
	}
	return nil
}

func checkPercent(name string, v int) error {
	if v < 0 || v > MaxPercent {
		return NewInvalidArgumentError(fmt.Sprintf("%s %d out of range 0-%d", name, v, MaxPercent))
	}
	return nil
}

// NewRescan builds a bus rescan request
func NewRescan() Frame {
	return build(CmdRescan, nil)
}

// NewOnlineBitmap builds a request for the online-device bitmap: one flag
// byte per possible runtime index
func NewOnlineBitmap() Frame {
	return build(CmdOnlineBitmap, nil)
}

// NewProvision builds a provisioning offer. Exactly one of the devices
// still listening on the factory default address may claim the offered
// index and answer with its UID; the response carries the claimed index
// followed by the 12 UID bytes.
func NewProvision(offerIndex int) (Frame, error) {
	if err := checkIndex(offerIndex); err != nil {
		return Frame{}, err
	}
	return build(CmdProvision, []byte{byte(offerIndex)}), nil
}

// NewGetUID builds a UID query for a runtime index
func NewGetUID(index int) (Frame, error) {
	if err := checkIndex(index); err != nil {
		return Frame{}, err
	}
	return build(CmdGetUID, []byte{byte(index)}), nil
}

// NewVersionQuery builds a firmware, hardware or protocol version query
// for a runtime index
func NewVersionQuery(cmd Command, index int) (Frame, error) {
	switch cmd {
	case CmdFirmwareVersion, CmdHardwareVersion, CmdProtocolVersion:
	default:
		return Frame{}, NewInvalidArgumentError(fmt.Sprintf("0x%02X is not a version query", byte(cmd)))
	}
	if err := checkIndex(index); err != nil {
		return Frame{}, err
	}
	return build(cmd, []byte{byte(index)}), nil
}

// NewHubProtocolVersion builds the handshake probe: a protocol version
// query the hub answers for itself
func NewHubProtocolVersion() Frame {
	return build(CmdProtocolVersion, []byte{HubIndex})
}

// NewSetValue builds a needle position write: {index, percent}
func NewSetValue(index, percent int) (Frame, error) {
	if err := checkIndex(index); err != nil {
		return Frame{}, err
	}
	if err := checkPercent("value", percent); err != nil {
		return Frame{}, err
	}
	return build(CmdSetValue, []byte{byte(index), byte(percent)}), nil
}

// NewSetBacklight builds a backlight write: {index, r, g, b, w}, each
// channel 0-100
func NewSetBacklight(index, r, g, b, w int) (Frame, error) {
	if err := checkIndex(index); err != nil {
		return Frame{}, err
	}
	for _, ch := range []struct {
		name string
		v    int
	}{{"red", r}, {"green", g}, {"blue", b}, {"white", w}} {
		if err := checkPercent(ch.name, ch.v); err != nil {
			return Frame{}, err
		}
	}
	return build(CmdSetBacklight, []byte{byte(index), byte(r), byte(g), byte(b), byte(w)}), nil
}

// NewSetEasing builds an easing write for the dial needle or the
// backlight: {index, step, period_ms BE16}. Step is a percentage per tick,
// period the tick interval.
func NewSetEasing(cmd Command, index, step int, periodMs int) (Frame, error) {
	switch cmd {
	case CmdSetDialEasing, CmdSetBacklightEasing:
	default:
		return Frame{}, NewInvalidArgumentError(fmt.Sprintf("0x%02X is not an easing command", byte(cmd)))
	}
	if err := checkIndex(index); err != nil {
		return Frame{}, err
	}
	if err := checkPercent("step", step); err != nil {
		return Frame{}, err
	}
	if periodMs < 0 || periodMs > 0xFFFF {
		return Frame{}, NewInvalidArgumentError(fmt.Sprintf("easing period %dms out of range 0-65535", periodMs))
	}
	return build(cmd, []byte{byte(index), byte(step), byte(periodMs >> 8), byte(periodMs)}), nil
}

// NewDisplayClear builds a display clear for a runtime index
func NewDisplayClear(index int) (Frame, error) {
	if err := checkIndex(index); err != nil {
		return Frame{}, err
	}
	return build(CmdDisplayClear, []byte{byte(index)}), nil
}

// NewDisplaySeek builds a display write-pointer seek: {index, offset BE16}.
// Transfers always seek to offset zero before the first chunk.
func NewDisplaySeek(index, offset int) (Frame, error) {
	if err := checkIndex(index); err != nil {
		return Frame{}, err
	}
	if offset < 0 || offset > 0xFFFF {
		return Frame{}, NewInvalidArgumentError(fmt.Sprintf("display offset %d out of range 0-65535", offset))
	}
	return build(CmdDisplaySeek, []byte{byte(index), byte(offset >> 8), byte(offset)}), nil
}

// NewDisplayWrite builds one display chunk write: {index, chunk bytes}
func NewDisplayWrite(index int, chunk []byte) (Frame, error) {
	if err := checkIndex(index); err != nil {
		return Frame{}, err
	}
	if len(chunk) == 0 {
		return Frame{}, NewInvalidArgumentError("display chunk is empty")
	}
	if len(chunk) > MaxPayloadSize-1 {
		return Frame{}, NewInvalidArgumentError(fmt.Sprintf("display chunk too large: %d bytes", len(chunk)))
	}
	payload := make([]byte, 1+len(chunk))
	payload[0] = byte(index)
	copy(payload[1:], chunk)
	return build(CmdDisplayWrite, payload), nil
}

// NewDisplayShow builds the refresh trigger after a full transfer
func NewDisplayShow(index int) (Frame, error) {
	if err := checkIndex(index); err != nil {
		return Frame{}, err
	}
	return build(CmdDisplayShow, []byte{byte(index)}), nil
}

// NewResetConfig builds a device configuration reset
func NewResetConfig(index int) (Frame, error) {
	if err := checkIndex(index); err != nil {
		return Frame{}, err
	}
	return build(CmdResetConfig, []byte{byte(index)}), nil
}

// NewPower builds a device power control write: {index, on}
func NewPower(index int, on bool) (Frame, error) {
	if err := checkIndex(index); err != nil {
		return Frame{}, err
	}
	state := byte(0)
	if on {
		state = 1
	}
	return build(CmdPower, []byte{byte(index), state}), nil
}
