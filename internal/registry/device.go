package registry

import (
	"time"

	"github.com/kverner/dialdeck/internal/config"
	"github.com/kverner/dialdeck/internal/protocol"
)

// Stage is a dial's position in the per-device half of the discovery state
// machine
type Stage int

const (
	// StageEnumerated means the index is reported online but nothing has
	// been read from the dial yet
	StageEnumerated Stage = iota
	// StageIdentified means UID and versions are known and persisted
	// metadata is attached
	StageIdentified
	// StageConfigured means the persisted easing has been pushed back to
	// the dial
	StageConfigured
)

// String returns a human-readable name for the stage
func (s Stage) String() string {
	switch s {
	case StageEnumerated:
		return "Enumerated"
	case StageIdentified:
		return "Identified"
	case StageConfigured:
		return "Configured"
	default:
		return "Invalid"
	}
}

// Backlight is an RGBW backlight setting, each channel 0-100
type Backlight struct {
	R, G, B, W int
}

// Device is the cached state of one dial. Snapshots handed to callers are
// value copies; the registry holds the only live instance and mutates it
// only after a confirmed successful round trip.
type Device struct {
	UID   protocol.UID
	Index int // volatile; valid only until the next rescan
	Stage Stage

	Name      string
	Value     int // needle position 0-100
	Backlight Backlight

	DialEasing      config.EasingMeta
	BacklightEasing config.EasingMeta
	Calibration     config.CalibrationMeta

	Firmware string
	Hardware string
	Protocol string

	LastSeen time.Time
}
