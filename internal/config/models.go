package config

import "time"

// Default easing applied to dials never seen before. Values chosen so a
// full-scale swing animates in about half a second without flooding the bus.
const (
	DefaultDialEasingStep      = 5
	DefaultDialEasingPeriodMs  = 50
	DefaultLightEasingStep     = 10
	DefaultLightEasingPeriodMs = 20
)

// Factory needle calibration: no zero offset, full travel
const (
	DefaultCalibrationZero      = 0
	DefaultCalibrationFullScale = 100
)

// File is the entire on-disk store
type File struct {
	Version int                  `yaml:"version"`
	Dials   map[string]*DialMeta `yaml:"dials,omitempty"` // keyed by UID hex
}

// DialMeta is everything remembered about one dial across power cycles.
// It is keyed by UID, never by runtime index.
type DialMeta struct {
	Name            string           `yaml:"name,omitempty"`       // user-facing display name
	DialEasing      *EasingMeta      `yaml:"dial_easing,omitempty"`
	BacklightEasing *EasingMeta      `yaml:"backlight_easing,omitempty"`
	Calibration     *CalibrationMeta `yaml:"calibration,omitempty"`
	FirstSeen       time.Time        `yaml:"first_seen,omitempty"`
	LastSeen        time.Time        `yaml:"last_seen,omitempty"`
}

// EasingMeta is a device-side smoothing configuration: the needle or
// backlight moves Step percent every Period milliseconds until it reaches
// its target.
type EasingMeta struct {
	Step     int `yaml:"step"`
	PeriodMs int `yaml:"period_ms"`
}

// CalibrationMeta trims the needle's mechanical end stops. Zero and
// FullScale bound the travel in wire percentage points; the controller
// scales logical values onto that range before sending them.
type CalibrationMeta struct {
	Zero      int `yaml:"zero"`
	FullScale int `yaml:"full_scale"`
}

func defaultDialMeta(now time.Time) *DialMeta {
	return &DialMeta{
		DialEasing: &EasingMeta{
			Step:     DefaultDialEasingStep,
			PeriodMs: DefaultDialEasingPeriodMs,
		},
		BacklightEasing: &EasingMeta{
			Step:     DefaultLightEasingStep,
			PeriodMs: DefaultLightEasingPeriodMs,
		},
		Calibration: &CalibrationMeta{
			Zero:      DefaultCalibrationZero,
			FullScale: DefaultCalibrationFullScale,
		},
		FirstSeen: now,
		LastSeen:  now,
	}
}
