package protocol

import "fmt"

// Status is the outcome code carried by a status-shaped response frame.
// The hub reports the result of the I2C transaction it performed on the
// host's behalf: StatusTimeout and StatusDeviceOffline describe the bus
// between hub and dial, not the serial link between host and hub.
type Status uint16

const (
	StatusOK            Status = 0x0000
	StatusFail          Status = 0x0001
	StatusTimeout       Status = 0x0002
	StatusDeviceOffline Status = 0x0003
	StatusI2CError      Status = 0x0004

	// StatusUnknown covers any code this build does not recognise
	StatusUnknown Status = 0xFFFF
)

func statusFromCode(code uint16) Status {
	switch Status(code) {
	case StatusOK, StatusFail, StatusTimeout, StatusDeviceOffline, StatusI2CError:
		return Status(code)
	default:
		return StatusUnknown
	}
}

// String returns a human-readable name for the status
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusFail:
		return "Fail"
	case StatusTimeout:
		return "Timeout"
	case StatusDeviceOffline:
		return "DeviceOffline"
	case StatusI2CError:
		return "I2CError"
	default:
		return fmt.Sprintf("Unknown(0x%04X)", uint16(s))
	}
}

// Err converts a non-OK status into the matching typed error.
// Returns nil for StatusOK.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusTimeout:
		return NewTimeoutError("hub reported I2C transaction timeout")
	case StatusDeviceOffline:
		return NewDeviceOfflineError("hub reported device offline")
	case StatusI2CError:
		return NewI2CError("hub reported I2C bus error")
	default:
		return &HubError{
			Type:    ErrTypeI2C,
			Message: fmt.Sprintf("hub reported failure status %s", s),
		}
	}
}
