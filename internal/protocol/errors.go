package protocol

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of a hub communication error
type ErrorType int

const (
	// ErrTypeNotConnected indicates an operation was attempted before Connect
	ErrTypeNotConnected ErrorType = iota
	// ErrTypePortNotFound indicates no candidate serial port matched the hub
	ErrTypePortNotFound
	// ErrTypeHandshakeFailed indicates a port opened but did not answer the probe
	ErrTypeHandshakeFailed
	// ErrTypeTimeout indicates a request got no complete response in time
	ErrTypeTimeout
	// ErrTypeDisconnected indicates the serial link dropped mid-session
	ErrTypeDisconnected
	// ErrTypeParse indicates a malformed or length-inconsistent frame
	ErrTypeParse
	// ErrTypeDeviceOffline indicates the hub could not reach the dial on the bus
	ErrTypeDeviceOffline
	// ErrTypeI2C indicates a bus-level failure between hub and dial
	ErrTypeI2C
	// ErrTypeUnknownDevice indicates a UID not present in the registry
	ErrTypeUnknownDevice
	// ErrTypeInvalidArgument indicates a caller error caught before wire traffic
	ErrTypeInvalidArgument
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNotConnected:
		return "Not Connected"
	case ErrTypePortNotFound:
		return "Port Not Found"
	case ErrTypeHandshakeFailed:
		return "Handshake Failed"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeDisconnected:
		return "Disconnected"
	case ErrTypeParse:
		return "Parse Error"
	case ErrTypeDeviceOffline:
		return "Device Offline"
	case ErrTypeI2C:
		return "I2C Error"
	case ErrTypeUnknownDevice:
		return "Unknown Device"
	case ErrTypeInvalidArgument:
		return "Invalid Argument"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// HubError represents an error from hub or dial communication
type HubError struct {
	Type      ErrorType // Category of error
	Message   string    // Human-readable error message
	Err       error     // Underlying error (if any)
	Retryable bool      // Whether the caller may reasonably retry
}

// Error implements the error interface
func (e *HubError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *HubError) Unwrap() error {
	return e.Err
}

// NewNotConnectedError creates a not-connected error
func NewNotConnectedError() *HubError {
	return &HubError{
		Type:      ErrTypeNotConnected,
		Message:   "hub is not connected",
		Retryable: true,
	}
}

// NewPortNotFoundError creates a port-not-found error
func NewPortNotFoundError(message string) *HubError {
	return &HubError{
		Type:      ErrTypePortNotFound,
		Message:   message,
		Retryable: true,
	}
}

// NewHandshakeFailedError creates a handshake-failed error
func NewHandshakeFailedError(message string, err error) *HubError {
	return &HubError{
		Type:      ErrTypeHandshakeFailed,
		Message:   message,
		Err:       err,
		Retryable: true,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string) *HubError {
	return &HubError{
		Type:      ErrTypeTimeout,
		Message:   message,
		Retryable: true,
	}
}

// NewDisconnectedError creates a disconnected error
func NewDisconnectedError(err error) *HubError {
	return &HubError{
		Type:      ErrTypeDisconnected,
		Message:   "serial link lost",
		Err:       err,
		Retryable: false,
	}
}

// NewParseError creates a parse error
func NewParseError(message string) *HubError {
	return &HubError{
		Type:    ErrTypeParse,
		Message: message,
	}
}

// NewDeviceOfflineError creates a device-offline error
func NewDeviceOfflineError(message string) *HubError {
	return &HubError{
		Type:      ErrTypeDeviceOffline,
		Message:   message,
		Retryable: true,
	}
}

// NewI2CError creates an I2C bus error
func NewI2CError(message string) *HubError {
	return &HubError{
		Type:      ErrTypeI2C,
		Message:   message,
		Retryable: true,
	}
}

// NewUnknownDeviceError creates an unknown-device error for a UID
func NewUnknownDeviceError(uid UID) *HubError {
	return &HubError{
		Type:    ErrTypeUnknownDevice,
		Message: fmt.Sprintf("no online device with UID %s", uid),
	}
}

// NewInvalidArgumentError creates an invalid-argument error.
// These indicate programmer errors and are raised before any wire traffic.
func NewInvalidArgumentError(message string) *HubError {
	return &HubError{
		Type:    ErrTypeInvalidArgument,
		Message: message,
	}
}

// TypeOf extracts the ErrorType from an error chain.
// Returns ok=false if the chain contains no HubError.
func TypeOf(err error) (ErrorType, bool) {
	var he *HubError
	if errors.As(err, &he) {
		return he.Type, true
	}
	return 0, false
}

// IsType reports whether the error chain contains a HubError of the given type
func IsType(err error, t ErrorType) bool {
	et, ok := TypeOf(err)
	return ok && et == t
}

// IsRetryable reports whether the error chain contains a retryable HubError
func IsRetryable(err error) bool {
	var he *HubError
	if errors.As(err, &he) {
		return he.Retryable
	}
	return false
}
