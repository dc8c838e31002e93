package transport

import (
	"io"
	"time"

	"github.com/tarm/serial"

	"github.com/kverner/dialdeck/internal/protocol"
)

const (
	// DefaultBaud is the hub's fixed line rate. The link is USB CDC so the
	// rate is nominal, but the open call still needs one.
	DefaultBaud = 115200

	// pollInterval is the native port's read timeout; the exchange loop
	// polls at this granularity until its own deadline expires
	pollInterval = 20 * time.Millisecond
)

// Operation-class timeouts. Writes cross the hub's I2C bus with a
// write-plus-acknowledge round trip and need roughly five times the query
// allowance; display operations wait on an e-paper refresh.
const (
	HandshakeTimeout = 500 * time.Millisecond
	QueryTimeout     = 250 * time.Millisecond
	WriteTimeout     = 5 * QueryTimeout
	DisplayTimeout   = 10 * time.Second
)

// Port is the raw byte channel to the hub. The abstraction exists so tests
// can substitute a scripted port for real hardware.
type Port interface {
	io.ReadWriteCloser
}

// OpenPort opens a native serial port at the hub's fixed settings
func OpenPort(path string) (Port, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        path,
		Baud:        DefaultBaud,
		ReadTimeout: pollInterval,
	})
	if err != nil {
		return nil, protocol.NewPortNotFoundError("failed to open " + path + ": " + err.Error())
	}
	return port, nil
}
