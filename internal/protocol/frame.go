package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Frame markers and field widths
const (
	// RequestMarker starts every host-to-hub frame
	RequestMarker = '>'

	// ResponseMarker starts every hub-to-host frame
	ResponseMarker = '<'

	// HeaderLen is the number of hex characters following the marker:
	// command (2) + shape tag (2) + payload length (4)
	HeaderLen = 8

	// MaxPayloadSize is the maximum payload size in bytes (safety limit,
	// well above the largest real payload: a display chunk)
	MaxPayloadSize = 512
)

// Command identifies a hub operation (the CC field)
type Command byte

// Shape classifies a payload's structure (the DD field)
type Shape byte

// Shape tag values. The tag describes the payload's structure only; the
// receiver dispatches on it and silently ignores frames tagged with a shape
// it does not expect for the command.
const (
	// ShapeEmpty tags commands that carry no payload
	ShapeEmpty Shape = 0x00

	// ShapeSingle tags a single scalar payload (e.g. a runtime index)
	ShapeSingle Shape = 0x01

	// ShapePair tags an ordered key-value payload (e.g. index + value)
	ShapePair Shape = 0x02

	// ShapeRecord tags a multi-field record payload (e.g. index + RGBW)
	ShapeRecord Shape = 0x03

	// ShapeStatus tags a two byte outcome-code payload
	ShapeStatus Shape = 0x0F
)

// Frame represents one complete protocol message
type Frame struct {
	Cmd     Command
	Shape   Shape
	Payload []byte
}

// Encode renders the frame as a request line, ready to write to the hub.
// All fields are fixed width uppercase hex; the line ends with CR LF.
func (f Frame) Encode() ([]byte, error) {
	return f.encode(RequestMarker)
}

// EncodeResponse renders the frame as a response line. Only used by tests
// and hub simulators; real responses come from the wire.
func (f Frame) EncodeResponse() ([]byte, error) {
	return f.encode(ResponseMarker)
}

func (f Frame) encode(marker byte) ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, NewInvalidArgumentError(fmt.Sprintf("payload too large: %d bytes (max %d)", len(f.Payload), MaxPayloadSize))
	}

	var b strings.Builder
	b.Grow(1 + HeaderLen + 2*len(f.Payload) + 2)
	b.WriteByte(marker)
	fmt.Fprintf(&b, "%02X%02X%04X", byte(f.Cmd), byte(f.Shape), len(f.Payload))
	b.WriteString(strings.ToUpper(hex.EncodeToString(f.Payload)))
	b.WriteString("\r\n")

	return []byte(b.String()), nil
}

// Decode parses one complete frame line. The input must start with a request
// or response marker and contain the full declared payload; a declared
// length that does not match the hex characters actually present is a parse
// error, never a silent truncation. Trailing CR/LF is ignored.
func Decode(line []byte) (Frame, error) {
	line = bytes.TrimRight(line, "\r\n")

	if len(line) == 0 {
		return Frame{}, NewParseError("empty frame")
	}
	if line[0] != RequestMarker && line[0] != ResponseMarker {
		return Frame{}, NewParseError(fmt.Sprintf("invalid start marker: %q", line[0]))
	}
	if len(line) < 1+HeaderLen {
		return Frame{}, NewParseError(fmt.Sprintf("frame too short: %d chars (header needs %d)", len(line)-1, HeaderLen))
	}

	header, err := hex.DecodeString(string(line[1 : 1+HeaderLen]))
	if err != nil {
		return Frame{}, NewParseError(fmt.Sprintf("malformed header: %v", err))
	}

	declared := int(header[2])<<8 | int(header[3])
	if declared > MaxPayloadSize {
		return Frame{}, NewParseError(fmt.Sprintf("declared length %d exceeds maximum %d", declared, MaxPayloadSize))
	}

	body := line[1+HeaderLen:]
	if len(body) != 2*declared {
		return Frame{}, NewParseError(fmt.Sprintf("declared %d payload bytes but %d hex chars present", declared, len(body)))
	}

	payload, err := hex.DecodeString(string(body))
	if err != nil {
		return Frame{}, NewParseError(fmt.Sprintf("malformed payload: %v", err))
	}
	if declared == 0 {
		payload = nil
	}

	return Frame{
		Cmd:     Command(header[0]),
		Shape:   Shape(header[1]),
		Payload: payload,
	}, nil
}

// Status decodes the frame's payload as an outcome code. It fails if the
// frame is not status-shaped or the payload is not exactly two bytes.
func (f Frame) Status() (Status, error) {
	if f.Shape != ShapeStatus {
		return StatusUnknown, NewParseError(fmt.Sprintf("frame shape 0x%02X is not a status frame", byte(f.Shape)))
	}
	if len(f.Payload) != 2 {
		return StatusUnknown, NewParseError(fmt.Sprintf("status payload must be 2 bytes, got %d", len(f.Payload)))
	}

	code := uint16(f.Payload[0])<<8 | uint16(f.Payload[1])
	return statusFromCode(code), nil
}

// String returns a debug representation of the frame
func (f Frame) String() string {
	return fmt.Sprintf("Frame{cmd=0x%02X, shape=0x%02X, payload=%d bytes}",
		byte(f.Cmd), byte(f.Shape), len(f.Payload))
}

// ShapeName returns a human-readable name for a shape tag
func ShapeName(s Shape) string {
	switch s {
	case ShapeEmpty:
		return "empty"
	case ShapeSingle:
		return "single"
	case ShapePair:
		return "pair"
	case ShapeRecord:
		return "record"
	case ShapeStatus:
		return "status"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(s))
	}
}
