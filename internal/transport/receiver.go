package transport

import (
	"fmt"

	"github.com/kverner/dialdeck/internal/protocol"
)

// receiver accumulates incoming bytes into one complete response frame.
// It is an explicit state machine: awaiting-start, accumulating-header,
// accumulating-payload. Frame completion is driven entirely by the length
// declared in the header.
type receiver struct {
	state recvState
	line  []byte // marker + header + payload hex, handed to protocol.Decode
	need  int    // hex chars still expected in the current state
}

type recvState int

const (
	recvAwaitStart recvState = iota
	recvHeader
	recvPayload
	recvComplete
)

func newReceiver() *receiver {
	return &receiver{state: recvAwaitStart}
}

// feed consumes one incoming byte. It returns true once a declared-length
// complete frame has accumulated. Bytes before the start marker are
// discarded; a terminator or any other non-hex byte arriving before the
// declared payload is complete is a parse error, never a short frame.
func (r *receiver) feed(b byte) (bool, error) {
	switch r.state {
	case recvAwaitStart:
		if b == protocol.ResponseMarker {
			r.line = append(r.line[:0], b)
			r.need = protocol.HeaderLen
			r.state = recvHeader
		}
		return false, nil

	case recvHeader:
		if !isHexChar(b) {
			r.reset()
			return false, protocol.NewParseError(fmt.Sprintf("non-hex byte 0x%02X in frame header", b))
		}
		r.line = append(r.line, b)
		r.need--
		if r.need > 0 {
			return false, nil
		}

		declared, err := headerLength(r.line[1+protocol.HeaderLen-4:])
		if err != nil {
			r.reset()
			return false, err
		}
		if declared == 0 {
			r.state = recvComplete
			return true, nil
		}
		r.need = 2 * declared
		r.state = recvPayload
		return false, nil

	case recvPayload:
		if !isHexChar(b) {
			r.reset()
			return false, protocol.NewParseError(fmt.Sprintf("payload ended %d hex chars short of declared length", r.need))
		}
		r.line = append(r.line, b)
		r.need--
		if r.need == 0 {
			r.state = recvComplete
			return true, nil
		}
		return false, nil

	default:
		return true, nil
	}
}

// frame decodes the accumulated line. Only valid after feed reported
// completion.
func (r *receiver) frame() (protocol.Frame, error) {
	return protocol.Decode(r.line)
}

func (r *receiver) reset() {
	r.state = recvAwaitStart
	r.line = r.line[:0]
	r.need = 0
}

func headerLength(hexLen []byte) (int, error) {
	n := 0
	for _, c := range hexLen {
		v, ok := hexVal(c)
		if !ok {
			return 0, protocol.NewParseError("malformed length field")
		}
		n = n<<4 | v
	}
	if n > protocol.MaxPayloadSize {
		return 0, protocol.NewParseError(fmt.Sprintf("declared length %d exceeds maximum %d", n, protocol.MaxPayloadSize))
	}
	return n, nil
}

func isHexChar(b byte) bool {
	_, ok := hexVal(b)
	return ok
}

func hexVal(b byte) (int, bool) {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0'), true
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10, true
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10, true
	default:
		return 0, false
	}
}
