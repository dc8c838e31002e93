// Package protocol implements the Dialdeck hub wire protocol.
//
// The hub speaks a line-framed ASCII-hex protocol over a USB serial port.
// Every exchange is a single request frame followed by a single response
// frame:
//
//	request:  >CCDDLLLL[DATA]
//	response: <CCDDLLLL[DATA]
//
// where CC is the command byte, DD is the data-shape tag, LLLL is the
// payload length in bytes and DATA is the payload, two uppercase hex
// characters per byte. A trailing CR/LF is emitted on send and tolerated on
// receive, but frame completion is always decided by the declared length,
// never by the terminator.
//
// # Shape tags
//
// The DD field classifies the payload's structure, not its meaning. The hub
// firmware dispatches on it: a frame carrying the right command with the
// wrong shape tag is silently dropped, which historically produced writes
// that "time out" while every query works. The mapping from command to
// required shape therefore lives in one explicit table (see Shapes) and is
// never chosen ad hoc by callers.
//
// # Status responses
//
// Mutating commands answer with a status frame: shape tag ShapeStatus and a
// two byte big-endian outcome code (OK, Fail, Timeout, DeviceOffline,
// I2CError). Use Frame.Status to decode it.
//
// # Usage
//
//	frame, err := protocol.NewSetValue(3, 66)
//	if err != nil {
//	    return err
//	}
//	resp, err := tr.Exchange(frame, transport.WriteTimeout)
//	if err != nil {
//	    return err
//	}
//	status, err := resp.Status()
//
// All construction and parsing functions are stateless and safe for
// concurrent use.
package protocol
