package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// UIDLen is the length in bytes of a dial's factory-programmed identifier
const UIDLen = 12

// UID is a dial's permanent identity, rendered as 24 uppercase hex
// characters. It is burned in at the factory and is the only identifier
// that survives power cycles and re-provisioning; runtime indices do not.
type UID string

// ParseUID converts the raw identifier bytes read off the wire into a UID
func ParseUID(raw []byte) (UID, error) {
	if len(raw) != UIDLen {
		return "", NewParseError(fmt.Sprintf("UID must be %d bytes, got %d", UIDLen, len(raw)))
	}
	return UID(strings.ToUpper(hex.EncodeToString(raw))), nil
}

// Bytes returns the UID's raw 12 byte form
func (u UID) Bytes() ([]byte, error) {
	raw, err := hex.DecodeString(string(u))
	if err != nil || len(raw) != UIDLen {
		return nil, NewInvalidArgumentError(fmt.Sprintf("malformed UID %q", string(u)))
	}
	return raw, nil
}

// Valid reports whether the UID is well formed
func (u UID) Valid() bool {
	_, err := u.Bytes()
	return err == nil
}
