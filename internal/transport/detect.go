package transport

import (
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/kverner/dialdeck/internal/logging"
	"github.com/kverner/dialdeck/internal/protocol"
)

// usbSignatures are substrings matched case-insensitively against the
// stable by-id names Linux gives USB serial devices. The hub enumerates
// with a CH340 bridge, so both the product name and the bridge show up.
var usbSignatures = []string{
	"dialdeck",
	"vu1",
	"ch340",
	"usb_serial",
}

// candidateGlobs returns the port path patterns to probe on this OS, most
// specific first
func candidateGlobs() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/dev/cu.usbmodem*", "/dev/cu.usbserial*"}
	default:
		return []string{"/dev/serial/by-id/*", "/dev/ttyACM*", "/dev/ttyUSB*"}
	}
}

// candidatePorts enumerates the serial ports worth probing. by-id entries
// that match no known signature are skipped; bare tty nodes carry no
// identity and are always probed.
func candidatePorts() []string {
	seen := make(map[string]bool)
	var paths []string

	for _, glob := range candidateGlobs() {
		matches, err := filepath.Glob(glob)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if strings.Contains(m, "by-id") && !matchesSignature(m) {
				continue
			}
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	return paths
}

func matchesSignature(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, sig := range usbSignatures {
		if strings.Contains(name, sig) {
			return true
		}
	}
	return false
}

// Detect enumerates candidate serial ports and returns a transport on the
// first one that answers the handshake. The probe is cheap: open, one
// protocol-version exchange, close on failure.
func Detect() (*Transport, error) {
	candidates := candidatePorts()
	if len(candidates) == 0 {
		return nil, protocol.NewPortNotFoundError("no candidate serial ports present")
	}

	logging.Debug("Probing candidate ports", zap.Strings("candidates", candidates))

	for _, path := range candidates {
		t, err := Open(path)
		if err != nil {
			logging.Debug("Candidate rejected", zap.String("port", path), zap.Error(err))
			continue
		}
		logging.Info("Hub detected", zap.String("port", path))
		return t, nil
	}

	return nil, protocol.NewPortNotFoundError("no hub answered on any candidate port")
}
