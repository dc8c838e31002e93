package server

import (
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kverner/dialdeck/internal/config"
	"github.com/kverner/dialdeck/internal/display"
	"github.com/kverner/dialdeck/internal/logging"
	"github.com/kverner/dialdeck/internal/protocol"
	"github.com/kverner/dialdeck/internal/registry"
	"github.com/kverner/dialdeck/internal/version"
)

// maxImageBody bounds uploaded image size; a full-resolution PNG for the
// 200x144 panel is a few kilobytes, so this is generous
const maxImageBody = 4 << 20

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v0/status", s.handleStatus)
	mux.HandleFunc("POST /api/v0/discover", s.handleDiscover)
	mux.HandleFunc("GET /api/v0/dials", s.handleListDials)
	mux.HandleFunc("GET /api/v0/dials/{uid}", s.handleGetDial)
	mux.HandleFunc("POST /api/v0/dials/{uid}/value", s.handleSetValue)
	mux.HandleFunc("POST /api/v0/dials/{uid}/backlight", s.handleSetBacklight)
	mux.HandleFunc("POST /api/v0/dials/{uid}/name", s.handleSetName)
	mux.HandleFunc("POST /api/v0/dials/{uid}/calibration", s.handleSetCalibration)
	mux.HandleFunc("POST /api/v0/dials/{uid}/easing/dial", s.handleSetDialEasing)
	mux.HandleFunc("POST /api/v0/dials/{uid}/easing/backlight", s.handleSetBacklightEasing)
	mux.HandleFunc("POST /api/v0/dials/{uid}/image", s.handleSetImage)
	mux.HandleFunc("POST /api/v0/dials/{uid}/power", s.handlePower)
	mux.HandleFunc("POST /api/v0/dials/{uid}/reset", s.handleReset)
	mux.HandleFunc("GET /api/v0/events", s.handleEvents)

	return mux
}

// dialJSON is the wire shape of one dial snapshot
type dialJSON struct {
	UID      string `json:"uid"`
	Index    int    `json:"index"`
	Stage    string `json:"stage"`
	Name     string `json:"name"`
	Value    int    `json:"value"`
	Backlight struct {
		Red   int `json:"red"`
		Green int `json:"green"`
		Blue  int `json:"blue"`
		White int `json:"white"`
	} `json:"backlight"`
	DialEasing      easingJSON      `json:"dial_easing"`
	BacklightEasing easingJSON      `json:"backlight_easing"`
	Calibration     calibrationJSON `json:"calibration"`
	Firmware        string          `json:"fw_version"`
	Hardware        string          `json:"hw_version"`
	Protocol        string          `json:"protocol_version"`
	LastSeen        time.Time       `json:"last_seen"`
}

type easingJSON struct {
	Step     int `json:"step"`
	PeriodMs int `json:"period_ms"`
}

type calibrationJSON struct {
	Zero      int `json:"zero"`
	FullScale int `json:"full_scale"`
}

func toDialJSON(dev registry.Device) dialJSON {
	out := dialJSON{
		UID:      string(dev.UID),
		Index:    dev.Index,
		Stage:    dev.Stage.String(),
		Name:     dev.Name,
		Value:    dev.Value,
		Firmware: dev.Firmware,
		Hardware: dev.Hardware,
		Protocol: dev.Protocol,
		LastSeen: dev.LastSeen,
	}
	out.Backlight.Red = dev.Backlight.R
	out.Backlight.Green = dev.Backlight.G
	out.Backlight.Blue = dev.Backlight.B
	out.Backlight.White = dev.Backlight.W
	out.DialEasing = easingJSON{Step: dev.DialEasing.Step, PeriodMs: dev.DialEasing.PeriodMs}
	out.BacklightEasing = easingJSON{Step: dev.BacklightEasing.Step, PeriodMs: dev.BacklightEasing.PeriodMs}
	out.Calibration = calibrationJSON{Zero: dev.Calibration.Zero, FullScale: dev.Calibration.FullScale}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   version.Version,
		"connected": s.ctrl.Connected(),
		"dials":     len(s.ctrl.Devices()),
	})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Discover(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.handleListDials(w, r)
}

func (s *Server) handleListDials(w http.ResponseWriter, r *http.Request) {
	devices := s.ctrl.Devices()
	out := make([]dialJSON, 0, len(devices))
	for _, dev := range devices {
		out = append(out, toDialJSON(dev))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDial(w http.ResponseWriter, r *http.Request) {
	uid := protocol.UID(r.PathValue("uid"))
	dev, ok := s.ctrl.Device(uid)
	if !ok {
		writeError(w, protocol.NewUnknownDeviceError(uid))
		return
	}
	writeJSON(w, http.StatusOK, toDialJSON(dev))
}

func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value int `json:"value"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	s.finishCommand(w, r, s.ctrl.SetValue(pathUID(r), body.Value))
}

func (s *Server) handleSetBacklight(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Red   int `json:"red"`
		Green int `json:"green"`
		Blue  int `json:"blue"`
		White int `json:"white"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	s.finishCommand(w, r, s.ctrl.SetBacklight(pathUID(r), body.Red, body.Green, body.Blue, body.White))
}

func (s *Server) handleSetName(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	s.finishCommand(w, r, s.ctrl.SetName(pathUID(r), body.Name))
}

func (s *Server) handleSetCalibration(w http.ResponseWriter, r *http.Request) {
	var body calibrationJSON
	if !readJSON(w, r, &body) {
		return
	}
	cal := config.CalibrationMeta{Zero: body.Zero, FullScale: body.FullScale}
	s.finishCommand(w, r, s.ctrl.SetCalibration(pathUID(r), cal))
}

func (s *Server) handleSetDialEasing(w http.ResponseWriter, r *http.Request) {
	var body easingJSON
	if !readJSON(w, r, &body) {
		return
	}
	easing := config.EasingMeta{Step: body.Step, PeriodMs: body.PeriodMs}
	s.finishCommand(w, r, s.ctrl.SetDialEasing(pathUID(r), easing))
}

func (s *Server) handleSetBacklightEasing(w http.ResponseWriter, r *http.Request) {
	var body easingJSON
	if !readJSON(w, r, &body) {
		return
	}
	easing := config.EasingMeta{Step: body.Step, PeriodMs: body.PeriodMs}
	s.finishCommand(w, r, s.ctrl.SetBacklightEasing(pathUID(r), easing))
}

// handleSetImage decodes an uploaded PNG or JPEG, renders it for the
// e-paper panel and queues the transfer. The response is 202: the actual
// panel refresh happens on the controller's background queue.
func (s *Server) handleSetImage(w http.ResponseWriter, r *http.Request) {
	img, _, err := image.Decode(http.MaxBytesReader(w, r.Body, maxImageBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "body is not a decodable PNG or JPEG: " + err.Error(),
		})
		return
	}

	threshold := display.DefaultThreshold
	if q := r.URL.Query().Get("threshold"); q != "" {
		threshold, err = strconv.Atoi(q)
		if err != nil || threshold < 0 || threshold > 255 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "threshold must be an integer 0-255",
			})
			return
		}
	}

	buf, err := display.RenderWithThreshold(img, threshold)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.ctrl.QueueImage(pathUID(r), buf); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var body struct {
		On bool `json:"on"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	s.finishCommand(w, r, s.ctrl.Power(pathUID(r), body.On))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.finishCommand(w, r, s.ctrl.ResetConfig(pathUID(r)))
}

// finishCommand reports a command result: the fresh snapshot on success,
// a mapped error otherwise
func (s *Server) finishCommand(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if dev, ok := s.ctrl.Device(pathUID(r)); ok {
		writeJSON(w, http.StatusOK, toDialJSON(dev))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathUID(r *http.Request) protocol.UID {
	return protocol.UID(r.PathValue("uid"))
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps the engine's error taxonomy to HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var hubErr *protocol.HubError
	if errors.As(err, &hubErr) {
		switch hubErr.Type {
		case protocol.ErrTypeInvalidArgument:
			status = http.StatusBadRequest
		case protocol.ErrTypeUnknownDevice:
			status = http.StatusNotFound
		case protocol.ErrTypeNotConnected, protocol.ErrTypeDisconnected,
			protocol.ErrTypePortNotFound, protocol.ErrTypeHandshakeFailed:
			status = http.StatusServiceUnavailable
		case protocol.ErrTypeTimeout, protocol.ErrTypeDeviceOffline, protocol.ErrTypeI2C:
			status = http.StatusBadGateway
		}
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
