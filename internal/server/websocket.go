package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kverner/dialdeck/internal/dial"
	"github.com/kverner/dialdeck/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon serves trusted local clients; browser dashboards on
	// other origins are expected
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventJSON is the wire shape of one controller event
type eventJSON struct {
	Type    string     `json:"type"`
	Time    time.Time  `json:"time"`
	UID     string     `json:"uid,omitempty"`
	Device  *dialJSON  `json:"device,omitempty"`
	Devices []dialJSON `json:"devices,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func toEventJSON(ev dial.Event) eventJSON {
	out := eventJSON{
		Type: ev.Type.String(),
		Time: ev.Time,
		UID:  string(ev.UID),
	}
	if ev.Device != nil {
		d := toDialJSON(*ev.Device)
		out.Device = &d
	}
	for _, dev := range ev.Devices {
		out.Devices = append(out.Devices, toDialJSON(dev))
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}

// handleEvents upgrades the connection and streams controller events as
// JSON text messages until the client disconnects or the controller
// closes. Each client gets its own subscription; a client that stops
// reading loses events rather than stalling the controller.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	events, cancel := s.ctrl.Subscribe()

	logging.Info("Event subscriber connected",
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	// Reader goroutine: the client sends nothing we care about, but we
	// must service control frames and notice the close
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		cancel()
		_ = conn.Close()
		logging.Info("Event subscriber disconnected",
			zap.String("remote_addr", conn.RemoteAddr().String()),
		)
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Controller closed; tell the client why before hanging up
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "controller closed"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(toEventJSON(ev)); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
