package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gloworm-vision/motorbench/hardware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const wsWriteWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// hub fans driver state changes out to every connected websocket client.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	logger  logrus.FieldLogger
}

func newHub(logger logrus.FieldLogger) *hub {
	return &hub{clients: make(map[*websocket.Conn]bool), logger: logger}
}

func (h *hub) add(ws *websocket.Conn, initial stateResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[ws] = true
	if err := h.write(ws, initial); err != nil {
		h.drop(ws)
	}
}

func (h *hub) remove(ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.drop(ws)
}

// drop requires h.mu.
func (h *hub) drop(ws *websocket.Conn) {
	if !h.clients[ws] {
		return
	}
	delete(h.clients, ws)
	_ = ws.Close()
}

// write requires h.mu.
func (h *hub) write(ws *websocket.Conn, v interface{}) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(v)
}

func (h *hub) broadcast(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if err := h.write(client, v); err != nil {
			h.logger.WithError(err).Debug("dropping websocket client")
			h.drop(client)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.drop(client)
	}
}

func (s *Server) websocket(res http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(res, req, nil)
	if err != nil {
		s.Logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	s.hub.add(ws, s.currentState())

	// clients only listen; reading detects the close
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			s.hub.remove(ws)
			return
		}
	}
}

func (s *Server) publishState(state hardware.State) {
	s.hub.broadcast(stateResponse{State: state, Backend: s.drivers.Backend()})
}
