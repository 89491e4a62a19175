package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"restaurant-pos/internal/common/logger"
	"restaurant-pos/internal/common/metrics"
	"restaurant-pos/internal/microservices/notificator/service"
)

const maxDecodeErrors = 5

type clientFrame struct {
	Type string `json:"type"`
}

// WSHandler upgrades display connections and relays hub frames to them.
// Clients send {"type":"join-kitchen"} or {"type":"join-orders"} (and the
// matching leave-*) to pick channels.
type WSHandler struct {
	hub     *service.Hub
	metrics *metrics.Metrics
	lg      *logger.Logger
	server  websocket.Server
}

func NewWSHandler(hub *service.Hub, m *metrics.Metrics) *WSHandler {
	h := &WSHandler{hub: hub, metrics: m, lg: logger.New("ws-handler")}
	h.server = websocket.Server{
		// Displays run on LAN kiosks that often omit Origin.
		Handshake: func(cfg *websocket.Config, r *http.Request) error {
			cfg.Origin, _ = websocket.Origin(cfg, r)
			return nil
		},
		Handler: h.serve,
	}
	return h
}

func (h *WSHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /ws", h)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.server.ServeHTTP(w, r)
}

func (h *WSHandler) serve(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	sub := h.hub.Subscribe()
	if h.metrics != nil {
		h.metrics.WebSocketClients.Inc()
		defer h.metrics.WebSocketClients.Dec()
	}
	remote := conn.Request().RemoteAddr
	h.lg.Debug("ws_connected", map[string]any{"remote": remote})

	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(conn)
		for f := range sub.Frames() {
			if err := enc.Encode(f); err != nil {
				_ = conn.Close()
				for range sub.Frames() {
				}
				return
			}
		}
	}()

	h.readLoop(conn, sub)
	h.hub.Unsubscribe(sub)
	<-done
	h.lg.Debug("ws_disconnected", map[string]any{"remote": remote})
}

func (h *WSHandler) readLoop(conn *websocket.Conn, sub *service.Subscriber) {
	dec := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var frame clientFrame
		if err := dec.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return
			}
			decodeErrors++
			h.hub.Deliver(sub, service.Frame{Type: service.FrameError, Message: "invalid frame"})
			if decodeErrors >= maxDecodeErrors {
				return
			}
			dec = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0
		h.handleFrame(sub, frame)
	}
}

func (h *WSHandler) handleFrame(sub *service.Subscriber, frame clientFrame) {
	action, channel, ok := strings.Cut(frame.Type, "-")
	if !ok || (action != "join" && action != "leave") {
		h.hub.Deliver(sub, service.Frame{Type: service.FrameError, Message: "unsupported frame type " + frame.Type})
		return
	}
	if action == "leave" {
		h.hub.Leave(sub, channel)
		h.hub.Deliver(sub, service.Frame{Type: service.FrameLeft, Channel: channel})
		return
	}
	if err := h.hub.Join(sub, channel); err != nil {
		h.hub.Deliver(sub, service.Frame{Type: service.FrameError, Message: err.Error()})
		return
	}
	h.hub.Deliver(sub, service.Frame{Type: service.FrameJoined, Channel: channel})
}
