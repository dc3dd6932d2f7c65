// Package transport upgrades incoming HTTP requests to the signaling
// duplex channel and binds each connection into the hub: the
// Connection Interface of the design.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"relayhub/internal/hub"
	"relayhub/internal/peer"
	"relayhub/internal/signaling"
)

// pongWait bounds how long a connection may stay silent before it is
// considered dead; refreshed on every pong.
const pongWait = 60 * time.Second

// pingPeriod must be shorter than pongWait so a ping always lands
// before the peer's read deadline expires.
const pingPeriod = (pongWait * 9) / 10

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades /ws requests and runs each connection's receiver
// pump until the transport ends.
type Handler struct {
	hub *hub.Hub
	log *slog.Logger
}

func NewHandler(h *hub.Hub, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{hub: h, log: log.With("component", "transport")}
}

// ServeHTTP upgrades the request, attaches a fresh peer identity to
// the hub, and runs the receive pump until the socket closes. The
// sender side is the connection's own outbox writer goroutine
// (relayhub/internal/peer), started inside peer.NewConnection; the
// receive pump runs here, alongside a small ping goroutine that keeps
// the read deadline fresh.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err)
		return
	}

	wsConn := peer.NewConnection(conn)
	identity := hub.NewIdentity()

	h.hub.Attach(identity, wsConn)
	h.log.Debug("peer attached", "identity", identity)

	h.runReceivePump(wsConn, identity)
}

func (h *Handler) runReceivePump(conn *peer.Connection, identity string) {
	defer func() {
		h.hub.Detach(identity)
		_ = conn.Close()
		h.log.Debug("peer detached", "identity", identity)
	}()

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.pingLoop(conn, stopPing)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(conn, identity, data)
	}
}

func (h *Handler) pingLoop(conn *peer.Connection, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// dispatch parses one text frame and invokes the matching hub
// operation. A parse failure emits an Error envelope into the peer's
// own outbox and the receive pump continues, per the Connection
// Interface's Receiver semantics.
func (h *Handler) dispatch(conn *peer.Connection, identity string, data []byte) {
	env, err := signaling.ParseClientEnvelope(data)
	if err != nil {
		conn.Send(signaling.NewError("Invalid message format: " + err.Error()))
		return
	}

	switch e := env.(type) {
	case signaling.RegisterEnvelope:
		if err := h.hub.Register(identity, e.DisplayName); err != nil {
			conn.Send(signaling.NewError(err.Error()))
		}
	case signaling.DiscoverEnvelope:
		h.hub.Discover(identity)
	case signaling.OfferEnvelope:
		h.hub.Route(identity, e.TargetUserID, hub.KindOffer, json.RawMessage(e.Offer))
	case signaling.AnswerEnvelope:
		h.hub.Route(identity, e.TargetUserID, hub.KindAnswer, json.RawMessage(e.Answer))
	case signaling.IceCandidateEnvelope:
		h.hub.Route(identity, e.TargetUserID, hub.KindIceCandidate, json.RawMessage(e.Candidate))
	}
}
