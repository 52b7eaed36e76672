package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"

	"courtroom/api/internal/court"
	"courtroom/api/internal/replay"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 20
	maxDecodeErrorsPerConn = 3
	wsWriteTimeout         = 5 * time.Second
	pushTimeout            = 5 * time.Second
)

const (
	frameRegister = "court.register"
	frameAction   = "court.action"
	frameFetch    = "court.fetch"
	frameAck      = "court.ack"
	frameState    = "court.state"
	frameError    = "court.error"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type registerPayload struct {
	UserID string `json:"user_id"`
}

type actionPayload struct {
	Action string       `json:"action"`
	Args   court.Action `json:"args"`
}

type ackPayload struct {
	State *court.View `json:"state,omitempty"`
	Error *errorBody  `json:"error,omitempty"`
}

type statePayload struct {
	State court.View `json:"state"`
}

type wsPeer struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	enc    *json.Encoder
	userID string
}

func newWSPeer(conn *websocket.Conn, userID string) *wsPeer {
	return &wsPeer{conn: conn, enc: json.NewEncoder(conn), userID: userID}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return p.enc.Encode(frame)
}

// Hub owns the push channel. It answers frames from each socket and, on
// every session update, pushes a fresh projection to the registered
// sockets of the affected users.
type Hub struct {
	service *Service
	log     *logrus.Logger
	server  websocket.Server

	mu    sync.Mutex
	peers map[string]map[*wsPeer]struct{}
}

func NewHub(service *Service) *Hub {
	h := &Hub{
		service: service,
		log:     service.log,
		peers:   make(map[string]map[*wsPeer]struct{}),
	}
	h.server = websocket.Server{
		// Origin is enforced by the bearer token, not the Origin header.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serveConn,
	}
	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.server.ServeHTTP(w, r)
}

// Run subscribes to session updates until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	return h.service.Notifier().Subscribe(ctx, func(update replay.Update) {
		h.deliver(ctx, update)
	})
}

func (h *Hub) register(peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.peers[peer.userID]
	if !ok {
		set = make(map[*wsPeer]struct{})
		h.peers[peer.userID] = set
	}
	set[peer] = struct{}{}
}

func (h *Hub) unregister(peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.peers[peer.userID]
	if !ok {
		return
	}
	delete(set, peer)
	if len(set) == 0 {
		delete(h.peers, peer.userID)
	}
}

func (h *Hub) peersFor(userID string) []*wsPeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.peers[userID]
	out := make([]*wsPeer, 0, len(set))
	for peer := range set {
		out = append(out, peer)
	}
	return out
}

// Connected reports how many sockets are registered for userID.
func (h *Hub) Connected(userID string) int {
	return len(h.peersFor(userID))
}

func (h *Hub) deliver(ctx context.Context, update replay.Update) {
	for _, userID := range update.UserIDs {
		peers := h.peersFor(userID)
		if len(peers) == 0 {
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		view, err := h.service.State(pushCtx, userID)
		cancel()
		if err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "session_id": update.SessionID}).Warn("push state failed")
			continue
		}
		frame := wsFrame{Type: frameState, Payload: mustJSON(statePayload{State: view})}
		for _, peer := range peers {
			if err := peer.writeFrame(frame); err != nil {
				h.unregister(peer)
				_ = peer.conn.Close()
			}
		}
	}
}

func (h *Hub) serveConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	ctx := conn.Request().Context()
	peer := newWSPeer(conn, userIDFrom(ctx))
	defer h.unregister(peer)

	decoder := json.NewDecoder(conn)
	registered := false
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if !isMalformedJSON(err) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, frameError, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			decoder = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frameAck, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, frameAck, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case frameRegister:
			if h.handleRegister(ctx, peer, frame) {
				registered = true
			}
		case frameAction, frameFetch:
			if !registered {
				_ = writeWSError(peer, frameAck, frame.RequestID, "FORBIDDEN", "register before sending court frames")
				continue
			}
			if frame.Type == frameAction {
				h.handleAction(ctx, peer, frame)
			} else {
				h.writeState(ctx, peer, frame.RequestID)
			}
		default:
			_ = writeWSError(peer, frameAck, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func (h *Hub) handleRegister(ctx context.Context, peer *wsPeer, frame wsFrame) bool {
	var payload registerPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frameAck, frame.RequestID, "INVALID_ARGUMENT", "invalid register payload")
		return false
	}
	if strings.TrimSpace(payload.UserID) != peer.userID {
		_ = writeWSError(peer, frameAck, frame.RequestID, "FORBIDDEN", "user_id does not match the authenticated user")
		return false
	}
	h.register(peer)
	h.writeState(ctx, peer, frame.RequestID)
	return true
}

func (h *Hub) handleAction(ctx context.Context, peer *wsPeer, frame wsFrame) {
	var payload actionPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frameAck, frame.RequestID, "INVALID_ARGUMENT", "invalid action payload")
		return
	}
	kind, err := court.ParseActionKind(payload.Action)
	if err != nil {
		h.writeErrorAck(peer, frame.RequestID, err)
		return
	}
	action := payload.Args
	action.Kind = kind

	view, err := h.service.Dispatch(ctx, peer.userID, frame.RequestID, action)
	if err != nil {
		h.writeErrorAck(peer, frame.RequestID, err)
		return
	}
	_ = peer.writeFrame(wsFrame{Type: frameAck, RequestID: frame.RequestID, Payload: mustJSON(ackPayload{State: &view})})
}

func (h *Hub) writeState(ctx context.Context, peer *wsPeer, requestID string) {
	view, err := h.service.State(ctx, peer.userID)
	if err != nil {
		h.writeErrorAck(peer, requestID, err)
		return
	}
	_ = peer.writeFrame(wsFrame{Type: frameAck, RequestID: requestID, Payload: mustJSON(ackPayload{State: &view})})
}

func (h *Hub) writeErrorAck(peer *wsPeer, requestID string, err error) {
	mapped := mapError(err)
	if mapped.Status >= http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{"user_id": peer.userID, "request_id": requestID}).Error("websocket request failed")
	}
	_ = writeWSError(peer, frameAck, requestID, mapped.Code, mapped.Message)
}

func writeWSError(peer *wsPeer, frameType, requestID, code, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      frameType,
		RequestID: requestID,
		Payload:   mustJSON(ackPayload{Error: &errorBody{Code: code, Message: message}}),
	})
}

// isMalformedJSON separates bad client input from a closed or broken socket.
func isMalformedJSON(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
