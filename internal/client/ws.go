package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"courtroom/api/internal/court"
	"courtroom/api/internal/util"
)

const (
	frameRegister = "court.register"
	frameAction   = "court.action"
	frameFetch    = "court.fetch"
	frameAck      = "court.ack"
	frameState    = "court.state"

	wsWriteTimeout = 5 * time.Second
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsAck struct {
	State *court.View `json:"state,omitempty"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// WSTransport is one registered push connection. Acks are matched to
// requests by request id; pushes go to the onPush callback.
type WSTransport struct {
	conn       *websocket.Conn
	onPush     func(court.View)
	ackTimeout func(court.ActionKind) time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan wsAck
	closed  bool
	done    chan struct{}
}

type WSConfig struct {
	URL    string
	Origin string
	Token  string
	UserID string
	// AckTimeout overrides the per-action ack timeout.
	AckTimeout func(court.ActionKind) time.Duration
}

// DialWS connects and registers userID. The registration ack carries the
// current view, which is delivered through onPush like any other push.
func DialWS(ctx context.Context, cfg WSConfig, onPush func(court.View)) (*WSTransport, error) {
	origin := cfg.Origin
	if origin == "" {
		origin = "http://localhost/"
	}
	wsConfig, err := websocket.NewConfig(cfg.URL, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	wsConfig.Header = http.Header{}
	if cfg.Token != "" {
		wsConfig.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	conn, err := wsConfig.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	t := &WSTransport{
		conn:       conn,
		onPush:     onPush,
		ackTimeout: cfg.AckTimeout,
		pending:    make(map[string]chan wsAck),
		done:       make(chan struct{}),
	}
	if t.ackTimeout == nil {
		t.ackTimeout = AckTimeout
	}
	if t.onPush == nil {
		t.onPush = func(court.View) {}
	}
	go t.readLoop()

	view, err := t.roundTrip(ctx, frameRegister, util.NewID("reg"), map[string]string{"user_id": strings.TrimSpace(cfg.UserID)}, DefaultAckTimeout)
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("register: %w", err)
	}
	t.onPush(view)
	return t, nil
}

func (t *WSTransport) Send(ctx context.Context, requestID string, action court.Action) (court.View, error) {
	payload := struct {
		Action string       `json:"action"`
		Args   court.Action `json:"args"`
	}{Action: string(action.Kind), Args: action}
	return t.roundTrip(ctx, frameAction, requestID, payload, t.ackTimeout(action.Kind))
}

func (t *WSTransport) Fetch(ctx context.Context) (court.View, error) {
	return t.roundTrip(ctx, frameFetch, util.NewID("fetch"), struct{}{}, DefaultAckTimeout)
}

func (t *WSTransport) Done() <-chan struct{} {
	return t.done
}

func (t *WSTransport) Close() error {
	return t.conn.Close()
}

func (t *WSTransport) roundTrip(ctx context.Context, frameType, requestID string, payload any, timeout time.Duration) (court.View, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return court.View{}, fmt.Errorf("encode %s: %w", frameType, err)
	}
	ackCh, err := t.expect(requestID)
	if err != nil {
		return court.View{}, err
	}
	defer t.forget(requestID)

	if err := t.write(wsFrame{Type: frameType, RequestID: requestID, Payload: raw}); err != nil {
		return court.View{}, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ack, ok := <-ackCh:
		if !ok {
			return court.View{}, ErrNotConnected
		}
		if ack.Error != nil {
			return court.View{}, &Error{Code: ack.Error.Code, Message: ack.Error.Message, RequestID: requestID}
		}
		if ack.State == nil {
			return court.View{}, fmt.Errorf("%s ack without state", frameType)
		}
		return *ack.State, nil
	case <-timer.C:
		return court.View{}, ErrAckTimeout
	case <-ctx.Done():
		return court.View{}, ctx.Err()
	}
}

func (t *WSTransport) expect(requestID string) (chan wsAck, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrNotConnected
	}
	ch := make(chan wsAck, 1)
	t.pending[requestID] = ch
	return ch, nil
}

func (t *WSTransport) forget(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, requestID)
}

func (t *WSTransport) write(frame wsFrame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return websocket.JSON.Send(t.conn, frame)
}

func (t *WSTransport) readLoop() {
	defer t.shutdown()
	for {
		var frame wsFrame
		if err := websocket.JSON.Receive(t.conn, &frame); err != nil {
			return
		}
		switch frame.Type {
		case frameAck:
			var ack wsAck
			if err := json.Unmarshal(frame.Payload, &ack); err != nil {
				continue
			}
			t.mu.Lock()
			ch, ok := t.pending[frame.RequestID]
			t.mu.Unlock()
			if ok {
				select {
				case ch <- ack:
				default:
				}
			}
		case frameState:
			var push struct {
				State court.View `json:"state"`
			}
			if err := json.Unmarshal(frame.Payload, &push); err != nil {
				continue
			}
			t.onPush(push.State)
		}
	}
}

func (t *WSTransport) shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	close(t.done)
	_ = t.conn.Close()
}
