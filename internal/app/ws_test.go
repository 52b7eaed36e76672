package app

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"courtroom/api/internal/auth"
	"courtroom/api/internal/court"
)

func newTestWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc, _ := newTestService(t, Deps{})
	hub := NewHub(svc)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, hub.Run(ctx))

	server := httptest.NewServer(NewHTTPServer(svc, hub, HTTPOptions{JWTSecret: testSecret}).Handler())
	t.Cleanup(server.Close)
	return server
}

func dialAs(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	token, err := auth.IssueToken(testSecret, userID, "", time.Hour)
	require.NoError(t, err)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?access_token=" + url.QueryEscape(token)
	conn, err := websocket.Dial(wsURL, "", server.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frameType, requestID string, payload any) {
	t.Helper()
	frame := wsFrame{Type: frameType, RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		frame.Payload = raw
	}
	require.NoError(t, websocket.JSON.Send(conn, frame))
}

// awaitFrame reads until a frame of frameType (and requestID, when set)
// arrives. Pushes interleave with acks, so other frames are skipped.
func awaitFrame(t *testing.T, conn *websocket.Conn, frameType, requestID string) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var frame wsFrame
		require.NoError(t, websocket.JSON.Receive(conn, &frame))
		if frame.Type != frameType {
			continue
		}
		if requestID != "" && frame.RequestID != requestID {
			continue
		}
		return frame
	}
}

func decodeAck(t *testing.T, frame wsFrame) ackPayload {
	t.Helper()
	var ack ackPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &ack))
	return ack
}

func TestWebsocketRegisterActionAndPush(t *testing.T) {
	server := newTestWSServer(t)
	aliceConn := dialAs(t, server, alice)
	bobConn := dialAs(t, server, bob)

	sendFrame(t, aliceConn, frameRegister, "reg-a", registerPayload{UserID: alice})
	ack := decodeAck(t, awaitFrame(t, aliceConn, frameAck, "reg-a"))
	require.NotNil(t, ack.State)
	assert.Equal(t, court.ViewIdle, ack.State.Phase)

	sendFrame(t, bobConn, frameRegister, "reg-b", registerPayload{UserID: bob})
	awaitFrame(t, bobConn, frameAck, "reg-b")

	sendFrame(t, aliceConn, frameAction, "act-1", actionPayload{
		Action: string(court.ActionServe),
		Args:   court.Action{PartnerID: bob, JudgeType: "gentle"},
	})
	ack = decodeAck(t, awaitFrame(t, aliceConn, frameAck, "act-1"))
	require.Nil(t, ack.Error)
	require.NotNil(t, ack.State)
	assert.Equal(t, court.ViewPendingCreator, ack.State.Phase)

	var pushed statePayload
	require.NoError(t, json.Unmarshal(awaitFrame(t, bobConn, frameState, "").Payload, &pushed))
	assert.Equal(t, court.ViewPendingPartner, pushed.State.Phase)
	assert.Equal(t, ack.State.Session.ID, pushed.State.Session.ID)

	sendFrame(t, bobConn, frameAction, "act-2", actionPayload{Action: string(court.ActionAccept)})
	ack = decodeAck(t, awaitFrame(t, bobConn, frameAck, "act-2"))
	require.NotNil(t, ack.State)
	assert.Equal(t, court.ViewEvidence, ack.State.Phase)

	sendFrame(t, aliceConn, frameFetch, "fetch-1", nil)
	ack = decodeAck(t, awaitFrame(t, aliceConn, frameAck, "fetch-1"))
	require.NotNil(t, ack.State)
	assert.Equal(t, court.ViewEvidence, ack.State.Phase)
}

func TestWebsocketRejectsRejectedActionsWithCode(t *testing.T) {
	server := newTestWSServer(t)
	conn := dialAs(t, server, alice)

	sendFrame(t, conn, frameRegister, "reg", registerPayload{UserID: alice})
	awaitFrame(t, conn, frameAck, "reg")

	sendFrame(t, conn, frameAction, "bad", actionPayload{Action: string(court.ActionAccept)})
	ack := decodeAck(t, awaitFrame(t, conn, frameAck, "bad"))
	require.NotNil(t, ack.Error)
	assert.Equal(t, "NO_SESSION", ack.Error.Code)

	sendFrame(t, conn, frameAction, "unknown", actionPayload{Action: "explode"})
	ack = decodeAck(t, awaitFrame(t, conn, frameAck, "unknown"))
	require.NotNil(t, ack.Error)
	assert.Equal(t, "UNKNOWN_ACTION", ack.Error.Code)
}

func TestWebsocketRequiresMatchingRegister(t *testing.T) {
	server := newTestWSServer(t)
	conn := dialAs(t, server, alice)

	sendFrame(t, conn, frameFetch, "early", nil)
	ack := decodeAck(t, awaitFrame(t, conn, frameAck, "early"))
	require.NotNil(t, ack.Error)
	assert.Equal(t, "FORBIDDEN", ack.Error.Code)

	sendFrame(t, conn, frameRegister, "spoof", registerPayload{UserID: bob})
	ack = decodeAck(t, awaitFrame(t, conn, frameAck, "spoof"))
	require.NotNil(t, ack.Error)
	assert.Equal(t, "FORBIDDEN", ack.Error.Code)

	sendFrame(t, conn, frameAction, "still-early", actionPayload{Action: string(court.ActionServe), Args: court.Action{PartnerID: bob}})
	ack = decodeAck(t, awaitFrame(t, conn, frameAck, "still-early"))
	require.NotNil(t, ack.Error)
	assert.Equal(t, "FORBIDDEN", ack.Error.Code)
}

func TestWebsocketMalformedFrame(t *testing.T) {
	server := newTestWSServer(t)
	conn := dialAs(t, server, alice)

	_, err := conn.Write([]byte(`{"type":}`))
	require.NoError(t, err)

	frame := awaitFrame(t, conn, frameError, "")
	ack := decodeAck(t, frame)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "INVALID_ARGUMENT", ack.Error.Code)
}

func TestWebsocketRequiresToken(t *testing.T) {
	server := newTestWSServer(t)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, err := websocket.Dial(wsURL, "", server.URL)
	require.Error(t, err)
}
