package signalling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func TestClientReceivesTextEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		msg, err := encode(OpHello, HelloPayload{HeartbeatIntervalMS: 5000})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case ev := <-client.Events():
		require.NoError(t, ev.Err)
		assert.Equal(t, EventText, ev.Kind)
		assert.Equal(t, OpHello, ev.Op)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestClientReceivesBinaryDAVEEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		frame := []byte{0x00, 0x01, OpDAVEMlsWelcome, 0xAA}
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case ev := <-client.Events():
		require.NoError(t, ev.Err)
		assert.Equal(t, EventBinary, ev.Kind)
		assert.Equal(t, uint8(OpDAVEMlsWelcome), ev.Frame.Opcode)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestClientEventsClosedOnDisconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case ev, ok := <-client.Events():
		require.True(t, ok)
		assert.Equal(t, EventClosed, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close event")
	}
}

func TestSendJSONWritesFrame(t *testing.T) {
	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- data
		}
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SendJSON(OpIdentify, IdentifyPayload{ServerID: "s", UserID: "u", SessionID: "sess", Token: "tok"}))

	select {
	case data := <-received:
		assert.Contains(t, string(data), `"server_id":"s"`)
	case <-time.After(time.Second):
		t.Fatal("server never received message")
	}
}
