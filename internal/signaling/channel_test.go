package signaling_test

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

	"github.com/visiontec/kioskcall/internal/signaling"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		secure bool
		want   string
		config bool
	}{
		{name: "empty", raw: "", config: true},
		{name: "whitespace only", raw: "   ", config: true},
		{name: "no host", raw: "ws://", config: true},
		{name: "http scheme rejected", raw: "http://calls.example.com/ws", config: true},
		{name: "wss passes through", raw: "wss://calls.example.com/ws", secure: true, want: "wss://calls.example.com/ws"},
		{name: "ws upgraded in secure context", raw: "ws://calls.example.com/ws", secure: true, want: "wss://calls.example.com/ws"},
		{name: "ws kept without secure context", raw: "ws://calls.example.com/ws", secure: false, want: "ws://calls.example.com/ws"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := signaling.NormalizeURL(tc.raw, tc.secure)
			if tc.config {
				require.ErrorIs(t, err, signaling.ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCloseText(t *testing.T) {
	tests := []struct {
		code   int
		reason string
		want   string
	}{
		{1000, "", "connection closed normally"},
		{1001, "", "signaling server is restarting"},
		{1002, "", "closed due to a protocol violation"},
		{1003, "", "closed due to unsupported data"},
		{1006, "", "abnormal disconnect from signaling server"},
		{4000, "", "connection closed"},
		{0, "kicked", "connection closed"},
		{0, "", ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, signaling.CloseText(tc.code, tc.reason), "code=%d reason=%q", tc.code, tc.reason)
	}
}

// serve starts a test websocket endpoint and hands the upgraded server-side
// connection to fn.
func serve(t *testing.T, fn func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// nextEvent reads one event with a deadline so a broken pump fails fast.
func nextEvent(t *testing.T, ch *signaling.Channel) signaling.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel event")
		return signaling.Event{}
	}
}

func TestChannelDeliversFramesAndClose(t *testing.T) {
	url := serve(t, func(conn *websocket.Conn) {
		// One valid frame, one unparseable frame, one typeless frame, then a
		// clean going-away close.
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"joined","room":"r1"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"room":"r1"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start"}`))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"),
			time.Now().Add(time.Second))
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	})

	ch, err := signaling.Connect(context.Background(), url)
	require.NoError(t, err)
	defer ch.Close()

	ev := nextEvent(t, ch)
	require.Equal(t, signaling.EventOpen, ev.Kind)

	ev = nextEvent(t, ch)
	require.Equal(t, signaling.EventMessage, ev.Kind)
	assert.Equal(t, signaling.TypeJoined, ev.Msg.Type)
	assert.Equal(t, "r1", ev.Msg.Room)

	// The two bad frames are dropped; the next delivery is "start".
	ev = nextEvent(t, ch)
	require.Equal(t, signaling.EventMessage, ev.Kind)
	assert.Equal(t, signaling.TypeStart, ev.Msg.Type)

	ev = nextEvent(t, ch)
	require.Equal(t, signaling.EventClosed, ev.Kind)
	assert.Equal(t, websocket.CloseGoingAway, ev.Code)
	assert.Equal(t, "maintenance", ev.Reason)
	assert.True(t, ev.Clean)
	assert.Equal(t, "signaling server is restarting", ev.Text)

	// After EventClosed the stream ends and the channel reports not open.
	_, ok := <-ch.Events()
	assert.False(t, ok)
	assert.False(t, ch.IsOpen())
}

func TestChannelSendReachesServer(t *testing.T) {
	got := make(chan signaling.Message, 1)
	url := serve(t, func(conn *websocket.Conn) {
		var msg signaling.Message
		if err := conn.ReadJSON(&msg); err == nil {
			got <- msg
		}
	})

	ch, err := signaling.Connect(context.Background(), url)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send(signaling.NewJoin("r1", "operator", "tok")))

	select {
	case msg := <-got:
		assert.Equal(t, signaling.TypeJoin, msg.Type)
		assert.Equal(t, "r1", msg.Room)
		assert.Equal(t, "operator", msg.Role)
		assert.Equal(t, "tok", msg.Token)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the join frame")
	}
}

func TestChannelSendAfterCloseIsSilent(t *testing.T) {
	url := serve(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ch, err := signaling.Connect(context.Background(), url)
	require.NoError(t, err)

	ch.Close()
	ch.Close() // repeat close is safe

	// A best-effort bye on a closed channel is dropped, not an error.
	assert.NoError(t, ch.Send(signaling.NewBye("r1")))
	assert.False(t, ch.IsOpen())
}

func TestConnectFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := signaling.Connect(context.Background(), url)
	require.ErrorIs(t, err, signaling.ErrTransport)
}

func TestAbnormalDropTranslatesTo1006(t *testing.T) {
	url := serve(t, func(conn *websocket.Conn) {
		// Kill the TCP connection without a close frame.
		time.Sleep(20 * time.Millisecond)
		_ = conn.UnderlyingConn().Close()
	})

	ch, err := signaling.Connect(context.Background(), url)
	require.NoError(t, err)
	defer ch.Close()

	ev := nextEvent(t, ch)
	require.Equal(t, signaling.EventOpen, ev.Kind)

	ev = nextEvent(t, ch)
	require.Equal(t, signaling.EventClosed, ev.Kind)
	assert.Equal(t, websocket.CloseAbnormalClosure, ev.Code)
	assert.False(t, ev.Clean)
	assert.Equal(t, "abnormal disconnect from signaling server", ev.Text)
}
