package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/visiontec/kioskcall/internal/util"
)

// Error categories surfaced to the caller. Classified with errors.Is.
var (
	// ErrConfig marks a missing or malformed signaling address; no
	// connection attempt is made.
	ErrConfig = errors.New("missing or invalid signaling address")

	// ErrTransport marks a connect or send failure on an otherwise valid
	// address. The channel is left closed; there is no retry.
	ErrTransport = errors.New("signaling transport failure")
)

// EventKind discriminates channel events.
type EventKind int

const (
	// EventOpen fires once after the handshake completes.
	EventOpen EventKind = iota
	// EventMessage carries one parsed inbound frame.
	EventMessage
	// EventClosed fires once when the connection ends, then the event
	// channel is closed. A closed channel stays closed.
	EventClosed
)

// Event is one channel occurrence delivered to the single consumer.
type Event struct {
	Kind EventKind

	// EventMessage
	Msg *Message

	// EventClosed
	Code   int
	Reason string
	Clean  bool
	Text   string // human-readable close description, may be empty
}

// Channel owns one full-duplex connection to the signaling server. It frames
// outgoing messages as JSON and surfaces inbound frames and the close
// condition as events on a single channel.
type Channel struct {
	conn   *websocket.Conn
	events chan Event

	mu   sync.Mutex
	open bool
}

// NormalizeURL validates a raw signaling URL. When secureContext is true any
// plain ws:// address is upgraded to wss:// — a policy invariant of the
// hosting kiosk, not an option.
func NormalizeURL(raw string, secureContext bool) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty URL", ErrConfig)
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrConfig, raw)
	}

	switch u.Scheme {
	case "wss":
	case "ws":
		if secureContext {
			u.Scheme = "wss"
		}
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrConfig, u.Scheme)
	}

	return u.String(), nil
}

// Connect dials the signaling server and starts the read pump. The returned
// Channel delivers events until the connection closes; it never reconnects.
func Connect(ctx context.Context, wsURL string) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	c := &Channel{
		conn:   conn,
		events: make(chan Event, 32),
		open:   true,
	}

	c.events <- Event{Kind: EventOpen}
	go c.readPump()

	return c, nil
}

// Events returns the event stream. It is closed after EventClosed is
// delivered.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// IsOpen reports whether the channel can still transmit.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send serializes msg and transmits it. Sending on a channel that is not
// open is a silent no-op, not an error — lifecycle teardown sends
// best-effort bye frames without checking first.
func (c *Channel) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		util.LogDebug("signaling: dropping %q frame, channel not open", msg.Type)
		return nil
	}

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	util.Stats.AddFrameSent()
	return nil
}

// Close tears the connection down. Safe to call repeatedly.
func (c *Channel) Close() {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.open = false
	c.mu.Unlock()

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), writeDeadline())
	_ = c.conn.Close()
}

func writeDeadline() time.Time { return time.Now().Add(time.Second) }

// readPump reads frames until the connection dies. Malformed frames are
// dropped without terminating the connection; everything else is forwarded.
func (c *Channel) readPump() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.events <- c.closedEvent(err)
			c.mu.Lock()
			c.open = false
			c.mu.Unlock()
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			util.LogWarning("signaling: dropping unparseable frame (%d bytes)", len(data))
			continue
		}

		util.Stats.AddFrameRecv()
		c.events <- Event{Kind: EventMessage, Msg: &msg}
	}
}

// closedEvent translates the read error into a close event with a
// human-readable description.
func (c *Channel) closedEvent(err error) Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return Event{
			Kind:   EventClosed,
			Code:   ce.Code,
			Reason: ce.Text,
			Clean:  true,
			Text:   CloseText(ce.Code, ce.Text),
		}
	}

	// Transport-level failure without a close frame — same bucket as 1006.
	return Event{
		Kind: EventClosed,
		Code: websocket.CloseAbnormalClosure,
		Text: CloseText(websocket.CloseAbnormalClosure, ""),
	}
}

// CloseText maps well-known close codes to a reason string suitable for host
// reporting. Unrecognized codes produce a generic message only when a code or
// reason is actually present; otherwise the empty string, so the host is not
// alerted with noise.
func CloseText(code int, reason string) string {
	switch code {
	case websocket.CloseNormalClosure: // 1000
		return "connection closed normally"
	case websocket.CloseGoingAway: // 1001
		return "signaling server is restarting"
	case websocket.CloseProtocolError: // 1002
		return "closed due to a protocol violation"
	case websocket.CloseUnsupportedData: // 1003
		return "closed due to unsupported data"
	case websocket.CloseAbnormalClosure: // 1006
		return "abnormal disconnect from signaling server"
	}

	if code != 0 || reason != "" {
		return "connection closed"
	}
	return ""
}
