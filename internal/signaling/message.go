// Package signaling handles the WebSocket connection to the relay server and
// the JSON control frames exchanged over it.
package signaling

import "encoding/json"

// Type identifies the kind of signaling message.
type Type string

// Outbound message types.
const (
	TypeJoin      Type = "join"
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
	TypeAccept    Type = "accept"
	TypeReject    Type = "reject"
	TypeBye       Type = "bye"
)

// Inbound message types. Offer/answer/candidate/reject/bye are relayed in
// both directions and reuse the constants above.
const (
	TypeJoined            Type = "joined"
	TypeIncoming          Type = "incoming"
	TypeIncomingCancelled Type = "incoming-cancelled"
	TypeStart             Type = "start"
	TypeBusy              Type = "busy"
	TypeNoOperator        Type = "no-operator"
	TypeOperatorOffline   Type = "operator-offline"
	TypeClientEnded       Type = "client-ended"
	TypeRinging           Type = "ringing"
)

// Message is the JSON frame exchanged with the signaling server. Payload is
// opaque to this package: an SDP string, a JSON-encoded ICE candidate, or an
// accept/reject decision body, depending on Type.
type Message struct {
	Type     Type            `json:"type"`
	Room     string          `json:"room,omitempty"`
	Role     string          `json:"role,omitempty"`
	Token    string          `json:"token,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// sdpPayload carries an SDP body inside offer/answer frames.
type sdpPayload struct {
	SDP string `json:"sdp"`
}

// decisionPayload carries the operator's accept/reject decision.
type decisionPayload struct {
	ClientID string `json:"clientId"`
}

// NewJoin builds the presence-registration frame sent right after connect.
func NewJoin(room, role, token string) Message {
	return Message{Type: TypeJoin, Room: room, Role: role, Token: token}
}

// NewOffer builds an SDP offer frame for the given room.
func NewOffer(room, sdp string) Message {
	raw, _ := json.Marshal(sdpPayload{SDP: sdp})
	return Message{Type: TypeOffer, Room: room, Payload: raw}
}

// NewAnswer builds an SDP answer frame for the given room.
func NewAnswer(room, sdp string) Message {
	raw, _ := json.Marshal(sdpPayload{SDP: sdp})
	return Message{Type: TypeAnswer, Room: room, Payload: raw}
}

// NewCandidate builds an ICE candidate frame. The candidate is the
// JSON-encoded ICECandidateInit, passed through untouched.
func NewCandidate(room string, candidate []byte) Message {
	return Message{Type: TypeCandidate, Room: room, Payload: candidate}
}

// NewAccept builds the operator's accept decision for a pending visitor.
func NewAccept(room, clientID string) Message {
	raw, _ := json.Marshal(decisionPayload{ClientID: clientID})
	return Message{Type: TypeAccept, Room: room, Payload: raw}
}

// NewReject builds the operator's reject decision for a pending visitor.
func NewReject(room, clientID string) Message {
	raw, _ := json.Marshal(decisionPayload{ClientID: clientID})
	return Message{Type: TypeReject, Room: room, Payload: raw}
}

// NewBye builds the session-termination frame.
func NewBye(room string) Message {
	return Message{Type: TypeBye, Room: room}
}

// SDP extracts the SDP body from an offer/answer payload. Returns "" when
// the payload is absent or malformed.
func (m *Message) SDP() string {
	var p sdpPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return ""
	}
	return p.SDP
}
