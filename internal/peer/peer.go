// Package peer owns one negotiated media session: a pion PeerConnection
// driven through SDP offer/answer and trickle ICE, with lifecycle state and
// remote media arrival surfaced as events.
package peer

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/visiontec/kioskcall/internal/media"
	"github.com/visiontec/kioskcall/internal/util"
)

// State is the coarse lifecycle of a peer session.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FromConnectionState maps pion's PeerConnectionState onto State.
func FromConnectionState(s webrtc.PeerConnectionState) State {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	default:
		return StateClosed
	}
}

// Signaler carries locally generated SDP and ICE material to the remote
// peer. The call session implements it on top of the signaling channel.
type Signaler interface {
	SendOffer(sdp string) error
	SendAnswer(sdp string) error
	SendCandidate(candidate []byte) error
}

// EventKind discriminates session events.
type EventKind int

const (
	// EventStateChanged reports a connection-state transition.
	EventStateChanged EventKind = iota
	// EventRemoteTrack reports the arrival of a remote media track.
	EventRemoteTrack
)

// Event is delivered on the channel passed to New. SessionID lets the
// consumer discard events from a session it has already discarded.
type Event struct {
	SessionID string
	Kind      EventKind
	State     State
	TrackKind string
}

// STUN servers for ICE candidate gathering. Overridable through Config for
// kiosk deployments behind restrictive networks.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config tunes PeerConnection construction.
type Config struct {
	STUNServers []string
}

// Session wraps a single PeerConnection. It is created and destroyed by the
// call session, which holds the only strong reference.
type Session struct {
	id     string
	pc     *webrtc.PeerConnection
	sig    Signaler
	events chan<- Event

	mu     sync.Mutex
	state  State
	closed bool
}

// New builds a PeerConnection, attaches the local stream when one is
// available (receive-only transceivers otherwise), and — when offerer is
// true — immediately creates and signals a local offer.
func New(cfg Config, stream media.Stream, offerer bool, sig Signaler, events chan<- Event) (*Session, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if stream != nil {
		stream.RegisterCodecs(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// Generous ICE timeouts so a brief NAT hiccup does not immediately
	// terminate the call; the default 5 s disconnectedTimeout is too short
	// for kiosk uplinks.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	stun := cfg.STUNServers
	if len(stun) == 0 {
		stun = defaultSTUNServers
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stun}},
	})
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}

	s := &Session{
		id:     uuid.NewString(),
		pc:     pc,
		sig:    sig,
		events: events,
		state:  StateNew,
	}

	if stream != nil {
		if err := stream.Publish(pc); err != nil {
			pc.Close()
			return nil, fmt.Errorf("attach local tracks: %w", err)
		}
	} else {
		s.addRecvOnlyTransceivers()
	}

	// Trickle ICE: forward every gathered candidate; a nil candidate marks
	// the end of gathering.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		if err := s.sig.SendCandidate(data); err != nil {
			util.LogWarning("peer[%s]: candidate send failed: %v", s.shortID(), err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogInfo("peer[%s]: remote %s track arrived", s.shortID(), track.Kind())
		s.emit(Event{SessionID: s.id, Kind: EventRemoteTrack, TrackKind: track.Kind().String()})
		go s.drainTrack(track)
	})

	pc.OnConnectionStateChange(func(cs webrtc.PeerConnectionState) {
		state := FromConnectionState(cs)
		util.LogDebug("peer[%s]: connection state %s", s.shortID(), state)
		s.mu.Lock()
		s.state = state
		s.mu.Unlock()
		s.emit(Event{SessionID: s.id, Kind: EventStateChanged, State: state})
	})

	if offerer {
		if err := s.sendOffer(); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// ID returns the session's correlation id.
func (s *Session) ID() string { return s.id }

// State returns the last observed connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// sendOffer creates an SDP offer, applies it locally, and signals it.
func (s *Session) sendOffer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return s.sig.SendOffer(offer.SDP)
}

// ApplyRemoteOffer runs the answer path: apply the remote offer, create and
// apply an answer, signal it back. Any failure is fatal to the attempt — SDP
// negotiation failure is not transient and the caller must hang up.
func (s *Session) ApplyRemoteOffer(sdp string) error {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: sdp,
	}); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return s.sig.SendAnswer(answer.SDP)
}

// ApplyRemoteAnswer applies the remote answer. Best-effort: a stray answer
// is logged and dropped, never fatal.
func (s *Session) ApplyRemoteAnswer(sdp string) {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: sdp,
	}); err != nil {
		util.LogWarning("peer[%s]: dropping remote answer: %v", s.shortID(), err)
	}
}

// ApplyRemoteCandidate applies a trickled remote candidate. Best-effort: an
// unusable candidate is logged and dropped.
func (s *Session) ApplyRemoteCandidate(candidate []byte) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		util.LogWarning("peer[%s]: dropping malformed candidate: %v", s.shortID(), err)
		return
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		util.LogWarning("peer[%s]: dropping candidate: %v", s.shortID(), err)
	}
}

// Close shuts the PeerConnection down. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.pc.Close(); err != nil {
		util.LogDebug("peer[%s]: close: %v", s.shortID(), err)
	}
}

// addRecvOnlyTransceivers adds recvonly video+audio transceivers so that
// offers and answers carry valid m-lines even without local capture.
func (s *Session) addRecvOnlyTransceivers() {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := s.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			util.LogWarning("peer[%s]: AddTransceiver(%s): %v", s.shortID(), kind, err)
		}
	}
}

// drainTrack reads the remote track until it ends, keeping RTP flowing and
// feeding the traffic counter. Rendering is the hosting shell's concern.
func (s *Session) drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		util.Stats.AddMediaBytes(n)
	}
}

// emit forwards an event without ever blocking a pion callback. The consumer
// loop drains promptly; a full buffer means the session is being discarded.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		util.LogDebug("peer[%s]: event buffer full, dropping %v", s.shortID(), ev.Kind)
	}
}

func (s *Session) shortID() string {
	if len(s.id) >= 8 {
		return s.id[:8]
	}
	return s.id
}
