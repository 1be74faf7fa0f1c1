package call

import (
	"time"

	"github.com/google/uuid"

	"github.com/visiontec/kioskcall/internal/signaling"
	"github.com/visiontec/kioskcall/internal/util"
)

// handler reacts to one inbound signaling message. Handlers run on the
// session loop; they are the only mutators of session state.
type handler func(s *Session, msg *signaling.Message)

// operatorHandlers is the operator's (state × message-type) transition
// table. Lookups that miss are logged and discarded by dispatch.
var operatorHandlers = map[state]map[signaling.Type]handler{
	stateIdle: {
		signaling.TypeJoined:   (*Session).onJoined,
		signaling.TypeIncoming: (*Session).onIncoming,
	},
	stateRinging: {
		signaling.TypeIncomingCancelled: (*Session).onIncomingCancelled,
	},
	stateConnecting: {
		signaling.TypeStart:       (*Session).onOperatorStart,
		signaling.TypeOffer:       (*Session).onRemoteOffer,
		signaling.TypeCandidate:   (*Session).onRemoteCandidate,
		signaling.TypeBye:         (*Session).onRemoteBye,
		signaling.TypeClientEnded: (*Session).onRemoteBye,
	},
	stateActive: {
		signaling.TypeOffer:       (*Session).onRemoteOffer,
		signaling.TypeCandidate:   (*Session).onRemoteCandidate,
		signaling.TypeBye:         (*Session).onRemoteBye,
		signaling.TypeClientEnded: (*Session).onRemoteBye,
	},
}

// clientHandlers is the client's transition table.
var clientHandlers = map[state]map[signaling.Type]handler{
	stateJoining: {
		signaling.TypeJoined: (*Session).onClientJoined,
	},
	stateWaiting: {
		signaling.TypeStart:           (*Session).onClientStart,
		signaling.TypeRinging:         (*Session).onClientRinging,
		signaling.TypeReject:          (*Session).onClientDenied,
		signaling.TypeBusy:            (*Session).onClientDenied,
		signaling.TypeNoOperator:      (*Session).onClientDenied,
		signaling.TypeOperatorOffline: (*Session).onClientDenied,
		signaling.TypeBye:             (*Session).onRemoteBye,
	},
	stateCalling: {
		signaling.TypeStart:           (*Session).onClientStart,
		signaling.TypeAnswer:          (*Session).onRemoteAnswer,
		signaling.TypeCandidate:       (*Session).onRemoteCandidate,
		signaling.TypeReject:          (*Session).onClientDenied,
		signaling.TypeBusy:            (*Session).onClientDenied,
		signaling.TypeNoOperator:      (*Session).onClientDenied,
		signaling.TypeOperatorOffline: (*Session).onClientDenied,
		signaling.TypeBye:             (*Session).onRemoteBye,
	},
	stateActive: {
		signaling.TypeAnswer:    (*Session).onRemoteAnswer,
		signaling.TypeCandidate: (*Session).onRemoteCandidate,
		signaling.TypeBye:       (*Session).onRemoteBye,
	},
}

// ---------------------------------------------------------------------------
// Shared handlers
// ---------------------------------------------------------------------------

func (s *Session) onJoined(_ *signaling.Message) {
	util.LogInfo("call[%s]: registered in room %q", s.role, s.room)
}

// onRemoteOffer drives the answer path on the existing peer session. A
// second offer never creates a second session; with no session at all the
// offer is dropped.
func (s *Session) onRemoteOffer(msg *signaling.Message) {
	if s.peerSess == nil {
		util.LogDebug("call[%s:%s]: dropping offer, no peer session", s.role, s.attemptID)
		return
	}
	if err := s.peerSess.ApplyRemoteOffer(msg.SDP()); err != nil {
		util.LogError("call[%s:%s]: answer path failed: %v", s.role, s.attemptID, err)
		s.bridge.Alert("the call could not be set up")
		s.hangup(true)
	}
}

func (s *Session) onRemoteAnswer(msg *signaling.Message) {
	if s.peerSess == nil {
		util.LogDebug("call[%s:%s]: dropping answer, no peer session", s.role, s.attemptID)
		return
	}
	s.peerSess.ApplyRemoteAnswer(msg.SDP())
}

func (s *Session) onRemoteCandidate(msg *signaling.Message) {
	if s.peerSess == nil {
		util.LogDebug("call[%s:%s]: dropping candidate, no peer session", s.role, s.attemptID)
		return
	}
	s.peerSess.ApplyRemoteCandidate(msg.Payload)
}

func (s *Session) onRemoteBye(_ *signaling.Message) {
	util.LogInfo("call[%s:%s]: remote ended the call", s.role, s.attemptID)
	s.endCall(true)
}

// ---------------------------------------------------------------------------
// Operator handlers
// ---------------------------------------------------------------------------

func (s *Session) onIncoming(msg *signaling.Message) {
	if msg.ClientID == "" {
		util.LogWarning("call[%s]: incoming without clientId, dropping", s.role)
		return
	}
	s.attemptID = uuid.NewString()
	s.pendingVisitor = msg.ClientID
	s.st = stateRinging
	s.bridge.OperatorState(OperatorRinging)
	s.startRingTimer()
	util.LogInfo("call[%s:%s]: visitor %q ringing", s.role, s.attemptID, msg.ClientID)
}

// onIncomingCancelled clears the pending visitor. A mismatched clientId is a
// no-op: the cancellation belongs to a request that is no longer pending.
func (s *Session) onIncomingCancelled(msg *signaling.Message) {
	if msg.ClientID != s.pendingVisitor {
		util.LogDebug("call[%s]: incoming-cancelled for %q, pending is %q — ignoring",
			s.role, msg.ClientID, s.pendingVisitor)
		return
	}
	s.stopRingTimer()
	s.pendingVisitor = ""
	s.st = stateIdle
	s.bridge.OperatorState(OperatorIdle)
}

// onOperatorStart begins negotiation: the operator always answers, never
// offers.
func (s *Session) onOperatorStart(_ *signaling.Message) {
	s.startCall(false)
}

// ---------------------------------------------------------------------------
// Client handlers
// ---------------------------------------------------------------------------

func (s *Session) onClientJoined(_ *signaling.Message) {
	s.st = stateWaiting
	s.bridge.ClientStatus("waiting", "waiting for an operator")
}

func (s *Session) onClientRinging(_ *signaling.Message) {
	s.bridge.ClientStatus("ringing", "calling the operator")
}

// onClientStart begins negotiation: the client is always the offerer.
func (s *Session) onClientStart(_ *signaling.Message) {
	if s.peerSess == nil {
		s.attemptID = uuid.NewString()
	}
	s.startCall(true)
}

// onClientDenied handles reject/busy/no-operator/operator-offline. No call
// ever started, so user-facing text is reported but no call-state ended
// event is emitted.
func (s *Session) onClientDenied(msg *signaling.Message) {
	var text string
	switch msg.Type {
	case signaling.TypeReject:
		text = "the operator declined the call"
	case signaling.TypeBusy:
		text = "the operator is busy with another call"
	default: // no-operator / operator-offline
		text = "no operator is available right now"
	}
	util.LogInfo("call[%s]: denied (%s)", s.role, msg.Type)
	s.bridge.ClientEvent(string(msg.Type), text)
	s.cleanup(cleanupOpts{skipCallState: true})
	s.st = stateEnded
}

func (s *Session) startRingTimer() {
	if s.cfg.RingTimeout <= 0 {
		return
	}
	s.stopRingTimer()
	s.ring = time.NewTimer(s.cfg.RingTimeout)
	s.ringC = s.ring.C
}
