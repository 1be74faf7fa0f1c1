// Package call implements the call-session state machine: it owns one
// signaling channel, one media acquirer, and at most one peer session, and
// drives them through the role-specific call lifecycle.
package call

import (
	"context"
	"errors"
	"time"

	"github.com/visiontec/kioskcall/internal/media"
	"github.com/visiontec/kioskcall/internal/peer"
	"github.com/visiontec/kioskcall/internal/signaling"
	"github.com/visiontec/kioskcall/internal/util"
)

// SignalChannel is the slice of signaling.Channel the session depends on.
// Tests substitute an in-memory implementation.
type SignalChannel interface {
	Send(msg signaling.Message) error
	Events() <-chan signaling.Event
	IsOpen() bool
	Close()
}

// Dialer opens a signaling channel to the given URL.
type Dialer func(ctx context.Context, url string) (SignalChannel, error)

// PeerSession is the slice of peer.Session the state machine drives.
type PeerSession interface {
	ID() string
	ApplyRemoteOffer(sdp string) error
	ApplyRemoteAnswer(sdp string)
	ApplyRemoteCandidate(candidate []byte)
	Close()
}

// PeerFactory creates a peer session. The default wraps peer.New.
type PeerFactory func(stream media.Stream, offerer bool, sig peer.Signaler, events chan<- peer.Event) (PeerSession, error)

// Config assembles a Session. Zero-value collaborators get production
// defaults.
type Config struct {
	Role   Role
	Bridge Bridge

	// Media defaults to a platform acquirer with the role retention policy.
	Media *media.Acquirer
	// Dial defaults to signaling.Connect.
	Dial Dialer
	// NewPeer defaults to peer.New with STUNServers.
	NewPeer PeerFactory

	STUNServers []string

	// SecureContext forces ws→wss upgrading of the signaling address.
	SecureContext bool

	// IdleRevertDelay is how long the operator "ended" state stays visible
	// before reverting to idle. Defaults to 2 s.
	IdleRevertDelay time.Duration

	// RingTimeout auto-rejects a pending visitor the operator never answers.
	// Zero disables the timer.
	RingTimeout time.Duration
}

// Session is the aggregate root: sole owner and mutator of the lifecycle
// state, the peer session, and the local media stream. All work happens on
// the single goroutine inside Run.
type Session struct {
	cfg    Config
	role   Role
	bridge Bridge
	media  *media.Acquirer

	cmds       chan Command
	peerEvents chan peer.Event

	// Everything below is owned by the Run goroutine.
	ch        SignalChannel
	chEvents  <-chan signaling.Event
	st        state
	room      string
	token     string
	attemptID string

	pendingVisitor string
	awaitingStart  bool
	peerSess       PeerSession
	stream         media.Stream
	remoteTracks   int
	reachedActive  bool

	revertC <-chan time.Time
	revert  *time.Timer
	ringC   <-chan time.Time
	ring    *time.Timer
}

// NewSession builds a Session for the given role. Exactly one Session is
// active per running kiosk instance; the host creates it at startup and
// drives it through commands.
func NewSession(cfg Config) *Session {
	if cfg.Bridge == nil {
		cfg.Bridge = nopBridge{}
	}
	if cfg.Media == nil {
		cfg.Media = media.NewAcquirer(media.NewProvider(), cfg.Role == RoleOperator)
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, url string) (SignalChannel, error) {
			return signaling.Connect(ctx, url)
		}
	}
	if cfg.NewPeer == nil {
		stun := cfg.STUNServers
		cfg.NewPeer = func(stream media.Stream, offerer bool, sig peer.Signaler, events chan<- peer.Event) (PeerSession, error) {
			return peer.New(peer.Config{STUNServers: stun}, stream, offerer, sig, events)
		}
	}
	if cfg.IdleRevertDelay <= 0 {
		cfg.IdleRevertDelay = 2 * time.Second
	}

	initial := stateIdle
	if cfg.Role == RoleClient {
		initial = stateJoining
	}

	return &Session{
		cfg:        cfg,
		role:       cfg.Role,
		bridge:     cfg.Bridge,
		media:      cfg.Media,
		cmds:       make(chan Command, 16),
		peerEvents: make(chan peer.Event, 64),
		st:         initial,
	}
}

// Join queues a join command.
func (s *Session) Join(p JoinParams) { s.Submit(Command{Kind: CommandJoin, Join: &p}) }

// Accept queues the operator's accept decision for the pending visitor.
func (s *Session) Accept() { s.Submit(Command{Kind: CommandAccept}) }

// Reject queues the operator's reject decision for the pending visitor.
func (s *Session) Reject() { s.Submit(Command{Kind: CommandReject}) }

// Hangup queues a hangup command.
func (s *Session) Hangup() { s.Submit(Command{Kind: CommandHangup}) }

// Submit queues an arbitrary host command. Never blocks the caller for long;
// the loop drains promptly.
func (s *Session) Submit(cmd Command) {
	s.cmds <- cmd
}

// Run processes commands, signaling events, peer events, and timers on a
// single goroutine until ctx is cancelled. No two handlers ever run
// concurrently; ordering between inbound signaling messages is their arrival
// order on the channel.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd := <-s.cmds:
			s.handleCommand(ctx, cmd)

		case ev, ok := <-s.chEvents:
			if !ok {
				s.chEvents = nil
				continue
			}
			s.handleChannelEvent(ev)

		case ev := <-s.peerEvents:
			s.handlePeerEvent(ev)

		case <-s.revertC:
			s.revertC = nil
			s.revert = nil
			s.setOperatorIdle()

		case <-s.ringC:
			s.ringC = nil
			s.ring = nil
			s.onRingTimeout()
		}
	}
}

// ---------------------------------------------------------------------------
// Host commands
// ---------------------------------------------------------------------------

func (s *Session) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CommandJoin:
		s.handleJoin(ctx, cmd.Join)

	case CommandAccept:
		s.handleAccept()

	case CommandReject:
		s.handleReject()

	case CommandHangup:
		s.hangup(true)

	default:
		// Deliberate no-op: the shell issues lifecycle commands (pause,
		// resume, …) this core does not act on.
		util.LogDebug("call[%s]: ignoring host command %q", s.role, cmd.Name)
	}
}

func (s *Session) handleJoin(ctx context.Context, p *JoinParams) {
	if p == nil {
		return
	}
	if s.ch != nil {
		util.LogWarning("call[%s]: join ignored, already connected to room %q", s.role, s.room)
		return
	}

	wsURL, err := signaling.NormalizeURL(p.URL, s.cfg.SecureContext)
	if err != nil {
		// ConfigError: surfaced once, no connection attempted.
		util.LogError("call[%s]: %v", s.role, err)
		s.bridge.Alert("video service address is missing or invalid")
		return
	}

	ch, err := s.cfg.Dial(ctx, wsURL)
	if err != nil {
		// TransportError: surfaced verbatim, channel stays closed, no retry.
		util.LogError("call[%s]: %v", s.role, err)
		s.bridge.Alert(err.Error())
		return
	}

	s.ch = ch
	s.chEvents = ch.Events()
	s.room = p.Room
	s.token = p.Token
	if s.role == RoleClient {
		s.st = stateJoining
		s.bridge.ClientStatus("connecting", "connecting to the operator service")
	} else {
		s.st = stateIdle
	}
	util.LogInfo("call[%s]: joining room %q via %s", s.role, s.room, wsURL)
}

func (s *Session) handleAccept() {
	if s.role != RoleOperator || s.st != stateRinging || s.pendingVisitor == "" {
		util.LogDebug("call[%s]: accept ignored in state %s", s.role, s.st)
		return
	}
	s.stopRingTimer()
	s.send(signaling.NewAccept(s.room, s.pendingVisitor))
	s.pendingVisitor = ""
	s.awaitingStart = true
	s.st = stateConnecting
	s.bridge.OperatorState(OperatorConnecting)
}

func (s *Session) handleReject() {
	if s.role != RoleOperator || s.st != stateRinging || s.pendingVisitor == "" {
		util.LogDebug("call[%s]: reject ignored in state %s", s.role, s.st)
		return
	}
	s.stopRingTimer()
	s.send(signaling.NewReject(s.room, s.pendingVisitor))
	s.pendingVisitor = ""
	s.st = stateIdle
	s.bridge.OperatorState(OperatorIdle)
}

// ---------------------------------------------------------------------------
// Signaling channel events
// ---------------------------------------------------------------------------

func (s *Session) handleChannelEvent(ev signaling.Event) {
	switch ev.Kind {
	case signaling.EventOpen:
		s.send(signaling.NewJoin(s.room, s.role.String(), s.token))

	case signaling.EventMessage:
		s.dispatch(ev.Msg)

	case signaling.EventClosed:
		s.handleChannelClosed(ev)
	}
}

// dispatch looks the message type up against the (role, state) table.
// Unrecognized combinations are logged and discarded, never fatal.
func (s *Session) dispatch(msg *signaling.Message) {
	table := clientHandlers
	if s.role == RoleOperator {
		table = operatorHandlers
	}

	if byState, ok := table[s.st]; ok {
		if h, ok := byState[msg.Type]; ok {
			h(s, msg)
			return
		}
	}
	util.LogDebug("call[%s]: ignoring %q in state %s", s.role, msg.Type, s.st)
}

// handleChannelClosed surfaces the close reason and tears the call attempt
// down. A closed channel stays closed; the host decides whether to retry
// with a fresh join.
func (s *Session) handleChannelClosed(ev signaling.Event) {
	util.LogWarning("call[%s]: signaling channel closed (code=%d reason=%q)", s.role, ev.Code, ev.Reason)

	if ev.Text != "" {
		s.bridge.Alert(ev.Text)
	}

	if s.role == RoleOperator {
		s.bridge.OperatorState(OperatorOffline)
		// keepWaitingHint: do not overwrite the offline message with a
		// second idle hint.
		s.cleanup(cleanupOpts{keepWaitingHint: true})
	} else {
		s.bridge.ClientEvent("disconnected", ev.Text)
		s.cleanup(cleanupOpts{keepWaitingHint: true})
		s.st = stateEnded
	}

	s.ch = nil
	s.room = ""
	s.token = ""
}

// ---------------------------------------------------------------------------
// Peer events
// ---------------------------------------------------------------------------

func (s *Session) handlePeerEvent(ev peer.Event) {
	if s.peerSess == nil || ev.SessionID != s.peerSess.ID() {
		util.LogDebug("call[%s]: dropping event from stale peer session", s.role)
		return
	}

	switch ev.Kind {
	case peer.EventRemoteTrack:
		s.remoteTracks++
		util.LogInfo("call[%s:%s]: remote %s track attached", s.role, s.attemptID, ev.TrackKind)

	case peer.EventStateChanged:
		s.onPeerState(ev.State)
	}
}

func (s *Session) onPeerState(st peer.State) {
	switch st {
	case peer.StateConnected:
		s.awaitingStart = false
		s.reachedActive = true
		s.st = stateActive
		util.Stats.AddCallStarted()
		s.bridge.CallState(CallActive)
		if s.role == RoleOperator {
			s.bridge.OperatorState(OperatorInCall)
		} else {
			s.bridge.ClientStatus("in-call", "call connected")
		}

	case peer.StateFailed, peer.StateDisconnected:
		util.LogWarning("call[%s:%s]: peer connection %s", s.role, s.attemptID, st)
		s.endCall(true)

	case peer.StateClosed:
		// Report the end but schedule no further state change.
		s.endCall(false)
	}
}

// ---------------------------------------------------------------------------
// Call flow helpers
// ---------------------------------------------------------------------------

// startCall acquires local media and creates the single peer session. The
// operator answers (isOfferer=false); the client offers.
func (s *Session) startCall(offerer bool) {
	if s.peerSess != nil {
		// A second start must not duplicate the session.
		util.LogWarning("call[%s:%s]: start while peer session exists, reusing", s.role, s.attemptID)
		return
	}

	stream, err := s.media.EnsureStream()
	if err != nil {
		var cerr *media.CaptureError
		desc := "could not start the camera or microphone"
		if errors.As(err, &cerr) {
			desc = cerr.Description()
		}
		util.LogError("call[%s:%s]: capture failed: %v", s.role, s.attemptID, err)
		s.bridge.DeviceError(desc)
		if s.role == RoleClient {
			s.bridge.ClientEvent("error", desc)
		} else {
			s.bridge.Alert(desc)
		}
		s.hangup(true)
		return
	}
	s.stream = stream

	sig := channelSignaler{ch: s.ch, room: s.room}
	ps, err := s.cfg.NewPeer(stream, offerer, sig, s.peerEvents)
	if err != nil {
		// Negotiation failure is not transient: notified hangup, no retry.
		util.LogError("call[%s:%s]: peer setup failed: %v", s.role, s.attemptID, err)
		s.bridge.Alert("the call could not be set up")
		s.hangup(true)
		return
	}
	s.peerSess = ps

	if s.role == RoleClient {
		s.st = stateCalling
		s.bridge.ClientStatus("connecting", "setting up the call")
	}
}

// endCall reports the end of a call attempt. revert schedules the operator's
// delayed transition back to idle so the "call ended" state visibly renders
// before the waiting hint returns.
func (s *Session) endCall(revert bool) {
	s.cleanup(cleanupOpts{keepWaitingHint: true})

	if s.role == RoleOperator {
		s.bridge.OperatorState(OperatorEnded)
		if revert {
			s.scheduleIdleRevert()
		}
	} else {
		s.st = stateEnded
		s.bridge.ClientEvent("ended", "the call has ended")
	}
}

// hangup sends a best-effort bye when a peer session exists and notifyServer
// is set, then runs cleanup.
func (s *Session) hangup(notifyServer bool) {
	if s.peerSess != nil && notifyServer && s.ch != nil {
		s.send(signaling.NewBye(s.room))
	}
	s.cleanup(cleanupOpts{})
}

type cleanupOpts struct {
	// silent suppresses all host notifications.
	silent bool
	// skipCallState suppresses just the call-state ended event; used when no
	// session ever reached active, so an end is not reported for a call that
	// never started.
	skipCallState bool
	// keepWaitingHint suppresses the operator idle refresh so an
	// offline/ended message is not immediately overwritten.
	keepWaitingHint bool
}

// cleanup is the single idempotent teardown invoked from every terminal
// path. Safe to call repeatedly and from any state.
func (s *Session) cleanup(o cleanupOpts) {
	s.stopRingTimer()

	if s.peerSess != nil {
		s.peerSess.Close()
		s.peerSess = nil
		util.Stats.AddCallEnded()
	}
	s.remoteTracks = 0

	s.media.Release()
	s.stream = nil

	s.pendingVisitor = ""
	s.awaitingStart = false

	wasActive := s.reachedActive
	s.reachedActive = false

	if s.role == RoleOperator {
		s.st = stateIdle
	} else if s.st != stateJoining && s.st != stateWaiting {
		s.st = stateEnded
	}

	if o.silent {
		return
	}
	if wasActive && !o.skipCallState {
		s.bridge.CallState(CallEnded)
	}
	if s.role == RoleOperator && !o.keepWaitingHint {
		s.bridge.OperatorState(OperatorIdle)
	}
}

// setOperatorIdle is the delayed idle revert after an ended call.
func (s *Session) setOperatorIdle() {
	if s.role != RoleOperator || s.st != stateIdle {
		return
	}
	s.bridge.OperatorState(OperatorIdle)
}

func (s *Session) scheduleIdleRevert() {
	if s.revert != nil {
		s.revert.Stop()
	}
	s.revert = time.NewTimer(s.cfg.IdleRevertDelay)
	s.revertC = s.revert.C
}

func (s *Session) onRingTimeout() {
	if s.st != stateRinging || s.pendingVisitor == "" {
		return
	}
	util.LogInfo("call[%s]: ring timeout, rejecting visitor %q", s.role, s.pendingVisitor)
	s.send(signaling.NewReject(s.room, s.pendingVisitor))
	s.pendingVisitor = ""
	s.st = stateIdle
	s.bridge.OperatorState(OperatorIdle)
}

func (s *Session) stopRingTimer() {
	if s.ring != nil {
		s.ring.Stop()
		s.ring = nil
		s.ringC = nil
	}
}

// send transmits best-effort; the channel itself drops frames silently when
// not open.
func (s *Session) send(msg signaling.Message) {
	if s.ch == nil {
		return
	}
	if err := s.ch.Send(msg); err != nil {
		util.LogWarning("call[%s]: send %q failed: %v", s.role, msg.Type, err)
	}
}

// teardown runs on loop exit: best-effort bye, silent cleanup, channel
// close, and an unconditional media shutdown (retention policy included).
func (s *Session) teardown() {
	if s.peerSess != nil {
		s.send(signaling.NewBye(s.room))
	}
	s.cleanup(cleanupOpts{silent: true})
	if s.ch != nil {
		s.ch.Close()
		s.ch = nil
	}
	s.media.Shutdown()
}

// nopBridge swallows events when the host registers no bridge.
type nopBridge struct{}

func (nopBridge) OperatorState(OperatorState)  {}
func (nopBridge) ClientStatus(string, string)  {}
func (nopBridge) ClientEvent(string, string)   {}
func (nopBridge) CallState(CallState)          {}
func (nopBridge) Alert(string)                 {}
func (nopBridge) DeviceError(string)           {}
