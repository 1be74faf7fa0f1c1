package call_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/visiontec/kioskcall/internal/call"
	"github.com/visiontec/kioskcall/internal/media"
	"github.com/visiontec/kioskcall/internal/peer"
	"github.com/visiontec/kioskcall/internal/signaling"
)

// fakeChannel is an in-memory SignalChannel. Tests push inbound frames and
// inspect what the session sent.
type fakeChannel struct {
	events chan signaling.Event

	mu   sync.Mutex
	sent []signaling.Message
	open bool
}

func newFakeChannel() *fakeChannel {
	c := &fakeChannel{
		events: make(chan signaling.Event, 32),
		open:   true,
	}
	c.events <- signaling.Event{Kind: signaling.EventOpen}
	return c
}

func (c *fakeChannel) Send(msg signaling.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Events() <-chan signaling.Event { return c.events }

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

func (c *fakeChannel) push(msg signaling.Message) {
	c.events <- signaling.Event{Kind: signaling.EventMessage, Msg: &msg}
}

func (c *fakeChannel) pushClosed(code int, reason string) {
	c.events <- signaling.Event{
		Kind:   signaling.EventClosed,
		Code:   code,
		Reason: reason,
		Text:   signaling.CloseText(code, reason),
	}
	close(c.events)
	c.Close()
}

func (c *fakeChannel) sentOfType(t signaling.Type) []signaling.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []signaling.Message
	for _, m := range c.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// fakeStream satisfies media.Stream without touching hardware.
type fakeStream struct {
	mu     sync.Mutex
	closed int
}

func (s *fakeStream) RegisterCodecs(*webrtc.MediaEngine)   {}
func (s *fakeStream) Publish(*webrtc.PeerConnection) error { return nil }
func (s *fakeStream) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

// fakeProvider drives the acquirer without devices.
type fakeProvider struct {
	mu         sync.Mutex
	hasDevices bool
	err        error
	captures   int
	stream     *fakeStream
}

func (p *fakeProvider) HasDevices() bool { return p.hasDevices }

func (p *fakeProvider) Capture() (media.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures++
	if p.err != nil {
		return nil, p.err
	}
	if p.stream == nil {
		p.stream = &fakeStream{}
	}
	return p.stream, nil
}

// fakePeer records what the session drives it through.
type fakePeer struct {
	id string

	mu         sync.Mutex
	offers     []string
	answers    []string
	candidates [][]byte
	closes     int
	offerErr   error
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) ApplyRemoteOffer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offerErr != nil {
		return p.offerErr
	}
	p.offers = append(p.offers, sdp)
	return nil
}

func (p *fakePeer) ApplyRemoteAnswer(sdp string) {
	p.mu.Lock()
	p.answers = append(p.answers, sdp)
	p.mu.Unlock()
}

func (p *fakePeer) ApplyRemoteCandidate(c []byte) {
	p.mu.Lock()
	p.candidates = append(p.candidates, c)
	p.mu.Unlock()
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *fakePeer) offerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.offers)
}

func (p *fakePeer) answerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.answers)
}

// fakeFactory hands out fakePeers and captures the event channel so tests
// can inject peer lifecycle events.
type fakeFactory struct {
	mu      sync.Mutex
	created []*fakePeer
	offerer []bool
	events  chan<- peer.Event
}

func (f *fakeFactory) New(_ media.Stream, offerer bool, _ peer.Signaler, events chan<- peer.Event) (call.PeerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{id: fmt.Sprintf("peer-%d", len(f.created)+1)}
	f.created = append(f.created, p)
	f.offerer = append(f.offerer, offerer)
	f.events = events
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

// peerState injects a connection-state event for the given fake peer.
func (f *fakeFactory) peerState(p *fakePeer, st peer.State) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	events <- peer.Event{SessionID: p.id, Kind: peer.EventStateChanged, State: st}
}

// recordBridge captures bridge events as "kind:value" strings.
type recordBridge struct {
	mu      sync.Mutex
	entries []string
}

func (b *recordBridge) add(s string) {
	b.mu.Lock()
	b.entries = append(b.entries, s)
	b.mu.Unlock()
}

func (b *recordBridge) OperatorState(st call.OperatorState) { b.add("operator-state:" + string(st)) }
func (b *recordBridge) ClientStatus(status, _ string)       { b.add("client-status:" + status) }
func (b *recordBridge) ClientEvent(event, _ string)         { b.add("client-event:" + event) }
func (b *recordBridge) CallState(st call.CallState)         { b.add("call-state:" + string(st)) }
func (b *recordBridge) Alert(message string)                { b.add("alert:" + message) }
func (b *recordBridge) DeviceError(desc string)             { b.add("device-error:" + desc) }

func (b *recordBridge) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.entries...)
}

func (b *recordBridge) has(entry string) bool {
	return b.indexOf(entry) >= 0
}

func (b *recordBridge) indexOf(entry string) int {
	for i, e := range b.all() {
		if e == entry {
			return i
		}
	}
	return -1
}

func (b *recordBridge) count(entry string) int {
	n := 0
	for _, e := range b.all() {
		if e == entry {
			n++
		}
	}
	return n
}

// harness wires a session with fake collaborators and runs its loop.
type harness struct {
	sess     *call.Session
	ch       *fakeChannel
	factory  *fakeFactory
	bridge   *recordBridge
	provider *fakeProvider
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHarness(t *testing.T, role call.Role, mutate func(*call.Config)) *harness {
	t.Helper()

	h := &harness{
		ch:       newFakeChannel(),
		factory:  &fakeFactory{},
		bridge:   &recordBridge{},
		provider: &fakeProvider{hasDevices: true},
		done:     make(chan struct{}),
	}

	cfg := call.Config{
		Role:   role,
		Bridge: h.bridge,
		Media:  media.NewAcquirer(h.provider, role == call.RoleOperator),
		Dial: func(_ context.Context, _ string) (call.SignalChannel, error) {
			return h.ch, nil
		},
		NewPeer:         h.factory.New,
		IdleRevertDelay: 20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h.sess = call.NewSession(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = h.sess.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	h.sess.Join(call.JoinParams{Room: "room-1", URL: "wss://calls.example.com/ws", Token: "tok"})
	return h
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}
