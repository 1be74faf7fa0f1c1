// Package media acquires the local capture stream exactly once per session
// and classifies failures into a fixed taxonomy.
package media

import (
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/visiontec/kioskcall/internal/util"
)

// Reason classifies why local capture failed.
type Reason int

const (
	// ReasonUnsupported — capture is structurally impossible on this platform.
	ReasonUnsupported Reason = iota
	// ReasonPermissionDenied — the user or platform denied device access.
	ReasonPermissionDenied
	// ReasonNoDevice — neither a camera nor a microphone is present.
	ReasonNoDevice
	// ReasonDeviceBusy — a device exists but is held by another process.
	ReasonDeviceBusy
	// ReasonConstraints — no device satisfies the requested constraints.
	ReasonConstraints
	// ReasonUnknown — anything else; Detail carries the raw cause.
	ReasonUnknown
)

// CaptureError is the classified capture failure.
type CaptureError struct {
	Reason Reason
	Detail string
}

func (e *CaptureError) Error() string {
	if e.Detail != "" {
		return e.Description() + ": " + e.Detail
	}
	return e.Description()
}

// Description returns the user-facing text reported through the host
// bridge's device-error signal.
func (e *CaptureError) Description() string {
	switch e.Reason {
	case ReasonUnsupported:
		return "camera capture is not supported on this device"
	case ReasonPermissionDenied:
		return "camera or microphone access was denied"
	case ReasonNoDevice:
		return "no camera or microphone was found"
	case ReasonDeviceBusy:
		return "the camera or microphone is in use by another application"
	case ReasonConstraints:
		return "no camera or microphone matches the required settings"
	default:
		return "could not start the camera or microphone"
	}
}

// Stream is a live local capture stream. The concrete implementation wraps
// pion/mediadevices; tests substitute fakes. RegisterCodecs must be called
// on the media engine of any PeerConnection the stream will be published to.
type Stream interface {
	RegisterCodecs(engine *webrtc.MediaEngine)
	Publish(pc *webrtc.PeerConnection) error
	Close()
}

// Provider is the platform capture backend. A nil Provider means capture is
// structurally unsupported.
type Provider interface {
	// HasDevices is a cheap enumeration pre-check run before any capture
	// attempt.
	HasDevices() bool
	Capture() (Stream, error)
}

// Acquirer memoizes one capture stream per session. The retain flag encodes
// the role policy: the operator keeps the stream alive across calls for a
// live self-preview, the client releases it so the camera does not stay hot
// while idle.
type Acquirer struct {
	provider Provider
	retain   bool

	mu      sync.Mutex
	stream  Stream
	lastErr *CaptureError
}

// NewAcquirer builds an Acquirer over the given provider. retain keeps the
// stream across Release calls (operator self-preview policy).
func NewAcquirer(p Provider, retain bool) *Acquirer {
	return &Acquirer{provider: p, retain: retain}
}

// EnsureStream returns the held stream, acquiring it on first use. It is
// idempotent; a second call while a stream is held returns immediately.
func (a *Acquirer) EnsureStream() (Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stream != nil {
		return a.stream, nil
	}

	if a.provider == nil {
		err := &CaptureError{Reason: ReasonUnsupported}
		a.lastErr = err
		return nil, err
	}

	if !a.provider.HasDevices() {
		err := &CaptureError{Reason: ReasonNoDevice}
		a.lastErr = err
		return nil, err
	}

	s, err := a.provider.Capture()
	if err != nil {
		cerr := Classify(err)
		a.lastErr = cerr
		return nil, cerr
	}

	util.LogInfo("media: local capture stream acquired")
	a.stream = s
	a.lastErr = nil
	return s, nil
}

// Release drops the stream per the role policy. Safe to call with no stream
// held.
func (a *Acquirer) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.retain || a.stream == nil {
		return
	}
	a.stream.Close()
	a.stream = nil
	util.LogDebug("media: local capture stream released")
}

// Shutdown closes the stream unconditionally, retention policy included.
// Used on host teardown.
func (a *Acquirer) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stream == nil {
		return
	}
	a.stream.Close()
	a.stream = nil
}

// LastError returns the most recent classified failure, nil after a
// successful acquisition.
func (a *Acquirer) LastError() *CaptureError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Classify maps a raw capture rejection to the fixed taxonomy. Driver errors
// carry no structured codes, so matching is on the failure text.
func Classify(err error) *CaptureError {
	if e, ok := err.(*CaptureError); ok {
		return e
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission denied", "access denied", "not authorized"):
		return &CaptureError{Reason: ReasonPermissionDenied, Detail: err.Error()}
	case containsAny(msg, "not found", "no such device", "no device"):
		return &CaptureError{Reason: ReasonNoDevice, Detail: err.Error()}
	case containsAny(msg, "device or resource busy", "in use", "busy"):
		return &CaptureError{Reason: ReasonDeviceBusy, Detail: err.Error()}
	case containsAny(msg, "fits the constraints", "constraint"):
		return &CaptureError{Reason: ReasonConstraints, Detail: err.Error()}
	default:
		return &CaptureError{Reason: ReasonUnknown, Detail: err.Error()}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
