package call

import "fmt"

// Role determines which state table and which signaling message subset are
// valid. It is fixed for the lifetime of a Session.
type Role int

const (
	// RoleOperator answers incoming calls and keeps its camera warm between
	// them for a live self-preview.
	RoleOperator Role = iota
	// RoleClient places the call from the kiosk and releases the camera as
	// soon as the call ends.
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleOperator:
		return "operator"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// ParseRole maps the wire/config spelling onto a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "operator":
		return RoleOperator, nil
	case "client":
		return RoleClient, nil
	default:
		return RoleOperator, fmt.Errorf("unknown role %q", s)
	}
}

// state is the role-specific lifecycle position. Operator cycles through
// idle/ringing/connecting/active; client runs joining/waiting/calling/active
// and terminates in ended.
type state int

const (
	stateIdle state = iota
	stateRinging
	stateConnecting
	stateJoining
	stateWaiting
	stateCalling
	stateActive
	stateEnded
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRinging:
		return "ringing"
	case stateConnecting:
		return "connecting"
	case stateJoining:
		return "joining"
	case stateWaiting:
		return "waiting"
	case stateCalling:
		return "calling"
	case stateActive:
		return "active"
	case stateEnded:
		return "ended"
	default:
		return "unknown"
	}
}
