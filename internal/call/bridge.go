package call

// OperatorState is the operator-facing lifecycle reported to the host shell.
type OperatorState string

const (
	OperatorIdle       OperatorState = "idle"
	OperatorRinging    OperatorState = "ringing"
	OperatorConnecting OperatorState = "connecting"
	OperatorInCall     OperatorState = "in-call"
	OperatorEnded      OperatorState = "ended"
	OperatorOffline    OperatorState = "offline"
)

// CallState is the role-independent call lifecycle reported to the host.
type CallState string

const (
	CallActive CallState = "active"
	CallEnded  CallState = "ended"
)

// Bridge is the narrow event surface to the hosting shell. All methods are
// invoked from the session's single event loop; implementations that need to
// block must hand off internally.
type Bridge interface {
	// OperatorState reports the operator lifecycle. Operator role only.
	OperatorState(state OperatorState)

	// ClientStatus reports a routine client-side status with user-facing
	// text. Client role only.
	ClientStatus(status, message string)

	// ClientEvent reports a notable client-side event (error, rejected,
	// busy, ended, disconnected) with user-facing text. Client role only.
	ClientEvent(event, message string)

	// CallState reports active/ended for both roles.
	CallState(state CallState)

	// Alert carries a user-facing message (both roles).
	Alert(message string)

	// DeviceError carries a plain-text capture failure description.
	DeviceError(description string)
}

// CommandKind discriminates host commands.
type CommandKind int

const (
	CommandJoin CommandKind = iota
	CommandAccept
	CommandReject
	CommandHangup
	// CommandUnknown covers shell commands this core deliberately does not
	// handle (pause/resume and friends); they are logged and dropped.
	CommandUnknown
)

// JoinParams configures a join command.
type JoinParams struct {
	Room  string
	URL   string
	Token string
}

// Command is one host instruction, queued into the session loop.
type Command struct {
	Kind CommandKind
	Join *JoinParams
	Name string // original spelling, for CommandUnknown logging
}
