package session

// State is the session's position in its state machine:
//
//	Idle → Active → {Recording, AwaitingReply, Playing} → Active → Idle
type State int

const (
	StateIdle State = iota
	StateActive
	StateRecording
	StateAwaitingReply
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateRecording:
		return "recording"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StatePlaying:
		return "playing"
	}
	return "unknown"
}

// IsRunning reports whether a session exists.
func (s State) IsRunning() bool { return s != StateIdle }
