package events

const (
	KindSessionStateChanged Kind = "session.state_changed"
	KindSessionErrorRaised  Kind = "session.error_raised"
	KindSessionErrorCleared Kind = "session.error_cleared"
)

// SessionStateChanged marks a state machine transition.
type SessionStateChanged struct {
	Base
	From string
	To   string
}

func NewSessionStateChanged(from, to string) SessionStateChanged {
	return SessionStateChanged{Base: NewBase(KindSessionStateChanged), From: from, To: to}
}

// SessionErrorRaised carries the error now shown as the session's last error.
type SessionErrorRaised struct {
	Base
	Origin  string
	Message string
}

func NewSessionErrorRaised(origin, message string) SessionErrorRaised {
	return SessionErrorRaised{Base: NewBase(KindSessionErrorRaised), Origin: origin, Message: message}
}

type SessionErrorCleared struct{ Base }

func NewSessionErrorCleared() SessionErrorCleared {
	return SessionErrorCleared{Base: NewBase(KindSessionErrorCleared)}
}
