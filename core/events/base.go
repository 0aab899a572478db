package events

import (
	"strings"
	"time"
)

// Kind names an event as "<namespace>.<name>", e.g. "exchange.started".
type Kind string

// Namespace returns the part of the kind before the first dot, or "" when the
// kind carries none.
func (k Kind) Namespace() string {
	namespace, _, found := strings.Cut(string(k), ".")
	if !found {
		return ""
	}
	return namespace
}

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base is embedded by every event and stamps it with its kind and creation
// time.
type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}
