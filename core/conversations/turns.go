package conversations

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// TurnRole describes who authored the turn
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

func (r TurnRole) IsValid() bool {
	return r == TurnRoleUser || r == TurnRoleAssistant
}

// Turn is a single message in the transcript. Turns are values and are never
// modified after they are appended.
type Turn struct {
	ID        string
	Role      TurnRole
	Content   string
	CreatedAt time.Time
}

func NewUserTurn(content string) Turn {
	return Turn{ID: uuid.NewString(), Role: TurnRoleUser, Content: content, CreatedAt: time.Now()}
}

func NewAssistantTurn(content string) Turn {
	return Turn{ID: uuid.NewString(), Role: TurnRoleAssistant, Content: content, CreatedAt: time.Now()}
}

// Transcript is the ordered, append-only log of turns for one session.
//
// It has a single writer (the session controller) and is not safe for
// concurrent use on its own.
type Transcript struct {
	turns []Turn
}

// Append adds a turn to the end of the transcript. Turns without an ID or
// timestamp get one assigned.
func (t *Transcript) Append(turn Turn) Turn {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	t.turns = append(t.turns, turn)
	return turn
}

// Clear removes all stored turns
func (t *Transcript) Clear() {
	t.turns = nil
}

func (t *Transcript) Len() int { return len(t.turns) }

// Last returns the most recent turn, nil if empty
func (t *Transcript) Last() *Turn {
	if len(t.turns) == 0 {
		return nil
	}
	last := t.turns[len(t.turns)-1]
	return &last
}

// Turns returns a copy of the stored turns, oldest first.
func (t *Transcript) Turns() []Turn {
	return slices.Clone(t.turns)
}

// Values is an iterator that goes over all the stored turns starting from the
// earliest towards the latest
func (t *Transcript) Values(yield func(Turn) bool) {
	for _, turn := range t.turns {
		if !yield(turn) {
			return
		}
	}
}

// RValues is an iterator that goes over all the stored turns starting from
// the latest towards the earliest
func (t *Transcript) RValues(yield func(Turn) bool) {
	for _, turn := range slices.Backward(t.turns) {
		if !yield(turn) {
			return
		}
	}
}
