package events

import "github.com/koscakluka/synapse-voice/core/conversations"

const (
	// KindTranscriptTurnAppended identifies a turn appended to the transcript.
	KindTranscriptTurnAppended Kind = "transcript.turn_appended"
	// KindTranscriptCleared identifies a transcript reset.
	KindTranscriptCleared Kind = "transcript.cleared"
	// KindTranscriptRestored identifies server history loaded into the transcript.
	KindTranscriptRestored Kind = "transcript.restored"
)

// TranscriptTurnAppended carries the turn exactly as it was stored.
type TranscriptTurnAppended struct {
	Base
	Turn conversations.Turn
}

// NewTranscriptTurnAppended creates a turn appended event.
func NewTranscriptTurnAppended(turn conversations.Turn) TranscriptTurnAppended {
	return TranscriptTurnAppended{Base: NewBase(KindTranscriptTurnAppended), Turn: turn}
}

// TranscriptCleared marks that every turn was removed.
type TranscriptCleared struct{ Base }

// NewTranscriptCleared creates a transcript cleared event.
func NewTranscriptCleared() TranscriptCleared {
	return TranscriptCleared{Base: NewBase(KindTranscriptCleared)}
}

// TranscriptRestored marks that Count turns were loaded from the backend.
type TranscriptRestored struct {
	Base
	Count int
}

// NewTranscriptRestored creates a transcript restored event.
func NewTranscriptRestored(count int) TranscriptRestored {
	return TranscriptRestored{Base: NewBase(KindTranscriptRestored), Count: count}
}
