package session

import (
	"github.com/koscakluka/synapse-voice/core/conversations"
	"github.com/koscakluka/synapse-voice/core/events"
)

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

type controllerCallbacks struct {
	onEvent        func(events.Event)
	onStateChanged func(from, to State)
	onTurnAppended func(turn conversations.Turn)
	onError        func(info ErrorInfo)
}

func newCallbackEventEmitter(callbacks controllerCallbacks) eventEmitter {
	onEvent := callbacks.onEvent
	if onEvent == nil {
		onEvent = noopEventEmitter
	}

	return func(event events.Event) {
		onEvent(event)

		switch typedEvent := event.(type) {
		case events.SessionStateChanged:
			if callbacks.onStateChanged != nil {
				callbacks.onStateChanged(parseState(typedEvent.From), parseState(typedEvent.To))
			}
		case events.TranscriptTurnAppended:
			if callbacks.onTurnAppended != nil {
				callbacks.onTurnAppended(typedEvent.Turn)
			}
		case events.SessionErrorRaised:
			if callbacks.onError != nil {
				callbacks.onError(ErrorInfo{Message: typedEvent.Message, Origin: ErrorOrigin(typedEvent.Origin)})
			}
		}
	}
}

func parseState(name string) State {
	for state := StateIdle; state <= StatePlaying; state++ {
		if state.String() == name {
			return state
		}
	}
	return StateIdle
}
