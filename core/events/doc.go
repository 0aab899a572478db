// Package events defines the typed session event contract.
//
// The controller emits one event per observable change so a renderer can
// redraw from Controller.Snapshot without polling. Event kinds are grouped by
// receiver-facing namespaces:
//
//   - session.*
//   - transcript.*
//   - exchange.*
//   - recording.*
//   - playback.*
//
// session events
//
//   - SessionStateChanged (session.state_changed): the session moved between
//     states; carries both state names.
//   - SessionErrorRaised (session.error_raised): a recoverable error was
//     recorded as the session's last error.
//   - SessionErrorCleared (session.error_cleared): the last error was
//     dismissed or replaced by a successful operation.
//
// transcript events
//
//   - TranscriptTurnAppended (transcript.turn_appended): a turn was appended.
//     Turns are never edited afterwards.
//   - TranscriptCleared (transcript.cleared): the transcript was reset.
//   - TranscriptRestored (transcript.restored): server history was loaded
//     into an empty transcript.
//
// exchange events
//
//   - ExchangeStarted (exchange.started): a request was sent to the backend.
//   - ExchangeCompleted (exchange.completed): the reply was applied.
//   - ExchangeFailed (exchange.failed): the request failed; no reply turn.
//   - ExchangeCancelled (exchange.cancelled): the session ended while the
//     request was in flight; a late reply will be discarded.
//
// recording events
//
//   - RecordingStarted (recording.started): capture began.
//   - RecordingStaged (recording.staged): a finished clip is held for review.
//   - RecordingDiscarded (recording.discarded): buffered or staged audio was
//     dropped without sending.
//
// playback events
//
//   - PlaybackStarted (playback.started): reply audio started playing.
//   - PlaybackEnded (playback.ended): playback finished, failed or was
//     superseded. Err is nil on normal completion.
package events
