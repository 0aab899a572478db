package session

import (
	"errors"
	"fmt"

	"github.com/koscakluka/synapse-voice/core/audio"
	"github.com/koscakluka/synapse-voice/core/gateway"
)

var (
	ErrBusy         = errors.New("an exchange is already awaiting a reply")
	ErrInvalidState = errors.New("operation not allowed in the current session state")
	ErrNoStagedClip = errors.New("no recording staged")
	ErrEmptyContent = errors.New("message is empty")
	ErrNoSession    = errors.New("no session running")
	// ErrSessionEnded is returned by an operation whose result was discarded
	// because the session ended while it was in flight.
	ErrSessionEnded = errors.New("session ended before the operation completed")
	ErrNoGateway    = errors.New("no gateway configured")
	ErrClosed       = errors.New("controller closed")
)

// ErrRecordingCancelled is returned by BeginRecording when the recording was
// discarded while the device was still opening.
var ErrRecordingCancelled = errors.New("recording discarded before it started")

type ErrorOrigin string

const (
	ErrorOriginCapture  ErrorOrigin = "capture"
	ErrorOriginNetwork  ErrorOrigin = "network"
	ErrorOriginPlayback ErrorOrigin = "playback"
)

// ErrorInfo is the last recoverable error, kept for display until the next
// successful operation or DismissError.
type ErrorInfo struct {
	Message string
	Origin  ErrorOrigin
	Err     error
}

func (e *ErrorInfo) Error() string { return e.Message }
func (e *ErrorInfo) Unwrap() error { return e.Err }

func newErrorInfo(origin ErrorOrigin, err error) *ErrorInfo {
	return &ErrorInfo{Message: describeError(origin, err), Origin: origin, Err: err}
}

func describeError(origin ErrorOrigin, err error) string {
	switch origin {
	case ErrorOriginCapture:
		switch {
		case errors.Is(err, audio.ErrPermissionDenied):
			return "Microphone access was denied"
		case errors.Is(err, audio.ErrDeviceClaimed):
			return "The microphone is in use by another recording"
		case errors.Is(err, audio.ErrEmptyRecording):
			return "Nothing was recorded"
		case errors.Is(err, audio.ErrDeviceUnavailable):
			return "No microphone is available"
		}
		return fmt.Sprintf("Recording failed: %v", err)

	case ErrorOriginNetwork:
		var networkErr *gateway.NetworkError
		if errors.As(err, &networkErr) && networkErr.StatusCode != 0 {
			return fmt.Sprintf("The assistant returned an error (status %d)", networkErr.StatusCode)
		}
		if errors.Is(err, gateway.ErrClipTooLarge) {
			return "The recording is too large to send"
		}
		return fmt.Sprintf("Could not reach the assistant: %v", err)

	case ErrorOriginPlayback:
		return fmt.Sprintf("Could not play the reply audio: %v", err)
	}

	return err.Error()
}
