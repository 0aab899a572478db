package session

import (
	"context"
	"net/http"
	"time"

	"github.com/koscakluka/synapse-voice/core/audio"
	"github.com/koscakluka/synapse-voice/core/conversations"
	"github.com/koscakluka/synapse-voice/core/events"
	"github.com/koscakluka/synapse-voice/core/gateway"
)

type ControllerOption func(*Controller)

// Gateway is the backend surface the controller needs. *gateway.Client
// satisfies it.
type Gateway interface {
	SendText(ctx context.Context, text string) (*gateway.Reply, error)
	SendAudio(ctx context.Context, clip *audio.Clip) (*gateway.Reply, error)
	FetchHistory(ctx context.Context) ([]conversations.Turn, error)
	ClearHistory(ctx context.Context) (string, error)
}

func WithGateway(client Gateway) ControllerOption {
	return func(c *Controller) { c.gateway = client }
}

// AudioInput is a capture device delivering linear PCM chunks. Chunks passed
// to onAudio must not be retained by the device after the call returns.
type AudioInput interface {
	EncodingInfo() audio.EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

func WithAudioInput(client AudioInput) ControllerOption {
	return func(c *Controller) { c.audioInput = client }
}

// AudioOutput is a playback sink. Mark calls callback once every chunk sent
// before it has been played; ClearBuffer drops queued audio together with
// pending marks.
type AudioOutput interface {
	EncodingInfo() audio.EncodingInfo
	SendAudio(audio []byte) error
	ClearBuffer()
	Mark(mark string, callback func(string)) error
}

func WithAudioOutput(client AudioOutput) ControllerOption {
	return func(c *Controller) { c.audioOutput = client }
}

// WithEventHandler receives every event the controller emits. The handler may
// be called from several goroutines and must not block.
func WithEventHandler(handler func(events.Event)) ControllerOption {
	return func(c *Controller) {
		if handler != nil {
			c.callbacks.onEvent = handler
		}
	}
}

func WithStateChangedCallback(callback func(from, to State)) ControllerOption {
	return func(c *Controller) { c.callbacks.onStateChanged = callback }
}

func WithTurnAppendedCallback(callback func(turn conversations.Turn)) ControllerOption {
	return func(c *Controller) { c.callbacks.onTurnAppended = callback }
}

func WithErrorCallback(callback func(info ErrorInfo)) ControllerOption {
	return func(c *Controller) { c.callbacks.onError = callback }
}

// WithPlaybackDuringRecording keeps reply audio playing when a recording
// starts. By default starting a recording stops playback.
func WithPlaybackDuringRecording(enabled bool) ControllerOption {
	return func(c *Controller) { c.playbackDuringRecording = enabled }
}

// WithMaxRecordingDuration stops a recording automatically once it has run
// for d and stages the clip. Zero (the default) never stops automatically.
func WithMaxRecordingDuration(d time.Duration) ControllerOption {
	return func(c *Controller) { c.maxRecordingDuration = d }
}

// WithPlaybackHTTPClient sets the client used to fetch reply audio referenced
// by URL.
func WithPlaybackHTTPClient(client *http.Client) ControllerOption {
	return func(c *Controller) { c.playbackHTTPClient = client }
}
