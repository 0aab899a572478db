package miniaudio

import (
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/synapse-voice/core/audio"
)

const (
	captureSampleRate  = audio.DefaultSampleRate
	playbackSampleRate = 24000
)

// Client owns one miniaudio context and the capture and playback devices
// created from it.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext

	Capture  *CaptureDevice
	Playback *PlaybackDevice
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) {},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: malgo context: %w", audio.ErrDeviceUnavailable, err)
	}

	client := Client{
		audioContext: audioCtx,
		Capture:      &CaptureDevice{},
		Playback:     &PlaybackDevice{},
	}

	if err := client.Playback.init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	// TODO: Start playback lazily on the first SendAudio instead of keeping the
	// device running for the whole session
	if err := client.Playback.start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	// Capture is initialized lazily on StartCapture so the OS microphone
	// prompt only appears once the user asks to record.
	client.Capture.audioContext = audioCtx

	return &client, nil
}

func (c *Client) Close() error {
	var errs error
	if err := c.Capture.uninit(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := c.Playback.uninit(); err != nil {
		errs = errors.Join(errs, err)
	}
	if c.audioContext != nil {
		if err := c.audioContext.Uninit(); err != nil {
			errs = errors.Join(errs, err)
		}
		c.audioContext.Free()
		c.audioContext = nil
	}
	return errs
}
