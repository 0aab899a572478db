package miniaudio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/synapse-voice/core/audio"
)

type CaptureDevice struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	// onAudio is read on the device thread without mu, which StopCapture
	// holds while the device drains its last callbacks.
	onAudio atomic.Pointer[func(audio []byte)]

	mu sync.Mutex
}

func (c *CaptureDevice) init() error {
	if c.audioContext == nil {
		return fmt.Errorf("%w: audio context not initialized", audio.ErrDeviceUnavailable)
	}

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = captureSampleRate
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = 480
	c.config.Periods = 3

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: c.captureAudio(bytesPerFrame),
	})
	if err != nil {
		c.device = nil
		return classifyDeviceError(err)
	}

	return nil
}

func (c *CaptureDevice) captureAudio(bytesPerFrame int) malgo.DataProc {
	return func(_, pInput []byte, frameCount uint32) {
		n := int(frameCount) * bytesPerFrame
		if len(pInput) < n || n == 0 {
			return
		}

		onAudio := c.onAudio.Load()
		if onAudio == nil {
			return
		}
		// the device reuses pInput after the callback returns
		chunk := make([]byte, n)
		copy(chunk, pInput[:n])
		(*onAudio)(chunk)
	}
}

func (c *CaptureDevice) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		if err := c.init(); err != nil {
			return err
		}
	}
	if c.device.IsStarted() {
		return nil
	}

	c.onAudio.Store(&onAudio)
	if err := c.device.Start(); err != nil {
		c.onAudio.Store(nil)
		return classifyDeviceError(err)
	}

	return nil
}

func (c *CaptureDevice) StopCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onAudio.Store(nil)
	if c.device == nil || !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (c *CaptureDevice) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: captureSampleRate, Format: audio.EncodingLinear16, Channels: 1}
}

func (c *CaptureDevice) uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}

	c.onAudio.Store(nil)
	return nil
}

// classifyDeviceError maps miniaudio failures onto the capture error taxonomy.
// miniaudio reports a refused microphone prompt as an access-denied result.
func classifyDeviceError(err error) error {
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "denied") || strings.Contains(message, "permission") {
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
}
