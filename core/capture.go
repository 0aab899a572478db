package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/synapse-voice/core/audio"
	"github.com/koscakluka/synapse-voice/core/audio/encoding"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// deviceClaims holds the capture that currently owns each input device. A
// device may be claimed by one audioCapture at a time across the process.
var deviceClaims = struct {
	sync.Mutex
	owners map[AudioInput]*audioCapture
}{owners: map[AudioInput]*audioCapture{}}

func claimDevice(input AudioInput, owner *audioCapture) error {
	deviceClaims.Lock()
	defer deviceClaims.Unlock()

	if current, ok := deviceClaims.owners[input]; ok && current != owner {
		return audio.ErrDeviceClaimed
	}
	deviceClaims.owners[input] = owner
	return nil
}

func releaseDevice(input AudioInput, owner *audioCapture) {
	deviceClaims.Lock()
	defer deviceClaims.Unlock()

	if deviceClaims.owners[input] == owner {
		delete(deviceClaims.owners, input)
	}
}

type capturePhase int

const (
	captureIdle capturePhase = iota
	captureStarting
	captureRecording
	captureStopping
)

// audioCapture records one clip at a time from an exclusive input device.
// The device is started and stopped outside mu; phase keeps those calls from
// overlapping.
type audioCapture struct {
	input       AudioInput
	maxDuration time.Duration
	// onAutoStop receives the clip when maxDuration ends a recording. It runs
	// before the device is released, so no other recording can start first.
	onAutoStop func(clip *audio.Clip, err error)

	mu          sync.Mutex
	phase       capturePhase
	encoding    audio.EncodingInfo
	autoStop    *time.Timer
	recordingID uint64

	// activeID is the recording chunks are accepted for, 0 when idle. Kept
	// outside mu so the device thread never waits on StopCapture.
	activeID atomic.Uint64
	bufferMu sync.Mutex
	buffer   bytes.Buffer
}

func newAudioCapture(input AudioInput, maxDuration time.Duration, onAutoStop func(*audio.Clip, error)) *audioCapture {
	return &audioCapture{input: input, maxDuration: maxDuration, onAutoStop: onAutoStop}
}

func (c *audioCapture) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == captureRecording
}

// Start claims the device and begins buffering audio. Opening the device may
// block until ctx is done.
func (c *audioCapture) Start(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "start recording")
	defer span.End()

	if c.input == nil {
		return fmt.Errorf("%w: no input configured", audio.ErrDeviceUnavailable)
	}

	c.mu.Lock()
	if c.phase != captureIdle {
		c.mu.Unlock()
		return audio.ErrAlreadyRecording
	}
	if err := claimDevice(c.input, c); err != nil {
		c.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.phase = captureStarting
	c.encoding = c.input.EncodingInfo()
	if c.encoding.IsZero() {
		c.encoding = audio.GetDefaultEncodingInfo()
	}
	span.SetAttributes(attribute.Int("capture.sample_rate", c.encoding.SampleRate))

	c.bufferMu.Lock()
	c.buffer.Reset()
	c.bufferMu.Unlock()

	c.recordingID++
	id := c.recordingID
	c.activeID.Store(id)
	c.mu.Unlock()

	err := c.input.StartCapture(ctx, func(chunk []byte) { c.onAudio(id, chunk) })

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.phase = captureIdle
		c.activeID.Store(0)
		releaseDevice(c.input, c)

		err = classifyCaptureError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.phase = captureRecording
	if c.maxDuration > 0 {
		c.autoStop = time.AfterFunc(c.maxDuration, func() { c.stopAfterMaxDuration(id) })
	}

	return nil
}

// Stop finalizes the buffered audio into a FLAC clip and releases the device.
// It returns no clip and no error when nothing is being recorded, including
// while the maximum duration is already finalizing the clip.
func (c *audioCapture) Stop(ctx context.Context) (*audio.Clip, error) {
	_, span := tracer.Start(ctx, "finalize recording")
	defer span.End()

	c.mu.Lock()
	if c.phase != captureRecording {
		c.mu.Unlock()
		return nil, nil
	}
	info := c.detachLocked()
	c.mu.Unlock()

	clip, err := c.finish(info)
	c.release()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("clip.bytes", len(clip.Data)))
	return clip, nil
}

// Discard releases the device and drops the buffered audio.
func (c *audioCapture) Discard() {
	c.mu.Lock()
	if c.phase != captureRecording {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	c.mu.Unlock()

	if err := c.input.StopCapture(); err != nil {
		logger.Warn("failed to stop capture while discarding", "error", err)
	}

	c.bufferMu.Lock()
	c.buffer.Reset()
	c.bufferMu.Unlock()
	c.release()
}

func (c *audioCapture) onAudio(id uint64, chunk []byte) {
	if c.activeID.Load() != id {
		return
	}

	c.bufferMu.Lock()
	defer c.bufferMu.Unlock()
	// A chunk can race with Stop; the id is re-checked under the buffer lock.
	if c.activeID.Load() != id {
		return
	}
	c.buffer.Write(chunk)
}

func (c *audioCapture) stopAfterMaxDuration(id uint64) {
	c.mu.Lock()
	if c.phase != captureRecording || c.recordingID != id {
		c.mu.Unlock()
		return
	}
	info := c.detachLocked()
	c.mu.Unlock()

	clip, err := c.finish(info)
	if c.onAutoStop != nil {
		c.onAutoStop(clip, err)
	}
	c.release()
}

// detachLocked stops accepting chunks and hands the recording over to a
// stop that runs without mu.
func (c *audioCapture) detachLocked() audio.EncodingInfo {
	c.phase = captureStopping
	c.activeID.Store(0)
	if c.autoStop != nil {
		c.autoStop.Stop()
		c.autoStop = nil
	}
	return c.encoding
}

func (c *audioCapture) finish(info audio.EncodingInfo) (*audio.Clip, error) {
	stopErr := c.input.StopCapture()

	c.bufferMu.Lock()
	pcm := bytes.Clone(c.buffer.Bytes())
	c.buffer.Reset()
	c.bufferMu.Unlock()

	clip, err := encoding.EncodeFLAC(pcm, info)
	if err != nil {
		return nil, errors.Join(err, stopErr)
	}
	if stopErr != nil {
		logger.Warn("capture device did not stop cleanly", "error", stopErr)
	}

	return clip, nil
}

func (c *audioCapture) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = captureIdle
	releaseDevice(c.input, c)
}

func classifyCaptureError(err error) error {
	if errors.Is(err, audio.ErrPermissionDenied) || errors.Is(err, audio.ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
}
