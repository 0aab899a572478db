package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/synapse-voice/core/audio"
)

const (
	defaultBufferSize = 512

	readRetryDelay  = 20 * time.Millisecond
	maxReadFailures = 10
)

// Client is a capture-only input backed by PortAudio. It is an alternative to
// the miniaudio client on hosts where miniaudio cannot open the microphone.
type Client struct {
	bufferSize int
	stream     *portaudio.Stream
	in         []int16

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewClient(bufferSize int) (*Client, error) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio: %w", audio.ErrDeviceUnavailable, err)
	}

	return &Client{bufferSize: bufferSize, in: make([]int16, bufferSize)}, nil
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil
	}

	if c.stream == nil {
		stream, err := portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, c.bufferSize, c.in)
		if err != nil {
			return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		c.stream = stream
	}

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.stopped = make(chan struct{})
	go c.read(ctx, c.stream, onAudio, c.stopped)

	return nil
}

func (c *Client) read(ctx context.Context, stream *portaudio.Stream, onAudio func([]byte), stopped chan struct{}) {
	defer close(stopped)

	err := readStream(ctx, stream.Read, func() {
		audioBuffer := bytes.Buffer{}
		binary.Write(&audioBuffer, binary.LittleEndian, c.in)
		onAudio(audioBuffer.Bytes())
	}, readRetryDelay)
	if err != nil {
		logger.ErrorContext(ctx, "stopped reading from portaudio stream", "error", err)
	}
}

// readStream calls read until ctx is done and hands every successful read to
// deliver. A failed read is retried after a delay that grows with each
// consecutive failure, and maxReadFailures in a row end the loop.
func readStream(ctx context.Context, read func() error, deliver func(), retryDelay time.Duration) error {
	failures := 0
	for ctx.Err() == nil {
		if err := read(); err != nil {
			failures++
			if failures >= maxReadFailures {
				return fmt.Errorf("%d consecutive read failures: %w", failures, err)
			}
			logger.WarnContext(ctx, "failed to read from portaudio stream", "error", err, "failures", failures)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(failures) * retryDelay):
			}
			continue
		}

		failures = 0
		deliver()
	}
	return nil
}

func (c *Client) StopCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return nil
	}

	c.cancel()
	<-c.stopped
	c.cancel = nil

	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop portaudio stream: %w", err)
	}
	return nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
		Channels:   1,
	}
}

func (c *Client) Close() error {
	err := c.StopCapture()

	c.mu.Lock()
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	c.mu.Unlock()

	portaudio.Terminate()
	return err
}
