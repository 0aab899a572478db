package encoding

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/koscakluka/synapse-voice/core/audio"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const (
	BlockSize     = 4096
	BitsPerSample = 16
)

// FlacEncoder encodes mono 16-bit PCM into an in-memory FLAC stream.
type FlacEncoder struct {
	buf         bytes.Buffer
	enc         *flac.Encoder
	sampleRate  int
	totalFrames uint64
	closed      bool
	mu          sync.Mutex
}

func NewFlac(sampleRate int) (*FlacEncoder, error) {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	e := &FlacEncoder{sampleRate: sampleRate}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     1,
		BitsPerSample: BitsPerSample,
		NSamples:      0,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

func (e *FlacEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.New("flac encoder closed")
	}
	if len(block) == 0 {
		return nil
	}

	samples32 := make([]int32, len(block))
	for i, s := range block {
		samples32[i] = int32(s)
	}

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples32,
		NSamples: len(block),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    uint32(e.sampleRate),
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.enc.Close()
}

func (e *FlacEncoder) Bytes() []byte {
	return e.buf.Bytes()
}

func (e *FlacEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

// EncodeFLAC turns captured PCM into a FLAC clip. Multi-channel input is mixed
// down to mono first since the backend only transcribes speech.
func EncodeFLAC(pcm []byte, info audio.EncodingInfo) (*audio.Clip, error) {
	if info.IsZero() {
		info = audio.GetDefaultEncodingInfo()
	}
	if info.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("%w: cannot encode %q to flac", audio.ErrUnsupportedFormat, info.Format.Name())
	}

	samples := downmix(bytesToSamples(pcm), info.ChannelCount())
	if len(samples) == 0 {
		return nil, audio.ErrEmptyRecording
	}

	enc, err := NewFlac(info.SampleRate)
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, fmt.Errorf("encoding block at offset %d: %w", i, err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing flac encoder: %w", err)
	}

	data := make([]byte, len(enc.Bytes()))
	copy(data, enc.Bytes())
	return &audio.Clip{Data: data, MimeType: audio.MimeTypeFLAC}, nil
}

func decodeFLAC(data []byte) (pcmStream, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return pcmStream{}, fmt.Errorf("opening flac stream: %w", err)
	}
	defer stream.Close()

	bitsPerSample := int(stream.Info.BitsPerSample)
	channels := int(stream.Info.NChannels)
	out := pcmStream{sampleRate: int(stream.Info.SampleRate), channels: channels}

	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return pcmStream{}, fmt.Errorf("parsing flac frame: %w", err)
		}

		for i := 0; i < int(f.BlockSize); i++ {
			for ch := 0; ch < channels && ch < len(f.Subframes); ch++ {
				out.samples = append(out.samples, scaleTo16(f.Subframes[ch].Samples[i], bitsPerSample))
			}
		}
	}

	return out, nil
}

func scaleTo16(sample int32, bitsPerSample int) int16 {
	switch {
	case bitsPerSample == 16:
		return int16(sample)
	case bitsPerSample > 16:
		return int16(sample >> (bitsPerSample - 16))
	default:
		return int16(sample << (16 - bitsPerSample))
	}
}
