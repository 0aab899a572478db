package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/koscakluka/synapse-voice/core/audio"
)

type pcmStream struct {
	samples    []int16 // interleaved
	sampleRate int
	channels   int
}

// DecodeToPCM decodes a reply clip into linear16 PCM matching target so it can
// be written straight to a playback sink.
//
// The container is detected from the mime type first and from magic bytes when
// the mime type is missing or generic.
func DecodeToPCM(clip *audio.Clip, target audio.EncodingInfo) ([]byte, error) {
	if clip.IsEmpty() {
		return nil, fmt.Errorf("%w: empty clip", audio.ErrUnsupportedFormat)
	}
	if target.IsZero() {
		target = audio.GetDefaultEncodingInfo()
	}
	if target.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("%w: sink format %q", audio.ErrUnsupportedFormat, target.Format.Name())
	}

	var (
		stream pcmStream
		err    error
	)
	switch DetectFormat(clip) {
	case "mp3":
		stream, err = decodeMP3(clip.Data)
	case "flac":
		stream, err = decodeFLAC(clip.Data)
	case "wav":
		stream, err = decodeWAV(clip.Data)
	default:
		return nil, fmt.Errorf("%w: %q", audio.ErrUnsupportedFormat, clip.MimeType)
	}
	if err != nil {
		return nil, err
	}

	mono := downmix(stream.samples, stream.channels)
	resampled := resample(mono, stream.sampleRate, target.SampleRate)
	return samplesToBytes(upmix(resampled, target.ChannelCount())), nil
}

// DetectFormat returns "mp3", "flac", "wav" or "" when the clip cannot be
// identified.
func DetectFormat(clip *audio.Clip) string {
	switch clip.Extension() {
	case "mp3", "flac", "wav":
		return clip.Extension()
	}

	data := clip.Data
	switch {
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) > 12 && string(data[8:12]) == "WAVE":
		return "wav"
	case bytes.HasPrefix(data, []byte("ID3")):
		return "mp3"
	case len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}

func decodeMP3(data []byte) (pcmStream, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return pcmStream{}, fmt.Errorf("opening mp3 stream: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return pcmStream{}, fmt.Errorf("decoding mp3 stream: %w", err)
	}

	// go-mp3 always produces 16-bit little endian stereo
	return pcmStream{samples: bytesToSamples(raw), sampleRate: decoder.SampleRate(), channels: 2}, nil
}

func decodeWAV(data []byte) (pcmStream, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return pcmStream{}, fmt.Errorf("%w: not a wav file", audio.ErrUnsupportedFormat)
	}

	var (
		stream        pcmStream
		bitsPerSample int
		haveFormat    bool
	)
	for offset := 12; offset+8 <= len(data); {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := data[offset+8 : min(offset+8+chunkSize, len(data))]

		switch strings.TrimSpace(chunkID) {
		case "fmt":
			if len(body) < 16 {
				return pcmStream{}, fmt.Errorf("%w: truncated wav fmt chunk", audio.ErrUnsupportedFormat)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return pcmStream{}, fmt.Errorf("%w: wav encoding %d is not pcm", audio.ErrUnsupportedFormat, format)
			}
			stream.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			stream.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFormat = true
		case "data":
			if !haveFormat {
				return pcmStream{}, fmt.Errorf("%w: wav data before fmt chunk", audio.ErrUnsupportedFormat)
			}
			if bitsPerSample != 16 {
				return pcmStream{}, fmt.Errorf("%w: %d-bit wav", audio.ErrUnsupportedFormat, bitsPerSample)
			}
			stream.samples = bytesToSamples(body)
			return stream, nil
		}

		offset += 8 + chunkSize + chunkSize%2
	}

	return pcmStream{}, fmt.Errorf("%w: wav without data chunk", audio.ErrUnsupportedFormat)
}
