package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/koscakluka/synapse-voice/core/audio"
)

// EncodeWAV wraps linear16 PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, info audio.EncodingInfo) (*audio.Clip, error) {
	if info.IsZero() {
		info = audio.GetDefaultEncodingInfo()
	}
	if info.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("%w: cannot wrap %q in wav", audio.ErrUnsupportedFormat, info.Format.Name())
	}
	if len(pcm) == 0 {
		return nil, audio.ErrEmptyRecording
	}

	channels := info.ChannelCount()
	blockAlign := channels * 2

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(info.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(info.SampleRate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return &audio.Clip{Data: buf.Bytes(), MimeType: audio.MimeTypeWAV}, nil
}
