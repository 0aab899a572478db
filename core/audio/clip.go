package audio

import (
	"errors"
	"strings"
)

const (
	MimeTypeFLAC = "audio/flac"
	MimeTypeMP3  = "audio/mpeg"
	MimeTypeWAV  = "audio/wav"
	MimeTypeWebM = "audio/webm"
)

var (
	ErrPermissionDenied   = errors.New("microphone permission denied")
	ErrDeviceUnavailable  = errors.New("capture device unavailable")
	ErrDeviceClaimed      = errors.New("capture device already claimed")
	ErrAlreadyRecording   = errors.New("already recording")
	ErrEmptyRecording     = errors.New("recording contains no audio")
	ErrPlaybackFailed     = errors.New("playback failed")
	ErrPlaybackSuperseded = errors.New("playback superseded by newer audio")
	ErrUnsupportedFormat  = errors.New("unsupported audio format")
)

// Clip is one finished piece of encoded audio. Ownership moves with the value:
// whoever receives a clip is its only user afterwards.
type Clip struct {
	Data     []byte
	MimeType string
}

func (c *Clip) IsEmpty() bool { return c == nil || len(c.Data) == 0 }

// Extension returns a file extension matching the clip's mime type, used as
// the upload filename.
func (c *Clip) Extension() string {
	if c == nil {
		return "bin"
	}

	mimeType, _, _ := strings.Cut(c.MimeType, ";")
	switch strings.TrimSpace(mimeType) {
	case MimeTypeFLAC, "audio/x-flac":
		return "flac"
	case MimeTypeMP3, "audio/mp3":
		return "mp3"
	case MimeTypeWAV, "audio/x-wav", "audio/wave":
		return "wav"
	case MimeTypeWebM:
		return "webm"
	}
	return "bin"
}

// Source is something the playback sink can play: either an in-memory clip or
// a reference (http(s) or data URL) that still has to be resolved.
type Source struct {
	Clip      *Clip
	Reference string
}

func ClipSource(clip *Clip) Source { return Source{Clip: clip} }
func ReferenceSource(reference string) Source { return Source{Reference: reference} }

func (s Source) IsZero() bool { return s.Clip.IsEmpty() && s.Reference == "" }

func (s Source) String() string {
	if s.Reference != "" {
		if strings.HasPrefix(s.Reference, "data:") {
			mimeType, _, _ := strings.Cut(strings.TrimPrefix(s.Reference, "data:"), ";")
			return "data:" + mimeType
		}
		return s.Reference
	}
	if s.Clip != nil {
		return "clip:" + s.Clip.MimeType
	}
	return ""
}
