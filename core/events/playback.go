package events

const (
	// KindPlaybackStarted identifies the start of reply or preview playback.
	KindPlaybackStarted Kind = "playback.started"
	// KindPlaybackEnded identifies the terminal playback milestone.
	KindPlaybackEnded Kind = "playback.ended"
)

// PlaybackStarted names the source being played.
type PlaybackStarted struct {
	Base
	Source string
}

// NewPlaybackStarted creates a playback started event.
func NewPlaybackStarted(source string) PlaybackStarted {
	return PlaybackStarted{Base: NewBase(KindPlaybackStarted), Source: source}
}

// PlaybackEnded is emitted exactly once per started playback.
type PlaybackEnded struct {
	Base
	Source string
	Err    error
}

// NewPlaybackEnded creates a playback ended event.
func NewPlaybackEnded(source string, err error) PlaybackEnded {
	return PlaybackEnded{Base: NewBase(KindPlaybackEnded), Source: source, Err: err}
}
