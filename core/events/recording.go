package events

const (
	// KindRecordingStarted identifies the start of capture.
	KindRecordingStarted Kind = "recording.started"
	// KindRecordingStaged identifies a finished clip held for review.
	KindRecordingStaged Kind = "recording.staged"
	// KindRecordingDiscarded identifies dropped audio.
	KindRecordingDiscarded Kind = "recording.discarded"
)

// RecordingStarted marks the start of capture.
type RecordingStarted struct{ Base }

// NewRecordingStarted creates a recording started event.
func NewRecordingStarted() RecordingStarted {
	return RecordingStarted{Base: NewBase(KindRecordingStarted)}
}

// RecordingStaged describes the clip now waiting to be sent or discarded.
// AutoStopped is set when the maximum recording duration ended the capture.
type RecordingStaged struct {
	Base
	MimeType    string
	Size        int
	AutoStopped bool
}

// NewRecordingStaged creates a recording staged event.
func NewRecordingStaged(mimeType string, size int, autoStopped bool) RecordingStaged {
	return RecordingStaged{Base: NewBase(KindRecordingStaged), MimeType: mimeType, Size: size, AutoStopped: autoStopped}
}

// RecordingDiscarded marks that audio was dropped without being sent.
type RecordingDiscarded struct{ Base }

// NewRecordingDiscarded creates a recording discarded event.
func NewRecordingDiscarded() RecordingDiscarded {
	return RecordingDiscarded{Base: NewBase(KindRecordingDiscarded)}
}
