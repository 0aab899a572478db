package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/synapse-voice/core/audio"
	"github.com/koscakluka/synapse-voice/core/conversations"
	"github.com/koscakluka/synapse-voice/core/events"
	"github.com/koscakluka/synapse-voice/core/gateway"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// VoiceMessagePlaceholder is the content of the user turn appended for a sent
// recording.
const VoiceMessagePlaceholder = "🎤 Voice message"

// recorder is the capture surface the controller drives.
type recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*audio.Clip, error)
	Discard()
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	State     State
	Turns     []conversations.Turn
	LastError *ErrorInfo
	// StagedClip describes the recording waiting to be sent, nil if none.
	StagedClip *ClipInfo
	IsPlaying  bool
}

type ClipInfo struct {
	MimeType string
	Size     int
}

// recordingAttempt follows one recording from BeginRecording until its clip
// is staged or dropped. The device is opened and finalized without the
// session lock, so the attempt is what later steps check they still own.
type recordingAttempt struct {
	generation uint64
	cancel     context.CancelFunc
	// started is set once the device is capturing and the state is Recording.
	started    bool
	finalizing bool
	// autoStopped is set when the maximum duration staged the clip.
	autoStopped bool
}

type exchange struct {
	mode       events.ExchangeMode
	generation uint64
	cancel     context.CancelFunc
}

// Controller owns the single session and is its only writer. Capture, the
// gateway and playback return results; the controller applies them.
//
// Every method is safe for concurrent use. Blocking operations run on the
// caller's goroutine and release the session lock while they wait.
type Controller struct {
	gateway                 Gateway
	audioInput              AudioInput
	audioOutput             AudioOutput
	playbackHTTPClient      *http.Client
	playbackDuringRecording bool
	maxRecordingDuration    time.Duration
	callbacks               controllerCallbacks

	emitEvent eventEmitter
	capture   recorder
	playback  player

	mu             sync.Mutex
	state          State
	transcript     conversations.Transcript
	lastError      *ErrorInfo
	staged         *audio.Clip
	exchange       *exchange
	recording      *recordingAttempt
	generation     uint64
	playbackID     uint64
	playbackActive bool
	sessionCtx     context.Context
	sessionCancel  context.CancelFunc
	pending        []events.Event
	closed         bool

	// emitMu is taken after mu and guards delivery of queued events.
	emitMu   sync.Mutex
	outbox   []events.Event
	draining bool

	closeOnce sync.Once
}

func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{state: StateIdle}
	for _, opt := range opts {
		opt(c)
	}

	c.emitEvent = newCallbackEventEmitter(c.callbacks)
	c.capture = newAudioCapture(c.audioInput, c.maxRecordingDuration, c.onRecordingAutoStopped)
	c.playback = newAudioPlayback(c.audioOutput, c.playbackHTTPClient)
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := Snapshot{
		State:     c.state,
		Turns:     c.transcript.Turns(),
		IsPlaying: c.playbackActive,
	}
	if c.lastError != nil {
		lastError := *c.lastError
		snapshot.LastError = &lastError
	}
	if c.staged != nil {
		snapshot.StagedClip = &ClipInfo{MimeType: c.staged.MimeType, Size: len(c.staged.Data)}
	}
	return snapshot
}

// StartSession moves Idle → Active with an empty transcript.
func (c *Controller) StartSession(ctx context.Context) error {
	_, span := tracer.Start(ctx, "start session")
	defer span.End()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("%w: session already running", ErrInvalidState)
	}

	c.sessionCtx, c.sessionCancel = context.WithCancel(context.WithoutCancel(ctx))
	if c.transcript.Len() > 0 {
		c.transcript.Clear()
		c.queue(events.NewTranscriptCleared())
	}
	c.clearErrorLocked()
	c.setStateLocked(StateActive)
	c.unlockAndEmit()

	return nil
}

// EndSession returns the controller to Idle from any state. The in-flight
// recording is discarded, the in-flight request is cancelled and its reply
// will be ignored, playback stops and the transcript is cleared.
func (c *Controller) EndSession(ctx context.Context) error {
	_, span := tracer.Start(ctx, "end session")
	defer span.End()

	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	span.SetAttributes(attribute.String("session.state", c.state.String()))

	c.generation++
	if c.exchange != nil {
		c.exchange.cancel()
		if c.exchange.mode != "" {
			c.queue(events.NewExchangeCancelled(c.exchange.mode))
		}
		c.exchange = nil
	}

	discarded, stopDevice := c.dropRecordingLocked()
	if c.staged != nil {
		c.staged = nil
		discarded = true
	}
	if discarded {
		c.queue(events.NewRecordingDiscarded())
	}

	c.playbackID++
	c.playbackActive = false
	c.playback.Stop()

	c.transcript.Clear()
	c.queue(events.NewTranscriptCleared())
	c.clearErrorLocked()

	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
	c.setStateLocked(StateIdle)
	c.unlockAndEmit()

	if stopDevice {
		c.capture.Discard()
	}
	return nil
}

// SubmitText appends the user's turn, sends it and applies the reply. It
// blocks until the reply arrives, fails or the session ends.
func (c *Controller) SubmitText(ctx context.Context, content string) error {
	ctx, span := tracer.Start(ctx, "submit text")
	defer span.End()

	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	c.mu.Lock()
	if err := c.checkCanExchangeLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	c.appendTurnLocked(conversations.NewUserTurn(content))
	current, exchangeCtx := c.beginExchangeLocked(ctx, events.ExchangeModeText)
	c.unlockAndEmit()

	reply, err := c.gateway.SendText(exchangeCtx, content)
	return c.applyReply(ctx, current, reply, err)
}

// BeginRecording starts capturing a new clip. A clip that is still staged is
// discarded. Playback stops unless WithPlaybackDuringRecording is set.
//
// The session lock is released while the device opens. EndSession or
// DiscardRecording during that time cancel the attempt, and BeginRecording
// then returns ErrSessionEnded or ErrRecordingCancelled.
func (c *Controller) BeginRecording(ctx context.Context) error {
	_, span := tracer.Start(ctx, "begin recording")
	defer span.End()

	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return ErrNoSession
	case StateAwaitingReply:
		c.mu.Unlock()
		return ErrBusy
	}
	if c.recording != nil {
		c.mu.Unlock()
		return audio.ErrAlreadyRecording
	}

	if c.staged != nil {
		c.staged = nil
		c.queue(events.NewRecordingDiscarded())
	}
	if c.playbackActive && !c.playbackDuringRecording {
		c.stopPlaybackLocked()
	}

	startCtx, cancel := context.WithCancel(trace.ContextWithSpan(c.sessionCtx, span))
	attempt := &recordingAttempt{generation: c.generation, cancel: cancel}
	c.recording = attempt
	c.unlockAndEmit()

	err := c.capture.Start(startCtx)

	c.mu.Lock()
	if attempt.generation != c.generation || c.recording != attempt {
		ended := attempt.generation != c.generation
		autoStopped := attempt.autoStopped
		c.mu.Unlock()
		cancel()

		if autoStopped && !ended {
			return nil
		}
		if err == nil {
			c.capture.Discard()
		}
		if ended {
			return ErrSessionEnded
		}
		return ErrRecordingCancelled
	}

	if err != nil {
		cancel()
		c.recording = nil
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.raiseErrorLocked(ErrorOriginCapture, err)
		c.setStateLocked(c.restingStateLocked())
		c.unlockAndEmit()
		return err
	}

	attempt.started = true
	c.clearErrorLocked()
	c.setStateLocked(StateRecording)
	c.queue(events.NewRecordingStarted())
	c.unlockAndEmit()

	return nil
}

// EndRecording finishes the capture and stages the clip for review. It is a
// no-op when nothing is being recorded, including while the device is still
// opening. The clip is encoded without holding the session lock.
func (c *Controller) EndRecording(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "end recording")
	defer span.End()

	c.mu.Lock()
	attempt := c.recording
	if c.state != StateRecording || attempt == nil || !attempt.started || attempt.finalizing {
		c.mu.Unlock()
		return nil
	}
	attempt.finalizing = true
	c.mu.Unlock()

	clip, err := c.capture.Stop(ctx)

	c.mu.Lock()
	if attempt.generation != c.generation {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	if c.recording != attempt {
		// discarded, or staged by the maximum duration, while finalizing
		c.mu.Unlock()
		return nil
	}
	if err == nil && clip == nil {
		// the maximum duration fired first and stages the clip itself
		c.mu.Unlock()
		return nil
	}

	c.recording = nil
	attempt.cancel()
	if err := c.stageRecordingLocked(clip, err, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.unlockAndEmit()
		return err
	}
	c.unlockAndEmit()

	return nil
}

// SendRecording sends the staged clip as a voice turn. The clip is consumed
// whether the exchange succeeds or not.
func (c *Controller) SendRecording(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "send recording")
	defer span.End()

	c.mu.Lock()
	if err := c.checkCanExchangeLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.staged == nil {
		c.mu.Unlock()
		return ErrNoStagedClip
	}

	clip := c.staged
	c.staged = nil
	span.SetAttributes(attribute.Int("clip.bytes", len(clip.Data)))

	c.appendTurnLocked(conversations.NewUserTurn(VoiceMessagePlaceholder))
	current, exchangeCtx := c.beginExchangeLocked(ctx, events.ExchangeModeAudio)
	c.unlockAndEmit()

	reply, err := c.gateway.SendAudio(exchangeCtx, clip)
	return c.applyReply(ctx, current, reply, err)
}

// DiscardRecording drops the staged clip, or the recording in progress. A
// recording whose device is still opening is cancelled. It is a no-op when
// there is nothing to drop.
func (c *Controller) DiscardRecording() {
	c.mu.Lock()

	discarded, stopDevice := c.dropRecordingLocked()
	if discarded && c.state == StateRecording {
		c.setStateLocked(c.restingStateLocked())
	}
	if c.staged != nil {
		c.staged = nil
		discarded = true
	}
	if discarded {
		c.queue(events.NewRecordingDiscarded())
	}
	c.unlockAndEmit()

	if stopDevice {
		c.capture.Discard()
	}
}

// PreviewRecording plays the staged clip locally without sending it.
func (c *Controller) PreviewRecording(ctx context.Context) error {
	_, span := tracer.Start(ctx, "preview recording")
	defer span.End()

	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return ErrNoSession
	case StateAwaitingReply:
		c.mu.Unlock()
		return ErrBusy
	}
	if c.recording != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: still recording", ErrInvalidState)
	}
	if c.staged == nil {
		c.mu.Unlock()
		return ErrNoStagedClip
	}

	preview := &audio.Clip{Data: bytes.Clone(c.staged.Data), MimeType: c.staged.MimeType}
	c.startPlaybackLocked(audio.ClipSource(preview))
	c.unlockAndEmit()

	return nil
}

// StopPlayback silences reply or preview audio.
func (c *Controller) StopPlayback() {
	c.mu.Lock()
	if c.playbackActive {
		c.stopPlaybackLocked()
	}
	c.unlockAndEmit()
}

func (c *Controller) DismissError() {
	c.mu.Lock()
	c.clearErrorLocked()
	c.unlockAndEmit()
}

// ClearHistory deletes the backend's history and then the local transcript.
// It occupies the exchange slot, so sends are rejected while it runs.
func (c *Controller) ClearHistory(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "clear history")
	defer span.End()

	c.mu.Lock()
	if err := c.checkCanExchangeLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	current, exchangeCtx := c.beginExchangeLocked(ctx, "")
	c.unlockAndEmit()

	message, err := c.gateway.ClearHistory(exchangeCtx)

	c.mu.Lock()
	if !c.finishExchangeLocked(current) {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	if err != nil {
		c.recordExchangeFailureLocked(span, current, err)
		c.unlockAndEmit()
		return err
	}

	logger.InfoContext(ctx, "conversation history cleared", "message", message)
	c.transcript.Clear()
	c.queue(events.NewTranscriptCleared())
	c.clearErrorLocked()
	c.setStateLocked(c.restingStateLocked())
	c.unlockAndEmit()

	return nil
}

// RestoreHistory loads the backend's history into an empty transcript.
func (c *Controller) RestoreHistory(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "restore history")
	defer span.End()

	c.mu.Lock()
	if err := c.checkCanExchangeLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.transcript.Len() > 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: transcript is not empty", ErrInvalidState)
	}
	current, exchangeCtx := c.beginExchangeLocked(ctx, "")
	c.unlockAndEmit()

	turns, err := c.gateway.FetchHistory(exchangeCtx)

	c.mu.Lock()
	if !c.finishExchangeLocked(current) {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	if err != nil {
		c.recordExchangeFailureLocked(span, current, err)
		c.unlockAndEmit()
		return err
	}

	span.SetAttributes(attribute.Int("history.turns", len(turns)))
	for _, turn := range turns {
		c.transcript.Append(turn)
	}
	c.queue(events.NewTranscriptRestored(len(turns)))
	c.clearErrorLocked()
	c.setStateLocked(c.restingStateLocked())
	c.unlockAndEmit()

	return nil
}

// Close ends the session. The controller cannot be restarted afterwards.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.EndSession(context.Background())

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	})
	return err
}

// checkCanExchangeLocked enforces the single exchange slot. A second request
// is rejected, never queued.
func (c *Controller) checkCanExchangeLocked() error {
	switch c.state {
	case StateIdle:
		return ErrNoSession
	case StateAwaitingReply:
		return ErrBusy
	}
	if c.recording != nil {
		return fmt.Errorf("%w: recording in progress", ErrInvalidState)
	}
	if c.gateway == nil {
		return ErrNoGateway
	}
	return nil
}

func (c *Controller) beginExchangeLocked(ctx context.Context, mode events.ExchangeMode) (*exchange, context.Context) {
	exchangeCtx, cancel := context.WithCancel(ctx)
	current := &exchange{mode: mode, generation: c.generation, cancel: cancel}
	c.exchange = current

	c.setStateLocked(StateAwaitingReply)
	if mode != "" {
		c.queue(events.NewExchangeStarted(mode))
	}
	return current, exchangeCtx
}

// finishExchangeLocked releases the exchange slot. It reports false when the
// session ended meanwhile and the result must be discarded.
func (c *Controller) finishExchangeLocked(current *exchange) bool {
	current.cancel()
	if current.generation != c.generation || c.exchange != current {
		return false
	}
	c.exchange = nil
	return true
}

func (c *Controller) recordExchangeFailureLocked(span trace.Span, current *exchange, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	c.raiseErrorLocked(ErrorOriginNetwork, err)
	if current.mode != "" {
		c.queue(events.NewExchangeFailed(current.mode, err))
	}
	c.setStateLocked(c.restingStateLocked())
}

func (c *Controller) applyReply(ctx context.Context, current *exchange, reply *gateway.Reply, err error) error {
	span := trace.SpanFromContext(ctx)

	c.mu.Lock()
	if !c.finishExchangeLocked(current) {
		c.mu.Unlock()
		logger.InfoContext(ctx, "discarding reply for ended session", "mode", string(current.mode))
		return ErrSessionEnded
	}
	if err == nil && reply == nil {
		err = errors.New("empty reply")
	}
	if err != nil {
		c.recordExchangeFailureLocked(span, current, err)
		c.unlockAndEmit()
		return err
	}

	span.SetAttributes(attribute.Bool("reply.has_audio", reply.HasAudio()))
	c.clearErrorLocked()
	c.appendTurnLocked(conversations.NewAssistantTurn(reply.Text))
	c.queue(events.NewExchangeCompleted(current.mode, reply.HasAudio()))

	if reply.HasAudio() {
		c.startPlaybackLocked(audio.ReferenceSource(reply.AudioURL))
	} else {
		c.setStateLocked(c.restingStateLocked())
	}
	c.unlockAndEmit()

	return nil
}

func (c *Controller) stageRecordingLocked(clip *audio.Clip, err error, autoStopped bool) error {
	c.setStateLocked(c.restingStateLocked())
	if err != nil {
		c.raiseErrorLocked(ErrorOriginCapture, err)
		return err
	}

	c.staged = clip
	c.clearErrorLocked()
	c.queue(events.NewRecordingStaged(clip.MimeType, len(clip.Data), autoStopped))
	return nil
}

// dropRecordingLocked cancels the recording attempt, if any. It reports
// whether there was one and whether the caller must stop the device once the
// lock is released. A device still opening or finalizing is left to the
// BeginRecording or EndRecording call that owns it.
func (c *Controller) dropRecordingLocked() (dropped, stopDevice bool) {
	attempt := c.recording
	if attempt == nil {
		return false, false
	}
	c.recording = nil
	attempt.cancel()
	return true, attempt.started && !attempt.finalizing
}

func (c *Controller) onRecordingAutoStopped(clip *audio.Clip, err error) {
	c.mu.Lock()
	attempt := c.recording
	if attempt == nil {
		c.mu.Unlock()
		return
	}
	c.recording = nil
	attempt.cancel()
	attempt.autoStopped = true

	logger.Info("recording reached maximum duration", "duration", c.maxRecordingDuration.String())
	c.stageRecordingLocked(clip, err, true)
	c.unlockAndEmit()
}

func (c *Controller) startPlaybackLocked(source audio.Source) {
	c.playbackID++
	id := c.playbackID
	c.playbackActive = true
	c.setStateLocked(StatePlaying)
	c.queue(events.NewPlaybackStarted(source.String()))

	c.playback.Play(c.sessionCtx, source, func(err error) { c.onPlaybackEnded(id, source, err) })
}

func (c *Controller) stopPlaybackLocked() {
	c.playbackActive = false
	if c.state == StatePlaying {
		c.setStateLocked(StateActive)
	}
	c.playback.Stop()
}

func (c *Controller) onPlaybackEnded(id uint64, source audio.Source, err error) {
	c.mu.Lock()
	c.queue(events.NewPlaybackEnded(source.String(), err))

	if id == c.playbackID && c.state.IsRunning() {
		c.playbackActive = false
		if err != nil && !errors.Is(err, audio.ErrPlaybackSuperseded) {
			c.raiseErrorLocked(ErrorOriginPlayback, err)
		}
		if c.state == StatePlaying {
			c.setStateLocked(StateActive)
		}
	}
	c.unlockAndEmit()
}

// restingStateLocked is where the session settles once an operation ends.
func (c *Controller) restingStateLocked() State {
	if c.playbackActive {
		return StatePlaying
	}
	return StateActive
}

func (c *Controller) appendTurnLocked(turn conversations.Turn) {
	stored := c.transcript.Append(turn)
	c.queue(events.NewTranscriptTurnAppended(stored))
}

func (c *Controller) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.queue(events.NewSessionStateChanged(c.state.String(), state.String()))
	c.state = state
}

func (c *Controller) raiseErrorLocked(origin ErrorOrigin, err error) {
	c.lastError = newErrorInfo(origin, err)
	c.queue(events.NewSessionErrorRaised(string(origin), c.lastError.Message))
}

func (c *Controller) clearErrorLocked() {
	if c.lastError == nil {
		return
	}
	c.lastError = nil
	c.queue(events.NewSessionErrorCleared())
}

func (c *Controller) queue(event events.Event) {
	c.pending = append(c.pending, event)
}

// unlockAndEmit releases mu and then delivers the queued events. Events from
// every goroutine reach handlers in the order they were queued: whichever
// caller finds the outbox idle drains it, including events added while it
// runs. Handlers may call back into the controller.
func (c *Controller) unlockAndEmit() {
	c.emitMu.Lock()
	c.outbox = append(c.outbox, c.pending...)
	c.pending = nil
	c.mu.Unlock()

	if c.draining {
		c.emitMu.Unlock()
		return
	}
	c.draining = true
	for len(c.outbox) > 0 {
		event := c.outbox[0]
		c.outbox = c.outbox[1:]
		c.emitMu.Unlock()
		c.emitEvent(event)
		c.emitMu.Lock()
	}
	c.outbox = nil
	c.draining = false
	c.emitMu.Unlock()
}
