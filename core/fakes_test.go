package session

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/synapse-voice/core/audio"
	"github.com/koscakluka/synapse-voice/core/conversations"
	"github.com/koscakluka/synapse-voice/core/events"
	"github.com/koscakluka/synapse-voice/core/gateway"
)

type fakeGateway struct {
	mu         sync.Mutex
	textCalls  []string
	audioCalls []*audio.Clip
	contexts   []context.Context

	sendText  func(ctx context.Context, text string) (*gateway.Reply, error)
	sendAudio func(ctx context.Context, clip *audio.Clip) (*gateway.Reply, error)

	history    []conversations.Turn
	historyErr error
	clearErr   error
	clearCalls atomic.Int32
}

func (g *fakeGateway) SendText(ctx context.Context, text string) (*gateway.Reply, error) {
	g.mu.Lock()
	g.textCalls = append(g.textCalls, text)
	g.contexts = append(g.contexts, ctx)
	sendText := g.sendText
	g.mu.Unlock()

	if sendText == nil {
		return &gateway.Reply{Text: "reply to " + text}, nil
	}
	return sendText(ctx, text)
}

func (g *fakeGateway) SendAudio(ctx context.Context, clip *audio.Clip) (*gateway.Reply, error) {
	g.mu.Lock()
	g.audioCalls = append(g.audioCalls, clip)
	g.contexts = append(g.contexts, ctx)
	sendAudio := g.sendAudio
	g.mu.Unlock()

	if sendAudio == nil {
		return &gateway.Reply{Text: "heard you"}, nil
	}
	return sendAudio(ctx, clip)
}

func (g *fakeGateway) FetchHistory(context.Context) ([]conversations.Turn, error) {
	return g.history, g.historyErr
}

func (g *fakeGateway) ClearHistory(context.Context) (string, error) {
	g.clearCalls.Add(1)
	if g.clearErr != nil {
		return "", g.clearErr
	}
	return "Conversation history cleared", nil
}

func (g *fakeGateway) textCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.textCalls)
}

func (g *fakeGateway) audioCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.audioCalls)
}

func (g *fakeGateway) lastContext() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contexts[len(g.contexts)-1]
}

// blockingReply holds the gateway call until release is closed and signals
// entered once the call is in flight.
type blockingReply struct {
	entered chan struct{}
	release chan struct{}
	reply   *gateway.Reply
	err     error
}

func newBlockingReply(reply *gateway.Reply, err error) *blockingReply {
	return &blockingReply{entered: make(chan struct{}, 1), release: make(chan struct{}), reply: reply, err: err}
}

func (b *blockingReply) wait() (*gateway.Reply, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.reply, b.err
}

type fakePlayer struct {
	mu      sync.Mutex
	sources []audio.Source
	ended   []func(error)
	stops   int
}

func (p *fakePlayer) Play(_ context.Context, source audio.Source, onEnded func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = append(p.sources, source)
	p.ended = append(p.ended, onEnded)
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

func (p *fakePlayer) source(i int) audio.Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sources[i]
}

func (p *fakePlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

func (p *fakePlayer) finish(i int, err error) {
	p.mu.Lock()
	onEnded := p.ended[i]
	p.mu.Unlock()
	onEnded(err)
}

type fakeInput struct {
	mu       sync.Mutex
	onAudio  func([]byte)
	startErr error
	starts   int
	stops    int
}

func (f *fakeInput) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (f *fakeInput) StartCapture(_ context.Context, onAudio func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.onAudio = onAudio
	f.starts++
	return nil
}

func (f *fakeInput) StopCapture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAudio = nil
	f.stops++
	return nil
}

func (f *fakeInput) push(pcm []byte) {
	f.mu.Lock()
	onAudio := f.onAudio
	f.mu.Unlock()
	if onAudio != nil {
		onAudio(pcm)
	}
}

func (f *fakeInput) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// blockingInput holds StartCapture and StopCapture until released and
// signals when each is entered. StartCapture gives up when its context is
// cancelled unless ignoreCancel is set.
type blockingInput struct {
	*fakeInput
	ignoreCancel bool

	startEntered chan struct{}
	startRelease chan struct{}
	stopEntered  chan struct{}
	stopRelease  chan struct{}
	releaseOnce  struct{ start, stop sync.Once }
}

func newBlockingInput() *blockingInput {
	return &blockingInput{
		fakeInput:    &fakeInput{},
		startEntered: make(chan struct{}, 1),
		startRelease: make(chan struct{}),
		stopEntered:  make(chan struct{}, 1),
		stopRelease:  make(chan struct{}),
	}
}

func (b *blockingInput) StartCapture(ctx context.Context, onAudio func([]byte)) error {
	signal(b.startEntered)
	if b.ignoreCancel {
		<-b.startRelease
	} else {
		select {
		case <-b.startRelease:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.fakeInput.StartCapture(ctx, onAudio)
}

func (b *blockingInput) StopCapture() error {
	signal(b.stopEntered)
	<-b.stopRelease
	return b.fakeInput.StopCapture()
}

func (b *blockingInput) releaseStart() { b.releaseOnce.start.Do(func() { close(b.startRelease) }) }
func (b *blockingInput) releaseStop()  { b.releaseOnce.stop.Do(func() { close(b.stopRelease) }) }

func (b *blockingInput) releaseAll() {
	b.releaseStart()
	b.releaseStop()
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// finishesWithin fails the test when fn does not return within a second.
func finishesWithin(t *testing.T, what string, fn func()) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected %s to return while the device is blocked", what)
	}
}

func receiveWithin[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()

	select {
	case value := <-ch:
		return value
	case <-time.After(2 * time.Second):
		t.Fatalf("expected %s, got nothing", what)
		var zero T
		return zero
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
	notify chan events.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{notify: make(chan events.Event, 256)}
}

func (r *eventRecorder) handle(event events.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()

	select {
	case r.notify <- event:
	default:
	}
}

func (r *eventRecorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, event := range r.events {
		if event.Kind() == kind {
			count++
		}
	}
	return count
}

func (r *eventRecorder) waitFor(t *testing.T, kind events.Kind) events.Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-r.notify:
			if event.Kind() == kind {
				return event
			}
		case <-timeout:
			t.Fatalf("expected %q event, got none", kind)
			return nil
		}
	}
}

func tonePCM(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := range samples {
		v := int16(6000 * math.Sin(2*math.Pi*300*float64(i)/float64(audio.DefaultSampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

type testController struct {
	*Controller
	gateway *fakeGateway
	player  *fakePlayer
	input   *fakeInput
	events  *eventRecorder
}

func newTestController(t *testing.T, opts ...ControllerOption) *testController {
	t.Helper()

	tc := &testController{
		gateway: &fakeGateway{},
		player:  &fakePlayer{},
		input:   &fakeInput{},
		events:  newEventRecorder(),
	}

	options := append([]ControllerOption{
		WithGateway(tc.gateway),
		WithAudioInput(tc.input),
		WithEventHandler(tc.events.handle),
	}, opts...)
	tc.Controller = NewController(options...)
	tc.Controller.playback = tc.player
	t.Cleanup(func() { tc.Controller.Close() })

	if err := tc.StartSession(context.Background()); err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}
	return tc
}

// stageClip records a short clip and stages it.
func (tc *testController) stageClip(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if err := tc.BeginRecording(ctx); err != nil {
		t.Fatalf("expected recording to start, got %v", err)
	}
	tc.input.push(tonePCM(4000))
	if err := tc.EndRecording(ctx); err != nil {
		t.Fatalf("expected recording to stage, got %v", err)
	}
	if tc.Snapshot().StagedClip == nil {
		t.Fatalf("expected a staged clip")
	}
}

func turnContents(turns []conversations.Turn) []string {
	contents := make([]string, 0, len(turns))
	for _, turn := range turns {
		contents = append(contents, string(turn.Role)+":"+turn.Content)
	}
	return contents
}
