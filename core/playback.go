package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/koscakluka/synapse-voice/core/audio"
	"github.com/koscakluka/synapse-voice/core/audio/encoding"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// player is the playback surface the controller drives.
type player interface {
	// Play stops any active playback and starts source. onEnded is called
	// exactly once, never from within Play or Stop.
	Play(ctx context.Context, source audio.Source, onEnded func(err error))
	Stop()
}

// audioPlayback serializes reply audio through a single output sink. A new
// Play always supersedes the one still playing.
type audioPlayback struct {
	sink       AudioOutput
	httpClient *http.Client

	mu     sync.Mutex
	active *activePlayback
	nextID uint64

	// sinkMu orders writes to the sink against ClearBuffer so superseded audio
	// is never queued after the sink was cleared for its successor.
	sinkMu sync.Mutex
}

type activePlayback struct {
	id      uint64
	source  audio.Source
	cancel  context.CancelFunc
	onEnded func(error)
	once    sync.Once
}

func (p *activePlayback) finish(err error) {
	p.once.Do(func() {
		p.cancel()
		if p.onEnded != nil {
			go p.onEnded(err)
		}
	})
}

func newAudioPlayback(sink AudioOutput, httpClient *http.Client) *audioPlayback {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return "fetch reply audio " + request.URL.Host
			}),
		)}
	}
	return &audioPlayback{sink: sink, httpClient: httpClient}
}

func (a *audioPlayback) Play(ctx context.Context, source audio.Source, onEnded func(error)) {
	ctx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.nextID++
	current := &activePlayback{id: a.nextID, source: source, cancel: cancel, onEnded: onEnded}
	previous := a.active
	a.active = current
	a.mu.Unlock()

	if previous != nil {
		previous.cancel()
		a.clearSink()
		previous.finish(audio.ErrPlaybackSuperseded)
	}

	if a.sink == nil {
		a.end(current, nil)
		return
	}
	if source.IsZero() {
		a.end(current, fmt.Errorf("%w: nothing to play", audio.ErrPlaybackFailed))
		return
	}

	go a.run(ctx, current)
}

// Stop silences the sink. The active playback ends without an error.
func (a *audioPlayback) Stop() {
	a.mu.Lock()
	current := a.active
	a.active = nil
	a.mu.Unlock()

	if current == nil {
		return
	}
	current.cancel()
	a.clearSink()
	current.finish(nil)
}

func (a *audioPlayback) run(ctx context.Context, current *activePlayback) {
	ctx, span := tracer.Start(ctx, "play audio", trace.WithAttributes(
		attribute.String("playback.source", current.source.String()),
	))
	defer span.End()

	clip, err := a.resolve(ctx, current.source)
	if err != nil {
		a.fail(ctx, span, current, err)
		return
	}

	pcm, err := encoding.DecodeToPCM(clip, a.sink.EncodingInfo())
	if err != nil {
		a.fail(ctx, span, current, err)
		return
	}
	span.SetAttributes(attribute.Int("playback.pcm_bytes", len(pcm)))

	a.sinkMu.Lock()
	if ctx.Err() != nil {
		a.sinkMu.Unlock()
		return
	}
	if err := a.sink.SendAudio(pcm); err != nil {
		a.sinkMu.Unlock()
		a.fail(ctx, span, current, err)
		return
	}
	mark := "playback-" + strconv.FormatUint(current.id, 10)
	err = a.sink.Mark(mark, func(string) { a.end(current, nil) })
	a.sinkMu.Unlock()
	if err != nil {
		a.fail(ctx, span, current, err)
	}
}

func (a *audioPlayback) fail(ctx context.Context, span trace.Span, current *activePlayback, err error) {
	if ctx.Err() != nil {
		// superseded or stopped, already reported
		return
	}

	err = fmt.Errorf("%w: %w", audio.ErrPlaybackFailed, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.WarnContext(ctx, "playback failed", "source", current.source.String(), "error", err)
	a.end(current, err)
}

func (a *audioPlayback) end(current *activePlayback, err error) {
	a.mu.Lock()
	if a.active == current {
		a.active = nil
	}
	a.mu.Unlock()

	current.finish(err)
}

func (a *audioPlayback) clearSink() {
	if a.sink == nil {
		return
	}
	a.sinkMu.Lock()
	defer a.sinkMu.Unlock()
	a.sink.ClearBuffer()
}

func (a *audioPlayback) resolve(ctx context.Context, source audio.Source) (*audio.Clip, error) {
	if !source.Clip.IsEmpty() {
		return source.Clip, nil
	}

	reference := source.Reference
	switch {
	case strings.HasPrefix(reference, "data:"):
		return decodeDataURL(reference)
	case strings.HasPrefix(reference, "http://"), strings.HasPrefix(reference, "https://"):
		return a.fetch(ctx, reference)
	}
	return nil, fmt.Errorf("%w: reference %q", audio.ErrUnsupportedFormat, source.String())
}

func (a *audioPlayback) fetch(ctx context.Context, reference string) (*audio.Clip, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reference, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating audio request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("error fetching audio: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading audio: %w", err)
	}

	return &audio.Clip{Data: data, MimeType: resp.Header.Get("Content-Type")}, nil
}

// decodeDataURL handles data:[<mime>][;base64],<payload>.
func decodeDataURL(reference string) (*audio.Clip, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(reference, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data url", audio.ErrUnsupportedFormat)
	}

	mimeType, params, _ := strings.Cut(header, ";")
	isBase64 := false
	for param := range strings.SplitSeq(params, ";") {
		if param == "base64" {
			isBase64 = true
		}
	}

	var (
		data []byte
		err  error
	)
	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
	} else {
		var unescaped string
		unescaped, err = url.PathUnescape(payload)
		data = []byte(unescaped)
	}
	if err != nil {
		return nil, fmt.Errorf("error decoding data url: %w", err)
	}

	return &audio.Clip{Data: data, MimeType: mimeType}, nil
}
