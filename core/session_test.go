package session

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/koscakluka/synapse-voice/core/audio"
	"github.com/koscakluka/synapse-voice/core/conversations"
	"github.com/koscakluka/synapse-voice/core/events"
	"github.com/koscakluka/synapse-voice/core/gateway"
)

func TestTextExchangeAppendsReplyAndReturnsToActive(t *testing.T) {
	tc := newTestController(t)
	tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) {
		return &gateway.Reply{Text: "1.27"}, nil
	}

	if err := tc.SubmitText(context.Background(), "quote GBP/USD"); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}

	snapshot := tc.Snapshot()
	expected := []string{"user:quote GBP/USD", "assistant:1.27"}
	if got := turnContents(snapshot.Turns); !slices.Equal(got, expected) {
		t.Fatalf("expected transcript %v, got %v", expected, got)
	}
	if snapshot.State != StateActive {
		t.Fatalf("expected state %s, got %s", StateActive, snapshot.State)
	}
	if tc.player.playCount() != 0 {
		t.Fatalf("expected no playback for a reply without audio")
	}
}

func TestVoiceExchangePlaysReplyReference(t *testing.T) {
	tc := newTestController(t)
	tc.gateway.sendAudio = func(context.Context, *audio.Clip) (*gateway.Reply, error) {
		return &gateway.Reply{Text: "noted", AudioURL: "http://example.com/r1"}, nil
	}

	tc.stageClip(t)
	if err := tc.SendRecording(context.Background()); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}

	snapshot := tc.Snapshot()
	expected := []string{"user:" + VoiceMessagePlaceholder, "assistant:noted"}
	if got := turnContents(snapshot.Turns); !slices.Equal(got, expected) {
		t.Fatalf("expected transcript %v, got %v", expected, got)
	}
	if snapshot.StagedClip != nil {
		t.Fatalf("expected staged clip to be consumed")
	}
	if got := tc.player.playCount(); got != 1 {
		t.Fatalf("expected exactly one play call, got %d", got)
	}
	if got := tc.player.source(0).Reference; got != "http://example.com/r1" {
		t.Fatalf("expected reference %q, got %q", "http://example.com/r1", got)
	}
	if snapshot.State != StatePlaying {
		t.Fatalf("expected state %s, got %s", StatePlaying, snapshot.State)
	}

	uploaded := tc.gateway.audioCalls[0]
	if uploaded.MimeType != audio.MimeTypeFLAC || len(uploaded.Data) == 0 {
		t.Fatalf("expected a flac clip to be uploaded, got %q with %d bytes", uploaded.MimeType, len(uploaded.Data))
	}

	tc.player.finish(0, nil)
	if got := tc.State(); got != StateActive {
		t.Fatalf("expected state %s after playback, got %s", StateActive, got)
	}
}

func TestNetworkFailureKeepsUserTurnOnly(t *testing.T) {
	tc := newTestController(t)
	tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) {
		return nil, &gateway.NetworkError{Op: "send text", StatusCode: http.StatusBadGateway, Body: "upstream down"}
	}

	err := tc.SubmitText(context.Background(), "x")

	var networkErr *gateway.NetworkError
	if !errors.As(err, &networkErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}

	snapshot := tc.Snapshot()
	if got := turnContents(snapshot.Turns); !slices.Equal(got, []string{"user:x"}) {
		t.Fatalf("expected only the user turn, got %v", got)
	}
	if snapshot.LastError == nil || snapshot.LastError.Origin != ErrorOriginNetwork {
		t.Fatalf("expected network error to be recorded, got %+v", snapshot.LastError)
	}
	if snapshot.State != StateActive {
		t.Fatalf("expected state %s, got %s", StateActive, snapshot.State)
	}
}

func TestSecondSubmitWhileAwaitingReplyIsRejected(t *testing.T) {
	tc := newTestController(t)
	blocked := newBlockingReply(&gateway.Reply{Text: "A"}, nil)
	tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) { return blocked.wait() }

	done := make(chan error, 1)
	go func() { done <- tc.SubmitText(context.Background(), "a") }()
	<-blocked.entered

	if err := tc.SubmitText(context.Background(), "b"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if got := turnContents(tc.Snapshot().Turns); !slices.Equal(got, []string{"user:a"}) {
		t.Fatalf("expected rejected submit not to touch the transcript, got %v", got)
	}

	close(blocked.release)
	if err := <-done; err != nil {
		t.Fatalf("expected first submit to succeed, got %v", err)
	}

	tc.gateway.sendText = nil
	if err := tc.SubmitText(context.Background(), "c"); err != nil {
		t.Fatalf("expected session to be usable again, got %v", err)
	}

	expected := []string{"user:a", "assistant:A", "user:c", "assistant:reply to c"}
	if got := turnContents(tc.Snapshot().Turns); !slices.Equal(got, expected) {
		t.Fatalf("expected transcript %v, got %v", expected, got)
	}
	if got := tc.gateway.textCallCount(); got != 2 {
		t.Fatalf("expected busy submit never to reach the gateway, got %d calls", got)
	}
}

func TestSendRecordingWhileAwaitingReplyIsRejected(t *testing.T) {
	tc := newTestController(t)
	tc.stageClip(t)

	blocked := newBlockingReply(&gateway.Reply{Text: "A"}, nil)
	tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) { return blocked.wait() }

	done := make(chan error, 1)
	go func() { done <- tc.SubmitText(context.Background(), "a") }()
	<-blocked.entered

	if err := tc.SendRecording(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if got := tc.Snapshot(); len(got.Turns) != 1 || got.StagedClip == nil {
		t.Fatalf("expected no transcript change and the clip still staged, got %d turns, staged %v", len(got.Turns), got.StagedClip)
	}

	close(blocked.release)
	<-done
	if tc.gateway.audioCallCount() != 0 {
		t.Fatalf("expected no audio upload")
	}
}

func TestRepliesFollowTheirUserTurns(t *testing.T) {
	tc := newTestController(t)
	tc.gateway.sendText = func(_ context.Context, text string) (*gateway.Reply, error) {
		if len(text)%2 == 0 {
			return nil, &gateway.NetworkError{Op: "send text", StatusCode: http.StatusInternalServerError}
		}
		return &gateway.Reply{Text: "re:" + text}, nil
	}
	tc.gateway.sendAudio = func(context.Context, *audio.Clip) (*gateway.Reply, error) {
		return &gateway.Reply{Text: "re:voice"}, nil
	}

	for _, text := range []string{"a", "bb", "ccc", "dd", "e"} {
		tc.SubmitText(context.Background(), text)
		if text == "ccc" {
			tc.stageClip(t)
			tc.SendRecording(context.Background())
		}
	}

	turns := tc.Snapshot().Turns
	for i, turn := range turns {
		if turn.Role != conversations.TurnRoleAssistant {
			continue
		}
		if i == 0 || turns[i-1].Role != conversations.TurnRoleUser {
			t.Fatalf("expected assistant turn %d to follow a user turn, got %v", i, turnContents(turns))
		}
		want := "re:" + turns[i-1].Content
		if turns[i-1].Content == VoiceMessagePlaceholder {
			want = "re:voice"
		}
		if turn.Content != want {
			t.Fatalf("expected assistant turn %d to answer %q, got %q", i, turns[i-1].Content, turn.Content)
		}
	}

	expected := []string{
		"user:a", "assistant:re:a",
		"user:bb",
		"user:ccc", "assistant:re:ccc",
		"user:" + VoiceMessagePlaceholder, "assistant:re:voice",
		"user:dd",
		"user:e", "assistant:re:e",
	}
	if got := turnContents(turns); !slices.Equal(got, expected) {
		t.Fatalf("expected transcript %v, got %v", expected, got)
	}
}

func TestEndSessionAlwaysReturnsToIdle(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(t *testing.T, tc *testController)
	}{
		{name: "active", setup: func(t *testing.T, tc *testController) {
			tc.SubmitText(context.Background(), "hello")
		}},
		{name: "recording", setup: func(t *testing.T, tc *testController) {
			if err := tc.BeginRecording(context.Background()); err != nil {
				t.Fatalf("expected recording to start, got %v", err)
			}
			tc.input.push(tonePCM(100))
		}},
		{name: "staged clip", setup: func(t *testing.T, tc *testController) {
			tc.stageClip(t)
		}},
		{name: "playing", setup: func(t *testing.T, tc *testController) {
			tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) {
				return &gateway.Reply{Text: "hi", AudioURL: "data:audio/mpeg;base64,AAAA"}, nil
			}
			tc.SubmitText(context.Background(), "hello")
		}},
		{name: "error shown", setup: func(t *testing.T, tc *testController) {
			tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) {
				return nil, errors.New("offline")
			}
			tc.SubmitText(context.Background(), "hello")
		}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			tc := newTestController(t)
			testCase.setup(t, tc)

			if err := tc.EndSession(context.Background()); err != nil {
				t.Fatalf("expected end session to succeed, got %v", err)
			}

			snapshot := tc.Snapshot()
			if snapshot.State != StateIdle {
				t.Fatalf("expected state %s, got %s", StateIdle, snapshot.State)
			}
			if len(snapshot.Turns) != 0 {
				t.Fatalf("expected empty transcript, got %v", turnContents(snapshot.Turns))
			}
			if snapshot.LastError != nil || snapshot.StagedClip != nil || snapshot.IsPlaying {
				t.Fatalf("expected session state to be reset, got %+v", snapshot)
			}
			if _, stops := tc.input.counts(); tc.capture.(*audioCapture).IsRecording() || (testCase.name == "recording" && stops != 1) {
				t.Fatalf("expected capture to be released, stops=%d", stops)
			}
		})
	}
}

func TestEndSessionDiscardsLateReply(t *testing.T) {
	tc := newTestController(t)
	blocked := newBlockingReply(&gateway.Reply{Text: "late", AudioURL: "http://example.com/late"}, nil)
	tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) { return blocked.wait() }

	done := make(chan error, 1)
	go func() { done <- tc.SubmitText(context.Background(), "slow question") }()
	<-blocked.entered

	if err := tc.EndSession(context.Background()); err != nil {
		t.Fatalf("expected end session to succeed, got %v", err)
	}
	if ctx := tc.gateway.lastContext(); !errors.Is(ctx.Err(), context.Canceled) {
		t.Fatalf("expected in-flight request to be cancelled, got %v", ctx.Err())
	}

	close(blocked.release)
	if err := <-done; !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}

	snapshot := tc.Snapshot()
	if snapshot.State != StateIdle || len(snapshot.Turns) != 0 {
		t.Fatalf("expected late reply to be discarded, got state %s and %v", snapshot.State, turnContents(snapshot.Turns))
	}
	if tc.player.playCount() != 0 {
		t.Fatalf("expected late reply audio not to play")
	}
	if got := tc.events.count(events.KindExchangeCancelled); got != 1 {
		t.Fatalf("expected one cancelled exchange event, got %d", got)
	}
}

func TestLateReplyIsNotAppliedToNextSession(t *testing.T) {
	tc := newTestController(t)
	blocked := newBlockingReply(&gateway.Reply{Text: "late"}, nil)
	tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) { return blocked.wait() }

	done := make(chan error, 1)
	go func() { done <- tc.SubmitText(context.Background(), "first session") }()
	<-blocked.entered

	tc.EndSession(context.Background())
	if err := tc.StartSession(context.Background()); err != nil {
		t.Fatalf("expected new session to start, got %v", err)
	}

	close(blocked.release)
	<-done

	snapshot := tc.Snapshot()
	if snapshot.State != StateActive || len(snapshot.Turns) != 0 {
		t.Fatalf("expected fresh session untouched, got state %s and %v", snapshot.State, turnContents(snapshot.Turns))
	}
}

func TestDiscardRecordingIsIdempotent(t *testing.T) {
	tc := newTestController(t)

	tc.DiscardRecording()
	if got := tc.events.count(events.KindRecordingDiscarded); got != 0 {
		t.Fatalf("expected discard without clip to be a no-op, got %d events", got)
	}

	tc.stageClip(t)
	tc.DiscardRecording()
	tc.DiscardRecording()

	snapshot := tc.Snapshot()
	if snapshot.StagedClip != nil || len(snapshot.Turns) != 0 || snapshot.State != StateActive {
		t.Fatalf("expected clip dropped without other changes, got %+v", snapshot)
	}
	if got := tc.events.count(events.KindRecordingDiscarded); got != 1 {
		t.Fatalf("expected one discard event, got %d", got)
	}
	if err := tc.SendRecording(context.Background()); !errors.Is(err, ErrNoStagedClip) {
		t.Fatalf("expected ErrNoStagedClip, got %v", err)
	}
}

func TestDiscardRecordingStopsCaptureInProgress(t *testing.T) {
	tc := newTestController(t)
	if err := tc.BeginRecording(context.Background()); err != nil {
		t.Fatalf("expected recording to start, got %v", err)
	}

	tc.DiscardRecording()

	if got := tc.State(); got != StateActive {
		t.Fatalf("expected state %s, got %s", StateActive, got)
	}
	if _, stops := tc.input.counts(); stops != 1 {
		t.Fatalf("expected capture to stop once, got %d", stops)
	}
}

func TestSendRecordingConsumesClipOnFailure(t *testing.T) {
	tc := newTestController(t)
	tc.gateway.sendAudio = func(context.Context, *audio.Clip) (*gateway.Reply, error) {
		return nil, &gateway.NetworkError{Op: "send audio", StatusCode: http.StatusBadRequest, Body: "Empty audio file"}
	}
	tc.stageClip(t)

	if err := tc.SendRecording(context.Background()); err == nil {
		t.Fatalf("expected send to fail")
	}

	snapshot := tc.Snapshot()
	if snapshot.StagedClip != nil {
		t.Fatalf("expected clip to be discarded after a failed send")
	}
	if got := turnContents(snapshot.Turns); !slices.Equal(got, []string{"user:" + VoiceMessagePlaceholder}) {
		t.Fatalf("expected only the placeholder turn, got %v", got)
	}
	if snapshot.LastError == nil || snapshot.LastError.Origin != ErrorOriginNetwork {
		t.Fatalf("expected network error, got %+v", snapshot.LastError)
	}
}

func TestCaptureErrorIsRecoverable(t *testing.T) {
	tc := newTestController(t)
	tc.input.startErr = audio.ErrPermissionDenied

	err := tc.BeginRecording(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	snapshot := tc.Snapshot()
	if snapshot.State != StateActive {
		t.Fatalf("expected state %s, got %s", StateActive, snapshot.State)
	}
	if snapshot.LastError == nil || snapshot.LastError.Origin != ErrorOriginCapture {
		t.Fatalf("expected capture error, got %+v", snapshot.LastError)
	}

	tc.input.startErr = nil
	if err := tc.BeginRecording(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if tc.Snapshot().LastError != nil {
		t.Fatalf("expected successful recording to clear the error")
	}
}

func TestEmptyRecordingIsReportedAsCaptureError(t *testing.T) {
	tc := newTestController(t)
	if err := tc.BeginRecording(context.Background()); err != nil {
		t.Fatalf("expected recording to start, got %v", err)
	}

	if err := tc.EndRecording(context.Background()); !errors.Is(err, audio.ErrEmptyRecording) {
		t.Fatalf("expected ErrEmptyRecording, got %v", err)
	}

	snapshot := tc.Snapshot()
	if snapshot.StagedClip != nil || snapshot.State != StateActive {
		t.Fatalf("expected nothing staged and state active, got %+v", snapshot)
	}
	if snapshot.LastError == nil || snapshot.LastError.Origin != ErrorOriginCapture {
		t.Fatalf("expected capture error, got %+v", snapshot.LastError)
	}
}

func TestEndRecordingWithoutRecordingIsNoop(t *testing.T) {
	tc := newTestController(t)

	if err := tc.EndRecording(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if tc.Snapshot().StagedClip != nil {
		t.Fatalf("expected no clip")
	}
}

func TestPlaybackFailureKeepsAssistantTurn(t *testing.T) {
	tc := newTestController(t)
	tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) {
		return &gateway.Reply{Text: "1.27", AudioURL: "http://example.com/r1"}, nil
	}
	tc.SubmitText(context.Background(), "quote")

	tc.player.finish(0, audio.ErrPlaybackFailed)

	snapshot := tc.Snapshot()
	if got := turnContents(snapshot.Turns); !slices.Equal(got, []string{"user:quote", "assistant:1.27"}) {
		t.Fatalf("expected assistant turn to survive playback failure, got %v", got)
	}
	if snapshot.LastError == nil || snapshot.LastError.Origin != ErrorOriginPlayback {
		t.Fatalf("expected playback error, got %+v", snapshot.LastError)
	}
	if snapshot.State != StateActive {
		t.Fatalf("expected state %s, got %s", StateActive, snapshot.State)
	}
}

func TestNewReplySupersedesPlayingAudio(t *testing.T) {
	tc := newTestController(t)
	replies := []string{"http://example.com/r1", "http://example.com/r2"}
	tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) {
		reference := replies[0]
		replies = replies[1:]
		return &gateway.Reply{Text: "ok", AudioURL: reference}, nil
	}

	tc.SubmitText(context.Background(), "one")
	if err := tc.SubmitText(context.Background(), "two"); err != nil {
		t.Fatalf("expected submit while playing to succeed, got %v", err)
	}

	if got := tc.player.playCount(); got != 2 {
		t.Fatalf("expected two play calls, got %d", got)
	}

	tc.player.finish(0, audio.ErrPlaybackSuperseded)
	if got := tc.Snapshot(); got.State != StatePlaying || got.LastError != nil {
		t.Fatalf("expected stale playback end to be ignored, got state %s and error %+v", got.State, got.LastError)
	}

	tc.player.finish(1, nil)
	if got := tc.State(); got != StateActive {
		t.Fatalf("expected state %s, got %s", StateActive, got)
	}
}

func TestRecordingStopsPlaybackByDefault(t *testing.T) {
	tc := newTestController(t)
	tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) {
		return &gateway.Reply{Text: "ok", AudioURL: "http://example.com/r1"}, nil
	}
	tc.SubmitText(context.Background(), "one")

	if err := tc.BeginRecording(context.Background()); err != nil {
		t.Fatalf("expected recording to start, got %v", err)
	}
	if got := tc.player.stopCount(); got != 1 {
		t.Fatalf("expected playback to stop, got %d stops", got)
	}
	if got := tc.State(); got != StateRecording {
		t.Fatalf("expected state %s, got %s", StateRecording, got)
	}
}

func TestRecordingCanOverlapPlaybackWhenEnabled(t *testing.T) {
	tc := newTestController(t, WithPlaybackDuringRecording(true))
	tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) {
		return &gateway.Reply{Text: "ok", AudioURL: "http://example.com/r1"}, nil
	}
	tc.SubmitText(context.Background(), "one")

	if err := tc.BeginRecording(context.Background()); err != nil {
		t.Fatalf("expected recording to start, got %v", err)
	}
	if got := tc.player.stopCount(); got != 0 {
		t.Fatalf("expected playback to keep going, got %d stops", got)
	}

	tc.player.finish(0, nil)
	if got := tc.State(); got != StateRecording {
		t.Fatalf("expected playback end not to leave recording, got %s", got)
	}

	tc.input.push(tonePCM(2000))
	tc.EndRecording(context.Background())
	if got := tc.State(); got != StateActive {
		t.Fatalf("expected state %s, got %s", StateActive, got)
	}
}

func TestMaxRecordingDurationStagesClip(t *testing.T) {
	tc := newTestController(t, WithMaxRecordingDuration(50*time.Millisecond))

	if err := tc.BeginRecording(context.Background()); err != nil {
		t.Fatalf("expected recording to start, got %v", err)
	}
	tc.input.push(tonePCM(2000))

	event := tc.events.waitFor(t, events.KindRecordingStaged)
	if staged := event.(events.RecordingStaged); !staged.AutoStopped {
		t.Fatalf("expected staged event to be marked auto stopped")
	}

	snapshot := tc.Snapshot()
	if snapshot.State != StateActive || snapshot.StagedClip == nil {
		t.Fatalf("expected clip staged and state active, got %+v", snapshot)
	}
	if err := tc.EndRecording(context.Background()); err != nil {
		t.Fatalf("expected late end recording to be a no-op, got %v", err)
	}
}

func TestPreviewPlaysStagedClipWithoutConsumingIt(t *testing.T) {
	tc := newTestController(t)
	tc.stageClip(t)

	if err := tc.PreviewRecording(context.Background()); err != nil {
		t.Fatalf("expected preview to start, got %v", err)
	}

	source := tc.player.source(0)
	if source.Clip == nil || source.Clip.MimeType != audio.MimeTypeFLAC {
		t.Fatalf("expected staged clip to be played, got %s", source.String())
	}
	if tc.Snapshot().StagedClip == nil {
		t.Fatalf("expected clip to stay staged after preview")
	}

	tc.StopPlayback()
	if got := tc.State(); got != StateActive {
		t.Fatalf("expected state %s, got %s", StateActive, got)
	}
}

func TestSubmitValidation(t *testing.T) {
	tc := newTestController(t)

	if err := tc.SubmitText(context.Background(), "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}

	tc.EndSession(context.Background())
	if err := tc.SubmitText(context.Background(), "hi"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if err := tc.BeginRecording(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if tc.gateway.textCallCount() != 0 {
		t.Fatalf("expected rejected submits never to reach the gateway")
	}
}

func TestStartSessionTwiceIsInvalid(t *testing.T) {
	tc := newTestController(t)

	if err := tc.StartSession(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestDismissErrorClearsLastError(t *testing.T) {
	tc := newTestController(t)
	tc.gateway.sendText = func(context.Context, string) (*gateway.Reply, error) { return nil, errors.New("offline") }
	tc.SubmitText(context.Background(), "x")

	tc.DismissError()

	if tc.Snapshot().LastError != nil {
		t.Fatalf("expected error to be dismissed")
	}
	if got := tc.events.count(events.KindSessionErrorCleared); got != 1 {
		t.Fatalf("expected one error cleared event, got %d", got)
	}
}

func TestClearHistoryClearsBackendAndTranscript(t *testing.T) {
	tc := newTestController(t)
	tc.SubmitText(context.Background(), "hello")

	if err := tc.ClearHistory(context.Background()); err != nil {
		t.Fatalf("expected clear to succeed, got %v", err)
	}

	if got := tc.gateway.clearCalls.Load(); got != 1 {
		t.Fatalf("expected one backend clear, got %d", got)
	}
	if snapshot := tc.Snapshot(); len(snapshot.Turns) != 0 || snapshot.State != StateActive {
		t.Fatalf("expected empty transcript in an active session, got %+v", snapshot)
	}
}

func TestClearHistoryFailureKeepsTranscript(t *testing.T) {
	tc := newTestController(t)
	tc.SubmitText(context.Background(), "hello")
	tc.gateway.clearErr = &gateway.NetworkError{Op: "clear history", StatusCode: http.StatusInternalServerError}

	if err := tc.ClearHistory(context.Background()); err == nil {
		t.Fatalf("expected clear to fail")
	}
	if snapshot := tc.Snapshot(); len(snapshot.Turns) != 2 || snapshot.LastError == nil {
		t.Fatalf("expected transcript kept and error recorded, got %+v", snapshot)
	}
}

func TestRestoreHistoryLoadsIntoEmptyTranscript(t *testing.T) {
	tc := newTestController(t)
	tc.gateway.history = []conversations.Turn{
		{Role: conversations.TurnRoleUser, Content: "earlier"},
		{Role: conversations.TurnRoleAssistant, Content: "answer"},
	}

	if err := tc.RestoreHistory(context.Background()); err != nil {
		t.Fatalf("expected restore to succeed, got %v", err)
	}

	turns := tc.Snapshot().Turns
	if got := turnContents(turns); !slices.Equal(got, []string{"user:earlier", "assistant:answer"}) {
		t.Fatalf("unexpected transcript %v", got)
	}
	if turns[0].ID == "" {
		t.Fatalf("expected restored turns to get ids")
	}

	if err := tc.RestoreHistory(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected restore into a non-empty transcript to fail, got %v", err)
	}
}

func TestCallbacksReceiveStateAndTurns(t *testing.T) {
	var states []State
	var turns []string

	tc := newTestController(t,
		WithStateChangedCallback(func(_, to State) { states = append(states, to) }),
		WithTurnAppendedCallback(func(turn conversations.Turn) { turns = append(turns, turn.Content) }),
	)
	tc.SubmitText(context.Background(), "hello")

	expectedStates := []State{StateActive, StateAwaitingReply, StateActive}
	if !slices.Equal(states, expectedStates) {
		t.Fatalf("expected states %v, got %v", expectedStates, states)
	}
	if !slices.Equal(turns, []string{"hello", "reply to hello"}) {
		t.Fatalf("unexpected turns %v", turns)
	}
}

func TestClosedControllerCannotStart(t *testing.T) {
	tc := newTestController(t)

	if err := tc.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	if err := tc.StartSession(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
