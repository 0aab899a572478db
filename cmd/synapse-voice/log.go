package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/koscakluka/synapse-voice/core/events"
	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	// logMu is held for reading by every write, so closeLogging waits for
	// writes in progress before closing the file.
	logMu    sync.RWMutex
	logReady bool
)

func initLogging(dir string) error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, "diagnostics_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", os.Getpid()).Logger()

	logReady = true
	return nil
}

func closeLogging() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	logReady = false
}

func withLog(write func(log *zerolog.Logger)) {
	logMu.RLock()
	defer logMu.RUnlock()
	if logReady {
		write(&diagLog)
	}
}

func logInfo(msg string) {
	withLog(func(log *zerolog.Logger) { log.Info().Msg(msg) })
}

func logWarn(msg string) {
	withLog(func(log *zerolog.Logger) { log.Warn().Msg(msg) })
}

func logError(msg string, err error) {
	withLog(func(log *zerolog.Logger) { log.Error().Err(err).Msg(msg) })
}

// logEvent writes one line per controller event.
func logEvent(event events.Event) {
	withLog(func(log *zerolog.Logger) { writeEvent(log, event) })
}

func writeEvent(log *zerolog.Logger, event events.Event) {
	level := zerolog.InfoLevel
	switch event.(type) {
	case events.SessionErrorRaised, events.ExchangeFailed:
		level = zerolog.WarnLevel
	}

	ev := log.WithLevel(level)
	switch e := event.(type) {
	case events.SessionStateChanged:
		ev = ev.Str("from", e.From).Str("to", e.To)
	case events.SessionErrorRaised:
		ev = ev.Str("origin", e.Origin).Str("message", e.Message)
	case events.TranscriptTurnAppended:
		ev = ev.Str("role", string(e.Turn.Role)).Int("chars", len(e.Turn.Content))
	case events.TranscriptRestored:
		ev = ev.Int("count", e.Count)
	case events.ExchangeStarted:
		ev = ev.Str("mode", string(e.Mode))
	case events.ExchangeCompleted:
		ev = ev.Str("mode", string(e.Mode)).Bool("audio", e.HasAudio)
	case events.ExchangeFailed:
		ev = ev.Str("mode", string(e.Mode)).Err(e.Err)
	case events.ExchangeCancelled:
		ev = ev.Str("mode", string(e.Mode))
	case events.RecordingStaged:
		ev = ev.Str("mime", e.MimeType).Int("bytes", e.Size).Bool("auto_stopped", e.AutoStopped)
	case events.PlaybackStarted:
		ev = ev.Str("source", truncateSource(e.Source))
	case events.PlaybackEnded:
		ev = ev.Str("source", truncateSource(e.Source)).AnErr("playback_err", e.Err)
	}
	ev.Str("namespace", event.Kind().Namespace()).Time("at", event.Timestamp()).Msg(string(event.Kind()))
}

func truncateSource(source string) string {
	if len(source) > 80 {
		return source[:77] + "..."
	}
	return source
}
