// Command synapse-voice is a terminal client for the voice assistant backend.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	session "github.com/koscakluka/synapse-voice/core"
	"github.com/koscakluka/synapse-voice/core/audio/miniaudio"
	"github.com/koscakluka/synapse-voice/core/audio/portaudio"
	"github.com/koscakluka/synapse-voice/core/events"
	"github.com/koscakluka/synapse-voice/core/gateway"
	"github.com/koscakluka/synapse-voice/internal/backendstub"
	"github.com/koscakluka/synapse-voice/internal/config"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := initLogging(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: diagnostics log disabled: %v\n", err)
	}
	defer closeLogging()

	if err := run(cfg); err != nil {
		logError("exited with error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	apiURL := cfg.APIURL
	if cfg.Stub {
		ln, err := net.Listen("tcp", cfg.StubAddress)
		if err != nil {
			return fmt.Errorf("stub backend: %w", err)
		}
		stub := backendstub.New()
		go func() {
			if err := stub.Serve(ln); err != nil {
				logError("stub backend stopped", err)
			}
		}()
		defer stub.Shutdown()
		apiURL = "http://" + ln.Addr().String()
		logInfo("serving stub backend on " + apiURL)
	}

	client, err := gateway.NewClient(apiURL, gateway.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		return err
	}

	input, output, closeDevices := openDevices(cfg.AudioBackend)
	defer closeDevices()

	var program *tea.Program
	controller := session.NewController(
		session.WithGateway(client),
		session.WithAudioInput(input),
		session.WithAudioOutput(output),
		session.WithMaxRecordingDuration(cfg.MaxRecording),
		session.WithEventHandler(func(event events.Event) {
			logEvent(event)
			program.Send(controllerEventMsg{event: event})
		}),
	)
	defer controller.Close()

	program = tea.NewProgram(newModel(controller, client, input != nil), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// openDevices opens the configured audio backend. Any failure degrades to a
// text-only session instead of aborting.
func openDevices(backend config.AudioBackend) (session.AudioInput, session.AudioOutput, func()) {
	noop := func() {}

	switch backend {
	case config.AudioBackendNone:
		logInfo("audio disabled")
		return nil, nil, noop

	case config.AudioBackendPortaudio:
		capture, err := portaudio.NewClient(0)
		if err != nil {
			logError("portaudio unavailable, running text only", err)
			return nil, nil, noop
		}
		// portaudio only captures, replies still play through miniaudio
		player, err := miniaudio.NewClient()
		if err != nil {
			logError("playback unavailable", err)
			return capture, nil, func() { capture.Close() }
		}
		return capture, player.Playback, func() {
			capture.Close()
			player.Close()
		}

	default:
		devices, err := miniaudio.NewClient()
		if err != nil {
			logError("miniaudio unavailable, running text only", err)
			return nil, nil, noop
		}
		return devices.Capture, devices.Playback, func() { devices.Close() }
	}
}
