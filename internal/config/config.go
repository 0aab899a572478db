// Package config resolves the CLI configuration from flags, the environment
// and an optional .env file, in that order of priority.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvAPIURL         = "SYNAPSE_API_URL"
	EnvAudioBackend   = "SYNAPSE_AUDIO_BACKEND"
	EnvMaxRecording   = "SYNAPSE_MAX_RECORDING"
	EnvLogPath        = "SYNAPSE_LOG_PATH"
	EnvRequestTimeout = "SYNAPSE_REQUEST_TIMEOUT"

	DefaultAPIURL = "http://localhost:8000"
)

type AudioBackend string

const (
	AudioBackendMiniaudio AudioBackend = "miniaudio"
	AudioBackendPortaudio AudioBackend = "portaudio"
	// AudioBackendNone runs text-only, without capture or playback devices.
	AudioBackendNone AudioBackend = "none"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the CLI configuration.
type Config struct {
	APIURL       string
	AudioBackend AudioBackend
	// MaxRecording stops a recording on its own after this long. Zero disables
	// the limit.
	MaxRecording time.Duration
	// RequestTimeout bounds each backend call. Zero leaves calls unbounded.
	RequestTimeout time.Duration
	LogDir         string
	// Stub serves an in-process echo backend instead of calling APIURL.
	Stub        bool
	StubAddress string
}

type flags struct {
	apiURL         string
	audioBackend   string
	maxRecording   time.Duration
	requestTimeout time.Duration
	logPath        string
	stub           bool
	stubAddress    string
}

// Load reads .env (if present), then the environment, then args. Flags that
// are not set on the command line fall back to the environment.
func Load(args []string) (Config, error) {
	// a missing .env file is the common case
	_ = godotenv.Load()

	fs := flag.NewFlagSet("synapse-voice", flag.ContinueOnError)
	var f flags
	fs.StringVar(&f.apiURL, "api", "", "assistant backend base URL (env "+EnvAPIURL+", default "+DefaultAPIURL+")")
	fs.StringVar(&f.audioBackend, "audio", "", "audio backend: miniaudio, portaudio or none (env "+EnvAudioBackend+")")
	fs.DurationVar(&f.maxRecording, "max-recording", 0, "stop recordings after this long, 0 = no limit (env "+EnvMaxRecording+")")
	fs.DurationVar(&f.requestTimeout, "timeout", 0, "per-request timeout, 0 = none (env "+EnvRequestTimeout+")")
	fs.StringVar(&f.logPath, "logpath", "", "log directory path (env "+EnvLogPath+", default: OS-specific location)")
	fs.BoolVar(&f.stub, "stub", false, "serve an in-process echo backend and talk to it")
	fs.StringVar(&f.stubAddress, "stub-addr", "127.0.0.1:0", "listen address for -stub")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return resolve(f)
}

func resolve(f flags) (Config, error) {
	cfg := Config{
		APIURL:      firstNonEmpty(f.apiURL, os.Getenv(EnvAPIURL), DefaultAPIURL),
		Stub:        f.stub,
		StubAddress: f.stubAddress,
	}

	if u, err := url.Parse(cfg.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("%w: %s must be an http(s) URL, got %q", ErrInvalidConfig, EnvAPIURL, cfg.APIURL)
	}

	backend := AudioBackend(strings.ToLower(firstNonEmpty(f.audioBackend, os.Getenv(EnvAudioBackend), string(AudioBackendMiniaudio))))
	switch backend {
	case AudioBackendMiniaudio, AudioBackendPortaudio, AudioBackendNone:
		cfg.AudioBackend = backend
	default:
		return Config{}, fmt.Errorf("%w: unknown audio backend %q", ErrInvalidConfig, backend)
	}

	var err error
	if cfg.MaxRecording, err = durationSetting(f.maxRecording, EnvMaxRecording); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = durationSetting(f.requestTimeout, EnvRequestTimeout); err != nil {
		return Config{}, err
	}

	if cfg.LogDir, err = ResolveLogDir(f.logPath); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func durationSetting(flagValue time.Duration, env string) (time.Duration, error) {
	if flagValue != 0 {
		if flagValue < 0 {
			return 0, fmt.Errorf("%w: %s cannot be negative", ErrInvalidConfig, env)
		}
		return flagValue, nil
	}

	raw := os.Getenv(env)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, env, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s cannot be negative", ErrInvalidConfig, env)
	}
	return d, nil
}

// ResolveLogDir picks the diagnostic log directory: the flag, then
// SYNAPSE_LOG_PATH, then the OS default. Relative paths resolve against the
// working directory.
func ResolveLogDir(flagPath string) (string, error) {
	if flagPath != "" {
		return absolute(flagPath)
	}
	if envPath := os.Getenv(EnvLogPath); envPath != "" {
		return absolute(envPath)
	}
	return defaultLogDir()
}

func absolute(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, path), nil
}

func defaultLogDir() (string, error) {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			localAppData = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(localAppData, "synapse-voice", "logs"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Logs", "synapse-voice"), nil
	}

	xdgState := os.Getenv("XDG_STATE_HOME")
	if xdgState == "" {
		xdgState = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(xdgState, "synapse-voice", "logs"), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
