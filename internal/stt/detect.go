package stt

import (
	"log/slog"
	"os/exec"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// AzureConfig carries the Azure Speech subscription settings.
type AzureConfig struct {
	APIKey     string
	Region     string
	Source     string
	SampleRate int
	Channels   int
}

// Deps are the runtime resources a backend may need.
type Deps struct {
	Frames   FrameSource
	Logger   *slog.Logger
	LookPath func(string) (string, error)
}

// Detect resolves the configured backend. The boolean is false when the
// environment cannot provide a recognizer; callers must check it before
// starting capture.
func Detect(cfg config.STTConfig, deps Deps) (Recognizer, bool) {
	log := deps.Logger.With(slog.String("component", "stt"), slog.String("mode", cfg.Mode))
	lookPath := deps.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	unavailable := func(reason string) (Recognizer, bool) {
		log.Warn("speech recognition not supported", slog.String("reason", reason))
		return nil, false
	}

	switch cfg.Mode {
	case "mock":
		return NewMockRecognizer(cfg.MockPhrases, time.Duration(cfg.MockIntervalMS)*time.Millisecond), true
	case "exec":
		if deps.Frames == nil {
			return unavailable("no audio frame source")
		}
		args, err := parseCommand(cfg.Command)
		if err != nil {
			return unavailable(err.Error())
		}
		if _, err := lookPath(args[0]); err != nil {
			return unavailable("stt command not found: " + args[0])
		}
		transcriber, err := NewExecTranscriber(ExecConfig{
			Command:   cfg.Command,
			ModelPath: cfg.ModelPath,
			Language:  cfg.Language,
			Interim:   cfg.Interim,
		})
		if err != nil {
			return unavailable(err.Error())
		}
		return NewFrameRecognizer(deps.Frames, transcriber, FrameRecognizerConfig{
			Source:       cfg.Source,
			SampleRate:   cfg.SampleRate,
			Channels:     cfg.Channels,
			PartialEvery: time.Duration(cfg.PartialEveryMS) * time.Millisecond,
		}, deps.Logger), true
	case "deepgram":
		if deps.Frames == nil {
			return unavailable("no audio frame source")
		}
		if cfg.APIKey == "" {
			return unavailable("deepgram api key not configured")
		}
		return NewDeepgramRecognizer(deps.Frames, DeepgramConfig{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Source:     cfg.Source,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		}, deps.Logger), true
	case "azure":
		rec, err := newAzureRecognizer(AzureConfig{
			APIKey:     cfg.APIKey,
			Region:     cfg.Region,
			Source:     cfg.Source,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		}, deps.Frames, deps.Logger)
		if err != nil {
			return unavailable(err.Error())
		}
		return rec, true
	default:
		return unavailable("recognition disabled")
	}
}
