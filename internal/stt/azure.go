//go:build azurespeech

package stt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Microsoft/cognitive-services-speech-sdk-go/audio"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/speech"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

// AzureAvailable reports whether this binary was built with the Azure SDK.
const AzureAvailable = true

type azureRecognizer struct {
	cfg    AzureConfig
	frames FrameSource
	log    *slog.Logger
}

func newAzureRecognizer(cfg AzureConfig, frames FrameSource, log *slog.Logger) (Recognizer, error) {
	if cfg.APIKey == "" || cfg.Region == "" {
		return nil, fmt.Errorf("azure recognizer requires api_key and region")
	}
	return &azureRecognizer{cfg: cfg, frames: frames, log: log.With(slog.String("component", "azure-recognizer"))}, nil
}

func (r *azureRecognizer) Start(ctx context.Context, opts Options) (Stream, error) {
	speechConfig, err := speech.NewSpeechConfigFromSubscription(r.cfg.APIKey, r.cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("azure speech config: %w", err)
	}
	if opts.Language != "" {
		if err := speechConfig.SetSpeechRecognitionLanguage(opts.Language); err != nil {
			speechConfig.Close()
			return nil, fmt.Errorf("set recognition language: %w", err)
		}
	}

	s := &azureStream{eventStream: newEventStream(), speechConfig: speechConfig, log: r.log}

	var audioConfig *audio.AudioConfig
	if r.frames != nil {
		format, err := audio.GetWaveFormatPCM(uint32(r.cfg.SampleRate), 16, uint8(r.cfg.Channels))
		if err != nil {
			s.release()
			return nil, fmt.Errorf("could not create audio format: %w", err)
		}
		s.push, err = audio.CreatePushAudioInputStreamFromFormat(format)
		format.Close()
		if err != nil {
			s.release()
			return nil, fmt.Errorf("create push stream: %w", err)
		}
		audioConfig, err = audio.NewAudioConfigFromStreamInput(s.push)
		if err != nil {
			s.release()
			return nil, err
		}
	} else {
		audioConfig, err = audio.NewAudioConfigFromDefaultMicrophoneInput()
		if err != nil {
			s.release()
			return nil, fmt.Errorf("open default microphone: %w", err)
		}
	}
	s.audioConfig = audioConfig

	s.recognizer, err = speech.NewSpeechRecognizerFromConfig(speechConfig, audioConfig)
	if err != nil {
		s.release()
		return nil, err
	}

	s.recognizer.Recognizing(func(e speech.SpeechRecognitionEventArgs) {
		defer e.Close()
		if !opts.Interim || e.Result.Text == "" {
			return
		}
		s.send(Event{Kind: EventResult, Index: s.currentIndex(), Text: e.Result.Text})
	})
	s.recognizer.Recognized(func(e speech.SpeechRecognitionEventArgs) {
		defer e.Close()
		if e.Result.Text == "" {
			return
		}
		s.send(Event{Kind: EventResult, Index: s.advanceIndex(), Text: e.Result.Text, Final: true})
		if !opts.Continuous {
			s.terminate(Event{Kind: EventEnd})
		}
	})
	s.recognizer.Canceled(func(e speech.SpeechRecognitionCanceledEventArgs) {
		defer e.Close()
		s.log.Warn("azure recognition canceled", slog.String("details", e.ErrorDetails))
		s.terminate(Event{Kind: EventError, Reason: fmt.Sprint(e.ErrorCode)})
	})
	s.recognizer.SessionStopped(func(e speech.SessionEventArgs) {
		defer e.Close()
		s.terminate(Event{Kind: EventEnd})
	})

	if r.frames != nil {
		unsubscribe, err := r.frames.SubscribeFrames(r.cfg.Source, s.handleFrame)
		if err != nil {
			s.release()
			return nil, err
		}
		s.unsubscribe = unsubscribe
	}

	if err := <-s.recognizer.StartContinuousRecognitionAsync(); err != nil {
		if s.unsubscribe != nil {
			_ = s.unsubscribe()
		}
		s.release()
		return nil, fmt.Errorf("start azure recognition: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.finished:
		}
	}()
	return s, nil
}

type azureStream struct {
	*eventStream
	speechConfig *speech.SpeechConfig
	audioConfig  *audio.AudioConfig
	push         *audio.PushAudioInputStream
	recognizer   *speech.SpeechRecognizer
	unsubscribe  func() error
	log          *slog.Logger

	mu        sync.Mutex
	index     int
	sendMu    sync.Mutex
	closed    bool
	endOnce   sync.Once
	closeOnce sync.Once
	haltOnce  sync.Once
	haltErr   error
}

// send serialises SDK callbacks against closing the event channel.
func (s *azureStream) send(evt Event) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.emit(evt)
}

func (s *azureStream) closeEvents() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.closed = true
	s.finish()
}

func (s *azureStream) currentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *azureStream) advanceIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index
	s.index++
	return idx
}

func (s *azureStream) handleFrame(frame protocol.AudioFrame) {
	if s.stopped() || s.push == nil {
		return
	}
	if err := s.push.Write(frame.PCM); err != nil {
		s.log.Warn("azure push write failed", slogError(err))
	}
}

// terminate emits a terminal event once and closes the event channel.
func (s *azureStream) terminate(evt Event) {
	s.endOnce.Do(func() {
		s.send(evt)
		s.signalStop()
		s.closeEvents()
	})
}

func (s *azureStream) release() {
	s.closeOnce.Do(func() {
		if s.recognizer != nil {
			s.recognizer.Close()
		}
		if s.audioConfig != nil {
			s.audioConfig.Close()
		}
		if s.push != nil {
			s.push.Close()
		}
		s.speechConfig.Close()
	})
}

// Stop is safe to call from both the caller and the context watcher.
func (s *azureStream) Stop() error {
	s.haltOnce.Do(func() {
		s.signalStop()
		if s.recognizer != nil {
			s.haltErr = <-s.recognizer.StopContinuousRecognitionAsync()
		}
		if s.unsubscribe != nil {
			_ = s.unsubscribe()
		}
		s.endOnce.Do(s.closeEvents)
		s.release()
	})
	return s.haltErr
}
