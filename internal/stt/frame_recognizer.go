package stt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

// FrameRecognizerConfig controls how buffered frames are turned into results.
type FrameRecognizerConfig struct {
	Source       string
	SampleRate   int
	Channels     int
	PartialEvery time.Duration
	Timeout      time.Duration
}

type frameRecognizer struct {
	frames      FrameSource
	transcriber Transcriber
	cfg         FrameRecognizerConfig
	log         *slog.Logger
}

// NewFrameRecognizer buffers frames from a FrameSource and runs the
// transcriber over the growing utterance for interim results, and once more
// when a final frame closes the utterance.
func NewFrameRecognizer(frames FrameSource, transcriber Transcriber, cfg FrameRecognizerConfig, log *slog.Logger) Recognizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &frameRecognizer{
		frames:      frames,
		transcriber: transcriber,
		cfg:         cfg,
		log:         log.With(slog.String("component", "frame-recognizer")),
	}
}

func (r *frameRecognizer) Start(ctx context.Context, opts Options) (Stream, error) {
	sctx, cancel := context.WithCancel(ctx)
	fs := &frameStream{
		eventStream: newEventStream(),
		cancel:      cancel,
		rec:         r,
		opts:        opts,
		kick:        make(chan struct{}, 1),
	}
	unsubscribe, err := r.frames.SubscribeFrames(r.cfg.Source, fs.handleFrame)
	if err != nil {
		cancel()
		return nil, err
	}
	fs.unsubscribe = unsubscribe
	go fs.run(sctx)
	return fs, nil
}

type frameStream struct {
	*eventStream
	rec         *frameRecognizer
	opts        Options
	unsubscribe func() error
	kick        chan struct{}
	cancel      context.CancelFunc

	mu           sync.Mutex
	buffer       []byte
	lastPartial  time.Time
	partialDue   bool
	pendingFinal bool
	index        int
}

type frameJob struct {
	pcm   []byte
	final bool
}

func (s *frameStream) handleFrame(frame protocol.AudioFrame) {
	s.mu.Lock()
	s.buffer = append(s.buffer, frame.PCM...)
	if frame.Final {
		s.pendingFinal = true
	} else if s.opts.Interim {
		interval := s.rec.cfg.PartialEvery
		if s.lastPartial.IsZero() || (interval > 0 && time.Since(s.lastPartial) >= interval) {
			s.lastPartial = time.Now()
			s.partialDue = true
		}
	}
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *frameStream) next() (frameJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingFinal {
		job := frameJob{pcm: s.buffer, final: true}
		s.buffer = nil
		s.pendingFinal = false
		s.partialDue = false
		s.lastPartial = time.Time{}
		return job, true
	}
	if s.partialDue && len(s.buffer) > 0 {
		s.partialDue = false
		return frameJob{pcm: append([]byte(nil), s.buffer...)}, true
	}
	return frameJob{}, false
}

func (s *frameStream) run(ctx context.Context) {
	defer s.finish()
	defer s.cancel()
	defer func() {
		if err := s.unsubscribe(); err != nil {
			s.rec.log.Warn("failed to unsubscribe audio frames", slogError(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.kick:
		}
		for {
			job, ok := s.next()
			if !ok {
				break
			}
			if !s.process(ctx, job) {
				return
			}
		}
	}
}

// process transcribes one job and reports whether the stream continues.
func (s *frameStream) process(ctx context.Context, job frameJob) bool {
	tctx, cancel := context.WithTimeout(ctx, s.rec.cfg.Timeout)
	defer cancel()

	result, err := s.rec.transcriber.Transcribe(tctx, job.pcm, s.rec.cfg.SampleRate, s.rec.cfg.Channels, job.final)
	if err != nil {
		if s.stopped() || ctx.Err() != nil {
			return false
		}
		s.rec.log.Warn("stt transcription failed", slogError(err))
		s.emit(Event{Kind: EventError, Reason: "transcription-failed"})
		return false
	}

	s.mu.Lock()
	index := s.index
	if job.final {
		s.index++
	}
	s.mu.Unlock()

	if result.Text != "" {
		evt := Event{Kind: EventResult, Index: index, Text: result.Text, Final: job.final, Confidence: result.Confidence}
		if !s.emit(evt) {
			return false
		}
	}
	if job.final && !s.opts.Continuous {
		s.emit(Event{Kind: EventEnd})
		return false
	}
	return true
}

// Stop aborts any in-flight transcription and waits for the producer.
func (s *frameStream) Stop() error {
	s.signalStop()
	s.cancel()
	s.wait()
	return nil
}
