// Package page owns the transcription page state: capture state, the latest
// transcript fragment, the latest translation and the selected target
// language. All mutations go through the transitions defined here.
package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interpreter/internal/language"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/loqalabs/loqa-interpreter/internal/stt"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrRecognizerUnavailable = errors.New("speech recognition not supported")
	ErrUnknownLanguage       = errors.New("unknown target language")
	ErrClosed                = errors.New("page closed")
)

type Options struct {
	// Recognizer is nil when the environment provides no recognition
	// capability.
	Recognizer    stt.Recognizer
	Translator    translate.Translator
	Recognition   stt.Options
	DefaultTarget string
	Sink          Sink
	Logger        *slog.Logger
	NewSessionID  func() string
}

type Page struct {
	recognizer  stt.Recognizer
	translator  translate.Translator
	recognition stt.Options
	sink        Sink
	log         *slog.Logger
	newID       func() string
	inst        instruments
	tracer      trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// ctl serialises capture start/stop, which may block on the recognizer.
	ctl sync.Mutex

	mu          sync.Mutex
	closed      bool
	state       CaptureState
	sessionID   string
	session     uint64
	stream      stt.Stream
	streamStop  context.CancelFunc
	transcript  string
	translation string
	target      string
	revision    uint64
	generation  uint64
	subs        map[uint64]chan Snapshot
	nextSub     uint64
}

func New(opts Options) (*Page, error) {
	if opts.Translator == nil {
		return nil, errors.New("page requires a translator")
	}
	target := opts.DefaultTarget
	if target == "" {
		target = language.Default().Code
	}
	if !language.Valid(target) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, target)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "page"))
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	newID := opts.NewSessionID
	if newID == nil {
		newID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Page{
		recognizer:  opts.Recognizer,
		translator:  opts.Translator,
		recognition: opts.Recognition,
		sink:        sink,
		log:         log,
		newID:       newID,
		inst:        newInstruments(log),
		tracer:      otel.Tracer(instrumentationName),
		ctx:         ctx,
		cancel:      cancel,
		state:       Idle,
		target:      target,
		subs:        make(map[uint64]chan Snapshot),
	}, nil
}

// Available reports whether a recognizer capability is present.
func (p *Page) Available() bool {
	return p.recognizer != nil
}

func (p *Page) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Page) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:   p.sessionID,
		Revision:    p.revision,
		State:       p.state,
		Available:   p.recognizer != nil,
		Transcript:  p.transcript,
		Translation: p.translation,
		Target:      p.target,
	}
}

// Toggle starts capture when idle and stops it when listening.
func (p *Page) Toggle(ctx context.Context) error {
	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.mu.Lock()
	listening := p.state == Listening
	p.mu.Unlock()
	if listening {
		return p.stopLocked()
	}
	return p.startLocked(ctx)
}

// Start begins a continuous recognition session. Without a recognizer the
// page stays idle and ErrRecognizerUnavailable is returned.
func (p *Page) Start(ctx context.Context) error {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	return p.startLocked(ctx)
}

func (p *Page) startLocked(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.state == Listening {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.recognizer == nil {
		p.log.Error("speech recognition not supported")
		return ErrRecognizerUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sctx, stop := context.WithCancel(p.ctx)
	stream, err := p.recognizer.Start(sctx, p.recognition)
	if err != nil {
		stop()
		p.log.Error("speech recognition failed to start", slogError(err))
		return fmt.Errorf("start recognition: %w", err)
	}

	sessionID := p.newID()
	p.mu.Lock()
	p.session++
	token := p.session
	p.sessionID = sessionID
	p.stream = stream
	p.streamStop = stop
	p.state = Listening
	snap := p.bumpLocked()
	p.mu.Unlock()

	add(p.ctx, p.inst.sessions)
	p.log.Info("capture started", slog.String("session_id", sessionID), slog.String("language", p.recognition.Language))
	p.sink.SessionStarted(p.ctx, sessionID, p.recognition.Language)
	p.sink.State(p.ctx, snap.toProtocol())

	p.wg.Add(1)
	go p.pump(token, stream, stop)
	return nil
}

// Stop ends the current recognition session, if any.
func (p *Page) Stop() error {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	return p.stopLocked()
}

func (p *Page) stopLocked() error {
	p.mu.Lock()
	stream := p.stream
	stop := p.streamStop
	wasListening := p.state == Listening
	p.stream = nil
	p.streamStop = nil
	p.state = Idle
	var snap Snapshot
	if wasListening {
		snap = p.bumpLocked()
	}
	p.mu.Unlock()

	var err error
	if stream != nil {
		stop()
		err = stream.Stop()
	}
	if wasListening {
		p.log.Info("capture stopped", slog.String("session_id", snap.SessionID))
		p.sink.State(p.ctx, snap.toProtocol())
	}
	return err
}

func (p *Page) pump(token uint64, stream stt.Stream, stop context.CancelFunc) {
	defer p.wg.Done()
	defer stop()

	for evt := range stream.Events() {
		switch evt.Kind {
		case stt.EventResult:
			p.applyResult(token, evt)
		case stt.EventError:
			p.log.Error("speech recognition error", slog.String("reason", evt.Reason))
			p.endSession(token, "error")
		case stt.EventEnd:
			p.endSession(token, "end")
		}
	}
	p.endSession(token, "closed")
}

// endSession returns the page to idle if token is still the live session.
func (p *Page) endSession(token uint64, cause string) {
	p.mu.Lock()
	if token != p.session || p.state != Listening {
		p.mu.Unlock()
		return
	}
	p.state = Idle
	p.stream = nil
	p.streamStop = nil
	snap := p.bumpLocked()
	p.mu.Unlock()

	p.log.Info("capture ended", slog.String("session_id", snap.SessionID), slog.String("cause", cause))
	p.sink.State(p.ctx, snap.toProtocol())
}

func (p *Page) applyResult(token uint64, evt stt.Event) {
	p.mu.Lock()
	if token != p.session || p.state != Listening || evt.Text == p.transcript {
		p.mu.Unlock()
		return
	}
	p.transcript = evt.Text
	snap := p.bumpLocked()
	job, ok := p.issueLocked()
	p.mu.Unlock()

	add(p.ctx, p.inst.results, attribute.Bool("final", evt.Final))
	p.sink.Transcript(p.ctx, protocol.Transcript{
		SessionID:  snap.SessionID,
		Index:      evt.Index,
		Text:       evt.Text,
		Partial:    !evt.Final,
		Timestamp:  time.Now().UTC(),
		Confidence: evt.Confidence,
	})
	p.sink.State(p.ctx, snap.toProtocol())
	if ok {
		p.translate(job)
	}
}

// SelectLanguage changes the translation target. A non-empty transcript is
// re-translated into the new language.
func (p *Page) SelectLanguage(code string) error {
	if !language.Valid(code) {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.target == code {
		p.mu.Unlock()
		return nil
	}
	p.target = code
	snap := p.bumpLocked()
	job, ok := p.issueLocked()
	p.mu.Unlock()

	p.log.Info("target language selected", slog.String("target", code))
	p.sink.State(p.ctx, snap.toProtocol())
	if ok {
		p.translate(job)
	}
	return nil
}

type translationJob struct {
	generation uint64
	sessionID  string
	text       string
	target     string
}

// issueLocked allocates a new generation for the current transcript and
// target. Nothing is issued for an empty transcript.
func (p *Page) issueLocked() (translationJob, bool) {
	if p.transcript == "" {
		return translationJob{}, false
	}
	p.generation++
	return translationJob{
		generation: p.generation,
		sessionID:  p.sessionID,
		text:       p.transcript,
		target:     p.target,
	}, true
}

func (p *Page) translate(job translationJob) {
	targetAttr := attribute.String("target", job.target)
	add(p.ctx, p.inst.requests, targetAttr)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, span := p.tracer.Start(p.ctx, "page.translate", trace.WithAttributes(
			targetAttr,
			attribute.Int64("generation", int64(job.generation)),
		))
		defer span.End()

		start := time.Now()
		res, err := p.translator.Translate(ctx, translate.Request{Text: job.text, Target: job.target})
		latency := time.Since(start)
		if p.inst.latency != nil {
			p.inst.latency.Record(ctx, float64(latency.Milliseconds()))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			add(ctx, p.inst.failures, targetAttr)
			p.log.Warn("translation error", slogError(err), slog.Uint64("generation", job.generation))
			return
		}
		p.applyTranslation(ctx, job, res, latency)
	}()
}

func (p *Page) applyTranslation(ctx context.Context, job translationJob, res translate.Result, latency time.Duration) {
	p.mu.Lock()
	if job.generation != p.generation {
		latest := p.generation
		p.mu.Unlock()
		add(ctx, p.inst.stale, attribute.String("target", job.target))
		p.log.Debug("discarding stale translation", slog.Uint64("generation", job.generation), slog.Uint64("latest", latest))
		return
	}
	p.translation = res.Text
	snap := p.bumpLocked()
	p.mu.Unlock()

	p.sink.Translation(p.ctx, protocol.Translation{
		SessionID:      job.sessionID,
		Generation:     job.generation,
		SourceText:     job.text,
		TranslatedText: res.Text,
		Target:         job.target,
		DetectedSource: res.DetectedSource,
		LatencyMS:      latency.Milliseconds(),
		Timestamp:      time.Now().UTC(),
	})
	p.sink.State(p.ctx, snap.toProtocol())
}

// Subscribe returns a channel that receives the latest snapshot after every
// transition. Slow readers skip intermediate snapshots.
func (p *Page) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	ch <- p.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(sub)
			}
		})
	}
}

// bumpLocked advances the revision and publishes the new snapshot to
// subscribers.
func (p *Page) bumpLocked() Snapshot {
	p.revision++
	snap := p.snapshotLocked()
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	return snap
}

// Close stops capture, waits for in-flight translations and closes
// subscriptions.
func (p *Page) Close() {
	p.ctl.Lock()
	_ = p.stopLocked()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.ctl.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
