package stt

import (
	"context"
	"strings"
	"time"
)

var defaultMockPhrases = []string{
	"hello, how are you today",
	"the weather is lovely this morning",
	"where is the train station",
}

type mockRecognizer struct {
	phrases  []string
	interval time.Duration
}

// NewMockRecognizer replays phrases word by word as interim results followed
// by a final result per phrase.
func NewMockRecognizer(phrases []string, interval time.Duration) Recognizer {
	if len(phrases) == 0 {
		phrases = defaultMockPhrases
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &mockRecognizer{phrases: phrases, interval: interval}
}

func (m *mockRecognizer) Start(ctx context.Context, opts Options) (Stream, error) {
	s := newEventStream()
	go m.run(ctx, s, opts)
	return &mockStream{eventStream: s}, nil
}

func (m *mockRecognizer) run(ctx context.Context, s *eventStream, opts Options) {
	defer s.finish()

	step := m.interval
	index := 0
	for {
		phrase := m.phrases[index%len(m.phrases)]
		words := strings.Fields(phrase)
		if len(words) > 1 {
			step = m.interval / time.Duration(len(words))
		}
		for i := range words {
			final := i == len(words)-1
			if !final && !opts.Interim {
				continue
			}
			if !sleepCtx(ctx, s, step) {
				return
			}
			if !s.emit(Event{Kind: EventResult, Index: index, Text: strings.Join(words[:i+1], " "), Final: final, Confidence: 1}) {
				return
			}
		}
		index++
		if !opts.Continuous {
			s.emit(Event{Kind: EventEnd})
			return
		}
	}
}

func sleepCtx(ctx context.Context, s *eventStream, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

type mockStream struct {
	*eventStream
}

func (m *mockStream) Stop() error {
	m.signalStop()
	m.wait()
	return nil
}
