package stt

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by backends that are not available in this build
// or environment.
var ErrUnsupported = errors.New("speech recognition not supported")

type EventKind int

const (
	// EventResult carries an interim or final transcript fragment.
	EventResult EventKind = iota
	// EventError terminates the session; Reason holds a short code.
	EventError
	// EventEnd marks a natural end of the session.
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is emitted by a recognition stream. Index identifies the utterance
// the fragment belongs to; interim fragments share the index of the final
// fragment that completes them.
type Event struct {
	Kind       EventKind
	Index      int
	Text       string
	Final      bool
	Confidence float64
	Reason     string
}

// Options configure a recognition session.
type Options struct {
	Language   string
	Continuous bool
	Interim    bool
}

// Recognizer converts live audio into transcript fragments.
type Recognizer interface {
	Start(ctx context.Context, opts Options) (Stream, error)
}

// Stream is a running recognition session. Events is closed once the session
// is over, whether it ended, failed or was stopped.
type Stream interface {
	Events() <-chan Event
	Stop() error
}

// TranscriptResult captures output of a one-shot transcriber.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Transcriber transcribes a buffered chunk of PCM audio.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error)
}
