package page

import (
	"context"

	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

// Sink receives page activity for broadcasting or recording. Implementations
// must not block for long; they are called outside the state lock.
type Sink interface {
	SessionStarted(ctx context.Context, sessionID, sourceLanguage string)
	Transcript(ctx context.Context, msg protocol.Transcript)
	Translation(ctx context.Context, msg protocol.Translation)
	State(ctx context.Context, msg protocol.PageState)
}

type nopSink struct{}

func (nopSink) SessionStarted(context.Context, string, string) {}
func (nopSink) Transcript(context.Context, protocol.Transcript) {}
func (nopSink) Translation(context.Context, protocol.Translation) {}
func (nopSink) State(context.Context, protocol.PageState) {}

// MultiSink fans out to every sink in order.
type MultiSink []Sink

func (m MultiSink) SessionStarted(ctx context.Context, sessionID, sourceLanguage string) {
	for _, s := range m {
		s.SessionStarted(ctx, sessionID, sourceLanguage)
	}
}

func (m MultiSink) Transcript(ctx context.Context, msg protocol.Transcript) {
	for _, s := range m {
		s.Transcript(ctx, msg)
	}
}

func (m MultiSink) Translation(ctx context.Context, msg protocol.Translation) {
	for _, s := range m {
		s.Translation(ctx, msg)
	}
}

func (m MultiSink) State(ctx context.Context, msg protocol.PageState) {
	for _, s := range m {
		s.State(ctx, msg)
	}
}
