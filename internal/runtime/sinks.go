package runtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

// busSink broadcasts page activity on the interp.* subjects.
type busSink struct {
	client *bus.Client
	log    *slog.Logger
}

func newBusSink(client *bus.Client, log *slog.Logger) *busSink {
	return &busSink{client: client, log: log.With(slog.String("component", "bus-sink"))}
}

func (s *busSink) SessionStarted(context.Context, string, string) {}

func (s *busSink) Transcript(_ context.Context, msg protocol.Transcript) {
	s.publish(protocol.SubjectTranscript, msg)
}

func (s *busSink) Translation(_ context.Context, msg protocol.Translation) {
	s.publish(protocol.SubjectTranslation, msg)
}

func (s *busSink) State(_ context.Context, msg protocol.PageState) {
	s.publish(protocol.SubjectState, msg)
}

func (s *busSink) publish(subject string, v any) {
	if err := s.client.PublishJSON(subject, v); err != nil {
		s.log.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

// storeSink records capture sessions on the timeline. Interim transcripts are
// skipped; only final fragments and applied translations are kept.
type storeSink struct {
	store *eventstore.Store
	log   *slog.Logger

	mu   sync.Mutex
	live string
}

func newStoreSink(store *eventstore.Store, log *slog.Logger) *storeSink {
	return &storeSink{store: store, log: log.With(slog.String("component", "store-sink"))}
}

func (s *storeSink) SessionStarted(ctx context.Context, sessionID, sourceLanguage string) {
	s.mu.Lock()
	s.live = sessionID
	s.mu.Unlock()
	if err := s.store.StartSession(ctx, sessionID, sourceLanguage); err != nil {
		s.log.Warn("failed to record session", slog.String("session_id", sessionID), slogError(err))
	}
}

func (s *storeSink) Transcript(ctx context.Context, msg protocol.Transcript) {
	if msg.Partial {
		return
	}
	s.append(ctx, msg.SessionID, eventstore.TypeTranscript, msg)
}

func (s *storeSink) Translation(ctx context.Context, msg protocol.Translation) {
	if msg.SessionID == "" {
		return
	}
	s.append(ctx, msg.SessionID, eventstore.TypeTranslation, msg)
}

func (s *storeSink) State(ctx context.Context, msg protocol.PageState) {
	if msg.Listening {
		return
	}
	s.mu.Lock()
	ended := s.live != "" && s.live == msg.SessionID
	if ended {
		s.live = ""
	}
	s.mu.Unlock()
	if ended {
		s.append(ctx, msg.SessionID, eventstore.TypeCaptureEnded, msg)
	}
}

func (s *storeSink) append(ctx context.Context, sessionID, eventType string, v any) {
	if err := s.store.AppendJSON(ctx, sessionID, eventType, v); err != nil {
		s.log.Warn("failed to record event", slog.String("type", eventType), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
