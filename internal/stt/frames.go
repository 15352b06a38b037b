package stt

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/nats-io/nats.go"
)

// FrameSource delivers audio frames published for a capture source.
type FrameSource interface {
	SubscribeFrames(source string, handler func(protocol.AudioFrame)) (func() error, error)
}

type busFrameSource struct {
	conn *nats.Conn
	log  *slog.Logger
}

// NewBusFrameSource reads frames from audio.frame.<source> on the bus.
func NewBusFrameSource(conn *nats.Conn, log *slog.Logger) FrameSource {
	return &busFrameSource{conn: conn, log: log}
}

func (b *busFrameSource) SubscribeFrames(source string, handler func(protocol.AudioFrame)) (func() error, error) {
	sub, err := b.conn.Subscribe(protocol.AudioFrameSubject(source), func(msg *nats.Msg) {
		var frame protocol.AudioFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			b.log.Warn("failed to decode audio frame", slogError(err))
			return
		}
		handler(frame)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe audio frames: %w", err)
	}
	return sub.Unsubscribe, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
