package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

// DeepgramConfig configures the live streaming recognizer.
type DeepgramConfig struct {
	Endpoint   string
	APIKey     string
	Source     string
	SampleRate int
	Channels   int
}

type deepgramRecognizer struct {
	frames FrameSource
	cfg    DeepgramConfig
	dialer *websocket.Dialer
	log    *slog.Logger
}

// NewDeepgramRecognizer streams bus audio frames to Deepgram's live
// transcription websocket.
func NewDeepgramRecognizer(frames FrameSource, cfg DeepgramConfig, log *slog.Logger) Recognizer {
	return &deepgramRecognizer{
		frames: frames,
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log.With(slog.String("component", "deepgram-recognizer")),
	}
}

type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (r *deepgramRecognizer) listenURL(opts Options) (string, error) {
	u, err := url.Parse(r.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse deepgram endpoint: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(r.cfg.SampleRate))
	q.Set("channels", strconv.Itoa(r.cfg.Channels))
	q.Set("interim_results", strconv.FormatBool(opts.Interim))
	q.Set("punctuate", "true")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *deepgramRecognizer) Start(ctx context.Context, opts Options) (Stream, error) {
	target, err := r.listenURL(opts)
	if err != nil {
		return nil, err
	}
	header := http.Header{"Authorization": {"Token " + r.cfg.APIKey}}
	conn, _, err := r.dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("dial deepgram: %w", err)
	}

	ds := &deepgramStream{
		eventStream: newEventStream(),
		conn:        conn,
		opts:        opts,
		log:         r.log,
	}
	unsubscribe, err := r.frames.SubscribeFrames(r.cfg.Source, ds.handleFrame)
	if err != nil {
		conn.Close()
		return nil, err
	}
	ds.unsubscribe = unsubscribe

	go ds.read()
	go func() {
		select {
		case <-ctx.Done():
			ds.shutdown()
		case <-ds.finished:
		}
	}()
	return ds, nil
}

type deepgramStream struct {
	*eventStream
	conn        *websocket.Conn
	opts        Options
	log         *slog.Logger
	unsubscribe func() error
	writeMu     sync.Mutex
	index       int
}

func (s *deepgramStream) handleFrame(frame protocol.AudioFrame) {
	if s.stopped() {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if len(frame.PCM) > 0 {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.PCM); err != nil {
			s.log.Warn("deepgram write failed", slogError(err))
			return
		}
	}
	if frame.Final {
		control := "Finalize"
		if !s.opts.Continuous {
			control = "CloseStream"
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"`+control+`"}`)); err != nil {
			s.log.Warn("deepgram control message failed", slogError(err))
		}
	}
}

func (s *deepgramStream) read() {
	defer s.finish()
	defer func() {
		if err := s.unsubscribe(); err != nil {
			s.log.Warn("failed to unsubscribe audio frames", slogError(err))
		}
		s.conn.Close()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.stopped() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, websocket.ErrCloseSent) {
				s.emit(Event{Kind: EventEnd})
				return
			}
			s.log.Warn("deepgram read failed", slogError(err))
			s.emit(Event{Kind: EventError, Reason: "network"})
			return
		}

		evt, ok := s.decode(data)
		if !ok {
			continue
		}
		if !s.emit(evt) {
			return
		}
	}
}

func (s *deepgramStream) decode(data []byte) (Event, bool) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("failed to decode deepgram message", slogError(err))
		return Event{}, false
	}
	if msg.Type != "" && msg.Type != "Results" {
		return Event{}, false
	}
	if len(msg.Channel.Alternatives) == 0 {
		return Event{}, false
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return Event{}, false
	}
	evt := Event{Kind: EventResult, Index: s.index, Text: alt.Transcript, Final: msg.IsFinal, Confidence: alt.Confidence}
	if msg.IsFinal {
		s.index++
	}
	return evt, true
}

func (s *deepgramStream) shutdown() {
	s.signalStop()
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	s.writeMu.Unlock()
	s.conn.Close()
}

func (s *deepgramStream) Stop() error {
	s.shutdown()
	s.wait()
	return nil
}
