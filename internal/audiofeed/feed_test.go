package audiofeed

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

func writeWAV(t *testing.T, samples []int, sampleRate, bitDepth int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer file.Close()
	enc := wav.NewEncoder(file, sampleRate, bitDepth, 1, 1)
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate}, Data: samples, SourceBitDepth: bitDepth}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	return path
}

func TestReadWAV(t *testing.T) {
	samples := []int{0, 1000, -1000, 32767, -32768}
	path := writeWAV(t, samples, 16000, 16)
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	clip, err := ReadWAV(file)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if clip.SampleRate != 16000 || clip.Channels != 1 || len(clip.PCM) != len(samples)*2 {
		t.Fatalf("unexpected clip %+v", clip)
	}
	if got := int16(binary.LittleEndian.Uint16(clip.PCM[4:])); got != -1000 {
		t.Fatalf("unexpected third sample %d", got)
	}
}

func TestReadWAVRejectsOtherDepths(t *testing.T) {
	path := writeWAV(t, []int{1, 2, 3, 4}, 16000, 8)
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	if _, err := ReadWAV(file); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestReadWAVInvalid(t *testing.T) {
	if _, err := ReadWAV(bytes.NewReader([]byte("not a wav file"))); err == nil {
		t.Fatal("expected error for invalid input")
	}
}

func TestFramesSplitsAndMarksFinal(t *testing.T) {
	// 250ms of mono 16kHz audio.
	clip := Clip{PCM: make([]byte, 16000/4*2), SampleRate: 16000, Channels: 1}
	frames := Frames(clip, 100*time.Millisecond)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if len(frames[0].PCM) != 3200 || len(frames[2].PCM) != 1600 {
		t.Fatalf("unexpected frame sizes %d/%d", len(frames[0].PCM), len(frames[2].PCM))
	}
	for i, frame := range frames {
		if frame.Sequence != i || frame.SessionID != frames[0].SessionID {
			t.Fatalf("unexpected frame header %+v", frame)
		}
		if frame.Final != (i == len(frames)-1) {
			t.Fatalf("only the last frame may be final")
		}
	}
	if clip.Duration() != 250*time.Millisecond {
		t.Fatalf("unexpected duration %s", clip.Duration())
	}
}

func TestFramesEmptyClip(t *testing.T) {
	frames := Frames(Clip{SampleRate: 16000, Channels: 1}, 0)
	if len(frames) != 1 || !frames[0].Final || len(frames[0].PCM) != 0 {
		t.Fatalf("expected a single empty final frame, got %+v", frames)
	}
}

type recordingPublisher struct {
	subjects []string
	frames   []protocol.AudioFrame
}

func (r *recordingPublisher) PublishJSON(subject string, v any) error {
	r.subjects = append(r.subjects, subject)
	r.frames = append(r.frames, v.(protocol.AudioFrame))
	return nil
}

func TestPublish(t *testing.T) {
	clip := Clip{PCM: make([]byte, 640), SampleRate: 16000, Channels: 1}
	frames := Frames(clip, 10*time.Millisecond)
	pub := &recordingPublisher{}
	if err := Publish(context.Background(), pub, "kitchen", frames, true); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(pub.frames) != 2 || pub.subjects[0] != "audio.frame.kitchen" || !pub.frames[1].Final {
		t.Fatalf("unexpected published frames %v", pub.subjects)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Publish(ctx, &recordingPublisher{}, "kitchen", frames, false); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
