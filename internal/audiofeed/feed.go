// Package audiofeed turns 16-bit PCM WAV files into audio frames published on
// the bus for frame-based recognizers.
package audiofeed

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

var ErrUnsupportedFormat = errors.New("only 16-bit PCM wav is supported")

// Clip is decoded little-endian 16-bit PCM.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Duration is the playback length of the clip.
func (c Clip) Duration() time.Duration {
	bytesPerSecond := c.SampleRate * c.Channels * 2
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(len(c.PCM)) * time.Second / time.Duration(bytesPerSecond)
}

func ReadWAV(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	if dec.BitDepth != 16 || dec.WavAudioFormat != 1 {
		return Clip{}, ErrUnsupportedFormat
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}
	return Clip{PCM: pcm, SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}, nil
}

// Frames splits the clip into frames of roughly frameDuration each. The last
// frame is marked final so recognizers close the utterance.
func Frames(clip Clip, frameDuration time.Duration) []protocol.AudioFrame {
	if frameDuration <= 0 {
		frameDuration = 100 * time.Millisecond
	}
	blockAlign := clip.Channels * 2
	size := int(time.Duration(clip.SampleRate)*frameDuration/time.Second) * blockAlign
	if size <= 0 {
		size = len(clip.PCM)
	}

	sessionID := uuid.NewString()
	var frames []protocol.AudioFrame
	for offset := 0; offset < len(clip.PCM) || len(frames) == 0; offset += size {
		end := offset + size
		if end > len(clip.PCM) {
			end = len(clip.PCM)
		}
		frames = append(frames, protocol.AudioFrame{
			SessionID:  sessionID,
			Sequence:   len(frames),
			SampleRate: clip.SampleRate,
			Channels:   clip.Channels,
			PCM:        clip.PCM[offset:end],
		})
		if end == len(clip.PCM) {
			break
		}
	}
	frames[len(frames)-1].Final = true
	return frames
}

// Publisher is satisfied by *bus.Client.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Publish sends frames to audio.frame.<source>. With pace set, frames are
// spaced by their playback duration.
func Publish(ctx context.Context, pub Publisher, source string, frames []protocol.AudioFrame, pace bool) error {
	subject := protocol.AudioFrameSubject(source)
	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := pub.PublishJSON(subject, frame); err != nil {
			return fmt.Errorf("publish frame %d: %w", frame.Sequence, err)
		}
		if !pace || frame.Final {
			continue
		}
		wait := Clip{PCM: frame.PCM, SampleRate: frame.SampleRate, Channels: frame.Channels}.Duration()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
