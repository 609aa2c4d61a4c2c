// Package tts holds the pluggable speech-rendering boundary and the
// sound-command text splitter used by the announcement processor.
package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// Engine renders text to audio. Concrete synthesis backends live outside this
// module; anything satisfying this interface can be plugged in.
type Engine interface {
	Render(ctx context.Context, text, voice string, speed float64) ([]byte, error)
}

// Output plays rendered audio bytes. Play blocks until playback finishes or
// ctx is cancelled.
type Output interface {
	Play(ctx context.Context, audio []byte) error
}

// VoiceConfig selects the voice and per-segment speeds. Names are read at a
// slightly slower speed than body text, matching the announcement cadence.
type VoiceConfig struct {
	Voice       string
	SpeedNormal float64
	SpeedName   float64
}

// Speaker renders and plays text segments through an Engine and Output pair.
type Speaker struct {
	engine   Engine
	out      Output
	cfg      VoiceConfig
	audioDir string
}

func NewSpeaker(engine Engine, out Output, cfg VoiceConfig, audioDir string) *Speaker {
	if cfg.SpeedNormal <= 0 {
		cfg.SpeedNormal = 0.9
	}
	if cfg.SpeedName <= 0 {
		cfg.SpeedName = 0.8
	}
	return &Speaker{engine: engine, out: out, cfg: cfg, audioDir: audioDir}
}

var errNoEngine = errors.New("tts: no engine configured")

// Say renders text and plays it. An unset engine or output degrades to a
// no-op error so the announcement pipeline keeps moving.
func (s *Speaker) Say(ctx context.Context, text string, isName bool) error {
	if s == nil || s.engine == nil || s.out == nil {
		return errNoEngine
	}
	speed := s.cfg.SpeedNormal
	if isName {
		speed = s.cfg.SpeedName
	}
	audio, err := s.engine.Render(ctx, text, s.cfg.Voice, speed)
	if err != nil {
		return err
	}
	if len(audio) == 0 {
		return nil
	}
	return s.out.Play(ctx, audio)
}

// PlayCommand plays a pre-recorded sound-command file by name.
func (s *Speaker) PlayCommand(ctx context.Context, filename string) error {
	if s == nil || s.out == nil {
		return errNoEngine
	}
	if filename == "" {
		return errors.New("tts: empty command filename")
	}
	audio, err := os.ReadFile(filepath.Join(s.audioDir, filename))
	if err != nil {
		return err
	}
	return s.out.Play(ctx, audio)
}
