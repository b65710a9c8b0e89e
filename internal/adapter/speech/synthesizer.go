package speech

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/ports"
	"github.com/seu-repo/contavoz/pkg/config"
)

// PlaybackEvent is what the synthesizer hands to the transport; the client
// device does the actual audio rendering.
type PlaybackEvent struct {
	Type string `json:"type"` // "speak", "stop", "fade_out"
	Text string `json:"text,omitempty"`
	// FadeMillis tells the client how long to ramp the volume down.
	FadeMillis int64 `json:"fade_millis,omitempty"`
	Voice      string `json:"voice,omitempty"`
}

// EventSink delivers playback events to the connected client.
type EventSink func(event PlaybackEvent) error

// Synthesizer turns responses into playback events. Stop cuts playback
// immediately; FadeOutAndStop ramps down first, which is what barge-in
// uses so the voice does not cut off mid-word.
type Synthesizer struct {
	cfg  config.SpeechConfig
	sink EventSink
	log  *zap.Logger

	mu       sync.Mutex
	speaking bool
}

func NewSynthesizer(cfg config.SpeechConfig, sink EventSink, log *zap.Logger) ports.Synthesizer {
	if cfg.FadeOut <= 0 {
		cfg.FadeOut = 200 * time.Millisecond
	}
	return &Synthesizer{cfg: cfg, sink: sink, log: log}
}

func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	if s.sink == nil {
		return nil
	}
	s.mu.Lock()
	s.speaking = true
	s.mu.Unlock()

	return s.sink(PlaybackEvent{
		Type:  "speak",
		Text:  text,
		Voice: s.cfg.Voice,
	})
}

func (s *Synthesizer) Stop() {
	s.emitStop(PlaybackEvent{Type: "stop"})
}

func (s *Synthesizer) FadeOutAndStop() {
	s.emitStop(PlaybackEvent{
		Type:       "fade_out",
		FadeMillis: s.cfg.FadeOut.Milliseconds(),
	})
}

func (s *Synthesizer) emitStop(event PlaybackEvent) {
	s.mu.Lock()
	wasSpeaking := s.speaking
	s.speaking = false
	s.mu.Unlock()

	if !wasSpeaking || s.sink == nil {
		return
	}
	if err := s.sink(event); err != nil {
		s.log.Warn("playback event delivery failed",
			zap.String("event", event.Type), zap.Error(err))
	}
}
