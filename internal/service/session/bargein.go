package session

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/observability/telemetry"
	"github.com/seu-repo/contavoz/internal/ports"
)

// BargeInDetector interrupts system speech when the user starts talking.
// It is a pure interrupt: it does not classify intent, only resets the
// turn boundary so the new utterance gets a clean turn.
type BargeInDetector struct {
	synth       ports.Synthesizer
	transcriber ports.Transcriber
	speaking    atomic.Bool
	interrupts  atomic.Int64
	log         *zap.Logger
}

func NewBargeInDetector(synth ports.Synthesizer, transcriber ports.Transcriber, log *zap.Logger) *BargeInDetector {
	return &BargeInDetector{
		synth:       synth,
		transcriber: transcriber,
		log:         log,
	}
}

// SpeakingStarted and SpeakingFinished bracket TTS playback.
func (b *BargeInDetector) SpeakingStarted()  { b.speaking.Store(true) }
func (b *BargeInDetector) SpeakingFinished() { b.speaking.Store(false) }

func (b *BargeInDetector) Speaking() bool { return b.speaking.Load() }

// OnUserSpeech is called for every partial transcript. If playback is in
// progress it fades the speech out (no abrupt cut), cancels in-flight
// transcription of the previous turn, and reports the interrupt so the
// machine can return to Listening.
func (b *BargeInDetector) OnUserSpeech(partial string) bool {
	if strings.TrimSpace(partial) == "" {
		return false
	}
	if !b.speaking.CompareAndSwap(true, false) {
		return false
	}

	b.interrupts.Add(1)
	telemetry.BargeInsTotal.Inc()
	b.log.Info("barge-in detected, interrupting playback")

	if b.synth != nil {
		b.synth.FadeOutAndStop()
	}
	if b.transcriber != nil {
		b.transcriber.Cancel()
	}
	return true
}

// Interrupts exposes the barge-in counter for observables and tests.
func (b *BargeInDetector) Interrupts() int64 { return b.interrupts.Load() }
