package session

import (
	"testing"

	"github.com/seu-repo/contavoz/internal/mocks"
)

func TestOnUserSpeech_IgnoredWhilePlaybackIdle(t *testing.T) {
	synth := &mocks.MockSynthesizer{}
	transcriber := &mocks.MockTranscriber{}
	b := NewBargeInDetector(synth, transcriber, newTestLogger())

	if b.OnUserSpeech("hello") {
		t.Error("speech with no playback in progress must not interrupt")
	}
	if synth.FadedOut || transcriber.Cancelled {
		t.Error("nothing should be cancelled when playback is idle")
	}
}

func TestOnUserSpeech_InterruptsPlayback(t *testing.T) {
	synth := &mocks.MockSynthesizer{}
	transcriber := &mocks.MockTranscriber{}
	b := NewBargeInDetector(synth, transcriber, newTestLogger())

	b.SpeakingStarted()

	if !b.OnUserSpeech("wait") {
		t.Fatal("expected speech during playback to interrupt")
	}
	if !synth.FadedOut {
		t.Error("expected playback to fade out, not cut")
	}
	if !transcriber.Cancelled {
		t.Error("expected the in-flight transcription to be cancelled")
	}
	if b.Speaking() {
		t.Error("expected the speaking flag cleared")
	}
	if b.Interrupts() != 1 {
		t.Errorf("expected one recorded interrupt, got %d", b.Interrupts())
	}

	// One interrupt per playback: the flag is already down.
	if b.OnUserSpeech("and another thing") {
		t.Error("a second partial must not interrupt again")
	}
	if b.Interrupts() != 1 {
		t.Errorf("expected the counter unchanged, got %d", b.Interrupts())
	}
}

func TestOnUserSpeech_IgnoresBlankPartials(t *testing.T) {
	b := NewBargeInDetector(&mocks.MockSynthesizer{}, &mocks.MockTranscriber{}, newTestLogger())
	b.SpeakingStarted()

	if b.OnUserSpeech("   ") {
		t.Error("a blank partial must not interrupt")
	}
	if !b.Speaking() {
		t.Error("playback must continue through blank partials")
	}
}
