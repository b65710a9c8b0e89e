package mocks

import (
	"context"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/ports"
)

// MockTranscriber is a mock implementation of Transcriber interface
type MockTranscriber struct {
	TranscribeFunc func(ctx context.Context, audio <-chan []byte) (<-chan ports.TranscriptChunk, error)
	CancelFunc     func()
	Cancelled      bool
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio <-chan []byte) (<-chan ports.TranscriptChunk, error) {
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio)
	}
	out := make(chan ports.TranscriptChunk)
	close(out)
	return out, nil
}

func (m *MockTranscriber) Cancel() {
	m.Cancelled = true
	if m.CancelFunc != nil {
		m.CancelFunc()
	}
}

// MockSynthesizer is a mock implementation of Synthesizer interface.
// Spoken lines are recorded for assertions.
type MockSynthesizer struct {
	SpeakFunc          func(ctx context.Context, text string) error
	StopFunc           func()
	FadeOutAndStopFunc func()

	Spoken   []string
	Stopped  bool
	FadedOut bool
}

func (m *MockSynthesizer) Speak(ctx context.Context, text string) error {
	m.Spoken = append(m.Spoken, text)
	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, text)
	}
	return nil
}

func (m *MockSynthesizer) Stop() {
	m.Stopped = true
	if m.StopFunc != nil {
		m.StopFunc()
	}
}

func (m *MockSynthesizer) FadeOutAndStop() {
	m.FadedOut = true
	if m.FadeOutAndStopFunc != nil {
		m.FadeOutAndStopFunc()
	}
}

// MockFallbackRecognizer is a mock implementation of FallbackRecognizer
type MockFallbackRecognizer struct {
	RecognizeFunc func(ctx context.Context, text, pageHint string) (*domain.IntentAnalysisResult, error)
	Calls         []string
}

func (m *MockFallbackRecognizer) Recognize(ctx context.Context, text, pageHint string) (*domain.IntentAnalysisResult, error) {
	m.Calls = append(m.Calls, text)
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(ctx, text, pageHint)
	}
	return nil, nil
}

// MockIntentDecomposer is a mock implementation of IntentDecomposer
type MockIntentDecomposer struct {
	DecomposeFunc func(ctx context.Context, text string) (*ports.DecompositionResult, error)
}

func (m *MockIntentDecomposer) Decompose(ctx context.Context, text string) (*ports.DecompositionResult, error) {
	if m.DecomposeFunc != nil {
		return m.DecomposeFunc(ctx, text)
	}
	return nil, nil
}

// MockNLSearchService is a mock implementation of NLSearchService
type MockNLSearchService struct {
	SearchFunc func(ctx context.Context, question string) (*ports.SearchResult, error)
}

func (m *MockNLSearchService) Search(ctx context.Context, question string) (*ports.SearchResult, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, question)
	}
	return nil, nil
}

// MockNavigationResolver is a mock implementation of NavigationResolver
type MockNavigationResolver struct {
	ParseNavigationFunc func(text string) (*ports.NavigationTarget, bool)
}

func (m *MockNavigationResolver) ParseNavigation(text string) (*ports.NavigationTarget, bool) {
	if m.ParseNavigationFunc != nil {
		return m.ParseNavigationFunc(text)
	}
	return nil, false
}
