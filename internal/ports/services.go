package ports

import (
	"context"

	"github.com/seu-repo/contavoz/internal/domain"
)

// TranscriptChunk is one partial result from streaming speech recognition.
// A chunk with Final=true closes the current utterance.
type TranscriptChunk struct {
	Text  string
	Final bool
}

// Transcriber streams speech-to-text results for an audio stream.
type Transcriber interface {
	// Transcribe consumes raw audio frames and emits partial transcripts.
	// The returned channel is closed when the audio stream ends or Cancel
	// is called.
	Transcribe(ctx context.Context, audio <-chan []byte) (<-chan TranscriptChunk, error)

	// Cancel aborts any in-flight transcription.
	Cancel()
}

// Synthesizer plays spoken responses.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
	Stop()
	// FadeOutAndStop lowers volume before stopping, used on barge-in so
	// playback does not cut off abruptly.
	FadeOutAndStop()
}

// SegmentKind classifies one decomposed segment.
type SegmentKind string

const (
	SegmentTransaction SegmentKind = "transaction"
	SegmentNavigation  SegmentKind = "navigation"
	SegmentNoise       SegmentKind = "noise"
)

type DecomposedSegment struct {
	Text     string
	Kind     SegmentKind
	Type     domain.TransactionType
	Amount   *float64
	Category string
	Merchant string
	Page     string
}

type DecompositionResult struct {
	Segments []DecomposedSegment
}

// IntentDecomposer is the AI-assisted utterance splitter. Implementations
// return (nil, nil) when the backend is unavailable; they never surface
// transport errors into the turn.
type IntentDecomposer interface {
	Decompose(ctx context.Context, text string) (*DecompositionResult, error)
}

// FallbackRecognizer is the LLM recognition layer, reached only when the
// local layers stay below the confidence threshold. Must degrade to an
// Unknown result on failure.
type FallbackRecognizer interface {
	Recognize(ctx context.Context, text, pageHint string) (*domain.IntentAnalysisResult, error)
}

type SearchKind string

const (
	SearchAnswer SearchKind = "answer"
	SearchSingle SearchKind = "single"
	SearchList   SearchKind = "list"
	SearchTrend  SearchKind = "trend"
	SearchStats  SearchKind = "stats"
	SearchEmpty  SearchKind = "empty"
	SearchError  SearchKind = "error"
)

type SearchResult struct {
	Kind   SearchKind
	Answer string
	Data   any
}

// NLSearchService answers natural-language queries over the ledger.
type NLSearchService interface {
	Search(ctx context.Context, text string) (*SearchResult, error)
}

type NavigationTarget struct {
	PageName string
	Route    string
}

// NavigationResolver maps an utterance to an app page.
type NavigationResolver interface {
	ParseNavigation(text string) (*NavigationTarget, bool)
}
