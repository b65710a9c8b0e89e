package recognition

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/mocks"
)

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func newTestPipeline(learned *mocks.MockLearnedIntentRepository, cache *mocks.MockCache, fallback *mocks.MockFallbackRecognizer) *Pipeline {
	return NewPipeline(Config{}, learned, cache, fallback, newTestLogger())
}

func TestRecognize_RuleLayer(t *testing.T) {
	fallback := &mocks.MockFallbackRecognizer{}
	p := newTestPipeline(&mocks.MockLearnedIntentRepository{}, mocks.NewMockCache(), fallback)

	res := p.Recognize(context.Background(), "user-1", "I spent 20 dollars on lunch", "")

	if res.Type != domain.IntentAddTransaction {
		t.Errorf("expected add_transaction, got %v", res.Type)
	}
	if res.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", res.Confidence)
	}
	if res.Layer != domain.LayerRule {
		t.Errorf("expected rule layer, got %v", res.Layer)
	}
	if res.Entities[domain.EntityAmount] != "20" {
		t.Errorf("expected amount entity '20', got %q", res.Entities[domain.EntityAmount])
	}
	if res.Entities[domain.EntityCategory] != "food_lunch" {
		t.Errorf("expected category entity 'food_lunch', got %q", res.Entities[domain.EntityCategory])
	}
	if len(fallback.Calls) != 0 {
		t.Error("rule hit must not reach the fallback recognizer")
	}
}

func TestRecognize_SynonymLayer(t *testing.T) {
	p := newTestPipeline(&mocks.MockLearnedIntentRepository{}, mocks.NewMockCache(), &mocks.MockFallbackRecognizer{})

	res := p.Recognize(context.Background(), "user-1", "I shelled out 15 for parking", "")

	if res.Type != domain.IntentAddTransaction {
		t.Errorf("expected add_transaction, got %v", res.Type)
	}
	if res.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %v", res.Confidence)
	}
	if res.Layer != domain.LayerSynonym {
		t.Errorf("expected synonym layer, got %v", res.Layer)
	}
}

func TestRecognize_TemplateLayer(t *testing.T) {
	p := newTestPipeline(&mocks.MockLearnedIntentRepository{}, mocks.NewMockCache(), &mocks.MockFallbackRecognizer{})

	res := p.Recognize(context.Background(), "user-1", "lunch 30", "")

	if res.Type != domain.IntentAddTransaction {
		t.Errorf("expected add_transaction, got %v", res.Type)
	}
	if res.Confidence != 0.85 {
		t.Errorf("expected confidence 0.85, got %v", res.Confidence)
	}
	if res.Layer != domain.LayerTemplate {
		t.Errorf("expected template layer, got %v", res.Layer)
	}
}

func TestRecognize_LearnedLayer(t *testing.T) {
	learned := &mocks.MockLearnedIntentRepository{
		FindByUtteranceFunc: func(ctx context.Context, userID, utterance string) (*domain.LearnedIntent, error) {
			if userID != "user-1" {
				t.Errorf("expected lookup for user-1, got %q", userID)
			}
			return &domain.LearnedIntent{
				ID:        "li-1",
				UserID:    userID,
				Utterance: utterance,
				Intent:    domain.IntentAddTransaction,
				Entities:  `{"amount":"5"}`,
			}, nil
		},
	}

	var cachedKey string
	cache := mocks.NewMockCache()
	cache.SetFunc = func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
		cachedKey = key
		return nil
	}

	p := newTestPipeline(learned, cache, &mocks.MockFallbackRecognizer{})

	res := p.Recognize(context.Background(), "user-1", "log my usual latte", "")

	if res.Type != domain.IntentAddTransaction {
		t.Errorf("expected add_transaction, got %v", res.Type)
	}
	if res.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %v", res.Confidence)
	}
	if res.Layer != domain.LayerLearned {
		t.Errorf("expected learned layer, got %v", res.Layer)
	}
	if res.Entities["amount"] != "5" {
		t.Errorf("expected stored entities to round-trip, got %v", res.Entities)
	}
	if cachedKey == "" {
		t.Error("expected the learned hit to be cached")
	}
}

func TestRecognize_LearnedHitBumpsHitCounter(t *testing.T) {
	var touched []string
	learned := &mocks.MockLearnedIntentRepository{
		FindByUtteranceFunc: func(ctx context.Context, userID, utterance string) (*domain.LearnedIntent, error) {
			return &domain.LearnedIntent{
				ID:     "li-1",
				Intent: domain.IntentAddTransaction,
			}, nil
		},
		TouchFunc: func(ctx context.Context, id string) error {
			touched = append(touched, id)
			return nil
		},
	}
	p := newTestPipeline(learned, mocks.NewMockCache(), &mocks.MockFallbackRecognizer{})

	// First resolution comes from the store and seeds the cache.
	p.Recognize(context.Background(), "user-1", "log my usual latte", "")
	if len(touched) != 1 || touched[0] != "li-1" {
		t.Fatalf("expected one hit bump for li-1, got %v", touched)
	}

	// Second resolution comes from the cache; the counter still moves.
	p.Recognize(context.Background(), "user-1", "log my usual latte", "")
	if len(touched) != 2 {
		t.Errorf("expected a hit bump on the cached path too, got %v", touched)
	}
}

func TestRecognize_TouchFailureDoesNotAffectTheResult(t *testing.T) {
	learned := &mocks.MockLearnedIntentRepository{
		FindByUtteranceFunc: func(ctx context.Context, userID, utterance string) (*domain.LearnedIntent, error) {
			return &domain.LearnedIntent{ID: "li-1", Intent: domain.IntentAddTransaction}, nil
		},
		TouchFunc: func(ctx context.Context, id string) error {
			return errors.New("connection reset")
		},
	}
	p := newTestPipeline(learned, mocks.NewMockCache(), &mocks.MockFallbackRecognizer{})

	res := p.Recognize(context.Background(), "user-1", "log my usual latte", "")
	if res.Type != domain.IntentAddTransaction || res.Layer != domain.LayerLearned {
		t.Errorf("expected the learned result despite the failed bump, got %v/%v", res.Type, res.Layer)
	}
}

func TestRecognize_LLMFallback(t *testing.T) {
	fallback := &mocks.MockFallbackRecognizer{
		RecognizeFunc: func(ctx context.Context, text, pageHint string) (*domain.IntentAnalysisResult, error) {
			return &domain.IntentAnalysisResult{
				Type:       domain.IntentQueryTransaction,
				Confidence: 0.7,
			}, nil
		},
	}
	p := newTestPipeline(&mocks.MockLearnedIntentRepository{}, mocks.NewMockCache(), fallback)

	res := p.Recognize(context.Background(), "user-1", "where does my money go every month", "")

	if res.Type != domain.IntentQueryTransaction {
		t.Errorf("expected query_transaction, got %v", res.Type)
	}
	if res.Layer != domain.LayerLLM {
		t.Errorf("expected llm layer, got %v", res.Layer)
	}
	if res.RawInput == "" {
		t.Error("expected raw input to be carried on the result")
	}
}

func TestRecognize_LLMBelowThreshold(t *testing.T) {
	fallback := &mocks.MockFallbackRecognizer{
		RecognizeFunc: func(ctx context.Context, text, pageHint string) (*domain.IntentAnalysisResult, error) {
			return &domain.IntentAnalysisResult{
				Type:       domain.IntentQueryTransaction,
				Confidence: 0.4,
			}, nil
		},
	}
	p := newTestPipeline(&mocks.MockLearnedIntentRepository{}, mocks.NewMockCache(), fallback)

	res := p.Recognize(context.Background(), "user-1", "where does my money go every month", "")

	if res.Type != domain.IntentUnknown {
		t.Errorf("expected unknown below threshold, got %v", res.Type)
	}
	if res.Layer != domain.LayerNone {
		t.Errorf("expected no layer, got %v", res.Layer)
	}
}

func TestRecognize_LLMErrorDegradesToUnknown(t *testing.T) {
	fallback := &mocks.MockFallbackRecognizer{
		RecognizeFunc: func(ctx context.Context, text, pageHint string) (*domain.IntentAnalysisResult, error) {
			return nil, errors.New("model unavailable")
		},
	}
	p := newTestPipeline(&mocks.MockLearnedIntentRepository{}, mocks.NewMockCache(), fallback)

	res := p.Recognize(context.Background(), "user-1", "where does my money go every month", "")

	if res.Type != domain.IntentUnknown {
		t.Errorf("expected unknown on fallback error, got %v", res.Type)
	}
	if res.Confidence != 0 {
		t.Errorf("expected zero confidence, got %v", res.Confidence)
	}
}

func TestLearn_PersistsOnlyLLMResults(t *testing.T) {
	var saved *domain.LearnedIntent
	learned := &mocks.MockLearnedIntentRepository{
		SaveFunc: func(ctx context.Context, li *domain.LearnedIntent) error {
			saved = li
			return nil
		},
	}
	p := newTestPipeline(learned, mocks.NewMockCache(), &mocks.MockFallbackRecognizer{})

	p.Learn(context.Background(), "user-1", &domain.IntentAnalysisResult{
		Type:     domain.IntentAddTransaction,
		RawInput: "Log my usual latte",
		Layer:    domain.LayerRule,
	})
	if saved != nil {
		t.Fatal("rule-layer results must not be persisted")
	}

	p.Learn(context.Background(), "user-1", &domain.IntentAnalysisResult{
		Type:     domain.IntentAddTransaction,
		RawInput: "Log my usual latte",
		Entities: map[string]string{"amount": "5"},
		Layer:    domain.LayerLLM,
	})
	if saved == nil {
		t.Fatal("expected the llm result to be persisted")
	}
	if saved.Utterance != "log my usual latte" {
		t.Errorf("expected normalized utterance, got %q", saved.Utterance)
	}
	if saved.Intent != domain.IntentAddTransaction {
		t.Errorf("expected add_transaction, got %v", saved.Intent)
	}
}
