package recognition

import (
	"context"
	"errors"
	"testing"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/mocks"
	"github.com/seu-repo/contavoz/internal/ports"
)

func newRuleOnlyDecomposer() *Decomposer {
	pipeline := newTestPipeline(&mocks.MockLearnedIntentRepository{}, mocks.NewMockCache(), &mocks.MockFallbackRecognizer{})
	return NewDecomposer(pipeline, nil, nil, newTestLogger())
}

func TestSplitSegments(t *testing.T) {
	segments := splitSegments("I spent 20 on lunch and 30 on gas, then open my budget")
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d: %v", len(segments), segments)
	}
	if segments[0] != "i spent 20 on lunch" {
		t.Errorf("unexpected first segment %q", segments[0])
	}
}

func TestMultiSegment(t *testing.T) {
	if !MultiSegment("lunch 20 and gas 30") {
		t.Error("expected multi-segment input to be detected")
	}
	if MultiSegment("I spent 20 dollars on lunch") {
		t.Error("expected single-segment input")
	}
}

func TestDecompose_BucketsCoverEverySegment(t *testing.T) {
	d := newRuleOnlyDecomposer()

	res := d.Decompose(context.Background(), "user-1", "I spent 20 on lunch and bought coffee, then open my budget")

	if got := len(res.Complete); got != 1 {
		t.Errorf("expected 1 complete intent, got %d", got)
	}
	if got := len(res.Incomplete); got != 1 {
		t.Errorf("expected 1 incomplete intent, got %d", got)
	}
	if res.Navigation == nil {
		t.Error("expected a navigation intent")
	}

	// Every recognized segment must land in exactly one bucket.
	if res.Accounted() != len(res.Segments) {
		t.Errorf("bucket total %d does not cover %d segments", res.Accounted(), len(res.Segments))
	}
}

func TestDecompose_CompleteIntentCarriesAmount(t *testing.T) {
	d := newRuleOnlyDecomposer()

	res := d.Decompose(context.Background(), "user-1", "I spent 20.50 on lunch and earned 100 bonus")

	if len(res.Complete) != 2 {
		t.Fatalf("expected 2 complete intents, got %d", len(res.Complete))
	}
	if res.Complete[0].Amount != 20.50 {
		t.Errorf("expected amount 20.50, got %v", res.Complete[0].Amount)
	}
	if res.Complete[0].Type != domain.TransactionTypeExpense {
		t.Errorf("expected expense, got %v", res.Complete[0].Type)
	}
	if res.Complete[1].Type != domain.TransactionTypeIncome {
		t.Errorf("expected income for the bonus, got %v", res.Complete[1].Type)
	}
}

func TestDecompose_SecondNavigationBecomesNoise(t *testing.T) {
	d := newRuleOnlyDecomposer()

	res := d.Decompose(context.Background(), "user-1", "open my budget and open settings")

	if res.Navigation == nil {
		t.Fatal("expected a navigation intent")
	}
	if res.Navigation.TargetPage != "budget" {
		t.Errorf("expected first navigation to win, got %q", res.Navigation.TargetPage)
	}
	if len(res.Noise) != 1 {
		t.Errorf("expected the second navigation in noise, got %v", res.Noise)
	}
}

func TestDecompose_AIFirstRuleFallback(t *testing.T) {
	amount := 42.0
	ai := &mocks.MockIntentDecomposer{
		DecomposeFunc: func(ctx context.Context, text string) (*ports.DecompositionResult, error) {
			return &ports.DecompositionResult{
				Segments: []ports.DecomposedSegment{
					{Kind: ports.SegmentTransaction, Text: "dinner out", Category: "food_dinner", Amount: &amount},
				},
			}, nil
		},
	}
	pipeline := newTestPipeline(&mocks.MockLearnedIntentRepository{}, mocks.NewMockCache(), &mocks.MockFallbackRecognizer{})
	d := NewDecomposer(pipeline, nil, ai, newTestLogger())

	res := d.Decompose(context.Background(), "user-1", "dinner out was 42")
	if len(res.Complete) != 1 || res.Complete[0].Amount != 42.0 {
		t.Fatalf("expected the AI segmentation to be used, got %+v", res)
	}

	// When the model is down, rule segmentation takes over silently.
	ai.DecomposeFunc = func(ctx context.Context, text string) (*ports.DecompositionResult, error) {
		return nil, errors.New("model unavailable")
	}
	res = d.Decompose(context.Background(), "user-1", "I spent 20 on lunch and 30 on gas")
	if len(res.Complete) != 2 {
		t.Fatalf("expected rule fallback to decompose, got %+v", res)
	}
}

func TestShouldEngage(t *testing.T) {
	if ShouldEngage(nil) {
		t.Error("nil result must not engage")
	}

	one := &domain.MultiIntentResult{Complete: []domain.CompleteIntent{{Amount: 5}}}
	if ShouldEngage(one) {
		t.Error("a single financial intent without navigation must not engage")
	}

	two := &domain.MultiIntentResult{Complete: []domain.CompleteIntent{{Amount: 5}, {Amount: 7}}}
	if !ShouldEngage(two) {
		t.Error("two financial intents must engage")
	}

	withNav := &domain.MultiIntentResult{
		Complete:   []domain.CompleteIntent{{Amount: 5}},
		Navigation: &domain.NavigationIntent{TargetPage: "budget"},
	}
	if !ShouldEngage(withNav) {
		t.Error("one financial intent plus navigation must engage")
	}
}

func TestTransactionTypeOf(t *testing.T) {
	if TransactionTypeOf("I spent 20 on lunch") != domain.TransactionTypeExpense {
		t.Error("expected expense")
	}
	if TransactionTypeOf("received my salary") != domain.TransactionTypeIncome {
		t.Error("expected income")
	}
}
