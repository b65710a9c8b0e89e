package session

import (
	"testing"
	"time"

	"github.com/seu-repo/contavoz/internal/domain"
)

func TestConversationContext_RecordRefNewestFirst(t *testing.T) {
	c := NewConversationContext(2)

	c.RecordRef(domain.TransactionRef{ID: "a"})
	c.RecordRef(domain.TransactionRef{ID: "b"})
	c.RecordRef(domain.TransactionRef{ID: "c"})

	refs := c.RecentRefs()
	if len(refs) != 2 {
		t.Fatalf("expected the capacity to trim to 2, got %d", len(refs))
	}
	if refs[0].ID != "c" || refs[1].ID != "b" {
		t.Errorf("expected newest-first order, got %v", refs)
	}
}

func TestConversationContext_LastIntent(t *testing.T) {
	c := NewConversationContext(5)

	if _, ok := c.LastIntent(); ok {
		t.Error("expected no intent before any turn")
	}

	c.RecordTurn("spent 20 on lunch", domain.IntentAddTransaction, time.Now())
	c.RecordTurn("delete it", domain.IntentDeleteTransaction, time.Now())

	intent, ok := c.LastIntent()
	if !ok || intent != domain.IntentDeleteTransaction {
		t.Errorf("expected the most recent intent, got %v ok=%v", intent, ok)
	}
}

func TestConversationContext_Reset(t *testing.T) {
	c := NewConversationContext(5)
	c.RecordTurn("spent 20 on lunch", domain.IntentAddTransaction, time.Now())
	c.RecordRef(domain.TransactionRef{ID: "a"})

	c.Reset()

	if _, ok := c.LastIntent(); ok {
		t.Error("expected turns cleared after reset")
	}
	if len(c.RecentRefs()) != 0 {
		t.Error("expected refs cleared after reset")
	}
}

func TestDisambiguate(t *testing.T) {
	when := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	candidates := []domain.TransactionRef{
		{ID: "a", Amount: 12, Category: "food_lunch", OccurredAt: when},
		{ID: "b", Amount: 30, Category: "transport_fuel", OccurredAt: when},
		{ID: "c", Amount: 12, Category: "food_coffee", OccurredAt: when},
	}

	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{"the second one", "b", true},
		{"the last one", "c", true},
		{"number 2", "b", true},
		{"the 30 dollar one", "b", true}, // amount is unique
		{"the 12 dollar one", "", false}, // two candidates share the amount
		{"the fuel one", "b", true},
		{"coffee", "c", true},
		{"the food one", "", false}, // matches two descriptors
		{"number 7", "", false},     // out of range
	}

	for _, tc := range cases {
		ref, ok := Disambiguate(tc.input, candidates)
		if ok != tc.ok {
			t.Errorf("Disambiguate(%q): expected ok=%v, got %v", tc.input, tc.ok, ok)
			continue
		}
		if ok && ref.ID != tc.want {
			t.Errorf("Disambiguate(%q): expected %q, got %q", tc.input, tc.want, ref.ID)
		}
	}
}

func TestDisambiguate_NoCandidates(t *testing.T) {
	if _, ok := Disambiguate("the first one", nil); ok {
		t.Error("expected no selection from an empty candidate list")
	}
}
