package recognition

import (
	"testing"

	"github.com/seu-repo/contavoz/internal/domain"
)

func TestNormalize(t *testing.T) {
	cases := []struct{ in, out string }{
		{"  I Spent   20 Dollars!  ", "i spent 20 dollars"},
		{"Yes.", "yes"},
		{"open the budget page?", "open the budget page"},
	}
	for _, tc := range cases {
		if got := normalize(tc.in); got != tc.out {
			t.Errorf("normalize(%q): expected %q, got %q", tc.in, tc.out, got)
		}
	}
}

func TestMatchRules(t *testing.T) {
	cases := []struct {
		input  string
		intent domain.IntentType
		ok     bool
	}{
		{"yes", domain.IntentConfirm, true},
		{"never mind", domain.IntentCancel, true},
		{"i spent 20 dollars on lunch", domain.IntentAddTransaction, true},
		{"delete the last expense", domain.IntentDeleteTransaction, true},
		{"change the amount to 25", domain.IntentModifyTransaction, true},
		{"how much did i spend this week", domain.IntentQueryTransaction, true},
		{"open the budget page", domain.IntentNavigate, true},
		{"set budget for food to 300", domain.IntentConfigure, true},
		{"what can you do", domain.IntentHelp, true},
		{"blorp fizzle", domain.IntentUnknown, false},
	}

	for _, tc := range cases {
		intent, ok := matchRules(normalize(tc.input))
		if intent != tc.intent || ok != tc.ok {
			t.Errorf("matchRules(%q): expected (%v,%v), got (%v,%v)",
				tc.input, tc.intent, tc.ok, intent, ok)
		}
	}
}

// Confirmation words outrank transaction keywords so a bare "yes" during a
// pending question is never re-read as a new command.
func TestMatchRules_ConfirmPrecedence(t *testing.T) {
	intent, ok := matchRules("yes delete it")
	if !ok || intent != domain.IntentConfirm {
		t.Errorf("expected IntentConfirm, got %v ok=%v", intent, ok)
	}
}

func TestExpandSynonyms(t *testing.T) {
	cases := []struct{ in, out string }{
		{"scratch that", "cancel"},
		{"i shelled out 15 for parking", "i spent 15 for parking"},
		{"got paid my salary today", "received my income today"},
	}
	for _, tc := range cases {
		if got := expandSynonyms(tc.in); got != tc.out {
			t.Errorf("expandSynonyms(%q): expected %q, got %q", tc.in, tc.out, got)
		}
	}
}

func TestCategoryOf(t *testing.T) {
	if got := CategoryOf("I spent 20 on lunch"); got != "food_lunch" {
		t.Errorf("expected food_lunch, got %q", got)
	}
	// First mentioned category wins.
	if got := CategoryOf("lunch and coffee receipts"); got != "food_lunch" {
		t.Errorf("expected food_lunch, got %q", got)
	}
	if got := CategoryOf("something else entirely"); got != "" {
		t.Errorf("expected empty category, got %q", got)
	}
}

func TestResolvePage(t *testing.T) {
	name, route, ok := ResolvePage("open the budget page")
	if !ok || name != "budget" || route != "/budget" {
		t.Errorf("expected budget -> /budget, got %q -> %q ok=%v", name, route, ok)
	}

	if _, _, ok := ResolvePage("open the weather"); ok {
		t.Error("expected unknown page to not resolve")
	}
}

// Identical input must always resolve identically; the keyword and synonym
// tables are ordered for exactly this reason.
func TestRecognitionTables_Deterministic(t *testing.T) {
	inputs := []string{
		"i spent 20 on lunch and coffee",
		"scratch that and get rid of the last one",
		"open the stats page",
	}
	for _, input := range inputs {
		firstExpanded := expandSynonyms(normalize(input))
		firstIntent, _ := matchRules(firstExpanded)
		firstCategory := categoryFor(firstExpanded)
		for i := 0; i < 100; i++ {
			expanded := expandSynonyms(normalize(input))
			intent, _ := matchRules(expanded)
			if expanded != firstExpanded || intent != firstIntent || categoryFor(expanded) != firstCategory {
				t.Fatalf("resolution changed for %q on iteration %d", input, i)
			}
		}
	}
}
