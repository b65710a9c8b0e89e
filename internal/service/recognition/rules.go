package recognition

import (
	"strings"

	"github.com/seu-repo/contavoz/internal/domain"
)

// rule is one keyword table entry. Order in the table decides precedence,
// so short confirmation words cannot be shadowed by transaction keywords.
type rule struct {
	intent   domain.IntentType
	triggers []string
}

// ruleTable is the exact-match layer. First matching entry wins.
var ruleTable = []rule{
	{domain.IntentConfirm, []string{"yes", "yeah", "yep", "confirm", "correct", "that's right", "sure", "go ahead"}},
	{domain.IntentCancel, []string{"no", "nope", "cancel", "never mind", "forget it", "stop it", "wrong"}},
	{domain.IntentDeleteTransaction, []string{"delete", "remove"}},
	{domain.IntentModifyTransaction, []string{"change", "modify", "update", "edit"}},
	{domain.IntentQueryTransaction, []string{"how much", "show me", "what did i spend", "list my", "search", "trend", "statistics", "summary"}},
	{domain.IntentNavigate, []string{"open", "go to", "switch to", "navigate to", "take me to"}},
	{domain.IntentConfigure, []string{"set budget", "set a budget", "settings", "configure", "enable", "disable"}},
	{domain.IntentHelp, []string{"help", "how do i", "what can you do", "tutorial"}},
	{domain.IntentAddTransaction, []string{"spent", "bought", "paid", "record a", "record an", "add a", "add an", "income", "received", "earned", "refund"}},
}

// synonymTable rewrites colloquial words to the canonical trigger before
// re-running the rule match. Ordered so that identical input always expands
// the same way.
var synonymTable = []struct{ from, to string }{
	{"scratch that", "cancel"},
	{"get rid of", "delete"},
	{"shelled out", "spent"},
	{"got paid", "received"},
	{"picked up", "bought"},
	{"check my", "show me"},
	{"jump to", "go to"},
	{"head to", "go to"},
	{"pull up", "open"},
	{"look up", "search"},
	{"purchased", "bought"},
	{"grabbed", "bought"},
	{"splurged", "spent"},
	{"paycheck", "income"},
	{"salary", "income"},
	{"wage", "income"},
	{"trash", "delete"},
	{"scrap", "delete"},
	{"adjust", "change"},
	{"revise", "change"},
	{"fix", "change"},
	{"affirmative", "yes"},
	{"negative", "no"},
	{"yup", "yes"},
}

// categoryTable maps segment keywords to ledger categories.
var categoryTable = map[string]string{
	"lunch":     "food_lunch",
	"dinner":    "food_dinner",
	"breakfast": "food_breakfast",
	"coffee":    "food_coffee",
	"snack":     "food_snack",
	"drinks":    "food_drink",
	"groceries": "food_groceries",
	"taxi":      "transport_taxi",
	"uber":      "transport_taxi",
	"bus":       "transport_public",
	"subway":    "transport_public",
	"metro":     "transport_public",
	"gas":       "transport_fuel",
	"fuel":      "transport_fuel",
	"parking":   "transport_parking",
	"rent":      "housing_rent",
	"utilities": "housing_utilities",
	"internet":  "housing_utilities",
	"movie":     "entertainment_movie",
	"cinema":    "entertainment_movie",
	"game":      "entertainment_game",
	"gym":       "health_fitness",
	"pharmacy":  "health_medical",
	"doctor":    "health_medical",
	"clothes":   "shopping_clothes",
	"shoes":     "shopping_clothes",
	"book":      "shopping_books",
	"salary":    "income_salary",
	"bonus":     "income_bonus",
}

// meaningfulKeywords gates very short inputs: a string under ten characters
// containing none of these never reaches recognition.
var meaningfulKeywords = []string{
	"spent", "paid", "buy", "bought", "add", "record", "delete", "remove",
	"change", "open", "show", "list", "search", "help", "yes", "no", "ok",
	"cancel", "budget", "lunch", "dinner", "coffee", "taxi", "rent", "income",
	"first", "second", "third", "confirm",
}

// fillerWords are discourse particles that carry no intent on their own.
var fillerWords = map[string]bool{
	"um": true, "uh": true, "er": true, "hmm": true, "huh": true,
	"well": true, "like": true, "you know": true, "so": true,
	"the": true, "a": true, "an": true, "oh": true, "ah": true,
}

// asrErrorPhrases are strings the speech recognizer is known to emit on
// silence or noise.
// Keys are in normalized form.
var asrErrorPhrases = map[string]bool{
	"thank you":            true,
	"thanks for watching":  true,
	"please subscribe":     true,
	"[music]":              true,
	"[applause]":           true,
	"[blank_audio]":        true,
	"you":                  true,
}

// discourseMarkers split a multi-request utterance into segments.
var discourseMarkers = []string{
	",", ";", " and then ", " and also ", " then ", " also ", " and ",
	" plus ", " after that ", " next ",
}

// navigationPages is the narrow page vocabulary the local layers know;
// anything richer goes through the injected NavigationResolver.
var navigationPages = map[string]string{
	"home":       "/home",
	"budget":     "/budget",
	"stats":      "/statistics",
	"statistics": "/statistics",
	"reports":    "/reports",
	"settings":   "/settings",
	"ledger":     "/ledger",
	"accounts":   "/accounts",
}

// normalize lowercases, trims and collapses whitespace, and strips
// trailing punctuation so table lookups are stable.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "!?.,;:")
	return strings.Join(strings.Fields(s), " ")
}

// expandSynonyms rewrites every known synonym to its canonical form.
func expandSynonyms(s string) string {
	for _, entry := range synonymTable {
		s = strings.ReplaceAll(s, entry.from, entry.to)
	}
	return s
}

// matchRules runs the ordered keyword table against a normalized utterance.
func matchRules(normalized string) (domain.IntentType, bool) {
	padded := " " + normalized + " "
	for _, r := range ruleTable {
		for _, trigger := range r.triggers {
			if normalized == trigger || strings.Contains(padded, " "+trigger+" ") ||
				strings.HasPrefix(normalized, trigger+" ") || strings.HasSuffix(normalized, " "+trigger) {
				return r.intent, true
			}
		}
	}
	return domain.IntentUnknown, false
}

// categoryFor scans the utterance words in order, so multi-category input
// resolves to the first mentioned category deterministically.
func categoryFor(normalized string) string {
	for _, word := range strings.Fields(normalized) {
		if category, ok := categoryTable[word]; ok {
			return category
		}
	}
	return ""
}

// CategoryOf resolves the ledger category mentioned in an utterance, or ""
// when no known category word appears.
func CategoryOf(text string) string {
	return categoryFor(normalize(text))
}

// ResolvePage finds the first known page word in an utterance and returns
// its name and route.
func ResolvePage(text string) (name, route string, ok bool) {
	for _, word := range strings.Fields(normalize(text)) {
		if r, found := navigationPages[word]; found {
			return word, r, true
		}
	}
	return "", "", false
}
