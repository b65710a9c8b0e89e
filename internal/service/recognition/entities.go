package recognition

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/seu-repo/contavoz/internal/domain"
)

var (
	amountRe   = regexp.MustCompile(`(?:^|\s)\$?(\d+(?:\.\d{1,2})?)(?:\s*(?:dollars|bucks|usd))?(?:$|\s)`)
	merchantRe = regexp.MustCompile(`\bat\s+([a-z][a-z'&\- ]*[a-z])`)
	ordinalWordRe  = regexp.MustCompile(`\b(first|second|third|fourth|fifth|last)\b`)
	ordinalDigitRe = regexp.MustCompile(`\b(\d+)(?:st|nd|rd|th)\b|\bnumber\s+(\d+)\b`)
)

var ordinalWords = map[string]int{
	"first":  1,
	"second": 2,
	"third":  3,
	"fourth": 4,
	"fifth":  5,
}

// ParseAmount extracts the first monetary amount from an utterance.
func ParseAmount(text string) (float64, bool) {
	m := amountRe.FindStringSubmatch(normalize(text))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func hasAmount(normalized string) bool {
	return amountRe.MatchString(normalized)
}

// ParseOrdinal resolves references like "the second one" or "3rd" to a
// one-based index. "last" maps to -1 for the caller to resolve against its
// candidate list.
func ParseOrdinal(text string) (int, bool) {
	normalized := normalize(text)

	if m := ordinalWordRe.FindStringSubmatch(normalized); m != nil {
		if m[1] == "last" {
			return -1, true
		}
		return ordinalWords[m[1]], true
	}

	if m := ordinalDigitRe.FindStringSubmatch(normalized); m != nil {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		if n, err := strconv.Atoi(digits); err == nil && n > 0 {
			return n, true
		}
	}

	return 0, false
}

// ParseYesNo interprets a confirmation-turn answer. The second return is
// false when the input is neither.
func ParseYesNo(text string) (bool, bool) {
	normalized := expandSynonyms(normalize(text))
	intent, ok := matchRules(normalized)
	if !ok {
		return false, false
	}
	switch intent {
	case domain.IntentConfirm:
		return true, true
	case domain.IntentCancel:
		return false, true
	}
	return false, false
}

// parseDate resolves relative date words against now. Only the coarse
// vocabulary the voice flow needs; anything richer is the LLM layer's job.
func parseDate(normalized string, now time.Time) (time.Time, bool) {
	day := func(offset int) time.Time {
		d := now.AddDate(0, 0, offset)
		return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, d.Location())
	}
	switch {
	case strings.Contains(normalized, "day before yesterday"):
		return day(-2), true
	case strings.Contains(normalized, "yesterday"):
		return day(-1), true
	case strings.Contains(normalized, "this morning"), strings.Contains(normalized, "today"):
		return day(0), true
	case strings.Contains(normalized, "last week"):
		return day(-7), true
	}
	return time.Time{}, false
}

// extractMerchant pulls the "at <name>" phrase if present.
func extractMerchant(normalized string) string {
	m := merchantRe.FindStringSubmatch(normalized)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// extractEntities fills the slot map for a recognized utterance.
func extractEntities(normalized string, now time.Time) map[string]string {
	entities := make(map[string]string)

	if amount, ok := ParseAmount(normalized); ok {
		entities[domain.EntityAmount] = strconv.FormatFloat(amount, 'f', -1, 64)
	}
	if category := categoryFor(normalized); category != "" {
		entities[domain.EntityCategory] = category
	}
	if merchant := extractMerchant(normalized); merchant != "" {
		entities[domain.EntityMerchant] = merchant
	}
	if date, ok := parseDate(normalized, now); ok {
		entities[domain.EntityDate] = date.Format(time.RFC3339)
	}
	if ordinal, ok := ParseOrdinal(normalized); ok {
		entities[domain.EntityOrdinal] = strconv.Itoa(ordinal)
	}
	for _, word := range strings.Fields(normalized) {
		if route, ok := navigationPages[word]; ok {
			entities[domain.EntityPage] = route
			break
		}
	}

	if len(entities) == 0 {
		return nil
	}
	return entities
}
