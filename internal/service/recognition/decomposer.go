package recognition

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/ports"
)

var incomeWords = []string{"income", "received", "earned", "salary", "bonus", "paycheck", "refund"}

// Decomposer splits one utterance into several candidate intents. The AI
// decomposer is consulted first; the rule-based path is both the fallback
// and the determinism guarantee: identical input plus identical tables
// always yields identical segmentation.
type Decomposer struct {
	pipeline *Pipeline
	resolver ports.NavigationResolver
	ai       ports.IntentDecomposer
	now      func() time.Time
	log      *zap.Logger
}

func NewDecomposer(pipeline *Pipeline, resolver ports.NavigationResolver, ai ports.IntentDecomposer, log *zap.Logger) *Decomposer {
	return &Decomposer{
		pipeline: pipeline,
		resolver: resolver,
		ai:       ai,
		now:      time.Now,
		log:      log,
	}
}

// Decompose segments and classifies an utterance. The result's invariant:
// complete + incomplete + noise + (navigation: 1) buckets cover every
// recognized segment, in original order, with at most one navigation.
func (d *Decomposer) Decompose(ctx context.Context, userID, input string) *domain.MultiIntentResult {
	if d.ai != nil {
		if res, err := d.ai.Decompose(ctx, input); err == nil && res != nil && len(res.Segments) > 0 {
			return d.fromAI(input, res)
		} else if err != nil {
			d.log.Warn("ai decomposition unavailable, using rule segmentation", zap.Error(err))
		}
	}
	return d.ruleDecompose(ctx, userID, input)
}

// ShouldEngage reports whether the batch justifies the multi-intent flow.
// Zero or one financial segment without navigation falls back to the
// single-intent path.
func ShouldEngage(r *domain.MultiIntentResult) bool {
	if r == nil {
		return false
	}
	if r.IntentCount() >= 2 {
		return true
	}
	return r.IntentCount() >= 1 && r.Navigation != nil
}

func (d *Decomposer) ruleDecompose(ctx context.Context, userID, input string) *domain.MultiIntentResult {
	segments := splitSegments(input)

	result := &domain.MultiIntentResult{
		RawInput: input,
		Segments: segments,
	}

	for _, seg := range segments {
		d.classify(ctx, userID, seg, result)
	}
	return result
}

func (d *Decomposer) classify(ctx context.Context, userID, seg string, result *domain.MultiIntentResult) {
	if _, invalid := IsInvalid(seg); invalid {
		result.Noise = append(result.Noise, seg)
		return
	}

	normalized := expandSynonyms(normalize(seg))

	// Navigation: first wins, later ones become noise.
	if nav := d.parseNavigation(seg, normalized); nav != nil {
		if result.Navigation == nil {
			result.Navigation = nav
		} else {
			result.Noise = append(result.Noise, seg)
		}
		return
	}

	if intent := d.transactionIntent(ctx, userID, seg, normalized); intent != nil {
		if amount, ok := ParseAmount(normalized); ok {
			result.Complete = append(result.Complete, intent.WithAmount(amount))
		} else {
			result.Incomplete = append(result.Incomplete, *intent)
		}
		return
	}

	result.Noise = append(result.Noise, seg)
}

func (d *Decomposer) parseNavigation(raw, normalized string) *domain.NavigationIntent {
	if d.resolver != nil {
		if target, ok := d.resolver.ParseNavigation(raw); ok {
			return &domain.NavigationIntent{
				TargetPage:   target.PageName,
				Route:        target.Route,
				OriginalText: raw,
			}
		}
	}

	// Local fallback: a navigate trigger plus a known page word.
	if intent, ok := matchRules(normalized); ok && intent == domain.IntentNavigate {
		for _, word := range strings.Fields(normalized) {
			if route, ok := navigationPages[word]; ok {
				return &domain.NavigationIntent{
					TargetPage:   word,
					Route:        route,
					OriginalText: raw,
				}
			}
		}
	}
	return nil
}

// transactionIntent decides whether a segment is a financial request and
// builds its incomplete form; the caller promotes it when an amount exists.
func (d *Decomposer) transactionIntent(ctx context.Context, userID, raw, normalized string) *domain.IncompleteIntent {
	intent, matched := matchRules(normalized)
	if matched && intent != domain.IntentAddTransaction {
		return nil
	}

	// A bare category word, with or without an amount, is still a
	// transaction segment ("lunch", "coffee 15"). Anything else goes
	// through the shared layered recognition.
	if !matched && categoryFor(normalized) == "" {
		res := d.pipeline.Recognize(ctx, userID, raw, "")
		if res.Type != domain.IntentAddTransaction {
			return nil
		}
	}

	txType := domain.TransactionTypeExpense
	for _, w := range incomeWords {
		if strings.Contains(normalized, w) {
			txType = domain.TransactionTypeIncome
			break
		}
	}

	incomplete := &domain.IncompleteIntent{
		Type:         txType,
		Category:     categoryFor(normalized),
		Merchant:     extractMerchant(normalized),
		OriginalText: raw,
	}
	if date, ok := parseDate(normalized, d.now()); ok {
		incomplete.OccurredAt = &date
	}
	return incomplete
}

func (d *Decomposer) fromAI(input string, ai *ports.DecompositionResult) *domain.MultiIntentResult {
	result := &domain.MultiIntentResult{RawInput: input}

	for _, seg := range ai.Segments {
		result.Segments = append(result.Segments, seg.Text)

		switch seg.Kind {
		case ports.SegmentNavigation:
			if result.Navigation == nil {
				route := navigationPages[normalize(seg.Page)]
				result.Navigation = &domain.NavigationIntent{
					TargetPage:   seg.Page,
					Route:        route,
					OriginalText: seg.Text,
				}
			} else {
				result.Noise = append(result.Noise, seg.Text)
			}
		case ports.SegmentTransaction:
			txType := seg.Type
			if txType == "" {
				txType = domain.TransactionTypeExpense
			}
			incomplete := domain.IncompleteIntent{
				Type:         txType,
				Category:     seg.Category,
				Merchant:     seg.Merchant,
				OriginalText: seg.Text,
			}
			if seg.Amount != nil {
				result.Complete = append(result.Complete, incomplete.WithAmount(*seg.Amount))
			} else {
				result.Incomplete = append(result.Incomplete, incomplete)
			}
		default:
			result.Noise = append(result.Noise, seg.Text)
		}
	}
	return result
}

// MultiSegment reports whether the utterance splits into more than one
// piece at discourse markers, the cheap pre-check before decomposition.
func MultiSegment(input string) bool {
	return len(splitSegments(input)) > 1
}

// TransactionTypeOf infers expense versus income from the wording.
func TransactionTypeOf(text string) domain.TransactionType {
	normalized := normalize(text)
	for _, w := range incomeWords {
		if strings.Contains(normalized, w) {
			return domain.TransactionTypeIncome
		}
	}
	return domain.TransactionTypeExpense
}

// splitSegments cuts an utterance at discourse markers, preserving the
// original order and dropping empty pieces.
func splitSegments(input string) []string {
	work := strings.ToLower(input)
	for _, marker := range discourseMarkers {
		work = strings.ReplaceAll(work, marker, "\x00")
	}

	parts := strings.Split(work, "\x00")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	return segments
}
