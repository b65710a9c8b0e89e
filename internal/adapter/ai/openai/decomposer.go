package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/ports"
)

const decomposerPrompt = `You split one voice utterance for a personal finance app into ordered segments.
Respond with JSON only:
{"segments": [{"text": "<original words>",
               "kind": "<transaction|navigation|noise>",
               "type": "<expense|income, transactions only>",
               "amount": <number, omit if the user gave none>,
               "category": "<ledger category like food_lunch, or omit>",
               "merchant": "<name or omit>",
               "page": "<page name, navigation only>"}]}
Keep the original order. Every part of the utterance belongs to exactly one segment.
Filler and small talk are noise. Never invent amounts.`

// Decomposer is the AI-assisted utterance splitter used ahead of the
// rule-based segmentation.
type Decomposer struct {
	client *Client
	log    *zap.Logger
}

func NewDecomposer(client *Client, log *zap.Logger) ports.IntentDecomposer {
	return &Decomposer{client: client, log: log}
}

type decomposerReply struct {
	Segments []struct {
		Text     string   `json:"text"`
		Kind     string   `json:"kind"`
		Type     string   `json:"type"`
		Amount   *float64 `json:"amount"`
		Category string   `json:"category"`
		Merchant string   `json:"merchant"`
		Page     string   `json:"page"`
	} `json:"segments"`
}

func (d *Decomposer) Decompose(ctx context.Context, text string) (*ports.DecompositionResult, error) {
	if !d.client.Available() {
		// Breaker open: signal "unavailable" so the rule path takes over
		// without counting another failure.
		return nil, nil
	}

	raw, err := d.client.completeJSON(ctx, decomposerPrompt, text)
	if err != nil {
		return nil, fmt.Errorf("llm decomposition: %w", err)
	}

	var reply decomposerReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		d.log.Warn("llm decomposition returned malformed json", zap.Error(err))
		return nil, fmt.Errorf("llm decomposition: malformed reply: %w", err)
	}

	result := &ports.DecompositionResult{}
	for _, seg := range reply.Segments {
		if seg.Text == "" {
			continue
		}
		out := ports.DecomposedSegment{
			Text:     seg.Text,
			Kind:     parseSegmentKind(seg.Kind),
			Amount:   seg.Amount,
			Category: seg.Category,
			Merchant: seg.Merchant,
			Page:     seg.Page,
		}
		if out.Kind == ports.SegmentTransaction {
			if seg.Type == string(domain.TransactionTypeIncome) {
				out.Type = domain.TransactionTypeIncome
			} else {
				out.Type = domain.TransactionTypeExpense
			}
		}
		result.Segments = append(result.Segments, out)
	}
	return result, nil
}

func parseSegmentKind(kind string) ports.SegmentKind {
	switch ports.SegmentKind(kind) {
	case ports.SegmentTransaction:
		return ports.SegmentTransaction
	case ports.SegmentNavigation:
		return ports.SegmentNavigation
	default:
		return ports.SegmentNoise
	}
}
