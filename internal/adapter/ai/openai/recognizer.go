package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/ports"
)

const recognizerPrompt = `You classify a single voice command for a personal finance app.
Respond with JSON only:
{"intent": "<one of: add_transaction, delete_transaction, modify_transaction, query_transaction, navigate, configure, confirm, cancel, help, unknown>",
 "confidence": <0.0-1.0>,
 "entities": {"amount": "<number or omit>", "category": "<ledger category or omit>", "merchant": "<name or omit>", "page": "<page name or omit>"}}
Use "unknown" with low confidence when the command is not about personal finances or app control.`

// Recognizer is the LLM layer of the recognition pipeline.
type Recognizer struct {
	client *Client
	log    *zap.Logger
}

func NewRecognizer(client *Client, log *zap.Logger) ports.FallbackRecognizer {
	return &Recognizer{client: client, log: log}
}

type recognizerReply struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
}

func (r *Recognizer) Recognize(ctx context.Context, text, pageHint string) (*domain.IntentAnalysisResult, error) {
	user := text
	if pageHint != "" {
		user = fmt.Sprintf("current page: %s\ncommand: %s", pageHint, text)
	}

	raw, err := r.client.completeJSON(ctx, recognizerPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("llm recognition: %w", err)
	}

	var reply recognizerReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		r.log.Warn("llm recognition returned malformed json", zap.Error(err))
		return nil, fmt.Errorf("llm recognition: malformed reply: %w", err)
	}

	intent := parseIntent(reply.Intent)
	confidence := reply.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	entities := reply.Entities
	if len(entities) == 0 {
		entities = nil
	}

	return &domain.IntentAnalysisResult{
		Type:       intent,
		Confidence: confidence,
		Entities:   entities,
		RawInput:   text,
		Layer:      domain.LayerLLM,
	}, nil
}

// parseIntent maps the model's label to the closed intent set; anything off
// the list degrades to unknown rather than being trusted.
func parseIntent(label string) domain.IntentType {
	switch domain.IntentType(strings.TrimSpace(strings.ToLower(label))) {
	case domain.IntentAddTransaction:
		return domain.IntentAddTransaction
	case domain.IntentDeleteTransaction:
		return domain.IntentDeleteTransaction
	case domain.IntentModifyTransaction:
		return domain.IntentModifyTransaction
	case domain.IntentQueryTransaction:
		return domain.IntentQueryTransaction
	case domain.IntentNavigate:
		return domain.IntentNavigate
	case domain.IntentConfigure:
		return domain.IntentConfigure
	case domain.IntentConfirm:
		return domain.IntentConfirm
	case domain.IntentCancel:
		return domain.IntentCancel
	case domain.IntentHelp:
		return domain.IntentHelp
	default:
		return domain.IntentUnknown
	}
}
