package domain

import "time"

type IntentType string

const (
	IntentAddTransaction    IntentType = "add_transaction"
	IntentDeleteTransaction IntentType = "delete_transaction"
	IntentModifyTransaction IntentType = "modify_transaction"
	IntentQueryTransaction  IntentType = "query_transaction"
	IntentNavigate          IntentType = "navigate"
	IntentConfigure         IntentType = "configure"
	IntentConfirm           IntentType = "confirm"
	IntentCancel            IntentType = "cancel"
	IntentHelp              IntentType = "help"
	IntentUnknown           IntentType = "unknown"
)

// RecognitionLayer identifies which pipeline layer produced a result.
type RecognitionLayer string

const (
	LayerRule     RecognitionLayer = "rule"
	LayerSynonym  RecognitionLayer = "synonym"
	LayerTemplate RecognitionLayer = "template"
	LayerLearned  RecognitionLayer = "learned"
	LayerLLM      RecognitionLayer = "llm"
	LayerNone     RecognitionLayer = "none"
)

// Entity slot names produced by the recognition pipeline.
const (
	EntityAmount   = "amount"
	EntityCategory = "category"
	EntityMerchant = "merchant"
	EntityDate     = "date"
	EntityPage     = "page"
	EntityOrdinal  = "ordinal"
)

// IntentAnalysisResult is the immutable outcome of one recognition pass.
type IntentAnalysisResult struct {
	Type       IntentType        `json:"type"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
	RawInput   string            `json:"raw_input"`
	Layer      RecognitionLayer  `json:"layer"`
}

func (r *IntentAnalysisResult) Entity(name string) string {
	if r == nil || r.Entities == nil {
		return ""
	}
	return r.Entities[name]
}

// CompleteIntent is a transaction request that can be executed as-is.
type CompleteIntent struct {
	Type         TransactionType `json:"type"`
	Amount       float64         `json:"amount"`
	Category     string          `json:"category,omitempty"`
	Merchant     string          `json:"merchant,omitempty"`
	OccurredAt   *time.Time      `json:"occurred_at,omitempty"`
	OriginalText string          `json:"original_text"`
}

// IncompleteIntent is a transaction request still missing its amount.
type IncompleteIntent struct {
	Type         TransactionType `json:"type"`
	Category     string          `json:"category,omitempty"`
	Merchant     string          `json:"merchant,omitempty"`
	OccurredAt   *time.Time      `json:"occurred_at,omitempty"`
	OriginalText string          `json:"original_text"`
}

// WithAmount converts an incomplete intent once the amount is supplied.
func (i IncompleteIntent) WithAmount(amount float64) CompleteIntent {
	return CompleteIntent{
		Type:         i.Type,
		Amount:       amount,
		Category:     i.Category,
		Merchant:     i.Merchant,
		OccurredAt:   i.OccurredAt,
		OriginalText: i.OriginalText,
	}
}

type NavigationIntent struct {
	TargetPage   string `json:"target_page"`
	Route        string `json:"route,omitempty"`
	OriginalText string `json:"original_text"`
}

// MultiIntentResult is the outcome of decomposing one utterance into
// several candidate intents. Complete and incomplete segments, in original
// order, plus noise and at most one navigation segment, account for every
// recognized segment.
type MultiIntentResult struct {
	Complete   []CompleteIntent   `json:"complete"`
	Incomplete []IncompleteIntent `json:"incomplete"`
	Navigation *NavigationIntent  `json:"navigation,omitempty"`
	Noise      []string           `json:"noise,omitempty"`
	RawInput   string             `json:"raw_input"`
	Segments   []string           `json:"segments"`
}

// IntentCount is the number of genuine financial intents in the batch.
func (m *MultiIntentResult) IntentCount() int {
	return len(m.Complete) + len(m.Incomplete)
}

// Accounted reports how many segments the classification buckets cover.
func (m *MultiIntentResult) Accounted() int {
	n := len(m.Complete) + len(m.Incomplete) + len(m.Noise)
	if m.Navigation != nil {
		n++
	}
	return n
}

func (m *MultiIntentResult) Empty() bool {
	return m.IntentCount() == 0 && m.Navigation == nil
}
