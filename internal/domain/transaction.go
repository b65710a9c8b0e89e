package domain

import (
	"math"
	"time"
)

type TransactionType string

const (
	TransactionTypeExpense  TransactionType = "expense"
	TransactionTypeIncome   TransactionType = "income"
	TransactionTypeTransfer TransactionType = "transfer"
)

type Transaction struct {
	ID         string          `json:"id" gorm:"primaryKey"`
	UserID     string          `json:"user_id" gorm:"index"`
	Type       TransactionType `json:"type"`
	Amount     float64         `json:"amount"`
	Category   string          `json:"category" gorm:"index"`
	Merchant   string          `json:"merchant,omitempty"`
	Note       string          `json:"note,omitempty"`
	OccurredAt time.Time       `json:"occurred_at" gorm:"index"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty" gorm:"index"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TransactionRef is a lightweight pointer into the store, used for
// clarification prompts and pronoun resolution. Never authoritative.
type TransactionRef struct {
	ID         string    `json:"id"`
	Amount     float64   `json:"amount"`
	Category   string    `json:"category"`
	Merchant   string    `json:"merchant,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (t *Transaction) Ref() TransactionRef {
	return TransactionRef{
		ID:         t.ID,
		Amount:     t.Amount,
		Category:   t.Category,
		Merchant:   t.Merchant,
		OccurredAt: t.OccurredAt,
	}
}

type TransactionFilter struct {
	Type      TransactionType
	Category  string
	Merchant  string
	MinAmount float64
	MaxAmount float64
	From      time.Time
	To        time.Time
	Limit     int
}

// Budget is a per-category monthly spending limit set through the
// configuration intent.
type Budget struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	UserID       string    `json:"user_id" gorm:"uniqueIndex:idx_budget_user_category"`
	Category     string    `json:"category" gorm:"uniqueIndex:idx_budget_user_category"`
	MonthlyLimit float64   `json:"monthly_limit"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Similarity scores how much two transactions look like the same purchase.
// Amount closeness weighs 0.5, category match 0.3, date proximity 0.2.
// Returns a value in [0,1].
func Similarity(a, b *Transaction) float64 {
	if a == nil || b == nil {
		return 0
	}

	var score float64

	maxAmount := math.Max(math.Abs(a.Amount), math.Abs(b.Amount))
	if maxAmount > 0 {
		diff := math.Abs(a.Amount-b.Amount) / maxAmount
		if diff < 1 {
			score += 0.5 * (1 - diff)
		}
	}

	if a.Category != "" && a.Category == b.Category {
		score += 0.3
	}

	gap := a.OccurredAt.Sub(b.OccurredAt)
	if gap < 0 {
		gap = -gap
	}
	if gap <= 72*time.Hour {
		score += 0.2 * (1 - float64(gap)/float64(72*time.Hour))
	}

	return score
}
