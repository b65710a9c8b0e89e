package ports

import (
	"context"
	"time"

	"github.com/seu-repo/contavoz/internal/domain"
)

type TransactionRepository interface {
	Insert(ctx context.Context, tx *domain.Transaction) error
	Update(ctx context.Context, tx *domain.Transaction) error
	SoftDelete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindRecent(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	Query(ctx context.Context, userID string, filter domain.TransactionFilter) ([]domain.Transaction, error)
}

// LearnedIntentRepository persists confirmed utterance-to-intent pairs
// backing the learned-cache recognition layer.
type LearnedIntentRepository interface {
	Save(ctx context.Context, li *domain.LearnedIntent) error
	FindByUtterance(ctx context.Context, userID, normalized string) (*domain.LearnedIntent, error)
	Touch(ctx context.Context, id string) error
}

type BudgetRepository interface {
	Upsert(ctx context.Context, b *domain.Budget) error
	FindByUser(ctx context.Context, userID string) ([]domain.Budget, error)
}

// Cache is the key/value cache abstraction (Redis in production, local
// in-memory as fallback).
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}
