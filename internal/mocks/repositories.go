package mocks

import (
	"context"

	"github.com/seu-repo/contavoz/internal/domain"
)

// MockTransactionRepository is a mock implementation of TransactionRepository
type MockTransactionRepository struct {
	InsertFunc     func(ctx context.Context, tx *domain.Transaction) error
	UpdateFunc     func(ctx context.Context, tx *domain.Transaction) error
	SoftDeleteFunc func(ctx context.Context, id string) error
	FindByIDFunc   func(ctx context.Context, id string) (*domain.Transaction, error)
	FindRecentFunc func(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	QueryFunc      func(ctx context.Context, userID string, filter domain.TransactionFilter) ([]domain.Transaction, error)
}

func (m *MockTransactionRepository) Insert(ctx context.Context, tx *domain.Transaction) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, tx)
	}
	return nil
}

func (m *MockTransactionRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, tx)
	}
	return nil
}

func (m *MockTransactionRepository) SoftDelete(ctx context.Context, id string) error {
	if m.SoftDeleteFunc != nil {
		return m.SoftDeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockTransactionRepository) FindByID(ctx context.Context, id string) (*domain.Transaction, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockTransactionRepository) FindRecent(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if m.FindRecentFunc != nil {
		return m.FindRecentFunc(ctx, userID, limit)
	}
	return []domain.Transaction{}, nil
}

func (m *MockTransactionRepository) Query(ctx context.Context, userID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, userID, filter)
	}
	return []domain.Transaction{}, nil
}

// MockLearnedIntentRepository is a mock implementation of LearnedIntentRepository
type MockLearnedIntentRepository struct {
	SaveFunc            func(ctx context.Context, learned *domain.LearnedIntent) error
	FindByUtteranceFunc func(ctx context.Context, userID, utterance string) (*domain.LearnedIntent, error)
	TouchFunc           func(ctx context.Context, id string) error
}

func (m *MockLearnedIntentRepository) Save(ctx context.Context, learned *domain.LearnedIntent) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, learned)
	}
	return nil
}

func (m *MockLearnedIntentRepository) FindByUtterance(ctx context.Context, userID, utterance string) (*domain.LearnedIntent, error) {
	if m.FindByUtteranceFunc != nil {
		return m.FindByUtteranceFunc(ctx, userID, utterance)
	}
	return nil, nil
}

func (m *MockLearnedIntentRepository) Touch(ctx context.Context, id string) error {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, id)
	}
	return nil
}

// MockBudgetRepository is a mock implementation of BudgetRepository
type MockBudgetRepository struct {
	UpsertFunc     func(ctx context.Context, budget *domain.Budget) error
	FindByUserFunc func(ctx context.Context, userID string) ([]domain.Budget, error)
}

func (m *MockBudgetRepository) Upsert(ctx context.Context, budget *domain.Budget) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, budget)
	}
	return nil
}

func (m *MockBudgetRepository) FindByUser(ctx context.Context, userID string) ([]domain.Budget, error) {
	if m.FindByUserFunc != nil {
		return m.FindByUserFunc(ctx, userID)
	}
	return []domain.Budget{}, nil
}
