package postgres

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/ports"
)

type BudgetRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewBudgetRepository(db *gorm.DB, log *zap.Logger) ports.BudgetRepository {
	return &BudgetRepository{
		db:  db,
		log: log,
	}
}

// Upsert keeps one budget row per (user_id, category).
func (r *BudgetRepository) Upsert(ctx context.Context, b *domain.Budget) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "category"}},
			DoUpdates: clause.AssignmentColumns([]string{"monthly_limit", "updated_at"}),
		}).
		Create(b).Error
}

func (r *BudgetRepository) FindByUser(ctx context.Context, userID string) ([]domain.Budget, error) {
	var budgets []domain.Budget
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("category asc").
		Find(&budgets).Error
	return budgets, err
}
