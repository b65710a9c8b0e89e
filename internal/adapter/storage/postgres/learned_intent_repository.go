package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/ports"
)

type LearnedIntentRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewLearnedIntentRepository(db *gorm.DB, log *zap.Logger) ports.LearnedIntentRepository {
	return &LearnedIntentRepository{
		db:  db,
		log: log,
	}
}

// Save upserts on (user_id, utterance) so re-learning the same phrase
// refreshes the stored intent instead of duplicating rows.
func (r *LearnedIntentRepository) Save(ctx context.Context, li *domain.LearnedIntent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "utterance"}},
			DoUpdates: clause.AssignmentColumns([]string{"intent", "entities", "updated_at"}),
		}).
		Create(li).Error
}

func (r *LearnedIntentRepository) FindByUtterance(ctx context.Context, userID, normalized string) (*domain.LearnedIntent, error) {
	var li domain.LearnedIntent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND utterance = ?", userID, normalized).
		First(&li).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &li, nil
}

// Touch bumps the hit counter for ranking and eventual pruning.
func (r *LearnedIntentRepository) Touch(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&domain.LearnedIntent{}).
		Where("id = ?", id).
		UpdateColumn("hits", gorm.Expr("hits + 1")).Error
}
