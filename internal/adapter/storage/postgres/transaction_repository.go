package postgres

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/observability/telemetry"
	"github.com/seu-repo/contavoz/internal/ports"
)

type TransactionRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewTransactionRepository(db *gorm.DB, log *zap.Logger) ports.TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log,
	}
}

func (r *TransactionRepository) Insert(ctx context.Context, tx *domain.Transaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *TransactionRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	return r.db.WithContext(ctx).Save(tx).Error
}

// SoftDelete stamps deleted_at; the record stays for audit and undo.
func (r *TransactionRepository) SoftDelete(ctx context.Context, id string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", &now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("transaction not found")
	}
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.db.WithContext(ctx).
		Where("deleted_at IS NULL").
		First(&tx, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

// FindRecent returns the newest live entries, the window the duplicate gate
// scores against.
func (r *TransactionRepository) FindRecent(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	defer observeQuery(time.Now())

	var txs []domain.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Order("occurred_at desc").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *TransactionRepository) Query(ctx context.Context, userID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	defer observeQuery(time.Now())

	q := r.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", userID)

	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Merchant != "" {
		q = q.Where("merchant ILIKE ?", "%"+filter.Merchant+"%")
	}
	if filter.MinAmount > 0 {
		q = q.Where("amount >= ?", filter.MinAmount)
	}
	if filter.MaxAmount > 0 {
		q = q.Where("amount <= ?", filter.MaxAmount)
	}
	if !filter.From.IsZero() {
		q = q.Where("occurred_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("occurred_at < ?", filter.To)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var txs []domain.Transaction
	err := q.Order("occurred_at desc").Limit(limit).Find(&txs).Error
	return txs, err
}

func observeQuery(start time.Time) {
	telemetry.DatabaseLatency.Observe(time.Since(start).Seconds())
}
