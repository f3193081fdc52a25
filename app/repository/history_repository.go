package repository

import (
	"errors"
	"time"

	"github.com/ManuelReschke/SubLedger/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type historyRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new ledger repository instance
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) Insert(entry *models.SubscriptionHistory) (bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *historyRepository) Exists(providerEventID string) (bool, error) {
	count, err := r.CountByProviderEventID(providerEventID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *historyRepository) CountByProviderEventID(providerEventID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.SubscriptionHistory{}).
		Where("provider_event_id = ?", providerEventID).
		Count(&count).Error
	return count, err
}

func (r *historyRepository) ListBySubscriptionID(subscriptionID string) ([]models.SubscriptionHistory, error) {
	var entries []models.SubscriptionHistory
	err := r.db.Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

// ListCreatedBetween pages through ledger rows with from <= created_at < to.
func (r *historyRepository) ListCreatedBetween(from, to time.Time, offset, limit int) ([]models.SubscriptionHistory, error) {
	var entries []models.SubscriptionHistory
	err := r.db.Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC, history_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
