package repository

import (
	"github.com/ManuelReschke/SubLedger/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	return r.db.Create(payment).Error
}

func (r *paymentRepository) ListBySubscriptionID(subscriptionID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}
