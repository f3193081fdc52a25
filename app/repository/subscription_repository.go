package repository

import (
	"github.com/ManuelReschke/SubLedger/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Create(sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if err := sub.Validate(); err != nil {
		return err
	}
	return r.db.Create(sub).Error
}

// Save writes every column of an existing subscription
func (r *subscriptionRepository) Save(sub *models.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	return r.db.Save(sub).Error
}

func (r *subscriptionRepository) GetByID(id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("subscription_id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByExternalID(externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("external_subscription_id = ?", externalID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByExternalIDForUpdate reads the row with SELECT ... FOR UPDATE so two
// events for the same subscription serialize inside their transactions.
func (r *subscriptionRepository) GetByExternalIDForUpdate(externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_subscription_id = ?", externalID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByExternalCustomerID returns the most recently created subscription of a
// provider customer.
func (r *subscriptionRepository) GetByExternalCustomerID(customerID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("external_customer_id = ?", customerID).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetLiveByCompanyID returns the company's subscription that is not canceled
// or none, if any.
func (r *subscriptionRepository) GetLiveByCompanyID(companyID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("company_id = ? AND status IN ?", companyID, []string{
		models.SubscriptionStatusTrialing,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusPaused,
	}).Order("created_at DESC").First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
