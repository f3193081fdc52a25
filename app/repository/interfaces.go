package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/SubLedger/app/models"
	"gorm.io/gorm"
)

// SubscriptionRepository defines the interface for subscription database operations
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	Save(sub *models.Subscription) error
	GetByID(id string) (*models.Subscription, error)
	GetByExternalID(externalID string) (*models.Subscription, error)
	GetByExternalIDForUpdate(externalID string) (*models.Subscription, error)
	GetByExternalCustomerID(customerID string) (*models.Subscription, error)
	GetLiveByCompanyID(companyID string) (*models.Subscription, error)
}

// PaymentRepository defines the interface for the append-only payment table
type PaymentRepository interface {
	Create(payment *models.Payment) error
	ListBySubscriptionID(subscriptionID string) ([]models.Payment, error)
}

// HistoryRepository defines the interface for the subscription ledger
type HistoryRepository interface {
	// Insert writes the ledger row unless one already exists for the same
	// provider event id. The returned bool is false for a duplicate.
	Insert(entry *models.SubscriptionHistory) (bool, error)
	Exists(providerEventID string) (bool, error)
	CountByProviderEventID(providerEventID string) (int64, error)
	ListBySubscriptionID(subscriptionID string) ([]models.SubscriptionHistory, error)
	ListCreatedBetween(from, to time.Time, offset, limit int) ([]models.SubscriptionHistory, error)
}

// UserRepository defines the interface for user mirror operations
type UserRepository interface {
	GetByID(id string) (*models.User, error)
	UpsertMirror(user *models.User) error
}

// CompanyRepository defines the interface for company operations
type CompanyRepository interface {
	GetByID(id string) (*models.Company, error)
	EnsureExists(company *models.Company) error
}

// Repositories struct holds all repository instances bound to one *gorm.DB.
// Inside a transaction the instance is bound to the transaction handle.
type Repositories struct {
	db           *gorm.DB
	Subscription SubscriptionRepository
	Payment      PaymentRepository
	History      HistoryRepository
	User         UserRepository
	Company      CompanyRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:           db,
		Subscription: NewSubscriptionRepository(db),
		Payment:      NewPaymentRepository(db),
		History:      NewHistoryRepository(db),
		User:         NewUserRepository(db),
		Company:      NewCompanyRepository(db),
	}
}

// DB returns the underlying handle.
func (r *Repositories) DB() *gorm.DB {
	return r.db
}

// WithContext returns repositories whose queries observe ctx.
func (r *Repositories) WithContext(ctx context.Context) *Repositories {
	return NewRepositories(r.db.WithContext(ctx))
}

// Transaction runs fn inside a database transaction. Returning an error from
// fn rolls back every write made through the passed repositories.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
