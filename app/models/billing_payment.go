package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Payment records a single invoice payment attempt. Rows are append-only.
type Payment struct {
	ID                string     `gorm:"column:payment_id;primaryKey;type:varchar(36)" json:"payment_id"`
	SubscriptionID    string     `gorm:"type:varchar(36);not null;index" json:"subscription_id" validate:"required"`
	ExternalInvoiceID string     `gorm:"type:varchar(191);not null;default:'';index" json:"external_invoice_id"`
	ProviderEventID   string     `gorm:"type:varchar(191);not null;default:''" json:"provider_event_id"`
	Amount            int64      `gorm:"not null;default:0" json:"amount"`
	Currency          string     `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	Status            string     `gorm:"type:varchar(16);not null" json:"status" validate:"oneof=succeeded failed"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	return validate.Struct(p)
}

func (p *Payment) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableRecord
}

func (p *Payment) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableRecord
}
