package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	HistoryActionCreated               = "created"
	HistoryActionUpdated               = "updated"
	HistoryActionCanceled              = "canceled"
	HistoryActionPaused                = "paused"
	HistoryActionResumed               = "resumed"
	HistoryActionPaymentSucceeded      = "payment_succeeded"
	HistoryActionPaymentFailed         = "payment_failed"
	HistoryActionTrialEnding           = "trial_ending"
	HistoryActionPaymentActionRequired = "payment_action_required"
)

// ErrImmutableRecord is returned by hooks on append-only tables.
var ErrImmutableRecord = errors.New("record is append-only")

// SubscriptionHistory is the billing ledger. One row per provider event id;
// the unique index on ProviderEventID is the deduplication gate for webhook
// processing and the rows form the permanent audit trail.
type SubscriptionHistory struct {
	ID              string            `gorm:"column:history_id;primaryKey;type:varchar(36)" json:"history_id"`
	UserID          string            `gorm:"type:varchar(36);not null;default:'';index" json:"user_id"`
	CompanyID       string            `gorm:"type:varchar(36);not null;default:'';index" json:"company_id"`
	SubscriptionID  string            `gorm:"type:varchar(36);not null;default:'';index" json:"subscription_id"`
	Action          string            `gorm:"type:varchar(32);not null;index" json:"action" validate:"required,oneof=created updated canceled paused resumed payment_succeeded payment_failed trial_ending payment_action_required"`
	PreviousStatus  string            `gorm:"type:varchar(32);not null;default:''" json:"previous_status"`
	NewStatus       string            `gorm:"type:varchar(32);not null;default:''" json:"new_status"`
	PreviousPlan    string            `gorm:"type:varchar(100);not null;default:''" json:"previous_plan"`
	NewPlan         string            `gorm:"type:varchar(100);not null;default:''" json:"new_plan"`
	Amount          int64             `gorm:"not null;default:0" json:"amount"`
	Currency        string            `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	BillingPeriod   string            `gorm:"type:varchar(16);not null;default:''" json:"billing_period"`
	Metadata        datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	ProviderEventID string            `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscription_histories_event" json:"provider_event_id" validate:"required"`
	EventType       string            `gorm:"type:varchar(64);not null;default:''" json:"event_type"`
	EventCreatedAt  *time.Time        `gorm:"type:timestamp;default:null" json:"event_created_at,omitempty"`
	CreatedAt       time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}

func (SubscriptionHistory) TableName() string {
	return "subscription_histories"
}

func (h *SubscriptionHistory) Validate() error {
	return validate.Struct(h)
}

func (h *SubscriptionHistory) BeforeCreate(tx *gorm.DB) error {
	if h.Currency == "" {
		h.Currency = DefaultCurrency
	}
	return h.Validate()
}

func (h *SubscriptionHistory) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableRecord
}

func (h *SubscriptionHistory) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableRecord
}
