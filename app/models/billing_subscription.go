package models

import "time"

const (
	BillingIntervalMonth   = "month"
	BillingIntervalYear    = "year"
	BillingIntervalUnknown = "unknown"
)

const (
	SubscriptionStatusNone     = "none"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusPaused   = "paused"
)

const DefaultCurrency = "usd"

// Subscription is the canonical local copy of a provider subscription for a
// company. It is created on the first completed checkout and retired by
// moving to canceled, never deleted.
type Subscription struct {
	ID                     string     `gorm:"column:subscription_id;primaryKey;type:varchar(36)" json:"subscription_id"`
	CompanyID              string     `gorm:"type:varchar(36);not null;index:idx_subscriptions_company_status,priority:1" json:"company_id" validate:"required"`
	UserID                 string     `gorm:"type:varchar(36);not null;index" json:"user_id" validate:"required"`
	ExternalSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_external_id" json:"external_subscription_id" validate:"required"`
	ExternalCustomerID     string     `gorm:"type:varchar(191);not null;default:'';index" json:"external_customer_id"`
	PlanID                 string     `gorm:"type:varchar(100);not null;default:''" json:"plan_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'none';index:idx_subscriptions_company_status,priority:2" json:"status" validate:"oneof=none trialing active past_due canceled paused"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	TrialStart             *time.Time `gorm:"type:timestamp;default:null" json:"trial_start,omitempty"`
	TrialEnd               *time.Time `gorm:"type:timestamp;default:null" json:"trial_end,omitempty"`
	BillingPeriod          string     `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_period"`
	Amount                 int64      `gorm:"not null;default:0" json:"amount"`
	Currency               string     `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	LastEventAt            *time.Time `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

func (s *Subscription) Validate() error {
	return validate.Struct(s)
}

// IsLive reports whether the subscription still occupies the company's
// subscription slot.
func (s *Subscription) IsLive() bool {
	switch s.Status {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusPaused:
		return true
	default:
		return false
	}
}

// IsStale reports whether an event created at eventAt predates the last event
// applied to this subscription.
func (s *Subscription) IsStale(eventAt time.Time) bool {
	if s.LastEventAt == nil || eventAt.IsZero() {
		return false
	}
	return eventAt.Before(*s.LastEventAt)
}
