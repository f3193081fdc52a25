package sideeffects

import (
	"context"
	"time"
)

// Notification templates understood by the notification service.
const (
	TemplateWelcome               = "subscription_welcome"
	TemplateTrialStarted          = "trial_started"
	TemplateSubscriptionUpdated   = "subscription_updated"
	TemplateSubscriptionCanceled  = "subscription_canceled"
	TemplatePaymentReceipt        = "payment_receipt"
	TemplatePaymentRecovered      = "payment_recovered"
	TemplatePaymentFailed         = "payment_failed"
	TemplateTrialEnding           = "trial_ending"
	TemplateInvoiceUpcoming       = "invoice_upcoming"
	TemplatePaymentActionRequired = "payment_action_required"
	TemplateSubscriptionPaused    = "subscription_paused"
	TemplateSubscriptionResumed   = "subscription_resumed"
)

// Task is one committed state transition whose notification and analytics
// calls still have to run.
type Task struct {
	ID             string                 `json:"id"`
	EventID        string                 `json:"event_id"`
	EventType      string                 `json:"event_type"`
	SubscriptionID string                 `json:"subscription_id"`
	UserID         string                 `json:"user_id"`
	CompanyID      string                 `json:"company_id"`
	Template       string                 `json:"template,omitempty"`
	AnalyticsEvent string                 `json:"analytics_event"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
	EnqueuedAt     time.Time              `json:"enqueued_at"`
}

// Notifier delivers a templated message. It reports whether delivery was
// accepted; it never affects the billing state.
type Notifier interface {
	Send(ctx context.Context, template string, data map[string]interface{}) bool
}

// AnalyticsSink records product analytics events, fire-and-forget.
type AnalyticsSink interface {
	TrackEvent(ctx context.Context, eventType, userID, companyID string, metadata map[string]interface{}, at time.Time)
}
