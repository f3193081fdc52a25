package billing

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType is the closed set of provider notifications the engine handles.
type EventType int

const (
	EventCheckoutCompleted EventType = iota
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventTrialWillEnd
	EventPaymentSucceeded
	EventPaymentFailed
	EventInvoiceUpcoming
	EventPaymentActionRequired
	EventCustomerUpdated
	EventPaymentMethodAttached
	EventSubscriptionPaused
	EventSubscriptionResumed

	eventTypeCount
)

var eventTypeNames = [...]string{
	EventCheckoutCompleted:     "checkout_completed",
	EventSubscriptionCreated:   "subscription_created",
	EventSubscriptionUpdated:   "subscription_updated",
	EventSubscriptionDeleted:   "subscription_deleted",
	EventTrialWillEnd:          "trial_will_end",
	EventPaymentSucceeded:      "payment_succeeded",
	EventPaymentFailed:         "payment_failed",
	EventInvoiceUpcoming:       "invoice_upcoming",
	EventPaymentActionRequired: "payment_action_required",
	EventCustomerUpdated:       "customer_updated",
	EventPaymentMethodAttached: "payment_method_attached",
	EventSubscriptionPaused:    "subscription_paused",
	EventSubscriptionResumed:   "subscription_resumed",
}

// Fails to compile when an EventType is added without a name.
var _ = [1]struct{}{}[len(eventTypeNames)-int(eventTypeCount)]

// stripeEventTypes maps provider type strings onto EventType. invoice.paid is
// not mapped; Stripe emits it next to invoice.payment_succeeded for the same
// invoice.
var stripeEventTypes = map[string]EventType{
	"checkout.session.completed":           EventCheckoutCompleted,
	"customer.subscription.created":        EventSubscriptionCreated,
	"customer.subscription.updated":        EventSubscriptionUpdated,
	"customer.subscription.deleted":        EventSubscriptionDeleted,
	"customer.subscription.trial_will_end": EventTrialWillEnd,
	"invoice.payment_succeeded":            EventPaymentSucceeded,
	"invoice.payment_failed":               EventPaymentFailed,
	"invoice.upcoming":                     EventInvoiceUpcoming,
	"invoice.payment_action_required":      EventPaymentActionRequired,
	"customer.updated":                     EventCustomerUpdated,
	"payment_method.attached":              EventPaymentMethodAttached,
	"customer.subscription.paused":         EventSubscriptionPaused,
	"customer.subscription.resumed":        EventSubscriptionResumed,
}

func (t EventType) String() string {
	if !t.Valid() {
		return "unknown"
	}
	return eventTypeNames[t]
}

func (t EventType) Valid() bool {
	return t >= 0 && t < eventTypeCount
}

// ParseStripeEventType resolves a provider type string. ok is false for types
// the engine does not handle.
func ParseStripeEventType(providerType string) (EventType, bool) {
	t, ok := stripeEventTypes[strings.TrimSpace(providerType)]
	return t, ok
}

// AllEventTypes returns every handled event type in declaration order.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, eventTypeCount)
	for t := EventType(0); t < eventTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

// Event is a verified provider notification.
type Event struct {
	ID                 string
	Type               EventType
	Known              bool
	ProviderType       string
	CreatedAt          time.Time
	Livemode           bool
	Object             json.RawMessage
	PreviousAttributes map[string]interface{}
}
