package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/SubLedger/app/models"
)

// Minimal views over the Stripe objects carried in event.data.object. Only
// the fields the state machine reads are decoded.

// stripeRef is an expandable reference: either "cus_123" or {"id":"cus_123",...}.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = stripeRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = stripeRef(obj.ID)
	return nil
}

type checkoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          stripeRef         `json:"customer"`
	Subscription      stripeRef         `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   *struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
}

func (s checkoutSession) email() string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

func (s checkoutSession) name() string {
	if s.CustomerDetails != nil {
		return s.CustomerDetails.Name
	}
	return ""
}

type stripePrice struct {
	ID         string            `json:"id"`
	LookupKey  string            `json:"lookup_key"`
	Currency   string            `json:"currency"`
	UnitAmount int64             `json:"unit_amount"`
	Metadata   map[string]string `json:"metadata"`
	Recurring  *struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

type subscriptionItem struct {
	Quantity           int64       `json:"quantity"`
	CurrentPeriodStart int64       `json:"current_period_start"`
	CurrentPeriodEnd   int64       `json:"current_period_end"`
	Price              stripePrice `json:"price"`
}

type subscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           stripeRef         `json:"customer"`
	Status             string            `json:"status"`
	Currency           string            `json:"currency"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialStart         int64             `json:"trial_start"`
	TrialEnd           int64             `json:"trial_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []subscriptionItem `json:"data"`
	} `json:"items"`
}

func (s subscriptionObject) firstItem() *subscriptionItem {
	if len(s.Items.Data) == 0 {
		return nil
	}
	return &s.Items.Data[0]
}

// periodStart falls back to the first item; newer API versions only set the
// billing period on subscription items.
func (s subscriptionObject) periodStart() *time.Time {
	if s.CurrentPeriodStart > 0 {
		return unixTime(s.CurrentPeriodStart)
	}
	if it := s.firstItem(); it != nil {
		return unixTime(it.CurrentPeriodStart)
	}
	return nil
}

func (s subscriptionObject) periodEnd() *time.Time {
	if s.CurrentPeriodEnd > 0 {
		return unixTime(s.CurrentPeriodEnd)
	}
	if it := s.firstItem(); it != nil {
		return unixTime(it.CurrentPeriodEnd)
	}
	return nil
}

func (s subscriptionObject) amount() int64 {
	var total int64
	for _, it := range s.Items.Data {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		total += it.Price.UnitAmount * qty
	}
	return total
}

func (s subscriptionObject) currency() string {
	if s.Currency != "" {
		return strings.ToLower(s.Currency)
	}
	if it := s.firstItem(); it != nil && it.Price.Currency != "" {
		return strings.ToLower(it.Price.Currency)
	}
	return ""
}

func (s subscriptionObject) interval() string {
	if it := s.firstItem(); it != nil && it.Price.Recurring != nil {
		return normalizeInterval(it.Price.Recurring.Interval)
	}
	return models.BillingIntervalUnknown
}

// planID prefers explicit metadata, then the price lookup key. A bare price id
// is not a plan and yields "".
func (s subscriptionObject) planID() string {
	if v := metadataValue(s.Metadata, "planId", "plan_id"); v != "" {
		return v
	}
	it := s.firstItem()
	if it == nil {
		return ""
	}
	if v := metadataValue(it.Price.Metadata, "planId", "plan_id"); v != "" {
		return v
	}
	return it.Price.LookupKey
}

type invoiceObject struct {
	ID                 string    `json:"id"`
	Customer           stripeRef `json:"customer"`
	Subscription       stripeRef `json:"subscription"`
	AmountDue          int64     `json:"amount_due"`
	AmountPaid         int64     `json:"amount_paid"`
	Currency           string    `json:"currency"`
	Status             string    `json:"status"`
	AttemptCount       int       `json:"attempt_count"`
	NextPaymentAttempt int64     `json:"next_payment_attempt"`
	HostedInvoiceURL   string    `json:"hosted_invoice_url"`
	StatusTransitions  struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription stripeRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID reads the legacy top-level field first, then the
// parent.subscription_details location used by newer API versions.
func (i invoiceObject) subscriptionID() string {
	if i.Subscription != "" {
		return string(i.Subscription)
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return string(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

type customerObject struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type paymentMethodObject struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Customer stripeRef `json:"customer"`
	Card     *struct {
		Brand string `json:"brand"`
		Last4 string `json:"last4"`
	} `json:"card"`
}

// decodeObject unmarshals event.data.object; failures are permanent.
func decodeObject(ev *Event, into interface{}) error {
	if len(ev.Object) == 0 {
		return businessError("decode "+ev.Type.String(), fmt.Errorf("%w: empty data.object", ErrMalformedPayload))
	}
	if err := json.Unmarshal(ev.Object, into); err != nil {
		return businessError("decode "+ev.Type.String(), fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	return nil
}

func metadataValue(md map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(md[k]); v != "" {
			return v
		}
	}
	return ""
}

// checkoutMetadata is what the checkout page attaches to the session.
type checkoutMetadata struct {
	UserID    string `validate:"required,max=36"`
	CompanyID string `validate:"required,max=36"`
	PlanID    string `validate:"required,max=100"`
	TrialDays int    `validate:"min=0,max=730"`
}

func parseCheckoutMetadata(s checkoutSession) (checkoutMetadata, error) {
	md := checkoutMetadata{
		UserID:    metadataValue(s.Metadata, "userId", "user_id"),
		CompanyID: metadataValue(s.Metadata, "companyId", "company_id"),
		PlanID:    metadataValue(s.Metadata, "planId", "plan_id"),
	}
	if md.UserID == "" {
		md.UserID = strings.TrimSpace(s.ClientReferenceID)
	}
	if raw := metadataValue(s.Metadata, "trialDays", "trial_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return md, businessError("checkout metadata", fmt.Errorf("%w: trialDays %q", ErrMalformedMetadata, raw))
		}
		md.TrialDays = days
	}
	if err := validate.Struct(md); err != nil {
		return md, businessError("checkout metadata", fmt.Errorf("%w: %v", ErrMalformedMetadata, err))
	}
	return md, nil
}

// subscriptionRefs are the provider strings a subscription object carries
// into bounded columns.
type subscriptionRefs struct {
	ID        string `validate:"max=191"`
	UserID    string `validate:"max=36"`
	CompanyID string `validate:"max=36"`
	PlanID    string `validate:"max=100"`
}

func (s subscriptionObject) refs() (subscriptionRefs, error) {
	r := subscriptionRefs{
		ID:        s.ID,
		UserID:    metadataValue(s.Metadata, "userId", "user_id"),
		CompanyID: metadataValue(s.Metadata, "companyId", "company_id"),
		PlanID:    s.planID(),
	}
	if err := validate.Struct(r); err != nil {
		return r, businessError("subscription payload", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	return r, nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case models.BillingIntervalMonth, models.BillingIntervalYear:
		return i
	default:
		return models.BillingIntervalUnknown
	}
}

// mapStripeStatus translates a provider subscription status. Unknown values
// (incomplete, new provider states) return "" which keeps the local status.
func mapStripeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return models.SubscriptionStatusCanceled
	case "paused":
		return models.SubscriptionStatusPaused
	default:
		return ""
	}
}
