package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ManuelReschke/SubLedger/app/models"
	"github.com/ManuelReschke/SubLedger/app/repository"
	"github.com/ManuelReschke/SubLedger/internal/pkg/sideeffects"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// eventScope is the per-event state shared by a handler and its helpers.
type eventScope struct {
	ctx     context.Context
	ev      *Event
	tx      *repository.Repositories
	fetched *subscriptionObject
}

// outcome is what a handler committed. A skipped outcome is rolled back.
type outcome struct {
	skipped bool
	reason  string
	entry   *models.SubscriptionHistory
	task    *sideeffects.Task
}

func skip(format string, args ...interface{}) *outcome {
	return &outcome{skipped: true, reason: fmt.Sprintf(format, args...)}
}

type handlerFunc func(p *Processor, s *eventScope) (*outcome, error)

var handlers = [...]handlerFunc{
	EventCheckoutCompleted:     (*Processor).handleCheckoutCompleted,
	EventSubscriptionCreated:   (*Processor).handleSubscriptionCreated,
	EventSubscriptionUpdated:   (*Processor).handleSubscriptionUpdated,
	EventSubscriptionDeleted:   (*Processor).handleSubscriptionDeleted,
	EventTrialWillEnd:          (*Processor).handleTrialWillEnd,
	EventPaymentSucceeded:      (*Processor).handlePaymentSucceeded,
	EventPaymentFailed:         (*Processor).handlePaymentFailed,
	EventInvoiceUpcoming:       (*Processor).handleInvoiceUpcoming,
	EventPaymentActionRequired: (*Processor).handlePaymentActionRequired,
	EventCustomerUpdated:       (*Processor).handleCustomerUpdated,
	EventPaymentMethodAttached: (*Processor).handlePaymentMethodAttached,
	EventSubscriptionPaused:    (*Processor).handleSubscriptionPaused,
	EventSubscriptionResumed:   (*Processor).handleSubscriptionResumed,
}

var _ = [1]struct{}{}[len(handlers)-int(eventTypeCount)]

func (p *Processor) handleCheckoutCompleted(s *eventScope) (*outcome, error) {
	var sess checkoutSession
	if err := decodeObject(s.ev, &sess); err != nil {
		return nil, err
	}
	if sess.Mode != "" && sess.Mode != "subscription" {
		return skip("checkout session %s has mode %s", sess.ID, sess.Mode), nil
	}
	meta, err := parseCheckoutMetadata(sess)
	if err != nil {
		return nil, err
	}

	externalID := string(sess.Subscription)
	if s.fetched != nil && s.fetched.ID != "" {
		externalID = s.fetched.ID
	}
	if externalID == "" {
		return nil, businessError("checkout", fmt.Errorf("%w: session %s has no subscription", ErrMalformedPayload, sess.ID))
	}

	if err := validate.Var(externalID, "max=191"); err != nil {
		return nil, businessError("checkout", fmt.Errorf("%w: subscription id: %v", ErrMalformedPayload, err))
	}

	target := models.SubscriptionStatusActive
	if s.fetched != nil {
		if mapStripeStatus(s.fetched.Status) == models.SubscriptionStatusTrialing {
			target = models.SubscriptionStatusTrialing
		}
	} else if meta.TrialDays > 0 {
		target = models.SubscriptionStatusTrialing
	}
	tr := Decide(models.SubscriptionStatusNone, EventCheckoutCompleted, target)

	createdAt := s.eventTime(p)
	sub := &models.Subscription{
		ID:                     uuid.New().String(),
		CompanyID:              meta.CompanyID,
		UserID:                 meta.UserID,
		ExternalSubscriptionID: externalID,
		ExternalCustomerID:     string(sess.Customer),
		PlanID:                 meta.PlanID,
		Status:                 tr.To,
		BillingPeriod:          models.BillingIntervalUnknown,
		Amount:                 sess.AmountTotal,
		Currency:               p.currency(sess.Currency),
		LastEventAt:            &createdAt,
	}
	if d := s.fetched; d != nil {
		sub.CurrentPeriodStart = d.periodStart()
		sub.CurrentPeriodEnd = d.periodEnd()
		sub.TrialStart = unixTime(d.TrialStart)
		sub.TrialEnd = unixTime(d.TrialEnd)
		sub.BillingPeriod = d.interval()
		sub.CancelAtPeriodEnd = d.CancelAtPeriodEnd
		if a := d.amount(); a > 0 {
			sub.Amount = a
		}
		if c := d.currency(); c != "" {
			sub.Currency = c
		}
		if sub.ExternalCustomerID == "" {
			sub.ExternalCustomerID = string(d.Customer)
		}
	} else if tr.To == models.SubscriptionStatusTrialing {
		start := createdAt
		end := createdAt.AddDate(0, 0, meta.TrialDays)
		sub.TrialStart = &start
		sub.TrialEnd = &end
	}

	md := p.baseMetadata(s.ev, map[string]interface{}{
		"checkout_session_id": sess.ID,
		"trial":               tr.To == models.SubscriptionStatusTrialing,
	})
	before := &models.Subscription{Status: models.SubscriptionStatusNone}
	entry := p.historyEntry(s.ev, before, sub, md)
	// The ledger row is the first write and precedes every locking read, so
	// a concurrent delivery of the same event blocks on the unique key
	// instead of interleaving gap locks with this transaction.
	if err := s.ledger(entry); err != nil {
		return nil, err
	}

	existing, err := s.lockSubscription(externalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return skip("subscription %s already exists with status %s", externalID, existing.Status), nil
	}
	live, err := s.tx.Subscription.GetLiveByCompanyID(meta.CompanyID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if live != nil {
		return skip("company %s already has %s subscription %s", meta.CompanyID, live.Status, live.ExternalSubscriptionID), nil
	}

	if err := s.tx.Company.EnsureExists(&models.Company{ID: meta.CompanyID}); err != nil {
		return nil, fmt.Errorf("ensure company: %w", err)
	}
	if err := s.tx.Subscription.Create(sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	seed := &models.User{ID: meta.UserID, CompanyID: meta.CompanyID, Name: truncate(sess.name(), 150)}
	if email := sess.email(); validate.Var(email, "email,max=200") == nil {
		seed.Email = email
	}
	if err := p.syncUser(s, sub, nil, seed); err != nil {
		return nil, err
	}

	template := sideeffects.TemplateWelcome
	if tr.To == models.SubscriptionStatusTrialing {
		template = sideeffects.TemplateTrialStarted
	}
	return &outcome{entry: entry, task: p.newTask(s.ev, sub, template, md)}, nil
}

func (p *Processor) handleSubscriptionCreated(s *eventScope) (*outcome, error) {
	var obj subscriptionObject
	if err := decodeObject(s.ev, &obj); err != nil {
		return nil, err
	}
	refs, err := obj.refs()
	if err != nil {
		return nil, err
	}
	sub, err := s.lockSubscription(obj.ID)
	if err != nil {
		return nil, err
	}
	md := map[string]interface{}{"provider_status": obj.Status}
	if sub != nil {
		return p.apply(s, change{sub: sub, metadata: md})
	}

	// The checkout event usually arrives later; record what the provider
	// told us so the audit trail is complete.
	snapshot := &models.Subscription{
		UserID:                 refs.UserID,
		CompanyID:              refs.CompanyID,
		ExternalSubscriptionID: obj.ID,
		Status:                 models.SubscriptionStatusNone,
		PlanID:                 refs.PlanID,
		Amount:                 obj.amount(),
		Currency:               p.currency(obj.currency()),
		BillingPeriod:          obj.interval(),
	}
	md["external_subscription_id"] = obj.ID
	md["local_subscription"] = false
	md = p.baseMetadata(s.ev, md)
	entry := p.historyEntry(s.ev, snapshot, snapshot, md)
	if err := s.ledger(entry); err != nil {
		return nil, err
	}
	return &outcome{entry: entry, task: p.newTask(s.ev, snapshot, "", md)}, nil
}

func (p *Processor) handleSubscriptionUpdated(s *eventScope) (*outcome, error) {
	var obj subscriptionObject
	if err := decodeObject(s.ev, &obj); err != nil {
		return nil, err
	}
	refs, err := obj.refs()
	if err != nil {
		return nil, err
	}
	sub, err := s.lockSubscription(obj.ID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return skip("subscription %s not found", obj.ID), nil
	}

	target := mapStripeStatus(obj.Status)
	if target == "" {
		log.Warnf("[Billing] Provider status %q for %s has no local mapping, keeping %s", obj.Status, obj.ID, sub.Status)
	}
	md := map[string]interface{}{"provider_status": obj.Status}
	if len(s.ev.PreviousAttributes) > 0 {
		md["previous_attributes"] = s.ev.PreviousAttributes
	}

	return p.apply(s, change{
		sub:          sub,
		target:       target,
		metadata:     md,
		template:     sideeffects.TemplateSubscriptionUpdated,
		onlyOnChange: true,
		mutate: func(sub *models.Subscription) {
			if v := obj.periodStart(); v != nil {
				sub.CurrentPeriodStart = v
			}
			if v := obj.periodEnd(); v != nil {
				sub.CurrentPeriodEnd = v
			}
			if v := unixTime(obj.TrialStart); v != nil {
				sub.TrialStart = v
			}
			if v := unixTime(obj.TrialEnd); v != nil {
				sub.TrialEnd = v
			}
			if a := obj.amount(); a > 0 {
				sub.Amount = a
			}
			if c := obj.currency(); c != "" {
				sub.Currency = c
			}
			if i := obj.interval(); i != models.BillingIntervalUnknown {
				sub.BillingPeriod = i
			}
			if refs.PlanID != "" {
				sub.PlanID = refs.PlanID
			}
			if sub.ExternalCustomerID == "" {
				sub.ExternalCustomerID = string(obj.Customer)
			}
			sub.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
		},
	})
}

func (p *Processor) handleSubscriptionDeleted(s *eventScope) (*outcome, error) {
	sub, obj, err := p.subscriptionFromEvent(s)
	if err != nil || sub == nil {
		return skipMissing(obj.ID, err)
	}
	now := p.now()
	return p.apply(s, change{
		sub:          sub,
		endedAt:      &now,
		template:     sideeffects.TemplateSubscriptionCanceled,
		onlyOnChange: true,
		metadata:     map[string]interface{}{"provider_status": obj.Status},
	})
}

func (p *Processor) handleTrialWillEnd(s *eventScope) (*outcome, error) {
	sub, obj, err := p.subscriptionFromEvent(s)
	if err != nil || sub == nil {
		return skipMissing(obj.ID, err)
	}
	md := map[string]interface{}{}
	if v := unixTime(obj.TrialEnd); v != nil {
		md["trial_end"] = v.Format(time.RFC3339)
	}
	return p.apply(s, change{sub: sub, template: sideeffects.TemplateTrialEnding, metadata: md})
}

func (p *Processor) handlePaymentSucceeded(s *eventScope) (*outcome, error) {
	var inv invoiceObject
	if err := decodeObject(s.ev, &inv); err != nil {
		return nil, err
	}
	sub, err := s.subscriptionForInvoice(inv)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return skip("no local subscription for invoice %s", inv.ID), nil
	}

	paidAt := unixTime(inv.StatusTransitions.PaidAt)
	if paidAt == nil {
		t := s.eventTime(p)
		paidAt = &t
	}
	template := sideeffects.TemplatePaymentReceipt
	if sub.Status == models.SubscriptionStatusPastDue {
		template = sideeffects.TemplatePaymentRecovered
	}
	return p.apply(s, change{
		sub: sub,
		payment: &models.Payment{
			ExternalInvoiceID: inv.ID,
			Amount:            inv.AmountPaid,
			Currency:          p.currencyOr(inv.Currency, sub.Currency),
			Status:            models.PaymentStatusSucceeded,
			PaidAt:            paidAt,
		},
		template: template,
		metadata: map[string]interface{}{"invoice_id": inv.ID},
	})
}

func (p *Processor) handlePaymentFailed(s *eventScope) (*outcome, error) {
	var inv invoiceObject
	if err := decodeObject(s.ev, &inv); err != nil {
		return nil, err
	}
	sub, err := s.subscriptionForInvoice(inv)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return skip("no local subscription for invoice %s", inv.ID), nil
	}

	md := map[string]interface{}{
		"invoice_id":    inv.ID,
		"attempt_count": inv.AttemptCount,
	}
	if v := unixTime(inv.NextPaymentAttempt); v != nil {
		md["next_payment_attempt"] = v.Format(time.RFC3339)
	}
	return p.apply(s, change{
		sub: sub,
		payment: &models.Payment{
			ExternalInvoiceID: inv.ID,
			Amount:            inv.AmountDue,
			Currency:          p.currencyOr(inv.Currency, sub.Currency),
			Status:            models.PaymentStatusFailed,
		},
		template: sideeffects.TemplatePaymentFailed,
		metadata: md,
	})
}

func (p *Processor) handleInvoiceUpcoming(s *eventScope) (*outcome, error) {
	var inv invoiceObject
	if err := decodeObject(s.ev, &inv); err != nil {
		return nil, err
	}
	sub, err := s.subscriptionForInvoice(inv)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return skip("no local subscription for upcoming invoice of customer %s", inv.Customer), nil
	}
	md := map[string]interface{}{"amount_due": inv.AmountDue}
	if v := unixTime(inv.NextPaymentAttempt); v != nil {
		md["next_payment_attempt"] = v.Format(time.RFC3339)
	}
	amount := inv.AmountDue
	return p.apply(s, change{
		sub:      sub,
		amount:   &amount,
		currency: p.currencyOr(inv.Currency, sub.Currency),
		template: sideeffects.TemplateInvoiceUpcoming,
		metadata: md,
	})
}

func (p *Processor) handlePaymentActionRequired(s *eventScope) (*outcome, error) {
	var inv invoiceObject
	if err := decodeObject(s.ev, &inv); err != nil {
		return nil, err
	}
	sub, err := s.subscriptionForInvoice(inv)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return skip("no local subscription for invoice %s", inv.ID), nil
	}
	amount := inv.AmountDue
	return p.apply(s, change{
		sub:      sub,
		amount:   &amount,
		currency: p.currencyOr(inv.Currency, sub.Currency),
		template: sideeffects.TemplatePaymentActionRequired,
		metadata: map[string]interface{}{
			"invoice_id":         inv.ID,
			"hosted_invoice_url": inv.HostedInvoiceURL,
		},
	})
}

func (p *Processor) handleCustomerUpdated(s *eventScope) (*outcome, error) {
	var cust customerObject
	if err := decodeObject(s.ev, &cust); err != nil {
		return nil, err
	}
	sub, err := s.lockSubscriptionByCustomer(cust.ID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return skip("no local subscription for customer %s", cust.ID), nil
	}
	md := map[string]interface{}{"customer_id": cust.ID}
	if keys := attributeKeys(s.ev.PreviousAttributes); len(keys) > 0 {
		md["changed_attributes"] = keys
	}
	return p.apply(s, change{sub: sub, metadata: md})
}

func (p *Processor) handlePaymentMethodAttached(s *eventScope) (*outcome, error) {
	var pm paymentMethodObject
	if err := decodeObject(s.ev, &pm); err != nil {
		return nil, err
	}
	sub, err := s.lockSubscriptionByCustomer(string(pm.Customer))
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return skip("no local subscription for customer %s", pm.Customer), nil
	}
	md := map[string]interface{}{
		"payment_method_id":   pm.ID,
		"payment_method_type": pm.Type,
	}
	if pm.Card != nil {
		md["card_brand"] = pm.Card.Brand
		md["card_last4"] = pm.Card.Last4
	}
	return p.apply(s, change{sub: sub, metadata: md})
}

func (p *Processor) handleSubscriptionPaused(s *eventScope) (*outcome, error) {
	sub, obj, err := p.subscriptionFromEvent(s)
	if err != nil || sub == nil {
		return skipMissing(obj.ID, err)
	}
	return p.apply(s, change{
		sub:          sub,
		template:     sideeffects.TemplateSubscriptionPaused,
		onlyOnChange: true,
		metadata:     map[string]interface{}{"provider_status": obj.Status},
	})
}

func (p *Processor) handleSubscriptionResumed(s *eventScope) (*outcome, error) {
	sub, obj, err := p.subscriptionFromEvent(s)
	if err != nil || sub == nil {
		return skipMissing(obj.ID, err)
	}
	return p.apply(s, change{
		sub:      sub,
		template: sideeffects.TemplateSubscriptionResumed,
		metadata: map[string]interface{}{"provider_status": obj.Status},
	})
}

// subscriptionFromEvent decodes a subscription payload and locks the local row.
func (p *Processor) subscriptionFromEvent(s *eventScope) (*models.Subscription, subscriptionObject, error) {
	var obj subscriptionObject
	if err := decodeObject(s.ev, &obj); err != nil {
		return nil, obj, err
	}
	sub, err := s.lockSubscription(obj.ID)
	return sub, obj, err
}

func skipMissing(externalID string, err error) (*outcome, error) {
	if err != nil {
		return nil, err
	}
	return skip("subscription %s not found", externalID), nil
}

// change is one state machine step for an existing subscription.
type change struct {
	sub      *models.Subscription
	target   string
	mutate   func(sub *models.Subscription)
	payment  *models.Payment
	endedAt  *time.Time
	amount   *int64
	currency string
	metadata map[string]interface{}

	template     string
	onlyOnChange bool
}

// apply runs the transition table for c.sub, writes the ledger row first and
// then the subscription, payment and user mirror in the same transaction.
// Events older than the last applied event are ledgered and keep their
// payment row but do not touch the subscription.
func (p *Processor) apply(s *eventScope, c change) (*outcome, error) {
	ev := s.ev
	sub := c.sub
	tr := Decide(sub.Status, ev.Type, c.target)
	if !tr.Applies {
		return skip("%s does not apply to subscription %s in status %s", ev.Type, sub.ExternalSubscriptionID, sub.Status), nil
	}

	before := *sub
	stateful := tr.Changed() || c.mutate != nil
	stale := stateful && sub.IsStale(ev.CreatedAt)

	md := p.baseMetadata(ev, c.metadata)
	if stale {
		md["stale"] = true
		md["last_event_at"] = before.LastEventAt.UTC().Format(time.RFC3339)
		log.Warnf("[Billing] Event %s created %s predates last applied event on %s, recording only",
			ev.ID, ev.CreatedAt.Format(time.RFC3339), sub.ExternalSubscriptionID)
	}
	if stateful && !stale {
		sub.Status = tr.To
		if c.mutate != nil {
			c.mutate(sub)
		}
		if !ev.CreatedAt.IsZero() {
			at := ev.CreatedAt
			sub.LastEventAt = &at
		}
		if diff := diffSubscription(&before, sub); len(diff) > 0 {
			md["changes"] = diff
		}
	}

	entry := p.historyEntry(ev, &before, sub, md)
	switch {
	case c.payment != nil:
		entry.Amount = c.payment.Amount
		entry.Currency = c.payment.Currency
	case c.amount != nil:
		entry.Amount = *c.amount
		entry.Currency = c.currency
	}
	if err := s.ledger(entry); err != nil {
		return nil, err
	}

	if c.payment != nil {
		c.payment.SubscriptionID = sub.ID
		c.payment.ProviderEventID = ev.ID
		if err := s.tx.Payment.Create(c.payment); err != nil {
			return nil, fmt.Errorf("insert payment: %w", err)
		}
	}
	if stale {
		return &outcome{entry: entry}, nil
	}
	if stateful {
		if err := s.tx.Subscription.Save(sub); err != nil {
			return nil, fmt.Errorf("save subscription: %w", err)
		}
		if err := p.syncUser(s, sub, c.endedAt, nil); err != nil {
			return nil, err
		}
	}

	template := c.template
	if c.onlyOnChange && before.Status == sub.Status && before.PlanID == sub.PlanID {
		template = ""
	}
	return &outcome{entry: entry, task: p.newTask(ev, sub, template, md)}, nil
}

// syncUser rewrites the user's subscription mirror from sub. A user already
// mirroring a different subscription is left alone unless seed is given,
// which also supplies the row to create when the user is unknown locally.
func (p *Processor) syncUser(s *eventScope, sub *models.Subscription, endedAt *time.Time, seed *models.User) error {
	u, err := s.tx.User.GetByID(sub.UserID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		u = seed
		if u == nil {
			u = &models.User{ID: sub.UserID, CompanyID: sub.CompanyID}
		}
	case err != nil:
		return fmt.Errorf("load user: %w", err)
	case seed == nil && u.SubscriptionID != "" && u.SubscriptionID != sub.ID:
		log.Warnf("[Billing] User %s mirrors subscription %s, not updating from %s", u.ID, u.SubscriptionID, sub.ID)
		return nil
	}

	u.MirrorSubscription(sub)
	switch {
	case endedAt != nil:
		u.SubscriptionEndDate = endedAt
	case sub.Status == models.SubscriptionStatusCanceled:
		if u.SubscriptionEndDate == nil {
			now := p.now()
			u.SubscriptionEndDate = &now
		}
	case sub.CancelAtPeriodEnd:
		u.SubscriptionEndDate = sub.CurrentPeriodEnd
	default:
		u.SubscriptionEndDate = nil
	}
	if err := s.tx.User.UpsertMirror(u); err != nil {
		return fmt.Errorf("mirror user: %w", err)
	}
	return nil
}

// ledger inserts the history row; losing the unique key race aborts the
// transaction as a duplicate.
func (s *eventScope) ledger(entry *models.SubscriptionHistory) error {
	inserted, err := s.tx.History.Insert(entry)
	if err != nil {
		return fmt.Errorf("insert ledger: %w", err)
	}
	if !inserted {
		return errDuplicateEvent
	}
	return nil
}

func (s *eventScope) lockSubscription(externalID string) (*models.Subscription, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, nil
	}
	sub, err := s.tx.Subscription.GetByExternalIDForUpdate(externalID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return sub, nil
}

func (s *eventScope) lockSubscriptionByCustomer(customerID string) (*models.Subscription, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, nil
	}
	sub, err := s.tx.Subscription.GetByExternalCustomerID(customerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription by customer: %w", err)
	}
	return s.lockSubscription(sub.ExternalSubscriptionID)
}

func (s *eventScope) subscriptionForInvoice(inv invoiceObject) (*models.Subscription, error) {
	if id := inv.subscriptionID(); id != "" {
		return s.lockSubscription(id)
	}
	return s.lockSubscriptionByCustomer(string(inv.Customer))
}

// eventTime is the provider creation time, or now for events without one.
func (s *eventScope) eventTime(p *Processor) time.Time {
	if s.ev.CreatedAt.IsZero() {
		return p.now()
	}
	return s.ev.CreatedAt
}

func (p *Processor) historyEntry(ev *Event, before, after *models.Subscription, md map[string]interface{}) *models.SubscriptionHistory {
	entry := &models.SubscriptionHistory{
		ID:              uuid.New().String(),
		UserID:          after.UserID,
		CompanyID:       after.CompanyID,
		SubscriptionID:  after.ID,
		Action:          ActionFor(ev.Type),
		PreviousStatus:  before.Status,
		NewStatus:       after.Status,
		PreviousPlan:    before.PlanID,
		NewPlan:         after.PlanID,
		Amount:          after.Amount,
		Currency:        p.currency(after.Currency),
		BillingPeriod:   after.BillingPeriod,
		Metadata:        datatypes.JSONMap(md),
		ProviderEventID: ev.ID,
		EventType:       ev.Type.String(),
	}
	if !ev.CreatedAt.IsZero() {
		at := ev.CreatedAt
		entry.EventCreatedAt = &at
	}
	return entry
}

func (p *Processor) baseMetadata(ev *Event, extra map[string]interface{}) map[string]interface{} {
	md := make(map[string]interface{}, len(extra)+2)
	for k, v := range extra {
		md[k] = v
	}
	md["provider_event_type"] = ev.ProviderType
	md["livemode"] = ev.Livemode
	return md
}

func (p *Processor) newTask(ev *Event, sub *models.Subscription, template string, md map[string]interface{}) *sideeffects.Task {
	occurred := ev.CreatedAt
	if occurred.IsZero() {
		occurred = p.now()
	}
	return &sideeffects.Task{
		ID:             uuid.New().String(),
		EventID:        ev.ID,
		EventType:      ev.Type.String(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		CompanyID:      sub.CompanyID,
		Template:       template,
		AnalyticsEvent: ev.Type.String(),
		Metadata:       md,
		OccurredAt:     occurred,
	}
}

func (p *Processor) currency(c string) string {
	return p.currencyOr(c, p.cfg.DefaultCurrency)
}

func (p *Processor) currencyOr(c, fallback string) string {
	if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
		return c
	}
	if fallback != "" {
		return fallback
	}
	return models.DefaultCurrency
}

// diffSubscription lists the fields that differ as {field: {from, to}}.
func diffSubscription(before, after *models.Subscription) map[string]interface{} {
	diff := map[string]interface{}{}
	add := func(field string, from, to interface{}) {
		diff[field] = map[string]interface{}{"from": from, "to": to}
	}
	if before.Status != after.Status {
		add("status", before.Status, after.Status)
	}
	if before.PlanID != after.PlanID {
		add("plan_id", before.PlanID, after.PlanID)
	}
	if before.Amount != after.Amount {
		add("amount", before.Amount, after.Amount)
	}
	if before.Currency != after.Currency {
		add("currency", before.Currency, after.Currency)
	}
	if before.BillingPeriod != after.BillingPeriod {
		add("billing_period", before.BillingPeriod, after.BillingPeriod)
	}
	if before.CancelAtPeriodEnd != after.CancelAtPeriodEnd {
		add("cancel_at_period_end", before.CancelAtPeriodEnd, after.CancelAtPeriodEnd)
	}
	for _, f := range []struct {
		name     string
		from, to *time.Time
	}{
		{"current_period_start", before.CurrentPeriodStart, after.CurrentPeriodStart},
		{"current_period_end", before.CurrentPeriodEnd, after.CurrentPeriodEnd},
		{"trial_start", before.TrialStart, after.TrialStart},
		{"trial_end", before.TrialEnd, after.TrialEnd},
	} {
		if !sameTime(f.from, f.to) {
			add(f.name, formatTime(f.from), formatTime(f.to))
		}
	}
	return diff
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func attributeKeys(attrs map[string]interface{}) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	return keys
}

// truncate caps s at n bytes without splitting a UTF-8 sequence. Invalid
// input bytes are dropped.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
