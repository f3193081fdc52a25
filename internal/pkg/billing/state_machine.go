package billing

import "github.com/ManuelReschke/SubLedger/app/models"

// Transition is the outcome of applying one event to a subscription status.
type Transition struct {
	Applies bool
	From    string
	To      string
}

// Changed reports whether the status moves.
func (t Transition) Changed() bool {
	return t.Applies && t.From != t.To
}

type nextStatus func(current, target string) string

func keep(current, _ string) string { return current }

func toStatus(status string) nextStatus {
	return func(string, string) string { return status }
}

// fromTarget uses the status reported by the provider, keeping the current
// status when the provider value has no local equivalent.
func fromTarget(current, target string) string {
	if target == "" {
		return current
	}
	return target
}

func recoverPastDue(current, _ string) string {
	if current == models.SubscriptionStatusPastDue {
		return models.SubscriptionStatusActive
	}
	return current
}

type rule struct {
	from   []string // nil accepts any status
	next   nextStatus
	action string
}

var rules = [...]rule{
	EventCheckoutCompleted:     {from: []string{models.SubscriptionStatusNone}, next: fromTarget, action: models.HistoryActionCreated},
	EventSubscriptionCreated:   {next: keep, action: models.HistoryActionCreated},
	EventSubscriptionUpdated:   {next: fromTarget, action: models.HistoryActionUpdated},
	EventSubscriptionDeleted:   {next: toStatus(models.SubscriptionStatusCanceled), action: models.HistoryActionCanceled},
	EventTrialWillEnd:          {next: keep, action: models.HistoryActionTrialEnding},
	EventPaymentSucceeded:      {next: recoverPastDue, action: models.HistoryActionPaymentSucceeded},
	EventPaymentFailed:         {from: []string{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing}, next: toStatus(models.SubscriptionStatusPastDue), action: models.HistoryActionPaymentFailed},
	EventInvoiceUpcoming:       {next: keep, action: models.HistoryActionUpdated},
	EventPaymentActionRequired: {next: keep, action: models.HistoryActionPaymentActionRequired},
	EventCustomerUpdated:       {next: keep, action: models.HistoryActionUpdated},
	EventPaymentMethodAttached: {next: keep, action: models.HistoryActionUpdated},
	EventSubscriptionPaused:    {next: toStatus(models.SubscriptionStatusPaused), action: models.HistoryActionPaused},
	EventSubscriptionResumed:   {from: []string{models.SubscriptionStatusPaused}, next: toStatus(models.SubscriptionStatusActive), action: models.HistoryActionResumed},
}

var _ = [1]struct{}{}[len(rules)-int(eventTypeCount)]

// Decide applies the transition table. target is the provider-derived status
// for events whose new status comes from the payload (checkout, updates) and
// is ignored otherwise.
func Decide(current string, t EventType, target string) Transition {
	if current == "" {
		current = models.SubscriptionStatusNone
	}
	if !t.Valid() {
		return Transition{From: current, To: current}
	}
	r := rules[t]
	if r.from != nil && !contains(r.from, current) {
		return Transition{From: current, To: current}
	}
	return Transition{Applies: true, From: current, To: r.next(current, target)}
}

// ActionFor returns the ledger action recorded for an event type.
func ActionFor(t EventType) string {
	if !t.Valid() {
		return ""
	}
	return rules[t].action
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
