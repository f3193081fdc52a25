package billing

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SubLedger/app/models"
	"github.com/ManuelReschke/SubLedger/app/repository"
	"github.com/ManuelReschke/SubLedger/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/SubLedger/internal/pkg/sideeffects"
)

const testSecret = "whsec_test_secret"

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type object = map[string]interface{}

// stripeEvent builds an event envelope the way Stripe serializes it.
func stripeEvent(id, typ string, created time.Time, obj object) object {
	return object{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"created":     created.Unix(),
		"livemode":    false,
		"api_version": "2025-03-31.basil",
		"data":        object{"object": obj},
	}
}

func sign(t testing.TB, secret string, ev object) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return sp.Payload, sp.Header
}

type taskRecorder struct {
	mu    sync.Mutex
	tasks []sideeffects.Task
}

func (r *taskRecorder) Dispatch(task sideeffects.Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return true
}

func (r *taskRecorder) all() []sideeffects.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sideeffects.Task(nil), r.tasks...)
}

type fetcherFunc func(ctx context.Context, id string) (json.RawMessage, error)

func (f fetcherFunc) FetchSubscription(ctx context.Context, id string) (json.RawMessage, error) {
	return f(ctx, id)
}

type harness struct {
	t     *testing.T
	db    *gorm.DB
	repos *repository.Repositories
	proc  *Processor
	tasks *taskRecorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	db := dbtest.Open(t)
	repos := repository.NewRepositories(db)
	tasks := &taskRecorder{}
	opts = append([]Option{
		WithDispatcher(tasks),
		WithClock(func() time.Time { return baseTime.Add(time.Hour) }),
	}, opts...)
	proc := NewProcessor(repos, Config{WebhookSecrets: []string{testSecret}}, opts...)
	return &harness{t: t, db: db, repos: repos, proc: proc, tasks: tasks}
}

func (h *harness) deliver(ev object) (*Result, error) {
	h.t.Helper()
	body, header := sign(h.t, testSecret, ev)
	return h.proc.HandleWebhook(context.Background(), body, header)
}

func (h *harness) mustDeliver(ev object) *Result {
	h.t.Helper()
	res, err := h.deliver(ev)
	require.NoError(h.t, err)
	return res
}

// seed stores a subscription and the user mirroring it.
func (h *harness) seed(status string, mutate ...func(*models.Subscription)) *models.Subscription {
	h.t.Helper()
	last := baseTime
	sub := &models.Subscription{
		ID:                     "sub-local-1",
		CompanyID:              "c1",
		UserID:                 "u1",
		ExternalSubscriptionID: "sub_123",
		ExternalCustomerID:     "cus_123",
		PlanID:                 "pro",
		Status:                 status,
		BillingPeriod:          models.BillingIntervalMonth,
		Amount:                 2900,
		Currency:               "usd",
		LastEventAt:            &last,
	}
	for _, m := range mutate {
		m(sub)
	}
	require.NoError(h.t, h.repos.Subscription.Create(sub))
	u := &models.User{ID: sub.UserID, CompanyID: sub.CompanyID, Email: "u1@example.com"}
	u.MirrorSubscription(sub)
	require.NoError(h.t, h.repos.User.UpsertMirror(u))
	return sub
}

func (h *harness) subscription(externalID string) *models.Subscription {
	h.t.Helper()
	sub, err := h.repos.Subscription.GetByExternalID(externalID)
	require.NoError(h.t, err)
	return sub
}

func (h *harness) user(id string) *models.User {
	h.t.Helper()
	u, err := h.repos.User.GetByID(id)
	require.NoError(h.t, err)
	return u
}

func (h *harness) ledgerCount(eventID string) int64 {
	h.t.Helper()
	n, err := h.repos.History.CountByProviderEventID(eventID)
	require.NoError(h.t, err)
	return n
}

func (h *harness) totalLedgerRows() int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(&models.SubscriptionHistory{}).Count(&n).Error)
	return n
}

func checkoutSessionObject(metadata map[string]string) object {
	return object{
		"id":           "cs_test_1",
		"object":       "checkout.session",
		"mode":         "subscription",
		"customer":     "cus_123",
		"subscription": "sub_123",
		"amount_total": 2900,
		"currency":     "usd",
		"metadata":     metadata,
		"customer_details": object{
			"email": "u1@example.com",
			"name":  "Ursula",
		},
	}
}

func subscriptionObj(status string, extra object) object {
	obj := object{
		"id":                   "sub_123",
		"object":               "subscription",
		"customer":             "cus_123",
		"status":               status,
		"cancel_at_period_end": false,
		"items": object{"data": []object{{
			"quantity":             1,
			"current_period_start": baseTime.Unix(),
			"current_period_end":   baseTime.AddDate(0, 1, 0).Unix(),
			"price": object{
				"id":          "price_pro_month",
				"currency":    "usd",
				"unit_amount": 2900,
				"lookup_key":  "pro",
				"recurring":   object{"interval": "month"},
			},
		}}},
	}
	for k, v := range extra {
		obj[k] = v
	}
	return obj
}

func invoiceObj(id string, paid int64, due int64) object {
	return object{
		"id":           id,
		"object":       "invoice",
		"customer":     "cus_123",
		"subscription": "sub_123",
		"amount_paid":  paid,
		"amount_due":   due,
		"currency":     "usd",
		"status_transitions": object{
			"paid_at": baseTime.Add(time.Minute).Unix(),
		},
	}
}
