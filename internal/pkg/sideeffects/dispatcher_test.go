package sideeffects

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SubLedger/app/models"
	"github.com/ManuelReschke/SubLedger/app/repository"
	"github.com/ManuelReschke/SubLedger/internal/pkg/database/dbtest"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []string
	data  []map[string]interface{}
	panic bool
}

func (n *recordingNotifier) Send(_ context.Context, template string, data map[string]interface{}) bool {
	if n.panic {
		panic("smtp exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, template)
	n.data = append(n.data, data)
	return true
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) TrackEvent(_ context.Context, eventType, _, _ string, _ map[string]interface{}, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrainsOnStop(t *testing.T) {
	notifier := &recordingNotifier{}
	sink := &recordingSink{}
	d := NewDispatcher(nil, notifier, sink, 2, 16)
	d.Start()

	for i := 0; i < 5; i++ {
		assert.True(t, d.Dispatch(Task{EventID: "evt", Template: TemplatePaymentReceipt, AnalyticsEvent: "invoice.payment_succeeded"}))
	}
	d.Stop()

	assert.Len(t, notifier.sent, 5)
	assert.Equal(t, 5, sink.count())
	stats := d.Stats()
	assert.Equal(t, uint64(5), stats.Dispatched)
	assert.Equal(t, uint64(5), stats.Completed)
	assert.Zero(t, stats.Pending)
}

func TestDispatcherRecoversFromNotifierPanic(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(nil, &recordingNotifier{panic: true}, sink, 1, 4)
	d.Start()

	require.True(t, d.Dispatch(Task{EventID: "evt_panic", Template: TemplateWelcome, AnalyticsEvent: "checkout.session.completed"}))
	d.Stop()

	assert.Equal(t, 1, sink.count(), "analytics still runs after the notifier panicked")
	assert.Equal(t, uint64(1), d.Stats().Failed)
}

func TestDispatchRejectsWhenStoppedOrFull(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, 1, 1)
	assert.False(t, d.Dispatch(Task{ID: "before-start"}))

	// Fill the buffer without workers consuming it.
	d.running = true
	assert.True(t, d.Dispatch(Task{ID: "a"}))
	assert.False(t, d.Dispatch(Task{ID: "b"}))
	assert.Equal(t, uint64(2), d.Stats().Dropped)
}

func TestDispatcherReadsCommittedState(t *testing.T) {
	db := dbtest.Open(t)
	repos := repository.NewRepositories(db)
	require.NoError(t, repos.User.UpsertMirror(&models.User{ID: "user-1", Email: "ada@example.com", Name: "Ada"}))
	sub := &models.Subscription{
		ID:                     "sub-local-1",
		UserID:                 "user-1",
		CompanyID:              "company-1",
		ExternalSubscriptionID: "sub_ext_1",
		PlanID:                 "pro",
		Status:                 models.SubscriptionStatusActive,
		BillingPeriod:          models.BillingIntervalMonth,
		Amount:                 2900,
		Currency:               "usd",
	}
	require.NoError(t, repos.Subscription.Create(sub))

	notifier := &recordingNotifier{}
	d := NewDispatcher(repos, notifier, nil, 1, 4)
	d.Start()
	require.True(t, d.Dispatch(Task{
		EventID:        "evt_1",
		SubscriptionID: sub.ID,
		UserID:         "user-1",
		Template:       TemplateWelcome,
		Metadata:       map[string]interface{}{"trial": false},
	}))
	d.Stop()

	require.Len(t, notifier.data, 1)
	data := notifier.data[0]
	assert.Equal(t, "ada@example.com", data["email"])
	assert.Equal(t, models.SubscriptionStatusActive, data["status"])
	assert.Equal(t, "pro", data["plan_id"])
	assert.Equal(t, false, data["trial"])
}
