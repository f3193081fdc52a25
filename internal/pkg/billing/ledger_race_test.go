package billing

import (
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SubLedger/app/models"
	"github.com/ManuelReschke/SubLedger/app/repository"
	"github.com/ManuelReschke/SubLedger/internal/pkg/sideeffects"
)

// ledgerGate reproduces interleavings of concurrent deliveries that a single
// SQLite connection never produces: it hides committed ledger rows from the
// existence checks and can fail inserts the way InnoDB fails a deadlock victim.
type ledgerGate struct {
	mu sync.Mutex
	// hidden is the number of Exists calls answered with false; negative
	// hides every call.
	hidden    int
	insertErr error
	inserts   int
}

func (g *ledgerGate) install(p *Processor) {
	p.scoped = func(r *repository.Repositories) *repository.Repositories {
		gated := *r
		gated.History = &gatedHistory{HistoryRepository: r.History, gate: g}
		return &gated
	}
}

func (g *ledgerGate) hide() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hidden == 0 {
		return false
	}
	if g.hidden > 0 {
		g.hidden--
	}
	return true
}

type gatedHistory struct {
	repository.HistoryRepository
	gate *ledgerGate
}

func (h *gatedHistory) Exists(providerEventID string) (bool, error) {
	if h.gate.hide() {
		return false, nil
	}
	return h.HistoryRepository.Exists(providerEventID)
}

func (h *gatedHistory) Insert(entry *models.SubscriptionHistory) (bool, error) {
	h.gate.mu.Lock()
	h.gate.inserts++
	err := h.gate.insertErr
	h.gate.mu.Unlock()
	if err != nil {
		return false, err
	}
	return h.HistoryRepository.Insert(entry)
}

var errDeadlock = &mysql.MySQLError{
	Number:  1213,
	Message: "Deadlock found when trying to get lock; try restarting transaction",
}

func (h *harness) subscriptionCount() int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(&models.Subscription{}).Count(&n).Error)
	return n
}

func TestLedgerConflictRollsBackAsDuplicate(t *testing.T) {
	t.Run("payment", func(t *testing.T) {
		h := newHarness(t)
		sub := h.seed(active)
		ev := stripeEvent("evt_paid", "invoice.payment_succeeded", baseTime.Add(time.Minute), invoiceObj("in_1", 2900, 2900))
		require.Equal(t, OutcomeProcessed, h.mustDeliver(ev).Outcome)
		before := h.subscription("sub_123")
		userBefore := h.user("u1")

		// Both existence checks miss the committed row, so only the unique
		// key on the ledger stops the second delivery.
		gate := &ledgerGate{hidden: -1}
		gate.install(h.proc)

		res := h.mustDeliver(ev)
		assert.True(t, res.Duplicate())
		assert.Equal(t, 1, gate.inserts)
		assert.Equal(t, int64(1), h.ledgerCount("evt_paid"))

		payments, err := h.repos.Payment.ListBySubscriptionID(sub.ID)
		require.NoError(t, err)
		assert.Len(t, payments, 1)
		assert.Equal(t, before.UpdatedAt, h.subscription("sub_123").UpdatedAt)
		assert.Equal(t, userBefore.UpdatedAt, h.user("u1").UpdatedAt)

		tasks := h.tasks.all()
		require.Len(t, tasks, 1)
		assert.Equal(t, sideeffects.TemplatePaymentReceipt, tasks[0].Template)
	})

	t.Run("checkout", func(t *testing.T) {
		h := newHarness(t)
		ev := stripeEvent("evt_1", "checkout.session.completed", baseTime, checkoutSessionObject(evt1Metadata))
		require.Equal(t, OutcomeProcessed, h.mustDeliver(ev).Outcome)

		gate := &ledgerGate{hidden: -1}
		gate.install(h.proc)

		res := h.mustDeliver(ev)
		assert.True(t, res.Duplicate())
		assert.Equal(t, 1, gate.inserts)
		assert.Equal(t, int64(1), h.ledgerCount("evt_1"))
		assert.Equal(t, int64(1), h.subscriptionCount())
		assert.Len(t, h.tasks.all(), 1)
	})
}

func TestDeadlockVictimReportsDuplicate(t *testing.T) {
	h := newHarness(t)
	ev := stripeEvent("evt_2", "checkout.session.completed", baseTime, checkoutSessionObject(evt1Metadata))

	// The winning delivery commits first.
	require.Equal(t, OutcomeProcessed, h.mustDeliver(ev).Outcome)

	// The losing delivery saw no ledger row before and inside its
	// transaction, then was rolled back by the database.
	gate := &ledgerGate{hidden: 2, insertErr: errDeadlock}
	gate.install(h.proc)

	res, err := h.deliver(ev)
	require.NoError(t, err)
	assert.True(t, res.Duplicate())
	assert.Equal(t, int64(1), h.ledgerCount("evt_2"))
	assert.Equal(t, int64(1), h.subscriptionCount())
	assert.Len(t, h.tasks.all(), 1)
}

func TestDeadlockWithoutWinnerIsRetryable(t *testing.T) {
	h := newHarness(t)
	gate := &ledgerGate{insertErr: errDeadlock}
	gate.install(h.proc)

	_, err := h.deliver(stripeEvent("evt_3", "checkout.session.completed", baseTime, checkoutSessionObject(evt1Metadata)))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, errDeadlock)
	assert.Zero(t, h.totalLedgerRows())
	assert.Zero(t, h.subscriptionCount())
	assert.Empty(t, h.tasks.all())
}

func TestCheckoutSkipRollsBackLedger(t *testing.T) {
	h := newHarness(t)
	h.seed(active)
	obj := checkoutSessionObject(evt1Metadata)
	obj["subscription"] = "sub_999"
	gate := &ledgerGate{}
	gate.install(h.proc)

	res := h.mustDeliver(stripeEvent("evt_second", "checkout.session.completed", baseTime, obj))
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	// The ledger row is written before the precondition reads and undone
	// with the skip.
	assert.Equal(t, 1, gate.inserts)
	assert.Zero(t, h.totalLedgerRows())
	assert.Empty(t, h.tasks.all())
}
