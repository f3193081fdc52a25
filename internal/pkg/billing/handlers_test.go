package billing

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "Ursula", 150, "Ursula"},
		{"ascii", "abcdef", 4, "abcd"},
		{"mid rune", "a" + strings.Repeat("株", 3), 5, "a株"},
		{"rune boundary", "a" + strings.Repeat("株", 3), 4, "a株"},
		{"invalid bytes", "Ü\xffnal", 150, "Ünal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), tt.n)
		})
	}
}

func TestCheckoutTruncatesNonASCIIName(t *testing.T) {
	h := newHarness(t)
	obj := checkoutSessionObject(evt1Metadata)
	obj["customer_details"] = object{
		"email": "u1@example.com",
		"name":  "a" + strings.Repeat("株", 60),
	}

	h.mustDeliver(stripeEvent("evt_name", "checkout.session.completed", baseTime, obj))

	name := h.user("u1").Name
	assert.True(t, utf8.ValidString(name))
	assert.Equal(t, "a"+strings.Repeat("株", 49), name)
}

func TestSubscriptionRefsAreBounded(t *testing.T) {
	t.Run("plan lookup key on update", func(t *testing.T) {
		h := newHarness(t)
		h.seed(active)
		obj := subscriptionObj("active", nil)
		item := obj["items"].(object)["data"].([]object)[0]
		item["price"].(object)["lookup_key"] = strings.Repeat("p", 101)

		_, err := h.deliver(stripeEvent("evt_long_plan", "customer.subscription.updated", baseTime.Add(time.Minute), obj))
		require.Error(t, err)
		assert.Equal(t, KindBusiness, KindOf(err))
		assert.ErrorIs(t, err, ErrMalformedPayload)
		assert.Zero(t, h.totalLedgerRows())
		assert.Equal(t, "pro", h.subscription("sub_123").PlanID)
		assert.Empty(t, h.tasks.all())
	})

	t.Run("metadata ids on create", func(t *testing.T) {
		h := newHarness(t)
		obj := subscriptionObj("active", object{"metadata": map[string]string{
			"userId":    strings.Repeat("u", 40),
			"companyId": "c1",
		}})

		_, err := h.deliver(stripeEvent("evt_long_user", "customer.subscription.created", baseTime, obj))
		require.Error(t, err)
		assert.Equal(t, KindBusiness, KindOf(err))
		assert.ErrorIs(t, err, ErrMalformedPayload)
		assert.Zero(t, h.totalLedgerRows())
	})

	t.Run("limits are inclusive", func(t *testing.T) {
		h := newHarness(t)
		h.seed(active)
		obj := subscriptionObj("active", object{"metadata": map[string]string{"planId": strings.Repeat("p", 100)}})

		res := h.mustDeliver(stripeEvent("evt_max_plan", "customer.subscription.updated", baseTime.Add(time.Minute), obj))
		assert.Equal(t, OutcomeProcessed, res.Outcome)
		assert.Equal(t, strings.Repeat("p", 100), h.subscription("sub_123").PlanID)
	})
}
