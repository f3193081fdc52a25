package mail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SubLedger/internal/pkg/sideeffects"
)

func TestEveryBillingTemplateRenders(t *testing.T) {
	data := map[string]interface{}{
		"name":               "Ada",
		"plan_id":            "pro",
		"status":             "active",
		"amount":             int64(2900),
		"amount_due":         int64(2900),
		"currency":           "usd",
		"trial_end":          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		"hosted_invoice_url": "https://invoice.example.com/i/1",
	}
	for _, name := range []string{
		sideeffects.TemplateWelcome,
		sideeffects.TemplateTrialStarted,
		sideeffects.TemplateSubscriptionUpdated,
		sideeffects.TemplateSubscriptionCanceled,
		sideeffects.TemplatePaymentReceipt,
		sideeffects.TemplatePaymentRecovered,
		sideeffects.TemplatePaymentFailed,
		sideeffects.TemplateTrialEnding,
		sideeffects.TemplateInvoiceUpcoming,
		sideeffects.TemplatePaymentActionRequired,
		sideeffects.TemplateSubscriptionPaused,
		sideeffects.TemplateSubscriptionResumed,
	} {
		t.Run(name, func(t *testing.T) {
			subject, body, err := Render(name, data)
			require.NoError(t, err)
			assert.NotEmpty(t, subject)
			assert.NotEmpty(t, body)
		})
	}
}

func TestRenderFormatsMoneyAndDates(t *testing.T) {
	_, body, err := Render(sideeffects.TemplatePaymentReceipt, map[string]interface{}{"amount": int64(1999), "currency": "eur"})
	require.NoError(t, err)
	assert.Contains(t, body, "19.99 eur")

	_, body, err = Render(sideeffects.TemplateTrialEnding, map[string]interface{}{
		"plan_id":   "pro",
		"trial_end": time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Contains(t, body, "March 1, 2026")
}

func TestRenderSubjectIsPlainText(t *testing.T) {
	subject, body, err := Render(sideeffects.TemplateWelcome, map[string]interface{}{"name": "Ada", "plan_id": "Pro & Team's"})
	require.NoError(t, err)
	assert.Equal(t, "Welcome to Pro & Team's", subject)
	assert.Contains(t, body, "Pro &amp; Team&#39;s")

	subject, _, err = Render(sideeffects.TemplatePaymentRecovered, nil)
	require.NoError(t, err)
	assert.Equal(t, "Payment received, you're all set", subject)
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, _, err := Render("nope", nil)
	assert.Error(t, err)
}

func TestNotifierSend(t *testing.T) {
	var gotTo, gotSubject string
	n := &Notifier{send: func(_ SMTPConfig, to, subject, _ string) error {
		gotTo, gotSubject = to, subject
		return nil
	}}

	ok := n.Send(context.Background(), sideeffects.TemplateWelcome, map[string]interface{}{"email": "ada@example.com", "plan_id": "pro"})
	assert.True(t, ok)
	assert.Equal(t, "ada@example.com", gotTo)
	assert.Equal(t, "Welcome to pro", gotSubject)

	assert.False(t, n.Send(context.Background(), sideeffects.TemplateWelcome, map[string]interface{}{}), "no recipient")
}
